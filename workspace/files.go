// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package workspace holds the generated codebase of one session: the
// authoritative path->source mapping, its filesystem mirror, the embedded
// skeleton it starts from, and the static validator that gates finalize.
package workspace

import (
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Files maps workspace-relative, slash-separated paths to full source text.
// It is the single source of truth for the generated codebase; the on-disk
// mirror is derived from it.
type Files map[string]string

// NormalizePath cleans p into canonical key form. Keys are always relative,
// slash-separated, and may not escape the workspace root.
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return "", errors.New("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return "", errors.Errorf("absolute path not allowed: %s", p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.Errorf("path escapes workspace: %s", p)
	}
	return cleaned, nil
}

// Set stores content under the normalized form of p and returns the key used.
func (f Files) Set(p, content string) (string, error) {
	key, err := NormalizePath(p)
	if err != nil {
		return "", err
	}
	f[key] = content
	return key, nil
}

// Get returns the content stored under the normalized form of p.
func (f Files) Get(p string) (string, bool) {
	key, err := NormalizePath(p)
	if err != nil {
		return "", false
	}
	content, ok := f[key]
	return content, ok
}

// Remove deletes the normalized form of p. Removing an absent or invalid
// path is a no-op.
func (f Files) Remove(p string) {
	key, err := NormalizePath(p)
	if err != nil {
		return
	}
	delete(f, key)
}

// Clone returns an independent copy. Stage functions mutate clones and swap
// them in only on success.
func (f Files) Clone() Files {
	out := make(Files, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Paths returns all keys in lexical order.
func (f Files) Paths() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
