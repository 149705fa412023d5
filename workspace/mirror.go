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

package workspace

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/forgeworks/forge/internal/utils"
)

// mirror manifest, written next to the mirrored files. It records which
// paths the engine wrote so SyncDir can prune removals without touching
// files it does not own (.env, build outputs, editor droppings).
const manifestName = ".forge-manifest.json"

// SyncDir makes root contain exactly the supplied snapshot for every path
// the engine manages. Files are written atomically; paths present in the
// previous sync but absent from files are deleted.
func SyncDir(root string, files Files) error {
	if root == "" {
		return errors.New("empty mirror root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Wrapf(err, "create mirror root %s", root)
	}

	previous := readManifest(root)

	written := make([]string, 0, len(files))
	for key, content := range files {
		norm, err := NormalizePath(key)
		if err != nil {
			return errors.Wrapf(err, "mirror key %q", key)
		}
		dst := filepath.Join(root, filepath.FromSlash(norm))
		if err := utils.WriteFileAtomic(dst, []byte(content), 0o644); err != nil {
			return errors.Wrapf(err, "mirror %s", norm)
		}
		written = append(written, norm)
	}

	for _, old := range previous {
		if _, ok := files[old]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(root, filepath.FromSlash(old))); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "prune %s", old)
		}
	}

	return writeManifest(root, written)
}

func readManifest(root string) []string {
	data, err := os.ReadFile(filepath.Join(root, manifestName))
	if err != nil {
		return nil
	}
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return nil
	}
	return paths
}

func writeManifest(root string, paths []string) error {
	data, err := utils.MarshalJSONBytes(paths)
	if err != nil {
		return errors.Wrap(err, "marshal mirror manifest")
	}
	return utils.WriteFileAtomic(filepath.Join(root, manifestName), data, 0o644)
}

// WriteTree writes the snapshot under root without manifest bookkeeping.
// Used for throwaway mirrors (the type-check backend).
func WriteTree(root string, files Files) error {
	for key, content := range files {
		norm, err := NormalizePath(key)
		if err != nil {
			return errors.Wrapf(err, "tree key %q", key)
		}
		dst := filepath.Join(root, filepath.FromSlash(norm))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errors.Wrapf(err, "create dir for %s", norm)
		}
		if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
			return errors.Wrapf(err, "write %s", norm)
		}
	}
	return nil
}

// LoadDir reads a directory tree into a snapshot, skipping VCS metadata,
// the mirror manifest and anything that does not read as UTF-8 text.
func LoadDir(root string) (Files, error) {
	out := Files{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == manifestName {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if !utf8.Valid(data) {
			return nil
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", root)
	}
	return out, nil
}
