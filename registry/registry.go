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

// Package registry is the platform tool library. Built-in tools ship
// embedded in the binary as tool.yaml definitions; additional tools can be
// loaded from a local directory (hot-reloaded on change) or registered at
// runtime. Metadata is parsed at discovery, source bodies on first use.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"
	"github.com/fsnotify/fsnotify"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/forgeworks/forge/internal/utils"
	"github.com/forgeworks/forge/llm/log"
	"github.com/forgeworks/forge/registry/embedded"
	"github.com/forgeworks/forge/workflow"
)

// Origin records where a tool definition came from.
type Origin int

const (
	OriginEmbedded Origin = iota
	OriginLocal
	OriginUser
)

func (o Origin) String() string {
	switch o {
	case OriginEmbedded:
		return "embedded"
	case OriginLocal:
		return "local"
	case OriginUser:
		return "user"
	default:
		return "unknown"
	}
}

// Metadata is the declarative head of a tool definition. Requires is an
// optional availability expression evaluated against session params, e.g.
// "chain_access == true".
type Metadata struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Description string `yaml:"description"`
	Requires    string `yaml:"requires,omitempty"`
}

// toolFile is the full definition: metadata plus the Go source body.
type toolFile struct {
	Metadata `yaml:",inline"`
	Source   string `yaml:"source"`
}

type entry struct {
	meta    Metadata
	kind    workflow.ToolKind
	expr    *govaluate.EvaluableExpression
	origin  Origin
	raw     []byte
	source  string
	sourced bool
}

// Registry holds all known tools keyed by normalized name.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	localDir string
}

var _ workflow.ToolSource = (*Registry)(nil)

func New() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// SetLocalDir points the registry at a directory of *.yaml tool
// definitions loaded alongside the built-ins.
func (r *Registry) SetLocalDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localDir = dir
}

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Discover loads metadata for every built-in and local tool. Definitions
// that fail to parse are logged and skipped, never fatal.
func (r *Registry) Discover() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, path := range embedded.ToolPaths() {
		data, err := embedded.FS.ReadFile(path)
		if err != nil {
			log.Error("read embedded tool %s: %v", path, err)
			continue
		}
		if err := r.registerLocked(data, OriginEmbedded); err != nil {
			log.Error("register embedded tool %s: %v", path, err)
		}
	}
	if r.localDir != "" {
		if _, err := os.Stat(r.localDir); err == nil {
			r.loadLocalLocked()
		}
	}
	log.Info("registry discovered %d tools", len(r.entries))
	return nil
}

func (r *Registry) loadLocalLocked() {
	matches, err := filepath.Glob(filepath.Join(r.localDir, "*.yaml"))
	if err != nil {
		log.Error("scan local tools in %s: %v", r.localDir, err)
		return
	}
	for _, file := range matches {
		data, err := os.ReadFile(file)
		if err != nil {
			log.Error("read local tool %s: %v", file, err)
			continue
		}
		if err := r.registerLocked(data, OriginLocal); err != nil {
			log.Error("register local tool %s: %v", file, err)
		}
	}
}

// registerLocked parses the metadata head of a definition and indexes it.
// The source body stays unparsed until GetSource needs it.
func (r *Registry) registerLocked(data []byte, origin Origin) error {
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return pkgerrors.Wrap(err, "parse tool definition")
	}
	en, err := buildEntry(meta, origin)
	if err != nil {
		return err
	}
	if prev, ok := r.entries[meta.Name]; ok && prev.origin == OriginEmbedded && origin != OriginEmbedded {
		return pkgerrors.Errorf("tool %q shadows a built-in", meta.Name)
	}
	en.raw = data
	r.entries[meta.Name] = en
	return nil
}

func buildEntry(meta Metadata, origin Origin) (*entry, error) {
	if !nameRe.MatchString(meta.Name) {
		return nil, pkgerrors.Errorf("invalid tool name %q", meta.Name)
	}
	if strings.TrimSpace(meta.Description) == "" {
		return nil, pkgerrors.Errorf("tool %q has no description", meta.Name)
	}
	var kind workflow.ToolKind
	switch meta.Kind {
	case "active":
		kind = workflow.ToolActive
	case "reactive":
		kind = workflow.ToolReactive
	default:
		return nil, pkgerrors.Errorf("tool %q has invalid kind %q", meta.Name, meta.Kind)
	}
	en := &entry{meta: meta, kind: kind, origin: origin}
	if meta.Requires != "" {
		expr, err := govaluate.NewEvaluableExpression(meta.Requires)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "tool %q requires expression", meta.Name)
		}
		en.expr = expr
	}
	return en, nil
}

// available evaluates the requires expression against the session params.
// Missing params or a non-true result make the tool unavailable.
func (en *entry) available(params map[string]interface{}) bool {
	if en.expr == nil {
		return true
	}
	out, err := en.expr.Evaluate(params)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

func (en *entry) toTool(withSource bool) workflow.Tool {
	t := workflow.Tool{
		Name:        en.meta.Name,
		Kind:        en.kind,
		Description: en.meta.Description,
	}
	if withSource {
		t.Source = en.source
	}
	return t
}

// GetSource returns the full tool record including its Go source, parsing
// the source body on first access.
func (r *Registry) GetSource(name string) (workflow.Tool, error) {
	name = workflow.NormalizeToolName(name)

	r.mu.RLock()
	en, ok := r.entries[name]
	if ok && en.sourced {
		t := en.toTool(true)
		r.mu.RUnlock()
		return t, nil
	}
	r.mu.RUnlock()
	if !ok {
		return workflow.Tool{}, pkgerrors.Errorf("tool %q not found", name)
	}

	var full toolFile
	if err := yaml.Unmarshal(en.raw, &full); err != nil {
		return workflow.Tool{}, pkgerrors.Wrapf(err, "load tool %q", name)
	}
	if strings.TrimSpace(full.Source) == "" {
		return workflow.Tool{}, pkgerrors.Errorf("tool %q has no source body", name)
	}

	r.mu.Lock()
	en.source = full.Source
	en.sourced = true
	t := en.toTool(true)
	r.mu.Unlock()
	return t, nil
}

// ListAvailable returns metadata for every tool whose requires expression
// passes against params, sorted by name. Sources are not included.
func (r *Registry) ListAvailable(params map[string]interface{}) []workflow.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]workflow.Tool, 0, len(r.entries))
	for _, en := range r.entries {
		if !en.available(params) {
			continue
		}
		out = append(out, en.toTool(false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add registers a tool at runtime. Built-ins cannot be shadowed; other
// collisions are last-wins.
func (r *Registry) Add(meta Metadata, source string) error {
	if strings.TrimSpace(source) == "" {
		return pkgerrors.Errorf("tool %q has no source body", meta.Name)
	}
	en, err := buildEntry(meta, OriginUser)
	if err != nil {
		return err
	}
	en.source = source
	en.sourced = true

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[meta.Name]; ok && prev.origin == OriginEmbedded {
		return pkgerrors.Errorf("tool %q shadows a built-in", meta.Name)
	}
	r.entries[meta.Name] = en
	log.Info("registered %s tool %q", en.origin, meta.Name)
	return nil
}

// Remove drops a local or user tool. Built-ins stay.
func (r *Registry) Remove(name string) bool {
	name = workflow.NormalizeToolName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	en, ok := r.entries[name]
	if !ok || en.origin == OriginEmbedded {
		return false
	}
	delete(r.entries, name)
	return true
}

// Count returns the number of known tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ReloadLocal rescans the local directory, replacing every local-origin
// entry. User-registered and built-in tools are untouched.
func (r *Registry) ReloadLocal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.localDir == "" {
		return
	}
	for name, en := range r.entries {
		if en.origin == OriginLocal {
			delete(r.entries, name)
		}
	}
	r.loadLocalLocked()
	log.Debug("registry reloaded, %d tools", len(r.entries))
}

// Watch hot-reloads the local directory on filesystem changes.
func (r *Registry) Watch() error {
	r.mu.RLock()
	dir := r.localDir
	r.mu.RUnlock()
	if dir == "" {
		return pkgerrors.New("registry: no local directory configured")
	}
	return utils.WatchDir(dir, func(op fsnotify.Op, file string) {
		if filepath.Ext(file) != ".yaml" {
			return
		}
		log.Debug("local tool %s changed (%s), reloading", filepath.Base(file), op)
		r.ReloadLocal()
	})
}

// Describe renders a one-line-per-tool summary for prompts and CLI output.
func (r *Registry) Describe(params map[string]interface{}) string {
	tools := r.ListAvailable(params)
	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s (%s): %s\n", t.Name, t.Kind, t.Description)
	}
	return b.String()
}
