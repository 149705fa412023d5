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
	"context"
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"path"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/modfile"
)

// ErrorKind classifies a validation finding.
type ErrorKind string

const (
	KindSyntax ErrorKind = "syntax"
	KindImport ErrorKind = "import"
	KindType   ErrorKind = "type"
)

// ValidationError is one static finding against the snapshot. Validation
// errors are data, not failures; an empty list means the snapshot is
// well-formed and self-consistent.
type ValidationError struct {
	Path    string    `json:"path"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Line    int       `json:"line,omitempty"`
}

func (e ValidationError) String() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s: %s", e.Path, e.Line, e.Kind, e.Message)
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Kind, e.Message)
}

// TypeChecker is the optional full static check backend. It sees the whole
// snapshot and reports diagnostics; a returned error means the backend
// itself was unavailable, which the validator converts into a single
// reported finding rather than a failure.
type TypeChecker interface {
	Check(ctx context.Context, files Files) ([]ValidationError, error)
}

// Validator statically checks a snapshot: per-file Go syntax, local import
// resolution against the snapshot's own keys, and optionally a full type
// check. It never touches the network and never panics outward.
type Validator struct {
	// Checker enables the type-check pass when non-nil.
	Checker TypeChecker
}

const manifestFile = "go.mod"

// Validate returns all findings for the snapshot, ordered by file path and
// then by position within the file. Deterministic for a fixed snapshot.
func (v *Validator) Validate(ctx context.Context, files Files) (out []ValidationError) {
	defer func() {
		if r := recover(); r != nil {
			out = []ValidationError{{
				Kind:    KindSyntax,
				Message: fmt.Sprintf("validator failure: %v", r),
			}}
		}
	}()

	if len(files) == 0 {
		return []ValidationError{}
	}

	modPath, manifestErrs := moduleIdentity(files)
	out = append(out, manifestErrs...)

	pkgDirs := packageDirs(files)

	// files with syntax errors are excluded from the type pass; their
	// import checks were already short-circuited
	broken := map[string]bool{}

	for _, p := range sortedGoFiles(files) {
		src := files[p]
		fset := token.NewFileSet()
		parsed, err := parser.ParseFile(fset, p, src, parser.AllErrors)
		if err != nil {
			broken[p] = true
			out = append(out, syntaxErrors(p, err)...)
			continue
		}
		if modPath == "" {
			continue
		}
		for _, spec := range parsed.Imports {
			imp, uerr := strconv.Unquote(spec.Path.Value)
			if uerr != nil {
				continue
			}
			if imp != modPath && !strings.HasPrefix(imp, modPath+"/") {
				// third-party and standard library imports are out of scope
				continue
			}
			dir := "."
			if imp != modPath {
				dir = strings.TrimPrefix(imp, modPath+"/")
			}
			if !pkgDirs[dir] {
				out = append(out, ValidationError{
					Path:    p,
					Kind:    KindImport,
					Message: fmt.Sprintf("unresolved local import %q: no source files under %s/", imp, dir),
					Line:    fset.Position(spec.Pos()).Line,
				})
			}
		}
	}

	if v.Checker != nil {
		diags, err := v.Checker.Check(ctx, files)
		if err != nil {
			out = append(out, ValidationError{
				Kind:    KindType,
				Message: fmt.Sprintf("type check unavailable: %v", err),
			})
		} else {
			for _, d := range diags {
				if broken[d.Path] {
					continue
				}
				d.Kind = KindType
				out = append(out, d)
			}
		}
	}

	sortFindings(out)
	return out
}

// moduleIdentity parses the workspace manifest for the module path local
// imports resolve under. A missing manifest disables import resolution; a
// malformed one is itself a finding.
func moduleIdentity(files Files) (string, []ValidationError) {
	src, ok := files[manifestFile]
	if !ok {
		return "", nil
	}
	mf, err := modfile.ParseLax(manifestFile, []byte(src), nil)
	if err != nil {
		return "", []ValidationError{{
			Path:    manifestFile,
			Kind:    KindImport,
			Message: fmt.Sprintf("invalid module manifest: %v", err),
		}}
	}
	if mf.Module == nil || mf.Module.Mod.Path == "" {
		return "", []ValidationError{{
			Path:    manifestFile,
			Kind:    KindImport,
			Message: "module manifest declares no module path",
		}}
	}
	return mf.Module.Mod.Path, nil
}

func packageDirs(files Files) map[string]bool {
	dirs := map[string]bool{}
	for p := range files {
		if strings.HasSuffix(p, ".go") {
			dirs[path.Dir(p)] = true
		}
	}
	return dirs
}

func sortedGoFiles(files Files) []string {
	out := make([]string, 0, len(files))
	for p := range files {
		if strings.HasSuffix(p, ".go") {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func syntaxErrors(p string, err error) []ValidationError {
	if list, ok := err.(scanner.ErrorList); ok {
		out := make([]ValidationError, 0, len(list))
		for _, e := range list {
			out = append(out, ValidationError{
				Path:    p,
				Kind:    KindSyntax,
				Message: e.Msg,
				Line:    e.Pos.Line,
			})
		}
		return out
	}
	return []ValidationError{{
		Path:    p,
		Kind:    KindSyntax,
		Message: err.Error(),
	}}
}

func sortFindings(out []ValidationError) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Line < out[j].Line
	})
}
