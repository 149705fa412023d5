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

// Package skeleton renders the minimal runnable agent codebase every
// session starts from: an entrypoint, a pass-through logic module, the
// tool contract, a module manifest and a container build file.
package skeleton

import (
	"bytes"
	"embed"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/forgeworks/forge/workspace"
)

//go:embed templates
var templatesFS embed.FS

// Params feed the skeleton templates. ModulePath becomes the generated
// codebase's module identity and the prefix of its local imports.
type Params struct {
	ModulePath string
	AgentName  string
}

// rendered file name -> template file. Templates are text/template; code
// must not pass through html escaping.
var targets = map[string]string{
	"main.go":       "templates/main.go.tmpl",
	"logic.go":      "templates/logic.go.tmpl",
	"tools/tool.go": "templates/tools/tool.go.tmpl",
	"go.mod":        "templates/go.mod.tmpl",
	"Dockerfile":    "templates/Dockerfile.tmpl",
	".gitignore":    "templates/gitignore.tmpl",
}

// Render produces the seed file set for a new session.
func Render(params Params) (workspace.Files, error) {
	if params.ModulePath == "" {
		return nil, errors.New("skeleton: empty module path")
	}
	if params.AgentName == "" {
		params.AgentName = "agent"
	}
	out := make(workspace.Files, len(targets))
	for name, tmplPath := range targets {
		data, err := templatesFS.ReadFile(tmplPath)
		if err != nil {
			return nil, errors.Wrapf(err, "read template %s", tmplPath)
		}
		tmpl, err := template.New(name).Parse(string(data))
		if err != nil {
			return nil, errors.Wrapf(err, "parse template %s", tmplPath)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, params); err != nil {
			return nil, errors.Wrapf(err, "render template %s", tmplPath)
		}
		out[name] = buf.String()
	}
	return out, nil
}

// SanitizeModulePath derives a usable module path element from a free-form
// agent or session name.
func SanitizeModulePath(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	s := strings.Trim(b.String(), "-_.")
	if s == "" {
		s = "agent"
	}
	return s
}
