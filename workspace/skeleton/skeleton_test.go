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

package skeleton

import (
	"context"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/forgeworks/forge/workspace"
)

func TestRender_ProducesExpectedFiles(t *testing.T) {
	files, err := Render(Params{ModulePath: "forge/agents/demo", AgentName: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"main.go", "logic.go", "tools/tool.go", "go.mod", "Dockerfile", ".gitignore"} {
		if _, ok := files[want]; !ok {
			t.Errorf("missing %s", want)
		}
	}
	if !strings.Contains(files["go.mod"], "module forge/agents/demo") {
		t.Errorf("go.mod lacks module path: %q", files["go.mod"])
	}
	if !strings.Contains(files["main.go"], `"forge/agents/demo/tools"`) {
		t.Errorf("main.go lacks tools import: %q", files["main.go"])
	}
}

func TestRender_GoFilesParseClean(t *testing.T) {
	files, err := Render(Params{ModulePath: "forge/agents/demo", AgentName: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	for name, src := range files {
		if !strings.HasSuffix(name, ".go") {
			continue
		}
		fset := token.NewFileSet()
		if _, err := parser.ParseFile(fset, name, src, parser.AllErrors); err != nil {
			t.Errorf("%s does not parse: %v", name, err)
		}
	}
}

func TestRender_ValidatesClean(t *testing.T) {
	files, err := Render(Params{ModulePath: "forge/agents/demo", AgentName: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	v := &workspace.Validator{}
	if got := v.Validate(context.Background(), files); len(got) != 0 {
		t.Errorf("skeleton must validate clean, got %v", got)
	}
}

func TestRender_EmptyModulePath(t *testing.T) {
	if _, err := Render(Params{}); err == nil {
		t.Fatal("want error for empty module path")
	}
}

func TestSanitizeModulePath(t *testing.T) {
	cases := map[string]string{
		"My Agent":        "my-agent",
		"trader_v2":       "trader_v2",
		"---":             "agent",
		"":                "agent",
		"Price.Watcher!!": "price.watcher",
	}
	for in, want := range cases {
		if got := SanitizeModulePath(in); got != want {
			t.Errorf("SanitizeModulePath(%q) = %q, want %q", in, got, want)
		}
	}
}
