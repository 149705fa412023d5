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
	"reflect"
	"testing"
)

const testManifest = "module forge/agents/test\n\ngo 1.24\n"

func validSnapshot() Files {
	return Files{
		"go.mod":        testManifest,
		"main.go":       "package main\n\nimport \"forge/agents/test/tools\"\n\nfunc main() { _ = tools.All() }\n",
		"logic.go":      "package main\n\ntype Logic struct{}\n",
		"tools/tool.go": "package tools\n\ntype Tool interface{ Name() string }\n\nfunc All() []Tool { return nil }\n",
	}
}

func TestValidate_EmptySnapshot(t *testing.T) {
	v := &Validator{}
	got := v.Validate(context.Background(), Files{})
	if got == nil {
		t.Fatal("want empty list, got nil")
	}
	if len(got) != 0 {
		t.Errorf("want no findings, got %v", got)
	}
}

func TestValidate_CleanSnapshot(t *testing.T) {
	v := &Validator{}
	got := v.Validate(context.Background(), validSnapshot())
	if len(got) != 0 {
		t.Errorf("want no findings, got %v", got)
	}
}

func TestValidate_NonSourceFilesSkipped(t *testing.T) {
	v := &Validator{}
	files := validSnapshot()
	files["Dockerfile"] = "FROM scratch\n"
	files[".env"] = "KEY=value\n"
	files["notes.txt"] = "{{{{ not code"
	got := v.Validate(context.Background(), files)
	if len(got) != 0 {
		t.Errorf("want no findings, got %v", got)
	}
}

func TestValidate_SyntaxErrorShortCircuitsImports(t *testing.T) {
	v := &Validator{}
	files := validSnapshot()
	// unbalanced brace and an unresolvable local import in the same file
	files["main.go"] = "package main\n\nimport \"forge/agents/test/missing\"\n\nfunc main() {\n"
	got := v.Validate(context.Background(), files)
	if len(got) == 0 {
		t.Fatal("want syntax findings")
	}
	for _, e := range got {
		if e.Path != "main.go" {
			t.Errorf("unexpected path %q: %v", e.Path, e)
		}
		if e.Kind != KindSyntax {
			t.Errorf("import check not short-circuited: %v", e)
		}
	}
}

func TestValidate_ImportResolutionRoundTrip(t *testing.T) {
	v := &Validator{}
	files := Files{
		"go.mod":  testManifest,
		"main.go": "package main\n\nimport \"forge/agents/test/store\"\n\nfunc main() { store.Open() }\n",
	}

	got := v.Validate(context.Background(), files)
	if len(got) != 1 {
		t.Fatalf("want exactly one finding, got %v", got)
	}
	if got[0].Path != "main.go" || got[0].Kind != KindImport {
		t.Errorf("finding = %+v, want import error in main.go", got[0])
	}
	if got[0].Line != 3 {
		t.Errorf("line = %d, want 3", got[0].Line)
	}

	files["store/store.go"] = "package store\n\nfunc Open() {}\n"
	got = v.Validate(context.Background(), files)
	if len(got) != 0 {
		t.Errorf("after adding store/store.go want no findings, got %v", got)
	}
}

func TestValidate_ThirdPartyImportsIgnored(t *testing.T) {
	v := &Validator{}
	files := Files{
		"go.mod":  testManifest,
		"main.go": "package main\n\nimport (\n\t\"fmt\"\n\n\t\"github.com/pkg/errors\"\n)\n\nfunc main() { fmt.Println(errors.New(\"x\")) }\n",
	}
	got := v.Validate(context.Background(), files)
	if len(got) != 0 {
		t.Errorf("want no findings for external imports, got %v", got)
	}
}

func TestValidate_NoManifestSkipsImportChecks(t *testing.T) {
	v := &Validator{}
	files := Files{
		"main.go": "package main\n\nimport \"forge/agents/test/missing\"\n\nfunc main() {}\n",
	}
	got := v.Validate(context.Background(), files)
	if len(got) != 0 {
		t.Errorf("without a manifest local imports cannot be classified; got %v", got)
	}
}

func TestValidate_MalformedManifest(t *testing.T) {
	v := &Validator{}
	files := Files{
		"go.mod":  "modul broken (((\n",
		"main.go": "package main\n\nfunc main() {}\n",
	}
	got := v.Validate(context.Background(), files)
	if len(got) != 1 {
		t.Fatalf("want one manifest finding, got %v", got)
	}
	if got[0].Path != "go.mod" || got[0].Kind != KindImport {
		t.Errorf("finding = %+v", got[0])
	}
}

func TestValidate_OrderingStable(t *testing.T) {
	v := &Validator{}
	files := Files{
		"go.mod": testManifest,
		"b.go":   "package main\n\nfunc broken() {\n",
		"a.go":   "package main\n\nimport \"forge/agents/test/gone\"\n\nvar _ = gone.X\n",
	}
	got := v.Validate(context.Background(), files)
	if len(got) < 2 {
		t.Fatalf("want findings in both files, got %v", got)
	}
	if got[0].Path != "a.go" {
		t.Errorf("first finding in %q, want a.go", got[0].Path)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Path < got[i-1].Path {
			t.Errorf("findings not ordered by path: %v", got)
		}
	}
}

func TestValidate_Deterministic(t *testing.T) {
	v := &Validator{}
	files := validSnapshot()
	files["broken.go"] = "package main\nfunc f( {}\n"
	files["a.go"] = "package main\n\nimport \"forge/agents/test/nope\"\n\nvar _ = nope.X\n"
	first := v.Validate(context.Background(), files)
	for i := 0; i < 10; i++ {
		again := v.Validate(context.Background(), files)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs:\n%v\nvs\n%v", i, first, again)
		}
	}
}

type panickyChecker struct{}

func (panickyChecker) Check(context.Context, Files) ([]ValidationError, error) {
	panic("checker blew up")
}

func TestValidate_PanicBecomesSingleFinding(t *testing.T) {
	v := &Validator{Checker: panickyChecker{}}
	got := v.Validate(context.Background(), validSnapshot())
	if len(got) != 1 {
		t.Fatalf("want exactly one finding, got %v", got)
	}
	if got[0].Kind != KindSyntax || got[0].Path != "" {
		t.Errorf("finding = %+v", got[0])
	}
}

type scriptedChecker struct {
	diags []ValidationError
	err   error
}

func (s scriptedChecker) Check(context.Context, Files) ([]ValidationError, error) {
	return s.diags, s.err
}

func TestValidate_CheckerErrorIsSingleFinding(t *testing.T) {
	v := &Validator{Checker: scriptedChecker{err: context.DeadlineExceeded}}
	got := v.Validate(context.Background(), validSnapshot())
	if len(got) != 1 {
		t.Fatalf("want one finding, got %v", got)
	}
	if got[0].Kind != KindType {
		t.Errorf("kind = %q, want type", got[0].Kind)
	}
}

func TestValidate_CheckerSkipsSyntaxBrokenFiles(t *testing.T) {
	files := validSnapshot()
	files["broken.go"] = "package main\nfunc f( {\n"
	v := &Validator{Checker: scriptedChecker{diags: []ValidationError{
		{Path: "broken.go", Message: "undefined: x", Line: 2},
		{Path: "logic.go", Message: "undefined: y", Line: 3},
	}}}
	got := v.Validate(context.Background(), files)
	for _, e := range got {
		if e.Path == "broken.go" && e.Kind == KindType {
			t.Errorf("type finding leaked for syntax-broken file: %v", e)
		}
	}
	var sawLogic bool
	for _, e := range got {
		if e.Path == "logic.go" && e.Kind == KindType {
			sawLogic = true
		}
	}
	if !sawLogic {
		t.Error("expected type finding for logic.go")
	}
}
