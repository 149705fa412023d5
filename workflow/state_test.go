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

package workflow

import (
	"testing"
)

func TestNormalizeToolName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTP_Probe", "http_probe"},
		{"  Price Monitor ", "price_monitor"},
		{"tx-executor", "tx-executor"},
		{"weird/../name", "weird____name"},
		{"Notifier?!", "notifier__"},
	}
	for _, c := range cases {
		if got := NormalizeToolName(c.in); got != c.want {
			t.Errorf("NormalizeToolName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestToolPath(t *testing.T) {
	if got := ToolPath("HTTP Probe"); got != "tools/http_probe.go" {
		t.Fatalf("ToolPath = %q", got)
	}
}

func TestUpsertIsLastWinsAcrossLists(t *testing.T) {
	st := NewState("s", SessionConfig{})
	st.UpsertSelected(Tool{Name: "probe", Kind: ToolActive, Source: "a"})
	st.UpsertGenerated(Tool{Name: "PROBE", Kind: ToolReactive, Source: "b"})

	if len(st.GeneratedTools) != 0 {
		t.Fatalf("collision must replace in place, got generated %v", st.GeneratedTools)
	}
	if len(st.SelectedTools) != 1 {
		t.Fatalf("selected = %v", st.SelectedTools)
	}
	if st.SelectedTools[0].Source != "b" || st.SelectedTools[0].Kind != ToolReactive {
		t.Fatalf("last submission must win, got %+v", st.SelectedTools[0])
	}

	st.UpsertGenerated(Tool{Name: "gen", Source: "g"})
	st.UpsertSelected(Tool{Name: "GEN", Source: "g2"})
	if len(st.SelectedTools) != 1 || len(st.GeneratedTools) != 1 {
		t.Fatalf("cross-list collision duplicated: %v / %v", st.SelectedTools, st.GeneratedTools)
	}
	if st.GeneratedTools[0].Source != "g2" {
		t.Fatalf("generated not replaced: %+v", st.GeneratedTools[0])
	}
}

func TestRemoveToolAbsentIsNoop(t *testing.T) {
	st := NewState("s", SessionConfig{})
	st.UpsertSelected(Tool{Name: "keep", Source: "x"})
	if st.RemoveTool("never_there") {
		t.Fatal("removing an absent tool must report false")
	}
	if !st.RemoveTool("KEEP") {
		t.Fatal("remove must match case-normalized names")
	}
	if st.HasTool("keep") {
		t.Fatal("tool still present after remove")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	st := NewState("s", SessionConfig{Params: map[string]interface{}{"tier": "pro"}})
	st.UpsertSelected(Tool{Name: "probe", Source: "x"})
	st.Clarifications = []QA{{Question: "q?"}}
	if _, err := st.Files.Set("a.go", "package main\n"); err != nil {
		t.Fatal(err)
	}
	st.ProposedChanges = &ToolChanges{Add: []Tool{{Name: "extra"}}}

	cp := st.Clone()
	cp.SelectedTools[0].Name = "mutated"
	cp.Clarifications[0].Answer = "mutated"
	cp.Files.Remove("a.go")
	cp.ProposedChanges.Add[0].Name = "mutated"
	cp.Config.Params["tier"] = "free"

	if st.SelectedTools[0].Name != "probe" {
		t.Fatal("clone shares tool slice")
	}
	if st.Clarifications[0].Answer != "" {
		t.Fatal("clone shares clarification slice")
	}
	if _, ok := st.Files.Get("a.go"); !ok {
		t.Fatal("clone shares files map")
	}
	if st.ProposedChanges.Add[0].Name != "extra" {
		t.Fatal("clone shares proposed changes")
	}
	if st.Config.Params["tier"] != "pro" {
		t.Fatal("clone shares params map")
	}
}

func TestDuplicateQuestionContainment(t *testing.T) {
	existing := []QA{
		{Question: "Which endpoint should be monitored?"},
		{Question: "How often should the agent poll?"},
	}
	cases := []struct {
		q    string
		want bool
	}{
		{"which endpoint should be monitored", true},
		{"Which endpoint should be monitored, exactly?", true},
		{"endpoint should be monitored", true},
		{"What alert channel do you prefer?", false},
		{"HOW OFTEN SHOULD THE AGENT POLL", true},
	}
	for _, c := range cases {
		if got := duplicateQuestion(existing, c.q); got != c.want {
			t.Errorf("duplicateQuestion(%q) = %v, want %v", c.q, got, c.want)
		}
	}
}

func TestModulePathSanitization(t *testing.T) {
	st := NewState("8f2c", SessionConfig{AgentName: "Tx Executor v2!"})
	if got := st.ModulePath(); got != "forge/agents/tx-executor-v2" {
		t.Fatalf("ModulePath = %q", got)
	}
	anon := NewState("8f2c", SessionConfig{})
	if got := anon.ModulePath(); got != "forge/agents/8f2c" {
		t.Fatalf("ModulePath without agent name = %q", got)
	}
}

func TestCheckInvariants(t *testing.T) {
	st := NewState("s", SessionConfig{})
	if err := st.checkInvariants(); err != nil {
		t.Fatalf("fresh state must be valid: %v", err)
	}

	st.AwaitingInput = true
	if err := st.checkInvariants(); err == nil {
		t.Fatal("awaiting input without pause kind must fail")
	}
	st.PauseKind = PauseTools
	if err := st.checkInvariants(); err != nil {
		t.Fatalf("parked state must be valid: %v", err)
	}

	st.SelectedTools = []Tool{{Name: "dup"}}
	st.GeneratedTools = []Tool{{Name: "dup"}}
	if err := st.checkInvariants(); err == nil {
		t.Fatal("duplicate tool names must fail")
	}
}
