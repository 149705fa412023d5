/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/forgeworks/forge/workflow"
)

type fakeGen struct {
	response  string
	err       error
	lastInput string
}

func (f *fakeGen) Call(ctx context.Context, input string) (string, error) {
	f.lastInput = input
	return f.response, f.err
}

func oracleWith(gen *fakeGen) *ChatOracle {
	return &ChatOracle{
		chat:           gen,
		coder:          gen,
		reviewer:       gen,
		logicPreamble:  "SYSTEM\n\n",
		reviewPreamble: "REVIEW\n\n",
	}
}

func TestGenerateTools_ParsesArray(t *testing.T) {
	gen := &fakeGen{response: "```json\n" +
		`[{"name": "gas_watcher", "kind": "active", "description": "watch gas", "source": "` +
		"```go\\npackage tools\\n```" + `"}]` + "\n```"}
	o := oracleWith(gen)

	tools, err := o.GenerateTools(context.Background(), workflow.ToolGenRequest{
		Requirements: "watch gas prices",
	})
	if err != nil {
		t.Fatalf("GenerateTools failed: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	if tools[0].Name != "gas_watcher" || tools[0].Kind != workflow.ToolActive {
		t.Errorf("unexpected tool: %+v", tools[0])
	}
	if tools[0].Source != "package tools" {
		t.Errorf("source fences not stripped: %q", tools[0].Source)
	}
	if !strings.Contains(gen.lastInput, "watch gas prices") {
		t.Error("requirements missing from prompt")
	}
}

func TestGenerateTools_EnvelopeObject(t *testing.T) {
	gen := &fakeGen{response: `{"tools": [{"name": "a", "kind": "reactive", "description": "d", "source": "package tools"}]}`}
	o := oracleWith(gen)

	tools, err := o.GenerateTools(context.Background(), workflow.ToolGenRequest{Requirements: "r"})
	if err != nil {
		t.Fatalf("GenerateTools failed: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "a" {
		t.Fatalf("envelope form not accepted: %+v", tools)
	}
}

func TestGenerateTools_MalformedResponse(t *testing.T) {
	o := oracleWith(&fakeGen{response: "I cannot do that."})
	if _, err := o.GenerateTools(context.Background(), workflow.ToolGenRequest{Requirements: "r"}); err == nil {
		t.Fatal("expected error for response without JSON")
	}
}

func TestClarify_Questions(t *testing.T) {
	gen := &fakeGen{response: `{"questions": ["What threshold?", " ", "Which chain?"]}`}
	o := oracleWith(gen)

	res, err := o.Clarify(context.Background(), workflow.ClarifyRequest{
		Prompt: "watch my wallet",
		Exchanges: []workflow.QA{
			{Question: "Which wallet?", Answer: "0xabc"},
		},
	})
	if err != nil {
		t.Fatalf("Clarify failed: %v", err)
	}
	if len(res.Questions) != 2 {
		t.Fatalf("got %d questions, want 2 (blank dropped): %v", len(res.Questions), res.Questions)
	}
	if !strings.Contains(gen.lastInput, "0xabc") {
		t.Error("prior answers missing from prompt")
	}
}

func TestClarify_ProseFallsBackToSummary(t *testing.T) {
	o := oracleWith(&fakeGen{response: "The user wants to watch ETH gas and alert above 50 gwei."})
	res, err := o.Clarify(context.Background(), workflow.ClarifyRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Clarify failed: %v", err)
	}
	if len(res.Questions) != 0 {
		t.Errorf("unexpected questions: %v", res.Questions)
	}
	if !strings.Contains(res.Summary, "50 gwei") {
		t.Errorf("raw text not adopted as summary: %q", res.Summary)
	}
}

func TestReviewTools_ParsesChanges(t *testing.T) {
	gen := &fakeGen{response: `{"add": [{"name": "notifier"}], "remove": ["tx_executor"], "rationale": "intent never sends transactions"}`}
	o := oracleWith(gen)

	changes, err := o.ReviewTools(context.Background(), workflow.ReviewRequest{
		Intent:   "alert on gas spikes",
		Selected: []workflow.Tool{{Name: "tx_executor", Kind: workflow.ToolReactive}},
	})
	if err != nil {
		t.Fatalf("ReviewTools failed: %v", err)
	}
	if len(changes.Add) != 1 || changes.Add[0].Name != "notifier" {
		t.Errorf("unexpected adds: %+v", changes.Add)
	}
	if len(changes.Remove) != 1 || changes.Remove[0] != "tx_executor" {
		t.Errorf("unexpected removes: %v", changes.Remove)
	}
	if changes.Rationale == "" {
		t.Error("rationale dropped")
	}
}

func TestReviewTools_ProseMeansNoChanges(t *testing.T) {
	o := oracleWith(&fakeGen{response: "Everything looks fine to me!"})
	changes, err := o.ReviewTools(context.Background(), workflow.ReviewRequest{Intent: "i"})
	if err != nil {
		t.Fatalf("ReviewTools failed: %v", err)
	}
	if !changes.Empty() {
		t.Errorf("expected empty change set, got %+v", changes)
	}
}

func TestGenerateLogic_CutsToPackageClause(t *testing.T) {
	gen := &fakeGen{response: "Here is the logic module you asked for:\n\n```go\npackage main\n\nfunc x() {}\n```"}
	o := oracleWith(gen)

	code, err := o.GenerateLogic(context.Background(), workflow.LogicRequest{
		Intent:     "alert on gas spikes",
		ModulePath: "forge/agents/gas",
		Tools:      []workflow.Tool{{Name: "notifier", Kind: workflow.ToolReactive, Source: "package tools\n\ntype N struct{}"}},
	})
	if err != nil {
		t.Fatalf("GenerateLogic failed: %v", err)
	}
	if !strings.HasPrefix(code, "package main") {
		t.Errorf("prose not trimmed: %q", code)
	}
	if !strings.HasPrefix(gen.lastInput, "SYSTEM") {
		t.Error("system preamble missing for direct generator")
	}
	if !strings.Contains(gen.lastInput, "type N struct{}") {
		t.Error("tool sources missing from prompt")
	}
}

func TestGenerateLogic_RegenerationCarriesFindings(t *testing.T) {
	gen := &fakeGen{response: "package main\n"}
	o := oracleWith(gen)

	_, err := o.GenerateLogic(context.Background(), workflow.LogicRequest{
		Intent:      "i",
		PriorSource: "package main\n\nvar broken =",
		Findings:    "logic.go:3: expected expression",
	})
	if err != nil {
		t.Fatalf("GenerateLogic failed: %v", err)
	}
	if !strings.Contains(gen.lastInput, "var broken =") {
		t.Error("prior source missing from prompt")
	}
	if !strings.Contains(gen.lastInput, "expected expression") {
		t.Error("findings missing from prompt")
	}
}

func TestGenerateLogic_EmptyResponse(t *testing.T) {
	o := oracleWith(&fakeGen{response: "```go\n```"})
	if _, err := o.GenerateLogic(context.Background(), workflow.LogicRequest{Intent: "i"}); err == nil {
		t.Fatal("expected error for empty generation")
	}
}
