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

// Package workflow is the session engine: a checkpointed state machine
// that drives agent codebase assembly through fixed stages, pausing for
// external input and resuming, with a static validator gating finalize.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/forgeworks/forge/workspace"
	"github.com/forgeworks/forge/workspace/skeleton"
)

// Stage names the current position in the pipeline.
type Stage string

const (
	StageInit          Stage = "init"
	StageTools         Stage = "tools"
	StageCustomTools   Stage = "custom_tools"
	StagePrompt        Stage = "prompt"
	StageClarification Stage = "clarification"
	StageToolReview    Stage = "tool_review"
	StageLogicGen      Stage = "logic_gen"
	StageValidate      Stage = "validate"
	StageCodeReview    Stage = "code_review"
	StageFinalize      Stage = "finalize"
)

// PauseKind tags which external input a parked session expects.
type PauseKind string

const (
	PauseNone          PauseKind = "none"
	PauseTools         PauseKind = "tool_selection"
	PauseCustomTools   PauseKind = "custom_tool_requirements"
	PausePrompt        PauseKind = "prompt"
	PauseClarification PauseKind = "clarification_answers"
	PauseToolReview    PauseKind = "tool_change_approval"
	PauseCodeReview    PauseKind = "code_edit"
)

type ToolKind string

const (
	// ToolActive tools run a continuous check loop and call back on trigger.
	ToolActive ToolKind = "active"
	// ToolReactive tools execute once on demand.
	ToolReactive ToolKind = "reactive"
)

// Tool is one monitoring or action module of the assembled agent. Source
// may be empty when it is to be fetched from the registry by name.
type Tool struct {
	Name        string   `json:"name"`
	Kind        ToolKind `json:"kind"`
	Source      string   `json:"source,omitempty"`
	Description string   `json:"description,omitempty"`
}

// QA is one clarification exchange. Answer stays empty until submitted.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

// ToolChanges is a reviewed adjustment to the session's tool set.
type ToolChanges struct {
	Add       []Tool   `json:"add,omitempty"`
	Remove    []string `json:"remove,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
}

func (c ToolChanges) Empty() bool {
	return len(c.Add) == 0 && len(c.Remove) == 0
}

type RecordStatus string

const (
	RecordOK      RecordStatus = "ok"
	RecordFailed  RecordStatus = "failed"
	RecordSkipped RecordStatus = "skipped"
)

// StageRecord is one audit entry appended around every stage run and every
// non-linear operation.
type StageRecord struct {
	Stage  Stage        `json:"stage"`
	Status RecordStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Time   time.Time    `json:"time"`
}

// SessionConfig is fixed at start and steers the conditional branches.
type SessionConfig struct {
	AgentName          string `json:"agent_name,omitempty"`
	WantsCustomTools   bool   `json:"wants_custom_tools,omitempty"`
	SkipClarification  bool   `json:"skip_clarification,omitempty"`
	PauseForToolReview bool   `json:"pause_for_tool_review,omitempty"`
	// Params feed tool availability expressions in the registry.
	Params map[string]interface{} `json:"params,omitempty"`
}

// State is the complete session record: one per session id, owned by the
// store, mutated only by stage functions operating on clones.
type State struct {
	SessionID     string    `json:"session_id"`
	Stage         Stage     `json:"stage"`
	AwaitingInput bool      `json:"awaiting_input"`
	PauseKind     PauseKind `json:"pause_kind"`

	Config SessionConfig `json:"config"`

	SelectedTools          []Tool `json:"selected_tools,omitempty"`
	GeneratedTools         []Tool `json:"generated_tools,omitempty"`
	CustomToolRequirements string `json:"custom_tool_requirements,omitempty"`
	RequirementText        string `json:"requirement_text,omitempty"`
	IntentSummary          string `json:"intent_summary,omitempty"`
	Clarifications         []QA   `json:"clarifications,omitempty"`
	ClarifyRounds          int    `json:"clarify_rounds,omitempty"`
	// ProposedChanges carries the last auto-applied (or approval-pending)
	// tool review result, kept for audit.
	ProposedChanges *ToolChanges `json:"proposed_tool_changes,omitempty"`
	ToolReviewDone  bool         `json:"tool_review_done,omitempty"`

	// Files is the authoritative generated codebase; WorkspaceRoot is its
	// filesystem mirror for external build and deploy tooling.
	Files            workspace.Files             `json:"workspace_files"`
	ValidationErrors []workspace.ValidationError `json:"validation_errors,omitempty"`
	WorkspaceRoot    string                      `json:"workspace_root,omitempty"`

	Finalized bool   `json:"finalized"`
	Errored   bool   `json:"errored,omitempty"`
	LastError string `json:"last_error,omitempty"`

	History []StageRecord `json:"history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState seeds a fresh session at the init stage.
func NewState(sessionID string, cfg SessionConfig) *State {
	now := time.Now().UTC()
	return &State{
		SessionID: sessionID,
		Stage:     StageInit,
		PauseKind: PauseNone,
		Config:    cfg,
		Files:     workspace.Files{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy. Stage functions mutate clones; the engine
// swaps a clone into the store only after the stage chain succeeds.
func (s *State) Clone() *State {
	out := *s
	out.SelectedTools = append([]Tool(nil), s.SelectedTools...)
	out.GeneratedTools = append([]Tool(nil), s.GeneratedTools...)
	out.Clarifications = append([]QA(nil), s.Clarifications...)
	out.ValidationErrors = append([]workspace.ValidationError(nil), s.ValidationErrors...)
	out.History = append([]StageRecord(nil), s.History...)
	out.Files = s.Files.Clone()
	if s.ProposedChanges != nil {
		cc := *s.ProposedChanges
		cc.Add = append([]Tool(nil), s.ProposedChanges.Add...)
		cc.Remove = append([]string(nil), s.ProposedChanges.Remove...)
		out.ProposedChanges = &cc
	}
	if s.Config.Params != nil {
		params := make(map[string]interface{}, len(s.Config.Params))
		for k, v := range s.Config.Params {
			params[k] = v
		}
		out.Config.Params = params
	}
	return &out
}

// park leaves the session waiting at a pause point.
func (s *State) park(stage Stage, kind PauseKind) {
	s.Stage = stage
	s.AwaitingInput = true
	s.PauseKind = kind
}

// resume clears the pause before the corresponding update stage runs.
func (s *State) resume(stage Stage) {
	s.Stage = stage
	s.AwaitingInput = false
	s.PauseKind = PauseNone
}

// Record appends an audit entry.
func (s *State) Record(stage Stage, status RecordStatus, detail string, err error) {
	rec := StageRecord{
		Stage:  stage,
		Status: status,
		Detail: detail,
		Time:   time.Now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.History = append(s.History, rec)
}

// NormalizeToolName lowers a tool name and makes it safe to reuse as the
// derived workspace file name.
func NormalizeToolName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ToolPath derives the workspace path a tool's source lives at.
func ToolPath(name string) string {
	return "tools/" + NormalizeToolName(name) + ".go"
}

// ModulePath is the module identity of the generated codebase.
func (s *State) ModulePath() string {
	name := s.Config.AgentName
	if name == "" {
		name = s.SessionID
	}
	return "forge/agents/" + skeleton.SanitizeModulePath(name)
}

// UpsertSelected adds or overwrites a selected tool by normalized name.
// Last submission wins on collision, including against generated tools.
func (s *State) UpsertSelected(t Tool) {
	t.Name = NormalizeToolName(t.Name)
	for i := range s.SelectedTools {
		if s.SelectedTools[i].Name == t.Name {
			s.SelectedTools[i] = t
			return
		}
	}
	for i := range s.GeneratedTools {
		if s.GeneratedTools[i].Name == t.Name {
			s.GeneratedTools[i] = t
			return
		}
	}
	s.SelectedTools = append(s.SelectedTools, t)
}

// UpsertGenerated registers an oracle-synthesized tool, last-wins.
func (s *State) UpsertGenerated(t Tool) {
	t.Name = NormalizeToolName(t.Name)
	for i := range s.GeneratedTools {
		if s.GeneratedTools[i].Name == t.Name {
			s.GeneratedTools[i] = t
			return
		}
	}
	for i := range s.SelectedTools {
		if s.SelectedTools[i].Name == t.Name {
			s.SelectedTools[i] = t
			return
		}
	}
	s.GeneratedTools = append(s.GeneratedTools, t)
}

// RemoveTool drops a tool from both lists. Absent names are a no-op.
func (s *State) RemoveTool(name string) bool {
	name = NormalizeToolName(name)
	removed := false
	filter := func(list []Tool) []Tool {
		out := list[:0]
		for _, t := range list {
			if t.Name == name {
				removed = true
				continue
			}
			out = append(out, t)
		}
		return out
	}
	s.SelectedTools = filter(s.SelectedTools)
	s.GeneratedTools = filter(s.GeneratedTools)
	return removed
}

// AllTools returns selected then generated tools in insertion order.
func (s *State) AllTools() []Tool {
	out := make([]Tool, 0, len(s.SelectedTools)+len(s.GeneratedTools))
	out = append(out, s.SelectedTools...)
	out = append(out, s.GeneratedTools...)
	return out
}

// ToolNames returns the normalized names of all tools in order.
func (s *State) ToolNames() []string {
	tools := s.AllTools()
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Name)
	}
	return out
}

// HasTool reports whether name is already selected or generated.
func (s *State) HasTool(name string) bool {
	name = NormalizeToolName(name)
	for _, t := range s.AllTools() {
		if t.Name == name {
			return true
		}
	}
	return false
}

// checkInvariants detects states the machine must never produce. A failure
// here marks the session errored rather than crashing the process.
func (s *State) checkInvariants() error {
	if s.AwaitingInput && s.PauseKind == PauseNone {
		return fmt.Errorf("awaiting input without a pause kind at stage %s", s.Stage)
	}
	if !s.AwaitingInput && s.PauseKind != PauseNone {
		return fmt.Errorf("pause kind %s without awaiting input at stage %s", s.PauseKind, s.Stage)
	}
	seen := map[string]bool{}
	for _, t := range s.AllTools() {
		if seen[t.Name] {
			return fmt.Errorf("duplicate tool name %q", t.Name)
		}
		seen[t.Name] = true
	}
	for p := range s.Files {
		if _, err := workspace.NormalizePath(p); err != nil {
			return fmt.Errorf("workspace key %q: %v", p, err)
		}
	}
	return nil
}
