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
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/tools/imports"

	"github.com/forgeworks/forge/llm/log"
	"github.com/forgeworks/forge/workspace/skeleton"
)

// stageFn runs the body of one stage against a scratch state. Parking and
// transitions are decided by the dispatch table, not the body.
type stageFn func(ctx context.Context, e *Engine, st *State) error

type stageEntry struct {
	run stageFn
	// next picks the successor once run has succeeded. A non-none pause
	// parks the session at the returned stage.
	next func(st *State) (Stage, PauseKind)
}

// stageTable is the authoritative stage graph. advance is the only walker.
var stageTable = map[Stage]stageEntry{
	StageInit: {
		run: seedWorkspace,
		next: func(st *State) (Stage, PauseKind) {
			return StageTools, PauseTools
		},
	},
	StageTools: {
		run: materializeTools,
		next: func(st *State) (Stage, PauseKind) {
			if st.Config.WantsCustomTools {
				return StageCustomTools, PauseCustomTools
			}
			return StagePrompt, PausePrompt
		},
	},
	StageCustomTools: {
		run: generateCustomTools,
		next: func(st *State) (Stage, PauseKind) {
			return StagePrompt, PausePrompt
		},
	},
	StagePrompt: {
		run:  clarifyIntent,
		next: afterClarify,
	},
	StageClarification: {
		run:  clarifyIntent,
		next: afterClarify,
	},
	StageToolReview: {
		run: reviewTools,
		next: func(st *State) (Stage, PauseKind) {
			if !st.ToolReviewDone {
				return StageToolReview, PauseToolReview
			}
			return StageLogicGen, PauseNone
		},
	},
	StageLogicGen: {
		run: generateLogic,
		next: func(st *State) (Stage, PauseKind) {
			return StageValidate, PauseNone
		},
	},
	StageValidate: {
		run: validateWorkspace,
		next: func(st *State) (Stage, PauseKind) {
			return StageCodeReview, PauseCodeReview
		},
	},
	// Re-entered after every code edit; edits are re-validated before the
	// session parks again.
	StageCodeReview: {
		run: validateWorkspace,
		next: func(st *State) (Stage, PauseKind) {
			return StageCodeReview, PauseCodeReview
		},
	},
	StageFinalize: {
		run: finalizeSession,
		next: func(st *State) (Stage, PauseKind) {
			return StageFinalize, PauseNone
		},
	},
}

func afterClarify(st *State) (Stage, PauseKind) {
	if len(pendingQuestions(st)) > 0 {
		return StageClarification, PauseClarification
	}
	return StageToolReview, PauseNone
}

// seedWorkspace renders the skeleton into a fresh session workspace.
func seedWorkspace(ctx context.Context, e *Engine, st *State) error {
	files, err := skeleton.Render(skeleton.Params{
		ModulePath: st.ModulePath(),
		AgentName:  st.Config.AgentName,
	})
	if err != nil {
		return fmt.Errorf("render skeleton: %w", err)
	}
	for p, src := range files {
		if _, err := st.Files.Set(p, src); err != nil {
			return err
		}
	}
	if e.workDir != "" {
		st.WorkspaceRoot = filepath.Join(e.workDir, st.SessionID)
	}
	log.Debug("session %s: workspace seeded with %d files", st.SessionID, len(files))
	return nil
}

// materializeTools writes the source of every tool into the workspace,
// fetching registry tools by name.
func materializeTools(ctx context.Context, e *Engine, st *State) error {
	for i, t := range st.SelectedTools {
		if t.Source == "" {
			full, err := e.tools.GetSource(t.Name)
			if err != nil {
				return fmt.Errorf("tool %q: %w", t.Name, err)
			}
			t.Source = full.Source
			if t.Kind == "" {
				t.Kind = full.Kind
			}
			if t.Description == "" {
				t.Description = full.Description
			}
			st.SelectedTools[i] = t
		}
		if t.Kind == "" {
			t.Kind = ToolReactive
			st.SelectedTools[i] = t
		}
		if _, err := st.Files.Set(ToolPath(t.Name), t.Source); err != nil {
			return err
		}
	}
	log.Info("session %s: %d tools materialized", st.SessionID, len(st.SelectedTools))
	return nil
}

// generateCustomTools asks the oracle to synthesize tools from the
// submitted requirements and merges them last-wins.
func generateCustomTools(ctx context.Context, e *Engine, st *State) error {
	ctx, cancel := e.oracleContext(ctx)
	defer cancel()
	tools, err := e.oracle.GenerateTools(ctx, ToolGenRequest{
		Requirements: st.CustomToolRequirements,
		Existing:     st.AllTools(),
		ModulePath:   st.ModulePath(),
		Params:       st.Config.Params,
	})
	if err != nil {
		return Retryable(StageCustomTools, err)
	}
	kept := 0
	for _, t := range tools {
		t.Name = NormalizeToolName(t.Name)
		if t.Name == "" || t.Source == "" {
			log.Warn("session %s: dropping generated tool with empty name or source", st.SessionID)
			continue
		}
		if t.Kind == "" {
			t.Kind = ToolReactive
		}
		st.UpsertGenerated(t)
		if _, err := st.Files.Set(ToolPath(t.Name), t.Source); err != nil {
			return err
		}
		kept++
	}
	if kept == 0 {
		return Retryable(StageCustomTools, fmt.Errorf("oracle produced no usable tools"))
	}
	log.Info("session %s: %d custom tools generated", st.SessionID, kept)
	return nil
}

// clarifyIntent runs one clarification round. It either queues new
// questions, adopts the oracle's intent summary, or falls back to the raw
// requirement once rounds are exhausted.
func clarifyIntent(ctx context.Context, e *Engine, st *State) error {
	if st.Config.SkipClarification {
		if st.IntentSummary == "" {
			st.IntentSummary = composeIntent(st)
		}
		return nil
	}
	if st.ClarifyRounds >= e.maxClarifyRounds {
		if st.IntentSummary == "" {
			st.IntentSummary = composeIntent(st)
		}
		return nil
	}
	ctx, cancel := e.oracleContext(ctx)
	defer cancel()
	res, err := e.oracle.Clarify(ctx, ClarifyRequest{
		Prompt:    st.RequirementText,
		Exchanges: st.Clarifications,
		Tools:     st.AllTools(),
	})
	if err != nil {
		return Retryable(st.Stage, err)
	}
	st.ClarifyRounds++
	added := 0
	for _, q := range res.Questions {
		q = strings.TrimSpace(q)
		if q == "" || duplicateQuestion(st.Clarifications, q) {
			continue
		}
		st.Clarifications = append(st.Clarifications, QA{Question: q})
		added++
	}
	if res.Summary != "" {
		st.IntentSummary = res.Summary
	}
	if added == 0 && st.IntentSummary == "" {
		st.IntentSummary = composeIntent(st)
	}
	if added > 0 {
		log.Info("session %s: %d clarification questions queued (round %d)", st.SessionID, added, st.ClarifyRounds)
	}
	return nil
}

// reviewTools lets the oracle adjust the tool set against the clarified
// intent. The outcome is applied directly unless the session is configured
// to pause for approval.
func reviewTools(ctx context.Context, e *Engine, st *State) error {
	if st.ToolReviewDone {
		return nil
	}
	if st.ProposedChanges == nil {
		ctx, cancel := e.oracleContext(ctx)
		defer cancel()
		changes, err := e.oracle.ReviewTools(ctx, ReviewRequest{
			Intent:    st.IntentSummary,
			Selected:  st.AllTools(),
			Available: e.tools.ListAvailable(st.Config.Params),
		})
		if err != nil {
			return Retryable(StageToolReview, err)
		}
		if changes == nil {
			changes = &ToolChanges{}
		}
		st.ProposedChanges = changes
	}
	if st.Config.PauseForToolReview && !st.ProposedChanges.Empty() {
		return nil
	}
	applied := e.applyToolChanges(st, *st.ProposedChanges)
	st.ProposedChanges = &applied
	st.ToolReviewDone = true
	return nil
}

// generateLogic asks the oracle for the orchestration module and formats
// it. Formatting failures are left to the validator to surface.
func generateLogic(ctx context.Context, e *Engine, st *State) error {
	ctx, cancel := e.oracleContext(ctx)
	defer cancel()
	prior, _ := st.Files.Get(logicPath)
	src, err := e.oracle.GenerateLogic(ctx, LogicRequest{
		Intent:         st.IntentSummary,
		Prompt:         st.RequirementText,
		Clarifications: st.Clarifications,
		Tools:          st.AllTools(),
		ModulePath:     st.ModulePath(),
		PriorSource:    prior,
		Findings:       formatFindings(st),
	})
	if err != nil {
		return Retryable(StageLogicGen, err)
	}
	if strings.TrimSpace(src) == "" {
		return Retryable(StageLogicGen, fmt.Errorf("oracle produced empty logic module"))
	}
	if formatted, ferr := imports.Process(logicPath, []byte(src), nil); ferr == nil {
		src = string(formatted)
	} else {
		log.Warn("session %s: generated logic does not format cleanly: %v", st.SessionID, ferr)
	}
	if _, err := st.Files.Set(logicPath, src); err != nil {
		return err
	}
	return nil
}

// validateWorkspace runs the static validator over the snapshot. Findings
// are state, not errors.
func validateWorkspace(ctx context.Context, e *Engine, st *State) error {
	st.ValidationErrors = e.validator.Validate(ctx, st.Files)
	if n := len(st.ValidationErrors); n > 0 {
		log.Info("session %s: validation produced %d findings", st.SessionID, n)
	}
	return nil
}

// finalizeSession registers the finished agent. Safe to re-run.
func finalizeSession(ctx context.Context, e *Engine, st *State) error {
	if e.registrar != nil {
		err := e.registrar.Register(ctx, Manifest{
			SessionID:     st.SessionID,
			AgentName:     st.Config.AgentName,
			ModulePath:    st.ModulePath(),
			Tools:         st.AllTools(),
			WorkspaceRoot: st.WorkspaceRoot,
			FinalizedAt:   st.UpdatedAt,
		})
		if err != nil {
			return Retryable(StageFinalize, err)
		}
	}
	st.Finalized = true
	log.Info("session %s: finalized as %s", st.SessionID, st.ModulePath())
	return nil
}

const logicPath = "logic.go"

// applyToolChanges folds a reviewed change set into the state and returns
// what actually took effect. Unknown registry additions are dropped and
// absent removals are a no-op.
func (e *Engine) applyToolChanges(st *State, ch ToolChanges) ToolChanges {
	applied := ToolChanges{Rationale: ch.Rationale}
	for _, t := range ch.Add {
		t.Name = NormalizeToolName(t.Name)
		if t.Name == "" {
			continue
		}
		fromRegistry := false
		if t.Source == "" {
			full, err := e.tools.GetSource(t.Name)
			if err != nil {
				log.Warn("session %s: review added unknown tool %q, dropped", st.SessionID, t.Name)
				continue
			}
			t.Source = full.Source
			if t.Kind == "" {
				t.Kind = full.Kind
			}
			if t.Description == "" {
				t.Description = full.Description
			}
			fromRegistry = true
		}
		if t.Kind == "" {
			t.Kind = ToolReactive
		}
		if fromRegistry {
			st.UpsertSelected(t)
		} else {
			st.UpsertGenerated(t)
		}
		if _, err := st.Files.Set(ToolPath(t.Name), t.Source); err != nil {
			log.Warn("session %s: review added tool %q with bad path, dropped", st.SessionID, t.Name)
			continue
		}
		applied.Add = append(applied.Add, t)
	}
	for _, name := range ch.Remove {
		name = NormalizeToolName(name)
		if st.RemoveTool(name) {
			st.Files.Remove(ToolPath(name))
			applied.Remove = append(applied.Remove, name)
		}
	}
	return applied
}

// pendingQuestions returns unanswered clarification questions in order.
func pendingQuestions(st *State) []string {
	var out []string
	for _, qa := range st.Clarifications {
		if qa.Answer == "" {
			out = append(out, qa.Question)
		}
	}
	return out
}

// duplicateQuestion applies literal substring containment in either
// direction, case-insensitive, against every prior question.
func duplicateQuestion(existing []QA, q string) bool {
	norm := normalizeQuestion(q)
	for _, qa := range existing {
		prev := normalizeQuestion(qa.Question)
		if prev == "" {
			continue
		}
		if strings.Contains(prev, norm) || strings.Contains(norm, prev) {
			return true
		}
	}
	return false
}

func normalizeQuestion(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	return strings.TrimRight(q, "?？ ")
}

// composeIntent is the no-oracle fallback: the raw requirement plus any
// answered clarifications.
func composeIntent(st *State) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(st.RequirementText))
	answered := false
	for _, qa := range st.Clarifications {
		if qa.Answer == "" {
			continue
		}
		if !answered {
			b.WriteString("\n\nClarifications:")
			answered = true
		}
		fmt.Fprintf(&b, "\n- %s %s", qa.Question, qa.Answer)
	}
	return b.String()
}

func formatFindings(st *State) string {
	if len(st.ValidationErrors) == 0 {
		return ""
	}
	lines := make([]string, 0, len(st.ValidationErrors))
	for _, ve := range st.ValidationErrors {
		lines = append(lines, ve.String())
	}
	return strings.Join(lines, "\n")
}
