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
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/forgeworks/forge/llm/log"
	"github.com/forgeworks/forge/workspace"
)

// Options wires the engine's collaborators. Store, Oracle and Tools are
// required; the rest degrade gracefully when absent.
type Options struct {
	Store     Store
	Oracle    Oracle
	Tools     ToolSource
	Deployer  Deployer
	Registrar Registrar
	// Checker enables type-level validation. Nil limits the validator to
	// syntax and import findings.
	Checker workspace.TypeChecker
	// WorkspaceDir is the root under which session workspaces are
	// mirrored to disk. Empty disables mirroring.
	WorkspaceDir string
	// OracleTimeout bounds each oracle call; timeouts surface as
	// retryable stage errors.
	OracleTimeout    time.Duration
	MaxClarifyRounds int
}

const (
	defaultOracleTimeout    = 60 * time.Second
	defaultMaxClarifyRounds = 3
)

// Engine drives sessions through the stage graph. All mutation goes
// through run: load, clone, mutate the clone, advance, then swap the clone
// into the store. A failed stage persists only an audit record.
type Engine struct {
	store     Store
	oracle    Oracle
	tools     ToolSource
	deployer  Deployer
	registrar Registrar
	validator *workspace.Validator

	workDir          string
	oracleTimeout    time.Duration
	maxClarifyRounds int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, pkgerrors.New("workflow: store is required")
	}
	if opts.Oracle == nil {
		return nil, pkgerrors.New("workflow: oracle is required")
	}
	if opts.Tools == nil {
		return nil, pkgerrors.New("workflow: tool source is required")
	}
	if opts.WorkspaceDir != "" {
		if err := os.MkdirAll(opts.WorkspaceDir, 0o755); err != nil {
			return nil, pkgerrors.WithMessage(err, "create workspace dir")
		}
	}
	if opts.OracleTimeout <= 0 {
		opts.OracleTimeout = defaultOracleTimeout
	}
	if opts.MaxClarifyRounds <= 0 {
		opts.MaxClarifyRounds = defaultMaxClarifyRounds
	}
	return &Engine{
		store:            opts.Store,
		oracle:           opts.Oracle,
		tools:            opts.Tools,
		deployer:         opts.Deployer,
		registrar:        opts.Registrar,
		validator:        &workspace.Validator{Checker: opts.Checker},
		workDir:          opts.WorkspaceDir,
		oracleTimeout:    opts.OracleTimeout,
		maxClarifyRounds: opts.MaxClarifyRounds,
		locks:            map[string]*sync.Mutex{},
	}, nil
}

// sessionLock serializes operations per session; distinct sessions run in
// parallel.
func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sessionID] = l
	}
	return l
}

func (e *Engine) oracleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.oracleTimeout)
}

// advance walks the stage graph until the session parks, terminates, or a
// stage fails. Stage bodies never transition; the table does.
func (e *Engine) advance(ctx context.Context, st *State) error {
	for !st.AwaitingInput && !st.Finalized {
		entry, ok := stageTable[st.Stage]
		if !ok {
			return pkgerrors.Errorf("no stage entry for %q", st.Stage)
		}
		if err := entry.run(ctx, e, st); err != nil {
			return err
		}
		st.Record(st.Stage, RecordOK, "", nil)
		next, pause := entry.next(st)
		if pause != PauseNone {
			st.park(next, pause)
			return nil
		}
		if next == st.Stage {
			return nil
		}
		st.Stage = next
	}
	return nil
}

// errSkipCommit signals from an apply func that the current state already
// satisfies the operation; run returns it unchanged as success.
var errSkipCommit = pkgerrors.New("workflow: no commit needed")

// run is the single mutation path. apply validates and folds the input
// into the scratch clone; rejections leave the stored state untouched.
func (e *Engine) run(ctx context.Context, op, sessionID string, allowErrored bool, apply func(st *State) error) (*State, error) {
	l := e.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	cur, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cur.Errored && !allowErrored {
		return nil, pkgerrors.WithMessage(ErrSessionErrored, op)
	}

	scratch := cur.Clone()
	if apply != nil {
		if err := apply(scratch); err != nil {
			if pkgerrors.Is(err, errSkipCommit) {
				return cur, nil
			}
			return nil, err
		}
	}

	if err := e.advance(ctx, scratch); err != nil {
		e.recordFailure(ctx, cur, scratch.Stage, err)
		return nil, err
	}
	if err := scratch.checkInvariants(); err != nil {
		err = pkgerrors.WithMessage(err, "state invariant violated")
		e.recordFailure(ctx, cur, scratch.Stage, err)
		return nil, err
	}
	scratch.UpdatedAt = time.Now().UTC()
	if err := e.mirror(scratch); err != nil {
		err = Retryable(scratch.Stage, pkgerrors.WithMessage(err, "mirror workspace"))
		e.recordFailure(ctx, cur, scratch.Stage, err)
		return nil, err
	}
	if err := e.store.Replace(ctx, scratch); err != nil {
		return nil, pkgerrors.WithMessage(err, op)
	}
	log.Debug("session %s: %s committed at stage %s (pause=%s)", sessionID, op, scratch.Stage, scratch.PauseKind)
	return scratch, nil
}

// recordFailure persists an audit record of a failed stage on top of the
// pre-operation state, so the session stays resumable where it was. A
// non-retryable failure marks the session errored.
func (e *Engine) recordFailure(ctx context.Context, cur *State, stage Stage, cause error) {
	fail := cur.Clone()
	fail.Record(stage, RecordFailed, "", cause)
	fail.LastError = cause.Error()
	if !IsRetryable(cause) {
		fail.Errored = true
	}
	fail.UpdatedAt = time.Now().UTC()
	if err := e.store.Replace(ctx, fail); err != nil {
		log.Error("session %s: persisting failure record: %v", cur.SessionID, err)
	}
}

func (e *Engine) mirror(st *State) error {
	if st.WorkspaceRoot == "" {
		return nil
	}
	return workspace.SyncDir(st.WorkspaceRoot, st.Files)
}

// requirePause rejects input that does not match the session's pause
// point.
func requirePause(st *State, op string, kind PauseKind) error {
	if !st.AwaitingInput || st.PauseKind != kind {
		return &OutOfOrderError{Op: op, Stage: st.Stage, Expected: st.PauseKind}
	}
	return nil
}

const (
	opStart               = "start"
	opSubmitTools         = "submit_tools"
	opSubmitCustomTools   = "submit_custom_tool_requirements"
	opSubmitPrompt        = "submit_prompt"
	opSubmitClarification = "submit_clarification"
	opSubmitToolReview    = "submit_tool_review"
	opSubmitCodeEdit      = "submit_code_edit"
	opFinalize            = "finalize"
	opRunAction           = "run_action"
	opWriteSecret         = "write_secret"
)

// Start opens a session under a fresh id and runs it to the first pause.
func (e *Engine) Start(ctx context.Context, cfg SessionConfig) (*State, error) {
	return e.StartWithID(ctx, uuid.NewString(), cfg)
}

// StartWithID opens a session under a caller-chosen id. Reusing a live id
// fails with ErrSessionExists.
func (e *Engine) StartWithID(ctx context.Context, sessionID string, cfg SessionConfig) (*State, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, &BadInputError{Op: opStart, Reason: "empty session id"}
	}
	l := e.sessionLock(sessionID)
	l.Lock()
	st := NewState(sessionID, cfg)
	err := e.store.Create(ctx, st)
	l.Unlock()
	if err != nil {
		return nil, pkgerrors.WithMessage(err, opStart)
	}
	log.Info("session %s: started (agent %q)", sessionID, cfg.AgentName)
	return e.run(ctx, opStart, sessionID, false, nil)
}

// GetState returns an isolated snapshot of the session.
func (e *Engine) GetState(ctx context.Context, sessionID string) (*State, error) {
	return e.store.Get(ctx, sessionID)
}

// Sessions lists known session ids.
func (e *Engine) Sessions(ctx context.Context) ([]string, error) {
	return e.store.List(ctx)
}

// AvailableTools lists the registry tools a session may select, filtered
// by the session's params. An empty session id lists the open catalog.
func (e *Engine) AvailableTools(ctx context.Context, sessionID string) ([]Tool, error) {
	if sessionID == "" {
		return e.tools.ListAvailable(nil), nil
	}
	st, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.tools.ListAvailable(st.Config.Params), nil
}

// SubmitTools resolves the user's tool selection. Registry names are
// checked before any state changes; collisions are last-wins. An empty
// selection is valid and yields a logic-only agent.
func (e *Engine) SubmitTools(ctx context.Context, sessionID string, selections []Tool) (*State, error) {
	return e.run(ctx, opSubmitTools, sessionID, false, func(st *State) error {
		if err := requirePause(st, opSubmitTools, PauseTools); err != nil {
			return err
		}
		for _, t := range selections {
			name := NormalizeToolName(t.Name)
			if name == "" {
				return &BadInputError{Op: opSubmitTools, Reason: "tool with empty name"}
			}
			if t.Source == "" {
				if _, err := e.tools.GetSource(name); err != nil {
					return &BadInputError{Op: opSubmitTools, Reason: fmt.Sprintf("unknown tool %q", name)}
				}
			}
		}
		for _, t := range selections {
			st.UpsertSelected(t)
		}
		st.resume(StageTools)
		return nil
	})
}

// SubmitCustomToolRequirements hands free-text tool requirements to the
// oracle.
func (e *Engine) SubmitCustomToolRequirements(ctx context.Context, sessionID, requirements string) (*State, error) {
	return e.run(ctx, opSubmitCustomTools, sessionID, false, func(st *State) error {
		if err := requirePause(st, opSubmitCustomTools, PauseCustomTools); err != nil {
			return err
		}
		if strings.TrimSpace(requirements) == "" {
			return &BadInputError{Op: opSubmitCustomTools, Reason: "empty requirements"}
		}
		st.CustomToolRequirements = requirements
		st.resume(StageCustomTools)
		return nil
	})
}

// SubmitPrompt records the agent requirement and moves into intent
// clarification.
func (e *Engine) SubmitPrompt(ctx context.Context, sessionID, prompt string) (*State, error) {
	return e.run(ctx, opSubmitPrompt, sessionID, false, func(st *State) error {
		if err := requirePause(st, opSubmitPrompt, PausePrompt); err != nil {
			return err
		}
		if strings.TrimSpace(prompt) == "" {
			return &BadInputError{Op: opSubmitPrompt, Reason: "empty prompt"}
		}
		st.RequirementText = prompt
		st.resume(StagePrompt)
		return nil
	})
}

// SubmitClarification answers the pending questions, in order. The answer
// count must match the pending question count exactly.
func (e *Engine) SubmitClarification(ctx context.Context, sessionID string, answers []string) (*State, error) {
	return e.run(ctx, opSubmitClarification, sessionID, false, func(st *State) error {
		if err := requirePause(st, opSubmitClarification, PauseClarification); err != nil {
			return err
		}
		pending := pendingQuestions(st)
		if len(answers) != len(pending) {
			return &BadInputError{
				Op:     opSubmitClarification,
				Reason: fmt.Sprintf("expected %d answers, got %d", len(pending), len(answers)),
			}
		}
		for i, a := range answers {
			if strings.TrimSpace(a) == "" {
				return &BadInputError{Op: opSubmitClarification, Reason: fmt.Sprintf("answer %d is empty", i+1)}
			}
		}
		i := 0
		for j := range st.Clarifications {
			if st.Clarifications[j].Answer == "" {
				st.Clarifications[j].Answer = answers[i]
				i++
			}
		}
		st.resume(StageClarification)
		return nil
	})
}

// SubmitToolReview resolves a pending tool change approval. approve with a
// non-nil edited set applies the reviewer's version instead of the
// proposal; reject keeps the tool set as it was.
func (e *Engine) SubmitToolReview(ctx context.Context, sessionID string, approve bool, edited *ToolChanges) (*State, error) {
	return e.run(ctx, opSubmitToolReview, sessionID, false, func(st *State) error {
		if err := requirePause(st, opSubmitToolReview, PauseToolReview); err != nil {
			return err
		}
		if approve {
			ch := st.ProposedChanges
			if edited != nil {
				ch = edited
			}
			if ch == nil {
				ch = &ToolChanges{}
			}
			applied := e.applyToolChanges(st, *ch)
			st.ProposedChanges = &applied
		} else {
			st.Record(StageToolReview, RecordSkipped, "tool changes rejected by reviewer", nil)
		}
		st.ToolReviewDone = true
		st.resume(StageToolReview)
		return nil
	})
}

// SubmitCodeEdit applies review edits to the workspace; a nil content
// deletes the path and deleting an absent path is a no-op. Edits are
// re-validated before the session parks again. regenerate asks the oracle
// to rewrite the logic module against the current findings first.
func (e *Engine) SubmitCodeEdit(ctx context.Context, sessionID string, edits map[string]*string, regenerate bool) (*State, error) {
	return e.run(ctx, opSubmitCodeEdit, sessionID, false, func(st *State) error {
		if err := requirePause(st, opSubmitCodeEdit, PauseCodeReview); err != nil {
			return err
		}
		if len(edits) == 0 && !regenerate {
			return &BadInputError{Op: opSubmitCodeEdit, Reason: "no edits submitted"}
		}
		for p, content := range edits {
			if content == nil {
				continue
			}
			if _, err := workspace.NormalizePath(p); err != nil {
				return &BadInputError{Op: opSubmitCodeEdit, Reason: err.Error()}
			}
		}
		for p, content := range edits {
			if content == nil {
				st.Files.Remove(p)
				continue
			}
			if _, err := st.Files.Set(p, *content); err != nil {
				return &BadInputError{Op: opSubmitCodeEdit, Reason: err.Error()}
			}
		}
		if regenerate {
			st.resume(StageLogicGen)
		} else {
			st.resume(StageCodeReview)
		}
		return nil
	})
}

// Finalize seals the session. It requires a parked code review with no
// outstanding findings, is idempotent on an already-finalized session, and
// force bypasses both gates.
func (e *Engine) Finalize(ctx context.Context, sessionID string, force bool) (*State, error) {
	return e.run(ctx, opFinalize, sessionID, force, func(st *State) error {
		if st.Finalized {
			return errSkipCommit
		}
		if st.Errored && !force {
			return pkgerrors.WithMessage(ErrSessionErrored, opFinalize)
		}
		if !force {
			if err := requirePause(st, opFinalize, PauseCodeReview); err != nil {
				return err
			}
			if n := len(st.ValidationErrors); n > 0 {
				return &BadInputError{
					Op:     opFinalize,
					Reason: fmt.Sprintf("%d validation findings outstanding", n),
				}
			}
		}
		st.Errored = false
		st.LastError = ""
		st.resume(StageFinalize)
		return nil
	})
}

// RunAction executes a deployment surface command against the session's
// mirrored workspace. It sits outside the forward pipeline and may be
// triggered at any point; an early compile simply fails with the build
// output. The workspace state itself is never changed, only audited.
func (e *Engine) RunAction(ctx context.Context, sessionID string, action Action) (RunResult, error) {
	var res RunResult
	if e.deployer == nil {
		return res, pkgerrors.New("no deployment backend configured")
	}
	_, err := e.run(ctx, opRunAction, sessionID, false, func(st *State) error {
		if st.WorkspaceRoot == "" {
			return &BadInputError{Op: opRunAction, Reason: "session has no workspace mirror"}
		}
		var rerr error
		res, rerr = e.deployer.Run(ctx, st.WorkspaceRoot, action)
		if rerr != nil {
			return Retryable(st.Stage, rerr)
		}
		status := RecordOK
		if !res.Success() {
			status = RecordFailed
		}
		st.Record(st.Stage, status, fmt.Sprintf("%s: exit=%d timed_out=%v", action, res.ExitCode, res.TimedOut), nil)
		if res.TimedOut {
			return Retryable(st.Stage, fmt.Errorf("%s timed out after %s", action, res.Duration))
		}
		return nil
	})
	return res, err
}

var secretKeyRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// WriteSecret upserts one key into the mirrored workspace's env file. The
// value never enters the session state or the logs.
func (e *Engine) WriteSecret(ctx context.Context, sessionID, key, value string) (*State, error) {
	if e.deployer == nil {
		return nil, pkgerrors.New("no deployment backend configured")
	}
	return e.run(ctx, opWriteSecret, sessionID, false, func(st *State) error {
		if !secretKeyRe.MatchString(key) {
			return &BadInputError{Op: opWriteSecret, Reason: fmt.Sprintf("invalid secret key %q", key)}
		}
		if st.WorkspaceRoot == "" {
			return &BadInputError{Op: opWriteSecret, Reason: "session has no workspace mirror"}
		}
		if err := e.deployer.WriteSecret(st.WorkspaceRoot, key, value); err != nil {
			return Retryable(st.Stage, err)
		}
		st.Record(st.Stage, RecordOK, "secret "+key+" written", nil)
		return nil
	})
}
