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
	"time"
)

// Store persists session state keyed by session id. Replace is
// last-state-wins; concurrency control lives in the engine, not here.
type Store interface {
	Get(ctx context.Context, sessionID string) (*State, error)
	Create(ctx context.Context, st *State) error
	Replace(ctx context.Context, st *State) error
	List(ctx context.Context) ([]string, error)
}

// ToolGenRequest asks the oracle to synthesize tool modules from free-text
// requirements.
type ToolGenRequest struct {
	Requirements string
	Existing     []Tool
	ModulePath   string
	Params       map[string]interface{}
}

// ClarifyRequest asks the oracle to probe the user's intent.
type ClarifyRequest struct {
	Prompt    string
	Exchanges []QA
	Tools     []Tool
}

// ClarifyResult carries follow-up questions, or a distilled intent summary
// once the oracle considers the requirement clear.
type ClarifyResult struct {
	Questions []string
	Summary   string
}

// ReviewRequest asks the oracle to adjust the tool set against the
// clarified intent.
type ReviewRequest struct {
	Intent    string
	Selected  []Tool
	Available []Tool
}

// LogicRequest asks the oracle for the agent's orchestration module.
type LogicRequest struct {
	Intent         string
	Prompt         string
	Clarifications []QA
	Tools          []Tool
	ModulePath     string
	// PriorSource and Findings are set on regeneration after a failed
	// validation round.
	PriorSource string
	Findings    string
}

// Oracle is the LLM collaborator. Implementations bound their own call
// timeouts; the engine converts failures into retryable stage errors.
type Oracle interface {
	GenerateTools(ctx context.Context, req ToolGenRequest) ([]Tool, error)
	Clarify(ctx context.Context, req ClarifyRequest) (ClarifyResult, error)
	ReviewTools(ctx context.Context, req ReviewRequest) (*ToolChanges, error)
	GenerateLogic(ctx context.Context, req LogicRequest) (string, error)
}

// ToolSource is the platform tool registry view the engine needs.
type ToolSource interface {
	// GetSource returns a registered tool with its Go source attached,
	// looked up by normalized name.
	GetSource(name string) (Tool, error)
	// ListAvailable returns tool metadata (no source) filtered by the
	// session params.
	ListAvailable(params map[string]interface{}) []Tool
}

// Action names a deployment surface command.
type Action string

const (
	ActionCompile Action = "compile"
	ActionBuild   Action = "build"
	ActionDeploy  Action = "deploy"
)

// RunResult is the outcome of one deployment surface command.
type RunResult struct {
	Action   Action        `json:"action"`
	Output   string        `json:"output"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

func (r RunResult) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Deployer runs build and deploy commands against a mirrored workspace and
// manages its secrets file.
type Deployer interface {
	Run(ctx context.Context, dir string, action Action) (RunResult, error)
	WriteSecret(dir, key, value string) error
}

// Manifest describes a finalized agent for the platform catalog.
type Manifest struct {
	SessionID     string    `json:"session_id"`
	AgentName     string    `json:"agent_name,omitempty"`
	ModulePath    string    `json:"module_path"`
	Tools         []Tool    `json:"tools,omitempty"`
	WorkspaceRoot string    `json:"workspace_root,omitempty"`
	FinalizedAt   time.Time `json:"finalized_at"`
}

// Registrar records finalized agents. Finalize is idempotent, so Register
// must tolerate re-registration of the same session.
type Registrar interface {
	Register(ctx context.Context, m Manifest) error
}
