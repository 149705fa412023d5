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

// Package mcp exposes the session engine as an MCP tool server, one tool
// per engine operation, so any MCP client can drive agent assembly
// sessions over stdio.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/forgeworks/forge/workflow"
)

const (
	ToolStartSession = "start_session"
	DescStartSession = "start a new agent assembly session; returns the session state paused for tool selection"
	ToolGetSession   = "get_session"
	DescGetSession   = "get the current state of a session"
	ToolListSessions = "list_sessions"
	DescListSessions = "list all known session ids"

	ToolListRegistryTools = "list_registry_tools"
	DescListRegistryTools = "list the registry tools a session may select; omit session_id for the open catalog"

	ToolSubmitTools         = "submit_tools"
	DescSubmitTools         = "answer the tool-selection pause with the chosen registry tool names and/or inline tool definitions"
	ToolSubmitPrompt        = "submit_prompt"
	DescSubmitPrompt        = "answer the prompt pause with the agent's behavior description"
	ToolSubmitClarification = "submit_clarification"
	DescSubmitClarification = "answer the clarification pause, one answer per pending question, in order"
	ToolSubmitToolReview    = "submit_tool_review"
	DescSubmitToolReview    = "approve or reject the proposed tool changes at the tool-review pause, optionally with an edited change set"
	ToolSubmitCodeEdit      = "submit_code_edit"
	DescSubmitCodeEdit      = "apply workspace file edits at the code-review pause; null content deletes a file; set regenerate to re-run logic generation against the findings"

	ToolSubmitCustomToolRequirements = "submit_custom_tool_requirements"
	DescSubmitCustomToolRequirements = "answer the custom-tool pause with free-text requirements for tools to generate"

	ToolFinalizeSession = "finalize_session"
	DescFinalizeSession = "seal a reviewed session and register the agent; force bypasses outstanding validation findings"
	ToolRunAction       = "run_action"
	DescRunAction       = "run compile, build, or deploy against the session workspace"
	ToolWriteSecret     = "write_secret"
	DescWriteSecret     = "store a secret in the session workspace env file; the value never enters session state"
)

var (
	SchemaStartSession        = GetJSONSchema(StartSessionReq{})
	SchemaGetSession          = GetJSONSchema(SessionReq{})
	SchemaListSessions        = GetJSONSchema(ListSessionsReq{})
	SchemaListRegistryTools   = GetJSONSchema(ListRegistryToolsReq{})
	SchemaSubmitTools         = GetJSONSchema(SubmitToolsReq{})
	SchemaSubmitPrompt        = GetJSONSchema(SubmitPromptReq{})
	SchemaSubmitClarification = GetJSONSchema(SubmitClarificationReq{})
	SchemaSubmitToolReview    = GetJSONSchema(SubmitToolReviewReq{})
	SchemaSubmitCodeEdit      = GetJSONSchema(SubmitCodeEditReq{})
	SchemaFinalizeSession     = GetJSONSchema(FinalizeSessionReq{})
	SchemaRunAction           = GetJSONSchema(RunActionReq{})
	SchemaWriteSecret         = GetJSONSchema(WriteSecretReq{})

	SchemaSubmitCustomToolRequirements = GetJSONSchema(SubmitCustomToolRequirementsReq{})
)

type StartSessionReq struct {
	SessionID          string                 `json:"session_id,omitempty" jsonschema:"description=optional caller-chosen session id; generated when empty"`
	AgentName          string                 `json:"agent_name,omitempty" jsonschema:"description=human-readable agent name"`
	WantsCustomTools   bool                   `json:"wants_custom_tools,omitempty" jsonschema:"description=pause for custom tool requirements after tool selection"`
	SkipClarification  bool                   `json:"skip_clarification,omitempty" jsonschema:"description=skip the clarification loop"`
	PauseForToolReview bool                   `json:"pause_for_tool_review,omitempty" jsonschema:"description=pause for approval of proposed tool changes instead of auto-applying them"`
	Params             map[string]interface{} `json:"params,omitempty" jsonschema:"description=session parameters used to filter registry tool availability"`
}

func (r StartSessionReq) config() workflow.SessionConfig {
	return workflow.SessionConfig{
		AgentName:          r.AgentName,
		WantsCustomTools:   r.WantsCustomTools,
		SkipClarification:  r.SkipClarification,
		PauseForToolReview: r.PauseForToolReview,
		Params:             r.Params,
	}
}

type SessionReq struct {
	SessionID string `json:"session_id" jsonschema:"description=the session id"`
}

type ListSessionsReq struct{}

type ListSessionsResp struct {
	SessionIDs []string `json:"session_ids" jsonschema:"description=all known session ids"`
}

type ListRegistryToolsReq struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=optional session id whose params filter availability"`
}

type ListRegistryToolsResp struct {
	Tools []workflow.Tool `json:"tools" jsonschema:"description=selectable registry tools, metadata only"`
}

type SubmitToolsReq struct {
	SessionID string          `json:"session_id" jsonschema:"description=the session id"`
	Tools     []workflow.Tool `json:"tools" jsonschema:"description=registry tools by name (source omitted) and/or inline tools with a source body"`
}

type SubmitCustomToolRequirementsReq struct {
	SessionID    string `json:"session_id" jsonschema:"description=the session id"`
	Requirements string `json:"requirements" jsonschema:"description=free-text requirements for the tools to generate"`
}

type SubmitPromptReq struct {
	SessionID string `json:"session_id" jsonschema:"description=the session id"`
	Prompt    string `json:"prompt" jsonschema:"description=what the agent should watch and do"`
}

type SubmitClarificationReq struct {
	SessionID string   `json:"session_id" jsonschema:"description=the session id"`
	Answers   []string `json:"answers" jsonschema:"description=one answer per pending question, in order"`
}

type SubmitToolReviewReq struct {
	SessionID string                `json:"session_id" jsonschema:"description=the session id"`
	Approve   bool                  `json:"approve" jsonschema:"description=apply the proposed changes; false keeps the selection as is"`
	Edited    *workflow.ToolChanges `json:"edited,omitempty" jsonschema:"description=optional replacement change set applied instead of the proposal"`
}

type SubmitCodeEditReq struct {
	SessionID  string             `json:"session_id" jsonschema:"description=the session id"`
	Edits      map[string]*string `json:"edits" jsonschema:"description=workspace path to new content; null content deletes the file"`
	Regenerate bool               `json:"regenerate,omitempty" jsonschema:"description=re-run logic generation with the current findings after applying the edits"`
}

type FinalizeSessionReq struct {
	SessionID string `json:"session_id" jsonschema:"description=the session id"`
	Force     bool   `json:"force,omitempty" jsonschema:"description=finalize even with outstanding validation findings"`
}

type RunActionReq struct {
	SessionID string `json:"session_id" jsonschema:"description=the session id"`
	Action    string `json:"action" jsonschema:"description=one of compile, build, deploy"`
}

type WriteSecretReq struct {
	SessionID string `json:"session_id" jsonschema:"description=the session id"`
	Key       string `json:"key" jsonschema:"description=env var name, UPPER_SNAKE_CASE"`
	Value     string `json:"value" jsonschema:"description=the secret value"`
}

func engineTools(e *workflow.Engine) []Tool {
	return []Tool{
		NewTool(ToolStartSession, DescStartSession, SchemaStartSession,
			func(ctx context.Context, req StartSessionReq) (*workflow.State, error) {
				if req.SessionID != "" {
					return e.StartWithID(ctx, req.SessionID, req.config())
				}
				return e.Start(ctx, req.config())
			}),
		NewTool(ToolGetSession, DescGetSession, SchemaGetSession,
			func(ctx context.Context, req SessionReq) (*workflow.State, error) {
				return e.GetState(ctx, req.SessionID)
			}),
		NewTool(ToolListSessions, DescListSessions, SchemaListSessions,
			func(ctx context.Context, req ListSessionsReq) (*ListSessionsResp, error) {
				ids, err := e.Sessions(ctx)
				if err != nil {
					return nil, err
				}
				return &ListSessionsResp{SessionIDs: ids}, nil
			}),
		NewTool(ToolListRegistryTools, DescListRegistryTools, SchemaListRegistryTools,
			func(ctx context.Context, req ListRegistryToolsReq) (*ListRegistryToolsResp, error) {
				tools, err := e.AvailableTools(ctx, req.SessionID)
				if err != nil {
					return nil, err
				}
				return &ListRegistryToolsResp{Tools: tools}, nil
			}),
		NewTool(ToolSubmitTools, DescSubmitTools, SchemaSubmitTools,
			func(ctx context.Context, req SubmitToolsReq) (*workflow.State, error) {
				return e.SubmitTools(ctx, req.SessionID, req.Tools)
			}),
		NewTool(ToolSubmitCustomToolRequirements, DescSubmitCustomToolRequirements, SchemaSubmitCustomToolRequirements,
			func(ctx context.Context, req SubmitCustomToolRequirementsReq) (*workflow.State, error) {
				return e.SubmitCustomToolRequirements(ctx, req.SessionID, req.Requirements)
			}),
		NewTool(ToolSubmitPrompt, DescSubmitPrompt, SchemaSubmitPrompt,
			func(ctx context.Context, req SubmitPromptReq) (*workflow.State, error) {
				return e.SubmitPrompt(ctx, req.SessionID, req.Prompt)
			}),
		NewTool(ToolSubmitClarification, DescSubmitClarification, SchemaSubmitClarification,
			func(ctx context.Context, req SubmitClarificationReq) (*workflow.State, error) {
				return e.SubmitClarification(ctx, req.SessionID, req.Answers)
			}),
		NewTool(ToolSubmitToolReview, DescSubmitToolReview, SchemaSubmitToolReview,
			func(ctx context.Context, req SubmitToolReviewReq) (*workflow.State, error) {
				return e.SubmitToolReview(ctx, req.SessionID, req.Approve, req.Edited)
			}),
		NewTool(ToolSubmitCodeEdit, DescSubmitCodeEdit, SchemaSubmitCodeEdit,
			func(ctx context.Context, req SubmitCodeEditReq) (*workflow.State, error) {
				return e.SubmitCodeEdit(ctx, req.SessionID, req.Edits, req.Regenerate)
			}),
		NewTool(ToolFinalizeSession, DescFinalizeSession, SchemaFinalizeSession,
			func(ctx context.Context, req FinalizeSessionReq) (*workflow.State, error) {
				return e.Finalize(ctx, req.SessionID, req.Force)
			}),
		NewTool(ToolRunAction, DescRunAction, SchemaRunAction,
			func(ctx context.Context, req RunActionReq) (*workflow.RunResult, error) {
				res, err := e.RunAction(ctx, req.SessionID, workflow.Action(req.Action))
				if err != nil {
					return nil, err
				}
				return &res, nil
			}),
		NewTool(ToolWriteSecret, DescWriteSecret, SchemaWriteSecret,
			func(ctx context.Context, req WriteSecretReq) (*workflow.State, error) {
				return e.WriteSecret(ctx, req.SessionID, req.Key, req.Value)
			}),
	}
}

const sessionGuide = `Drive an agent assembly session through these tools:
1. start_session, then follow the pause_kind field of every returned state.
2. tool_selection: list_registry_tools for the catalog, then submit_tools with registry names.
3. custom_tool_requirements (only when requested at start): submit_custom_tool_requirements.
4. prompt: submit_prompt with what the agent should watch and do.
5. clarification_answers: submit_clarification until a summary is adopted.
6. tool_change_approval (only when requested at start): submit_tool_review.
7. code_edit: inspect validation_errors, submit_code_edit to fix or regenerate, then finalize_session.
run_action and write_secret sit outside the pipeline and work at any point.`

type ServerOptions struct {
	ServerName    string
	ServerVersion string
	Engine        *workflow.Engine
}

type Server struct {
	Server *server.MCPServer
}

func NewServer(opts ServerOptions) *Server {
	s := server.NewMCPServer(
		opts.ServerName,
		opts.ServerVersion,
		server.WithToolCapabilities(true),
		server.WithPromptCapabilities(true),
		server.WithLogging(),
	)
	for _, t := range engineTools(opts.Engine) {
		s.AddTool(t.Tool, t.Handler)
	}
	s.AddPrompt(
		mcp.NewPrompt("session_guide", mcp.WithPromptDescription("How to drive an agent assembly session")),
		func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{
				Description: "A prompt for driving agent assembly sessions",
				Messages: []mcp.PromptMessage{
					{
						Role: mcp.RoleUser,
						Content: mcp.TextContent{
							Type: "text",
							Text: sessionGuide,
						},
					},
				},
			}, nil
		},
	)
	return &Server{Server: s}
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.Server)
}
