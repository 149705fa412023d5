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
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"

	"github.com/forgeworks/forge/llm/log"
	"github.com/forgeworks/forge/llm/prompt"
	"github.com/forgeworks/forge/workflow"
)

var _ workflow.Oracle = (*ChatOracle)(nil)

// ChatOracle answers the engine's generation and review calls with one chat
// model. Code generation runs through a react agent with workspace file
// tools when a workspace directory is configured; everything else is a
// single direct call.
type ChatOracle struct {
	chat     Generator
	coder    Generator
	reviewer Generator
	// logicPreamble and reviewPreamble carry the system prompt when the
	// corresponding generator is a direct call; react agents bake it into
	// their message modifier instead.
	logicPreamble  string
	reviewPreamble string
}

type OracleOptions struct {
	Model ModelConfig
	// MaxSteps caps an agent's tool-calling loop, default: 12.
	MaxSteps int
	// WorkspaceDir is the root under which session workspaces are mirrored.
	// When set, the coder agent can list and read workspace files.
	WorkspaceDir string
	// LogicPrompt overrides the built-in system prompt for logic generation.
	LogicPrompt prompt.Prompt
	// AgentReview routes tool review through a react agent carrying the
	// MCPServers tools. Off by default, review is then a single call.
	AgentReview bool
	// MCPServers lists external MCP tool servers for the review agent.
	// Empty with AgentReview on attaches the sequential-thinking server.
	MCPServers []MCPConfig
}

func NewChatOracle(opts OracleOptions) (*ChatOracle, error) {
	model, err := NewChatModel(opts.Model)
	if err != nil {
		return nil, err
	}
	chat := NewDirectGenerator(model, opts.Model.Retries, opts.Model.Timeout)

	logicPrompt := opts.LogicPrompt
	if logicPrompt == nil {
		logicPrompt = prompt.NewTextPrompt(prompt.PromptGenerateLogic)
	}
	maxSteps := opts.MaxSteps
	if maxSteps == 0 {
		maxSteps = 12
	}

	var coder Generator = chat
	logicPreamble := logicPrompt.String() + "\n\n"
	if opts.WorkspaceDir != "" {
		tcfg := compose.ToolsNodeConfig{
			Tools: NewWorkspaceTools(opts.WorkspaceDir).GetTools(),
		}
		coder, err = NewReactAgent("coder", ReactAgentOptions{
			SysPrompt: logicPrompt,
			AgentConfig: &react.AgentConfig{
				ToolCallingModel: model,
				ToolsConfig:      tcfg,
				MaxStep:          maxSteps,
			},
			Retries: opts.Model.Retries,
			Timeout: opts.Model.Timeout,
		})
		if err != nil {
			return nil, err
		}
		logicPreamble = ""
	}

	var reviewer Generator = chat
	reviewPreamble := prompt.PromptReviewTools + "\n\n"
	if opts.AgentReview {
		servers := opts.MCPServers
		if len(servers) == 0 {
			servers = []MCPConfig{SequentialThinkingServer()}
		}
		var mcpTools []tool.BaseTool
		for _, cfg := range servers {
			cli, err := NewMCPClient(cfg)
			if err != nil {
				return nil, err
			}
			if err = cli.Start(context.Background()); err != nil {
				return nil, err
			}
			ts, err := cli.GetTools(context.Background())
			if err != nil {
				return nil, err
			}
			mcpTools = append(mcpTools, ts...)
		}
		reviewer, err = NewReactAgent("reviewer", ReactAgentOptions{
			SysPrompt: prompt.NewTextPrompt(prompt.PromptReviewTools),
			AgentConfig: &react.AgentConfig{
				ToolCallingModel: model,
				ToolsConfig:      compose.ToolsNodeConfig{Tools: mcpTools},
				MaxStep:          maxSteps,
			},
			Retries: opts.Model.Retries,
			Timeout: opts.Model.Timeout,
		})
		if err != nil {
			return nil, err
		}
		reviewPreamble = ""
	}

	return &ChatOracle{
		chat:           chat,
		coder:          coder,
		reviewer:       reviewer,
		logicPreamble:  logicPreamble,
		reviewPreamble: reviewPreamble,
	}, nil
}

type toolSpec struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

func (o *ChatOracle) GenerateTools(ctx context.Context, req workflow.ToolGenRequest) ([]workflow.Tool, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Requirements:\n%s\n", req.Requirements)
	if len(req.Existing) > 0 {
		fmt.Fprintf(&b, "\nTools the agent already carries (do not duplicate):\n%s", formatTools(req.Existing, false))
	}
	if len(req.Params) > 0 {
		fmt.Fprintf(&b, "\nSession parameters: %s\n", compactJSON(req.Params))
	}

	response, err := o.chat.Call(ctx, prompt.PromptGenerateTools+"\n\n"+b.String())
	if err != nil {
		return nil, err
	}

	js, err := ExtractJSON(response)
	if err != nil {
		return nil, fmt.Errorf("tool generation returned no JSON: %w", err)
	}
	var specs []toolSpec
	if err := sonic.UnmarshalString(js, &specs); err != nil {
		// Some models wrap the array in an envelope object.
		var envelope struct {
			Tools []toolSpec `json:"tools"`
		}
		if err2 := sonic.UnmarshalString(js, &envelope); err2 != nil || len(envelope.Tools) == 0 {
			return nil, fmt.Errorf("tool generation returned malformed JSON: %w", err)
		}
		specs = envelope.Tools
	}

	tools := make([]workflow.Tool, 0, len(specs))
	for _, s := range specs {
		tools = append(tools, workflow.Tool{
			Name:        s.Name,
			Kind:        workflow.ToolKind(s.Kind),
			Description: s.Description,
			Source:      StripCodeFences(s.Source),
		})
	}
	return tools, nil
}

func (o *ChatOracle) Clarify(ctx context.Context, req workflow.ClarifyRequest) (workflow.ClarifyResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n", req.Prompt)
	if len(req.Tools) > 0 {
		fmt.Fprintf(&b, "\nSelected tools:\n%s", formatTools(req.Tools, false))
	}
	for _, qa := range req.Exchanges {
		fmt.Fprintf(&b, "\nQ: %s\nA: %s\n", qa.Question, qa.Answer)
	}

	response, err := o.chat.Call(ctx, prompt.PromptClarify+"\n\n"+b.String())
	if err != nil {
		return workflow.ClarifyResult{}, err
	}

	var res workflow.ClarifyResult
	js, err := ExtractJSON(response)
	if err != nil {
		// A plain-text answer is treated as the final summary rather than
		// failing the stage.
		log.Warn("clarify answer was not JSON, using raw text as summary")
		return workflow.ClarifyResult{Summary: StripCodeFences(response)}, nil
	}
	var parsed struct {
		Questions []string `json:"questions"`
		Summary   string   `json:"summary"`
	}
	if err := sonic.UnmarshalString(js, &parsed); err != nil {
		log.Warn("clarify answer had malformed JSON, using raw text as summary: %v", err)
		return workflow.ClarifyResult{Summary: StripCodeFences(response)}, nil
	}
	for _, q := range parsed.Questions {
		if q = strings.TrimSpace(q); q != "" {
			res.Questions = append(res.Questions, q)
		}
	}
	res.Summary = strings.TrimSpace(parsed.Summary)
	return res, nil
}

func (o *ChatOracle) ReviewTools(ctx context.Context, req workflow.ReviewRequest) (*workflow.ToolChanges, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent:\n%s\n", req.Intent)
	fmt.Fprintf(&b, "\nSelected tools:\n%s", formatTools(req.Selected, false))
	fmt.Fprintf(&b, "\nAvailable registry tools:\n%s", formatTools(req.Available, false))

	response, err := o.reviewer.Call(ctx, o.reviewPreamble+b.String())
	if err != nil {
		return nil, err
	}

	js, err := ExtractJSON(response)
	if err != nil {
		log.Warn("tool review returned no JSON, keeping selection unchanged")
		return &workflow.ToolChanges{}, nil
	}
	var parsed struct {
		Add       []toolSpec `json:"add"`
		Remove    []string   `json:"remove"`
		Rationale string     `json:"rationale"`
	}
	if err := sonic.UnmarshalString(js, &parsed); err != nil {
		log.Warn("tool review returned malformed JSON, keeping selection unchanged: %v", err)
		return &workflow.ToolChanges{}, nil
	}

	changes := &workflow.ToolChanges{
		Remove:    parsed.Remove,
		Rationale: strings.TrimSpace(parsed.Rationale),
	}
	for _, s := range parsed.Add {
		changes.Add = append(changes.Add, workflow.Tool{
			Name:        s.Name,
			Kind:        workflow.ToolKind(s.Kind),
			Description: s.Description,
		})
	}
	return changes, nil
}

func (o *ChatOracle) GenerateLogic(ctx context.Context, req workflow.LogicRequest) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent:\n%s\n", req.Intent)
	if req.Intent == "" {
		fmt.Fprintf(&b, "Request:\n%s\n", req.Prompt)
	}
	for _, qa := range req.Clarifications {
		fmt.Fprintf(&b, "\nQ: %s\nA: %s\n", qa.Question, qa.Answer)
	}
	fmt.Fprintf(&b, "\nModule path: %s\n", req.ModulePath)
	fmt.Fprintf(&b, "\nTools:\n%s", formatTools(req.Tools, true))
	if req.PriorSource != "" {
		fmt.Fprintf(&b, "\nPrior logic.go (rejected):\n```go\n%s\n```\n", req.PriorSource)
		fmt.Fprintf(&b, "\nValidation findings to fix:\n%s\n", req.Findings)
	}

	response, err := o.coder.Call(ctx, o.logicPreamble+b.String())
	if err != nil {
		return "", err
	}

	code := StripCodeFences(response)
	// Models occasionally lead with prose despite instructions; cut to the
	// package clause when one is present.
	if idx := strings.Index(code, "package "); idx > 0 {
		code = code[idx:]
	}
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("logic generation returned empty response")
	}
	return code, nil
}

// formatTools renders a tool list for a prompt, one block per tool.
func formatTools(tools []workflow.Tool, withSource bool) string {
	if len(tools) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s (%s): %s\n", t.Name, t.Kind, t.Description)
		if withSource && t.Source != "" {
			fmt.Fprintf(&b, "```go\n%s\n```\n", t.Source)
		}
	}
	return b.String()
}

func compactJSON(v interface{}) string {
	js, err := sonic.MarshalString(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return js
}
