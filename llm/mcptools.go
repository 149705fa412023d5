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
	"errors"
	"fmt"

	emcp "github.com/cloudwego/eino-ext/components/tool/mcp"
	"github.com/cloudwego/eino/components/tool"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPType selects the transport for an external MCP tool server.
type MCPType string

const (
	MCPTypeStdio MCPType = "stdio"
	MCPTypeSSE   MCPType = "sse"
)

// MCPConfig describes one external MCP tool server.
type MCPConfig struct {
	Type    MCPType
	Command string
	Args    []string
	Envs    []string
	SSEURL  string
}

// MCPClient connects to an external MCP server and exposes its tools to
// an agent.
type MCPClient struct {
	cli *client.Client
}

func NewMCPClient(opts MCPConfig) (*MCPClient, error) {
	var cli *client.Client
	var err error
	switch opts.Type {
	case MCPTypeStdio:
		if opts.Command == "" {
			return nil, errors.New("command is empty")
		}
		cli, err = client.NewStdioMCPClient(opts.Command, opts.Envs, opts.Args...)
	case MCPTypeSSE:
		if opts.SSEURL == "" {
			return nil, errors.New("sse url is empty")
		}
		cli, err = client.NewSSEMCPClient(opts.SSEURL)
	default:
		return nil, fmt.Errorf("unsupported mcp type %q", opts.Type)
	}
	if err != nil {
		return nil, err
	}
	return &MCPClient{cli: cli}, nil
}

func (c *MCPClient) Start(ctx context.Context) error {
	if err := c.cli.Start(ctx); err != nil {
		return err
	}
	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "forge",
		Version: "1.0.0",
	}
	_, err := c.cli.Initialize(ctx, initRequest)
	return err
}

func (c *MCPClient) GetTools(ctx context.Context) ([]tool.BaseTool, error) {
	return emcp.GetTools(ctx, &emcp.Config{Cli: c.cli})
}

// SequentialThinkingServer is the default reviewer attachment, a structured
// reasoning server run over stdio.
func SequentialThinkingServer() MCPConfig {
	return MCPConfig{
		Type:    MCPTypeStdio,
		Command: "npx",
		Args:    []string{"-y", "@modelcontextprotocol/server-sequential-thinking"},
	}
}
