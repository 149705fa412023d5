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
	"encoding/json"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"
)

// fakeLanguageServer answers initialize and publishes one error diagnostic
// for every opened file whose text contains the marker "BUG", mirroring how
// a real server pushes findings per document.
func fakeLanguageServer(t *testing.T, mute bool) func(ctx context.Context, rootDir string) (io.ReadWriteCloser, error) {
	t.Helper()
	return func(ctx context.Context, rootDir string) (io.ReadWriteCloser, error) {
		clientEnd, serverEnd := net.Pipe()
		handler := jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
			switch req.Method {
			case "initialize":
				return lsp.InitializeResult{}, nil
			case "textDocument/didOpen":
				if mute {
					return nil, nil
				}
				var params lsp.DidOpenTextDocumentParams
				require.NoError(t, json.Unmarshal(*req.Params, &params))
				diags := []lsp.Diagnostic{}
				if idx := strings.Index(params.TextDocument.Text, "BUG"); idx >= 0 {
					diags = append(diags, lsp.Diagnostic{
						Range:    lsp.Range{Start: lsp.Position{Line: 2, Character: 0}},
						Severity: lsp.Error,
						Message:  "undefined: BUG",
					})
					diags = append(diags, lsp.Diagnostic{
						Range:    lsp.Range{Start: lsp.Position{Line: 3, Character: 0}},
						Severity: lsp.Warning,
						Message:  "unused variable",
					})
				}
				go func() {
					_ = conn.Notify(ctx, "textDocument/publishDiagnostics", lsp.PublishDiagnosticsParams{
						URI:         params.TextDocument.URI,
						Diagnostics: diags,
					})
				}()
				return nil, nil
			default:
				return nil, nil
			}
		})
		jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(serverEnd, jsonrpc2.VSCodeObjectCodec{}), handler)
		return clientEnd, nil
	}
}

func TestLSPChecker_MapsErrorDiagnostics(t *testing.T) {
	checker := &LSPChecker{
		Timeout: 5 * time.Second,
		Dial:    fakeLanguageServer(t, false),
	}
	files := Files{
		"go.mod":   testManifest,
		"main.go":  "package main\n\nfunc main() { BUG }\n",
		"logic.go": "package main\n",
	}
	diags, err := checker.Check(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, diags, 1, "warnings must be dropped")
	require.Equal(t, "main.go", diags[0].Path)
	require.Equal(t, KindType, diags[0].Kind)
	require.Equal(t, 3, diags[0].Line, "LSP lines are zero-based")
	require.Contains(t, diags[0].Message, "undefined")
}

func TestLSPChecker_TimeoutSurfacesAsError(t *testing.T) {
	checker := &LSPChecker{
		Timeout: 300 * time.Millisecond,
		Dial:    fakeLanguageServer(t, true),
	}
	files := Files{"main.go": "package main\n"}
	_, err := checker.Check(context.Background(), files)
	require.Error(t, err)
}

func TestValidator_WithLSPChecker(t *testing.T) {
	v := &Validator{Checker: &LSPChecker{
		Timeout: 5 * time.Second,
		Dial:    fakeLanguageServer(t, false),
	}}
	files := Files{
		"go.mod":  testManifest,
		"main.go": "package main\n\nfunc main() { BUG }\n",
	}
	got := v.Validate(context.Background(), files)
	require.Len(t, got, 1)
	require.Equal(t, KindType, got[0].Kind)
	require.Equal(t, "main.go", got[0].Path)
}

func TestValidator_CheckerTimeoutIsSingleFinding(t *testing.T) {
	v := &Validator{Checker: &LSPChecker{
		Timeout: 300 * time.Millisecond,
		Dial:    fakeLanguageServer(t, true),
	}}
	got := v.Validate(context.Background(), Files{"main.go": "package main\n"})
	require.Len(t, got, 1)
	require.Equal(t, KindType, got[0].Kind)
	require.Contains(t, got[0].Message, "type check unavailable")
}

func TestLSPChecker_NoCommandConfigured(t *testing.T) {
	checker := &LSPChecker{}
	_, err := checker.Check(context.Background(), Files{"main.go": "package main\n"})
	require.Error(t, err)
}
