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
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/forgeworks/forge/llm/log"
)

const defaultCheckTimeout = 30 * time.Second

// LSPChecker runs the full static check by driving a language server over
// stdio: mirror the snapshot into a temp dir, initialize, open every Go
// file and collect publishDiagnostics. The server must publish diagnostics
// for every opened file (gopls does); the whole exchange is bounded by
// Timeout and a deadline hit surfaces as an error, never a hang.
type LSPChecker struct {
	// Command launches the language server, e.g. {"gopls", "serve"}.
	Command []string
	Timeout time.Duration
	// Dial overrides process spawning. Tests connect a fake server here.
	Dial func(ctx context.Context, rootDir string) (io.ReadWriteCloser, error)
}

func (c *LSPChecker) Check(ctx context.Context, files Files) ([]ValidationError, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "forge-typecheck-")
	if err != nil {
		return nil, errors.Wrap(err, "create check mirror")
	}
	defer os.RemoveAll(dir)
	if err := WriteTree(dir, files); err != nil {
		return nil, errors.Wrap(err, "populate check mirror")
	}

	stream, err := c.dial(ctx, dir)
	if err != nil {
		return nil, err
	}

	collector := newDiagCollector(dir)
	conn := jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(stream, jsonrpc2.VSCodeObjectCodec{}), collector)
	defer conn.Close()

	rootURI := lsp.DocumentURI("file://" + filepath.ToSlash(dir))
	var initRes lsp.InitializeResult
	if err := conn.Call(ctx, "initialize", lsp.InitializeParams{
		RootURI:      rootURI,
		Capabilities: lsp.ClientCapabilities{},
	}, &initRes); err != nil {
		return nil, errors.Wrap(err, "initialize language server")
	}
	if err := conn.Notify(ctx, "initialized", struct{}{}); err != nil {
		return nil, errors.Wrap(err, "initialized notification")
	}

	goFiles := sortedGoFiles(files)
	for _, p := range goFiles {
		params := lsp.DidOpenTextDocumentParams{
			TextDocument: lsp.TextDocumentItem{
				URI:        lsp.DocumentURI("file://" + filepath.ToSlash(filepath.Join(dir, filepath.FromSlash(p)))),
				LanguageID: "go",
				Version:    1,
				Text:       files[p],
			},
		}
		if err := conn.Notify(ctx, "textDocument/didOpen", params); err != nil {
			return nil, errors.Wrapf(err, "open %s", p)
		}
	}

	if err := collector.wait(ctx, len(goFiles)); err != nil {
		return nil, errors.Wrap(err, "await diagnostics")
	}

	c.hangup(conn)
	return collector.findings(), nil
}

func (c *LSPChecker) dial(ctx context.Context, dir string) (io.ReadWriteCloser, error) {
	if c.Dial != nil {
		return c.Dial(ctx, dir)
	}
	if len(c.Command) == 0 {
		return nil, errors.New("no language server command configured")
	}
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Dir = dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdout pipe")
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start %s", c.Command[0])
	}
	return &procStream{stdin: stdin, stdout: stdout, cmd: cmd}, nil
}

// hangup performs the shutdown/exit handshake with a short grace budget so
// a wedged server cannot stall the caller.
func (c *LSPChecker) hangup(conn *jsonrpc2.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Call(ctx, "shutdown", nil, nil); err != nil {
		log.Debug("language server shutdown: %v", err)
		return
	}
	_ = conn.Notify(ctx, "exit", nil)
}

type procStream struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	cmd    *exec.Cmd
}

func (s *procStream) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *procStream) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *procStream) Close() error {
	_ = s.stdin.Close()
	_ = s.stdout.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	return nil
}

// diagCollector is the jsonrpc2 handler side of the client: it records the
// latest publishDiagnostics per file and ignores everything else.
type diagCollector struct {
	root   string
	mu     sync.Mutex
	byFile map[string][]lsp.Diagnostic
	notify chan struct{}
}

func newDiagCollector(root string) *diagCollector {
	return &diagCollector{
		root:   root,
		byFile: map[string][]lsp.Diagnostic{},
		notify: make(chan struct{}, 1),
	}
}

func (d *diagCollector) Handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Method != "textDocument/publishDiagnostics" || req.Params == nil {
		return
	}
	var params lsp.PublishDiagnosticsParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		log.Warn("malformed publishDiagnostics: %v", err)
		return
	}
	rel, ok := d.relPath(params.URI)
	if !ok {
		return
	}
	d.mu.Lock()
	d.byFile[rel] = params.Diagnostics
	d.mu.Unlock()
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *diagCollector) relPath(uri lsp.DocumentURI) (string, bool) {
	p := strings.TrimPrefix(string(uri), "file://")
	rel, err := filepath.Rel(d.root, filepath.FromSlash(p))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// wait blocks until diagnostics arrived for want files or ctx expires.
func (d *diagCollector) wait(ctx context.Context, want int) error {
	for {
		d.mu.Lock()
		got := len(d.byFile)
		d.mu.Unlock()
		if got >= want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.notify:
		}
	}
}

func (d *diagCollector) findings() []ValidationError {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []ValidationError
	for rel, diags := range d.byFile {
		for _, diag := range diags {
			if diag.Severity != 0 && diag.Severity != lsp.Error {
				continue
			}
			out = append(out, ValidationError{
				Path:    rel,
				Kind:    KindType,
				Message: diag.Message,
				Line:    diag.Range.Start.Line + 1,
			})
		}
	}
	sortFindings(out)
	return out
}
