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

package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forgeworks/forge/workflow"
)

func TestImageRef(t *testing.T) {
	cases := []struct {
		registry string
		dir      string
		want     string
	}{
		{"", "/var/forge/workspaces/session-42", "session-42:latest"},
		{"", "/tmp/My Agent", "my-agent:latest"},
		{"registry.example.com/agents", "/ws/probe", "registry.example.com/agents/probe:latest"},
		{"registry.example.com/agents/", "/ws/probe", "registry.example.com/agents/probe:latest"},
	}
	for _, c := range cases {
		b := &Backend{Registry: c.registry}
		if got := b.imageRef(c.dir); got != c.want {
			t.Errorf("imageRef(%q, %q) = %q, want %q", c.registry, c.dir, got, c.want)
		}
	}
}

func TestRunUnknownAction(t *testing.T) {
	b := NewBackend("")
	_, err := b.Run(context.Background(), t.TempDir(), workflow.Action("destroy"))
	if err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Fatalf("expected unknown action error, got %v", err)
	}
}

func TestRunMapsActionsToCommands(t *testing.T) {
	// A shell stand-in echoes its arguments so the mapping is observable
	// without go or docker installed.
	dir := t.TempDir()
	fake := filepath.Join(dir, "bin")
	if err := os.MkdirAll(fake, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"go", "docker"} {
		script := "#!/bin/sh\necho \"$0 $@\"\n"
		if err := os.WriteFile(filepath.Join(fake, name), []byte(script), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("PATH", fake+string(os.PathListSeparator)+os.Getenv("PATH"))

	ws := filepath.Join(dir, "probe-agent")
	if err := os.MkdirAll(ws, 0o755); err != nil {
		t.Fatal(err)
	}
	b := NewBackend("")

	cases := []struct {
		action workflow.Action
		want   string
	}{
		{workflow.ActionCompile, "go build ./..."},
		{workflow.ActionBuild, "docker build -t probe-agent:latest ."},
		{workflow.ActionDeploy, "docker push probe-agent:latest"},
	}
	for _, c := range cases {
		res, err := b.Run(context.Background(), ws, c.action)
		if err != nil {
			t.Fatalf("%s: %v", c.action, err)
		}
		if res.Action != c.action {
			t.Errorf("%s: result action = %s", c.action, res.Action)
		}
		if !res.Success() {
			t.Errorf("%s: exit code = %d, output %q", c.action, res.ExitCode, res.Output)
		}
		if !strings.Contains(res.Output, c.want) {
			t.Errorf("%s: output %q, want it to contain %q", c.action, res.Output, c.want)
		}
	}
}

func TestWriteSecretCreatesAndUpserts(t *testing.T) {
	dir := t.TempDir()
	b := NewBackend("")

	if err := b.WriteSecret(dir, "API_KEY", "abc"); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	path := filepath.Join(dir, ".env")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read .env: %v", err)
	}
	if string(data) != "API_KEY=abc\n" {
		t.Errorf(".env = %q", data)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf(".env mode = %o, want 600", perm)
	}

	if err := b.WriteSecret(dir, "RPC_URL", "https://rpc.example.com"); err != nil {
		t.Fatalf("write second secret: %v", err)
	}
	if err := b.WriteSecret(dir, "API_KEY", "rotated"); err != nil {
		t.Fatalf("rotate secret: %v", err)
	}
	data, _ = os.ReadFile(path)
	want := "API_KEY=rotated\nRPC_URL=https://rpc.example.com\n"
	if string(data) != want {
		t.Errorf(".env after upsert = %q, want %q", data, want)
	}
}

func TestWriteSecretPreservesForeignLines(t *testing.T) {
	dir := t.TempDir()
	seed := "# agent credentials\nEXISTING=1\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}

	b := NewBackend("")
	if err := b.WriteSecret(dir, "TOKEN", "t0"); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, ".env"))
	want := "# agent credentials\nEXISTING=1\nTOKEN=t0\n"
	if string(data) != want {
		t.Errorf(".env = %q, want %q", data, want)
	}
}

func TestWriteSecretRejectsBadInput(t *testing.T) {
	b := NewBackend("")
	dir := t.TempDir()

	for _, key := range []string{"", "  ", "A=B", "MULTI\nLINE"} {
		if err := b.WriteSecret(dir, key, "v"); err == nil {
			t.Errorf("key %q accepted", key)
		}
	}
	if err := b.WriteSecret(dir, "KEY", "line1\nline2"); err == nil {
		t.Error("multi-line value accepted")
	}
}
