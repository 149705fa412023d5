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
	"os/exec"
	"strings"
	"testing"
	"time"
)

func shellRunner(timeout time.Duration) *Runner {
	return &Runner{
		Allowed: map[string]bool{"sh": true},
		Timeout: timeout,
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRejectsUnlistedCommand(t *testing.T) {
	r := &Runner{}
	_, err := r.Exec(context.Background(), t.TempDir(), "rm", "-rf", "anything")
	if err == nil || !strings.Contains(err.Error(), "not allowed") {
		t.Fatalf("expected whitelist rejection, got %v", err)
	}

	if _, err = r.Exec(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecCapturesOutputAndExitCode(t *testing.T) {
	requireShell(t)
	r := shellRunner(0)

	res, err := r.Exec(context.Background(), t.TempDir(), "sh", "-c", "echo hello; exit 3")
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Output, "hello") {
		t.Errorf("output %q does not contain command output", res.Output)
	}
	if res.TimedOut {
		t.Error("fast command reported as timed out")
	}
	if res.Duration <= 0 {
		t.Errorf("duration = %v, want > 0", res.Duration)
	}
}

func TestExecSuccess(t *testing.T) {
	requireShell(t)
	r := shellRunner(0)

	res, err := r.Exec(context.Background(), t.TempDir(), "sh", "-c", "pwd")
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
}

func TestExecRunsInDir(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	r := shellRunner(0)

	res, err := r.Exec(context.Background(), dir, "sh", "-c", "pwd")
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if !strings.Contains(res.Output, dir) {
		t.Errorf("pwd output %q, want workspace dir %s", res.Output, dir)
	}
}

func TestExecTimeout(t *testing.T) {
	requireShell(t)
	r := shellRunner(100 * time.Millisecond)

	res, err := r.Exec(context.Background(), t.TempDir(), "sh", "-c", "sleep 5")
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected TimedOut for a command exceeding the deadline")
	}
	if res.ExitCode == 0 {
		t.Errorf("exit code = 0 for killed command")
	}
}

func TestExecSpawnFailure(t *testing.T) {
	r := &Runner{Allowed: map[string]bool{"forge-no-such-binary": true}}
	_, err := r.Exec(context.Background(), t.TempDir(), "forge-no-such-binary")
	if err == nil {
		t.Fatal("expected spawn error for missing binary")
	}
}
