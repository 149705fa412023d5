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

// Package deploy runs build and deployment commands against mirrored
// session workspaces.
package deploy

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"

	"github.com/forgeworks/forge/llm/log"
)

// DefaultAllowedCommands is the argv[0] whitelist applied when a Runner
// does not carry its own. Workspaces contain generated code; nothing else
// may be spawned on their behalf.
var DefaultAllowedCommands = map[string]bool{
	"go":     true,
	"docker": true,
}

// Runner executes a single whitelisted command in a workspace directory.
type Runner struct {
	// Allowed overrides DefaultAllowedCommands when non-nil.
	Allowed map[string]bool
	// Timeout bounds each command, default: 120s.
	Timeout time.Duration
	// Env entries are appended to the inherited environment.
	Env []string
}

// ExecutionResult is the observable outcome of one command.
type ExecutionResult struct {
	Output   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Exec runs argv in dir and captures its combined output. A non-zero exit
// is not an error; failing to spawn at all is.
func (r *Runner) Exec(ctx context.Context, dir string, argv ...string) (ExecutionResult, error) {
	if len(argv) == 0 {
		return ExecutionResult{}, errors.New("empty command")
	}
	allowed := r.Allowed
	if allowed == nil {
		allowed = DefaultAllowedCommands
	}
	if !allowed[argv[0]] {
		return ExecutionResult{}, errors.Errorf("command %q is not allowed", argv[0])
	}

	timeout := r.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), r.Env...)

	start := time.Now()
	output, err := cmd.CombinedOutput()
	res := ExecutionResult{
		Output:   string(output),
		Duration: time.Since(start),
		TimedOut: cctx.Err() == context.DeadlineExceeded,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else if res.TimedOut {
			// The process was killed before producing an exit status.
			res.ExitCode = -1
		} else {
			return res, errors.Wrapf(err, "run %s", argv[0])
		}
	}

	log.Debug("ran %v in %s: exit=%d timed_out=%v", argv, dir, res.ExitCode, res.TimedOut)
	return res, nil
}
