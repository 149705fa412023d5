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
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/forgeworks/forge/internal/utils"
	"github.com/forgeworks/forge/llm/log"
	"github.com/forgeworks/forge/workflow"
)

var _ workflow.Deployer = (*Backend)(nil)

var digestPattern = regexp.MustCompile(`sha256:[0-9a-f]{64}`)

// Backend maps engine actions onto local go and docker commands.
type Backend struct {
	Runner *Runner
	// Registry prefixes image references on build and deploy,
	// e.g. "registry.example.com/agents". Empty keeps images local.
	Registry string
}

// NewBackend returns a Backend with a default Runner.
func NewBackend(registry string) *Backend {
	return &Backend{Runner: &Runner{}, Registry: registry}
}

// Run executes one deployment surface action inside dir.
func (b *Backend) Run(ctx context.Context, dir string, action workflow.Action) (workflow.RunResult, error) {
	var argv []string
	switch action {
	case workflow.ActionCompile:
		argv = []string{"go", "build", "./..."}
	case workflow.ActionBuild:
		argv = []string{"docker", "build", "-t", b.imageRef(dir), "."}
	case workflow.ActionDeploy:
		argv = []string{"docker", "push", b.imageRef(dir)}
	default:
		return workflow.RunResult{}, errors.Errorf("unknown action %q", action)
	}

	res, err := b.Runner.Exec(ctx, dir, argv...)
	if err != nil {
		return workflow.RunResult{Action: action}, err
	}
	out := workflow.RunResult{
		Action:   action,
		Output:   res.Output,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
		TimedOut: res.TimedOut,
	}
	if action == workflow.ActionDeploy && out.Success() {
		if digest := digestPattern.FindString(res.Output); digest != "" {
			log.Info("pushed %s (%s)", b.imageRef(dir), digest)
		}
	}
	return out, nil
}

// imageRef derives a stable image reference from the workspace directory.
func (b *Backend) imageRef(dir string) string {
	name := strings.ToLower(filepath.Base(filepath.Clean(dir)))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, name)
	ref := name + ":latest"
	if b.Registry != "" {
		ref = strings.TrimSuffix(b.Registry, "/") + "/" + ref
	}
	return ref
}

// WriteSecret upserts KEY=value into the workspace .env file. Other lines
// are preserved; the file stays out of session state and is written 0600.
func (b *Backend) WriteSecret(dir, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, "=\n") {
		return errors.Errorf("invalid secret key %q", key)
	}
	if strings.ContainsRune(value, '\n') {
		return errors.New("secret value must be a single line")
	}

	path := filepath.Join(dir, ".env")
	var lines []string
	if data, err := os.ReadFile(path); err == nil {
		if trimmed := strings.TrimRight(string(data), "\n"); trimmed != "" {
			lines = strings.Split(trimmed, "\n")
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "read %s", path)
	}

	entry := key + "=" + value
	replaced := false
	for i, line := range lines {
		if strings.HasPrefix(line, key+"=") {
			lines[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, entry)
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := utils.WriteFileAtomic(path, []byte(content), 0o600); err != nil {
		return err
	}
	log.Info("stored secret %s for %s", key, dir)
	return nil
}
