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
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/forgeworks/forge/llm/log"
)

var _ Generator = (*DirectGenerator)(nil)

// DirectGenerator calls the chat model with a single user message and no
// tools. It carries the same retry policy as ReactAgent.
type DirectGenerator struct {
	model   ChatModel
	retries int
	timeout time.Duration
}

func NewDirectGenerator(m ChatModel, retries int, timeout time.Duration) *DirectGenerator {
	if retries == 0 {
		retries = 3
	}
	if timeout == 0 {
		timeout = 600 * time.Second
	}
	return &DirectGenerator{model: m, retries: retries, timeout: timeout}
}

func (g *DirectGenerator) Call(ctx context.Context, input string) (string, error) {
	messages := []*schema.Message{
		schema.UserMessage(input),
	}

	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			log.Info("Retrying LLM call (attempt %d/%d)...", attempt+1, g.retries+1)
			time.Sleep(backoff(attempt))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		response, err := g.model.Generate(attemptCtx, messages)
		cancel()
		if err == nil {
			if response == nil {
				return "", fmt.Errorf("LLM returned nil response")
			}
			return response.Content, nil
		}

		lastErr = err
		if !transientError(err) {
			log.Error("Non-retryable error occurred: %v", err)
			return "", fmt.Errorf("LLM Generate failed: %w", err)
		}
		log.Info("Retryable error occurred (attempt %d/%d): %v", attempt+1, g.retries+1, err)
	}

	return "", fmt.Errorf("LLM Generate failed after %d retries: %w", g.retries+1, lastErr)
}
