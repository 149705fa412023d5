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
	"fmt"
	"strings"
)

// StripCodeFences removes a surrounding markdown code fence from an LLM
// response, if present.
func StripCodeFences(response string) string {
	response = strings.TrimSpace(response)

	prefixes := []string{
		"```go", "```golang",
		"```json",
		"```yaml", "```yml",
		"```",
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(response, prefix) {
			response = strings.TrimPrefix(response, prefix)
			break
		}
	}

	if strings.HasSuffix(response, "```") {
		response = strings.TrimSuffix(response, "```")
	}

	return strings.TrimSpace(response)
}

// ExtractJSON returns the first complete JSON object or array embedded in
// response. Models often wrap JSON in prose or fences; this walks from the
// first opening bracket to its balanced close, skipping string literals.
func ExtractJSON(response string) (string, error) {
	response = StripCodeFences(response)

	start := -1
	for i, c := range response {
		if c == '{' || c == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("no JSON value in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
				if depth == 0 {
					return response[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON value in response")
}
