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

package embedded

import (
	"embed"
)

//go:embed price_monitor/tool.yaml tx_executor/tool.yaml http_probe/tool.yaml notifier/tool.yaml
var FS embed.FS

// ToolPaths returns the definition path of every built-in platform tool.
func ToolPaths() []string {
	return []string{
		"price_monitor/tool.yaml",
		"tx_executor/tool.yaml",
		"http_probe/tool.yaml",
		"notifier/tool.yaml",
	}
}
