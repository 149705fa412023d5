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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncDir_WritesAndPrunes(t *testing.T) {
	root := t.TempDir()
	files := Files{
		"main.go":       "package main\n",
		"tools/tool.go": "package tools\n",
	}
	require.NoError(t, SyncDir(root, files))

	data, err := os.ReadFile(filepath.Join(root, "main.go"))
	require.NoError(t, err)
	require.Equal(t, "package main\n", string(data))
	_, err = os.Stat(filepath.Join(root, "tools", "tool.go"))
	require.NoError(t, err)

	delete(files, "tools/tool.go")
	files["main.go"] = "package main\n\nfunc main() {}\n"
	require.NoError(t, SyncDir(root, files))

	_, err = os.Stat(filepath.Join(root, "tools", "tool.go"))
	require.True(t, os.IsNotExist(err), "removed file should be pruned")
	data, err = os.ReadFile(filepath.Join(root, "main.go"))
	require.NoError(t, err)
	require.Equal(t, "package main\n\nfunc main() {}\n", string(data))
}

func TestSyncDir_LeavesForeignFilesAlone(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("KEY=v\n"), 0o600))

	require.NoError(t, SyncDir(root, Files{"main.go": "package main\n"}))
	require.NoError(t, SyncDir(root, Files{"logic.go": "package main\n"}))

	// .env was never in a snapshot, so pruning must not touch it
	_, err := os.Stat(filepath.Join(root, ".env"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "main.go"))
	require.True(t, os.IsNotExist(err))
}

func TestSyncDir_RejectsEscapingKey(t *testing.T) {
	root := t.TempDir()
	err := SyncDir(root, Files{"../escape.go": "package main\n"})
	require.Error(t, err)
}

func TestLoadDir_RoundTrip(t *testing.T) {
	root := t.TempDir()
	files := Files{
		"main.go":       "package main\n",
		"tools/tool.go": "package tools\n",
		"Dockerfile":    "FROM scratch\n",
	}
	require.NoError(t, SyncDir(root, files))

	loaded, err := LoadDir(root)
	require.NoError(t, err)
	require.Equal(t, files, loaded, "manifest must not appear in loaded snapshot")
}
