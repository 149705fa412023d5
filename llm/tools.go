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
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"

	abutil "github.com/forgeworks/forge/internal/utils"
)

const (
	ToolListFiles = "list_files"
	DescListFiles = "list all files of the agent workspace, as relative paths"
	ToolReadFile  = "read_file"
	DescReadFile  = "read the content of one workspace file by its relative path"
)

// WorkspaceTools gives the generation agent read access to a session
// workspace on disk. Secrets (.env) are never listed or readable.
type WorkspaceTools struct {
	root  string
	tools map[string]tool.InvokableTool
}

func NewWorkspaceTools(root string) *WorkspaceTools {
	ret := &WorkspaceTools{
		root:  root,
		tools: map[string]tool.InvokableTool{},
	}

	tt, err := utils.InferTool(ToolListFiles,
		DescListFiles,
		ret.ListFiles, utils.WithMarshalOutput(func(ctx context.Context, output interface{}) (string, error) {
			return abutil.MarshalJSONIndent(output)
		}))
	if err != nil {
		panic(err)
	}
	ret.tools[ToolListFiles] = tt

	tt, err = utils.InferTool(ToolReadFile,
		DescReadFile,
		ret.ReadFile, utils.WithMarshalOutput(func(ctx context.Context, output interface{}) (string, error) {
			return abutil.MarshalJSONIndent(output)
		}))
	if err != nil {
		panic(err)
	}
	ret.tools[ToolReadFile] = tt

	return ret
}

func (w *WorkspaceTools) GetTools() []tool.BaseTool {
	ret := make([]tool.BaseTool, 0, len(w.tools))
	for _, tt := range w.tools {
		ret = append(ret, tt)
	}
	return ret
}

type ListFilesReq struct{}

type ListFilesResp struct {
	Files []string `json:"files" jsonschema:"description=the relative paths of all workspace files"`
}

func (w *WorkspaceTools) ListFiles(ctx context.Context, req ListFilesReq) (*ListFilesResp, error) {
	ret := &ListFilesResp{}
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if hidden(rel) {
			return nil
		}
		ret.Files = append(ret.Files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

type ReadFileReq struct {
	Path string `json:"path" jsonschema:"description=the relative path of the file to read"`
}

type ReadFileResp struct {
	Path    string `json:"path" jsonschema:"description=the relative path of the file"`
	Content string `json:"content" jsonschema:"description=the file content"`
}

func (w *WorkspaceTools) ReadFile(ctx context.Context, req ReadFileReq) (*ReadFileResp, error) {
	rel := filepath.ToSlash(filepath.Clean(req.Path))
	if rel == "." || strings.HasPrefix(rel, "../") || filepath.IsAbs(rel) {
		return nil, fmt.Errorf("invalid path %q", req.Path)
	}
	if hidden(rel) {
		return nil, fmt.Errorf("file %q is not readable", req.Path)
	}
	data, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	return &ReadFileResp{Path: rel, Content: string(data)}, nil
}

// hidden reports whether a workspace path must stay invisible to the model.
func hidden(rel string) bool {
	base := filepath.Base(rel)
	return base == ".env" || strings.HasPrefix(base, ".env.")
}
