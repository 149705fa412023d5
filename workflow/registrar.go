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

package workflow

import (
	"context"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"

	"github.com/forgeworks/forge/internal/utils"
)

// FileRegistrar records finalized agents as one manifest file per session
// under Dir. Re-registering a session overwrites its manifest, which keeps
// finalize idempotent.
type FileRegistrar struct {
	Dir string
}

func (r *FileRegistrar) Register(ctx context.Context, m Manifest) error {
	if r.Dir == "" {
		return pkgerrors.New("registrar: no directory configured")
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return pkgerrors.WithMessage(err, "registrar")
	}
	data, err := utils.MarshalJSONIndent(m)
	if err != nil {
		return pkgerrors.WithMessage(err, "registrar: encode manifest")
	}
	name := filepath.Join(r.Dir, m.SessionID+".json")
	return utils.WriteFileAtomic(name, []byte(data), 0o644)
}
