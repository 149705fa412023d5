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

// Package store provides the session persistence backends: an in-memory
// store for tests and single-process runs, and a SQLite store for anything
// that must survive a restart. Both hand out isolated snapshots; callers
// never share a State value with the store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
	pkgerrors "github.com/pkg/errors"

	"github.com/forgeworks/forge/workflow"
)

// Memory keeps sessions as serialized snapshots guarded by a lock. The
// encode/decode round trip is what guarantees isolation.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{sessions: map[string][]byte{}}
}

func (m *Memory) Get(ctx context.Context, sessionID string) (*workflow.State, error) {
	m.mu.RLock()
	raw, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.WithMessage(workflow.ErrSessionNotFound, sessionID)
	}
	return decodeState(raw)
}

func (m *Memory) Create(ctx context.Context, st *workflow.State) error {
	raw, err := encodeState(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[st.SessionID]; ok {
		return pkgerrors.WithMessage(workflow.ErrSessionExists, st.SessionID)
	}
	m.sessions[st.SessionID] = raw
	return nil
}

// Replace is an upsert: the stored snapshot is whatever was written last.
func (m *Memory) Replace(ctx context.Context, st *workflow.State) error {
	raw, err := encodeState(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[st.SessionID] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func encodeState(st *workflow.State) ([]byte, error) {
	raw, err := sonic.Marshal(st)
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "encode session state")
	}
	return raw, nil
}

func decodeState(raw []byte) (*workflow.State, error) {
	var st workflow.State
	if err := sonic.Unmarshal(raw, &st); err != nil {
		return nil, pkgerrors.WithMessage(err, "decode session state")
	}
	return &st, nil
}
