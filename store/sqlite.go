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

package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"

	"github.com/forgeworks/forge/llm/log"
	"github.com/forgeworks/forge/workflow"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// schemaVersion is tracked in PRAGMA user_version. Bump it together with a
// new case in migrate.
const schemaVersion = 1

// SQLite persists sessions in a single-file database using the CGO-free
// ncruces driver. State snapshots are stored as JSON blobs, so schema
// churn in the state struct does not require table migrations.
type SQLite struct {
	conn *sql.DB
	path string
}

// NewSQLite opens (creating if needed) the database at path and brings the
// schema up to date.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, pkgerrors.Wrapf(err, "create database dir %s", dir)
		}
	}
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open database")
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, pkgerrors.Wrap(err, "ping database")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, pkgerrors.Wrap(err, pragma)
		}
	}
	if err := migrate(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Debug("session store opened at %s", path)
	return &SQLite{conn: conn, path: path}, nil
}

func migrate(conn *sql.DB) error {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return pkgerrors.Wrap(err, "read schema version")
	}
	if version >= schemaVersion {
		return nil
	}
	if version < 1 {
		_, err := conn.Exec(`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			state      BLOB NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`)
		if err != nil {
			return pkgerrors.Wrap(err, "create sessions table")
		}
	}
	if _, err := conn.Exec("PRAGMA user_version = 1"); err != nil {
		return pkgerrors.Wrap(err, "write schema version")
	}
	log.Info("session store migrated from schema %d to %d", version, schemaVersion)
	return nil
}

func (s *SQLite) Get(ctx context.Context, sessionID string) (*workflow.State, error) {
	var raw []byte
	err := s.conn.QueryRowContext(ctx, "SELECT state FROM sessions WHERE id = ?", sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.WithMessage(workflow.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "load session")
	}
	return decodeState(raw)
}

func (s *SQLite) Create(ctx context.Context, st *workflow.State) error {
	raw, err := encodeState(st)
	if err != nil {
		return err
	}
	res, err := s.conn.ExecContext(ctx,
		"INSERT INTO sessions (id, state) VALUES (?, ?) ON CONFLICT(id) DO NOTHING",
		st.SessionID, raw)
	if err != nil {
		return pkgerrors.Wrap(err, "create session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return pkgerrors.Wrap(err, "create session")
	}
	if n == 0 {
		return pkgerrors.WithMessage(workflow.ErrSessionExists, st.SessionID)
	}
	return nil
}

// Replace is an upsert; whatever is written last wins.
func (s *SQLite) Replace(ctx context.Context, st *workflow.State) error {
	raw, err := encodeState(st)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `INSERT INTO sessions (id, state) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		st.SessionID, raw)
	return pkgerrors.Wrap(err, "replace session")
}

func (s *SQLite) List(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT id FROM sessions ORDER BY id")
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list sessions")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, pkgerrors.Wrap(err, "list sessions")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}
