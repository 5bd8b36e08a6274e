// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"

	_ "modernc.org/sqlite"
)

const archiveTable = "runs"

// Archive persists terminal runs for post-mortem inspection. The scheduler
// saves each run once it reaches a terminal state and consults the archive
// when asked about a run it no longer holds live.
type Archive struct {
	db *sql.DB
}

// NewArchive creates a SQLite-backed archive and ensures the schema.
func NewArchive(db *sql.DB) (*Archive, error) {
	if db == nil {
		return nil, telerr.New(telerr.CodeConfiguration, "archive db is nil", nil)
	}
	if err := ensureArchiveSchema(db); err != nil {
		return nil, telerr.New(telerr.CodeConfiguration, "cannot create run archive schema", err)
	}
	return &Archive{db: db}, nil
}

func ensureArchiveSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + archiveTable + ` (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT,
			failure_detail TEXT,
			input TEXT,
			result TEXT,
			conversation_json BLOB NOT NULL,
			iteration_count INTEGER NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			completed_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_` + archiveTable + `_agent ON ` + archiveTable + `(agent_id);`,
		`CREATE INDEX IF NOT EXISTS idx_` + archiveTable + `_status ON ` + archiveTable + `(status);`,
		`CREATE INDEX IF NOT EXISTS idx_` + archiveTable + `_completed ON ` + archiveTable + `(completed_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save stores a terminal snapshot. Saving the same run twice overwrites,
// which keeps crash-recovery idempotent.
func (a *Archive) Save(ctx context.Context, snap Snapshot) error {
	if !snap.Status.Terminal() {
		return telerr.New(telerr.CodeInternal,
			"only terminal runs are archived", nil).
			WithContext("run_id", snap.ID).
			WithContext("status", string(snap.Status))
	}

	conversation, err := json.Marshal(snap.Conversation)
	if err != nil {
		return telerr.New(telerr.CodeInternal, "cannot encode conversation", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO `+archiveTable+`
		(id, agent_id, status, failure_reason, failure_detail, input, result,
		 conversation_json, iteration_count, input_tokens, output_tokens,
		 created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.ID,
		snap.AgentID,
		string(snap.Status),
		string(snap.FailureReason),
		snap.FailureDetail,
		snap.Input,
		snap.Result,
		conversation,
		snap.IterationCount,
		snap.Usage.InputTokens,
		snap.Usage.OutputTokens,
		unixOrZero(snap.CreatedAt),
		unixOrZero(snap.StartedAt),
		unixOrZero(snap.CompletedAt),
	)
	return err
}

// Get loads an archived run by id. Absent runs report a not-found
// configuration error so callers can distinguish them from storage failures.
func (a *Archive) Get(ctx context.Context, runID string) (Snapshot, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, agent_id, status, failure_reason, failure_detail, input,
		       result, conversation_json, iteration_count, input_tokens,
		       output_tokens, created_at, started_at, completed_at
		FROM `+archiveTable+` WHERE id = ?
	`, runID)
	return scanSnapshot(row)
}

// Recent returns the latest terminal runs, most recent first. Operators and
// the CLI use it; the core never reads the archive back.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, agent_id, status, failure_reason, failure_detail, input,
		       result, conversation_json, iteration_count, input_tokens,
		       output_tokens, created_at, started_at, completed_at
		FROM `+archiveTable+` ORDER BY completed_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var (
		snap         Snapshot
		status       string
		reason       string
		conversation []byte
		created      int64
		started      sql.NullInt64
		completed    sql.NullInt64
	)
	err := row.Scan(
		&snap.ID,
		&snap.AgentID,
		&status,
		&reason,
		&snap.FailureDetail,
		&snap.Input,
		&snap.Result,
		&conversation,
		&snap.IterationCount,
		&snap.Usage.InputTokens,
		&snap.Usage.OutputTokens,
		&created,
		&started,
		&completed,
	)
	if err == sql.ErrNoRows {
		return Snapshot{}, telerr.New(telerr.CodeInvalidRequest, "run not found in archive", nil)
	}
	if err != nil {
		return Snapshot{}, err
	}

	snap.Status = Status(status)
	snap.FailureReason = FailureReason(reason)
	if len(conversation) > 0 {
		if err := json.Unmarshal(conversation, &snap.Conversation); err != nil {
			return Snapshot{}, telerr.New(telerr.CodeInternal, "cannot decode archived conversation", err)
		}
	}
	if snap.Conversation == nil {
		snap.Conversation = []llm.Message{}
	}
	snap.CreatedAt = timeOrZero(created)
	if started.Valid {
		snap.StartedAt = timeOrZero(started.Int64)
	}
	if completed.Valid {
		snap.CompletedAt = timeOrZero(completed.Int64)
	}
	return snap, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeOrZero(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
