package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists audit events in an append-only SQLite table.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink creates a SQLite-backed sink and ensures the schema.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			agent_id TEXT,
			event_type TEXT NOT NULL,
			payload_json TEXT,
			error_text TEXT,
			recorded_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_events_run ON audit_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
	`)
	return err
}

// Record stores a single event.
func (s *SQLiteSink) Record(ctx context.Context, event Event) error {
	var payload string
	if len(event.Payload) > 0 {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			return err
		}
		payload = string(raw)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (run_id, agent_id, event_type, payload_json, error_text, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.AgentID,
		string(event.Type),
		payload,
		event.Error,
		event.Timestamp.UTC(),
	)
	return err
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	RunID string
	Type  EventType
	Limit int
}

// List returns recorded events in insertion order. The core never calls
// this; it exists for operators and tests.
func (s *SQLiteSink) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT run_id, agent_id, event_type, payload_json, error_text, recorded_at
		FROM audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.Type != "" {
		addFilter("event_type = ?", string(filter.Type))
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event       Event
			eventType   string
			payloadJSON string
			recorded    sql.NullTime
		)
		if err := rows.Scan(
			&event.RunID,
			&event.AgentID,
			&eventType,
			&payloadJSON,
			&event.Error,
			&recorded,
		); err != nil {
			return nil, err
		}
		event.Type = EventType(eventType)
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
				return nil, err
			}
		}
		if recorded.Valid {
			event.Timestamp = recorded.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
