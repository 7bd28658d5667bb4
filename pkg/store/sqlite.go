package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 1

// Store manages the SQLite connection and schema.
type Store struct {
	db       *sql.DB
	writerID string
}

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	// Open the database
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	// Enable WAL mode (Write-Ahead Logging)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enforce foreign keys (good practice)
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db, writerID: "accfleet-d"}

	// Initialize schema
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	// Schema for the append-only events table.
	// Envelope fields are columns for querying; the payload stays a JSON blob.
	query := `
	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		schema_version INTEGER NOT NULL,
		ts_event DATETIME NOT NULL,
		ts_ingest DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

		-- Source metadata
		origin_kind TEXT,
		origin_id TEXT,
		writer_id TEXT,

		-- Dimensions
		account TEXT NOT NULL,
		class TEXT,

		-- Payload
		payload JSON NOT NULL
	);

	-- Index for replay by ingestion order
	CREATE INDEX IF NOT EXISTS idx_events_ts_ingest ON events(ts_ingest);

	-- Index for per-account history (common access pattern)
	CREATE INDEX IF NOT EXISTS idx_events_account ON events(account);

	CREATE TABLE IF NOT EXISTS leases (
		name TEXT PRIMARY KEY,
		holder_id TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS system_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// AppendEvent writes one event to the journal. A missing EventID,
// SchemaVersion, TsEvent or Source is filled in here so callers only
// supply what they know.
func (s *Store) AppendEvent(ctx context.Context, ev Event) (EventID, error) {
	if ev.EventID == "" {
		ev.EventID = newEventID()
	}
	if ev.SchemaVersion == 0 {
		ev.SchemaVersion = schemaVersion
	}
	now := time.Now().UTC()
	if ev.TsEvent.IsZero() {
		ev.TsEvent = now
	}
	ev.TsIngest = now
	if ev.Source.WriterID == "" {
		ev.Source.WriterID = s.writerID
	}
	if ev.Source.OriginKind == "" {
		ev.Source.OriginKind = "daemon"
	}
	if len(ev.Payload) == 0 {
		ev.Payload = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			event_id, event_type, schema_version, ts_event, ts_ingest,
			origin_kind, origin_id, writer_id, account, class, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(ev.EventID), string(ev.EventType), ev.SchemaVersion, ev.TsEvent, ev.TsIngest,
		ev.Source.OriginKind, ev.Source.OriginID, ev.Source.WriterID,
		ev.Account, ev.Class, string(ev.Payload))
	if err != nil {
		return "", fmt.Errorf("failed to append event: %w", err)
	}

	return ev.EventID, nil
}

// ReadRecentEvents returns the newest events in reverse ingestion order.
func (s *Store) ReadRecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.QueryEvents(ctx, EventFilter{Limit: limit})
}

// QueryEvents returns events matching the filter, newest first.
func (s *Store) QueryEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	query := `
		SELECT event_id, event_type, schema_version, ts_event, ts_ingest,
		       origin_kind, origin_id, writer_id, account, class, payload
		FROM events
	`
	var conds []string
	var args []any

	if !filter.From.IsZero() {
		conds = append(conds, "ts_ingest >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		conds = append(conds, "ts_ingest <= ?")
		args = append(args, filter.To.UTC())
	}
	if filter.Account != "" {
		conds = append(conds, "account = ?")
		args = append(args, filter.Account)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY ts_ingest DESC, event_id DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var id, eventType, payload string
		var class sql.NullString
		if err := rows.Scan(&id, &eventType, &ev.SchemaVersion, &ev.TsEvent, &ev.TsIngest,
			&ev.Source.OriginKind, &ev.Source.OriginID, &ev.Source.WriterID,
			&ev.Account, &class, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.EventID = EventID(id)
		ev.EventType = EventType(eventType)
		ev.Class = class.String
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event row iteration failed: %w", err)
	}

	return events, nil
}

// ReadCandidateEvents returns up to limit events ingested before the
// cutoff, oldest first. Used by the archive worker to batch events out
// of the journal in ingestion order.
func (s *Store) ReadCandidateEvents(ctx context.Context, before time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, event_type, schema_version, ts_event, ts_ingest,
		       origin_kind, origin_id, writer_id, account, class, payload
		FROM events
		WHERE ts_ingest < ?
		ORDER BY ts_ingest ASC, event_id ASC
		LIMIT ?
	`, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidate events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var id, eventType, payload string
		var class sql.NullString
		if err := rows.Scan(&id, &eventType, &ev.SchemaVersion, &ev.TsEvent, &ev.TsIngest,
			&ev.Source.OriginKind, &ev.Source.OriginID, &ev.Source.WriterID,
			&ev.Account, &class, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.EventID = EventID(id)
		ev.EventType = EventType(eventType)
		ev.Class = class.String
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event row iteration failed: %w", err)
	}

	return events, nil
}

// DeleteEvents removes the given events by id. Called by the archive
// worker only after the batch has been durably written to blob storage.
func (s *Store) DeleteEvents(ctx context.Context, ids []EventID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = string(id)
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE event_id IN ("+strings.Join(placeholders, ", ")+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows, nil
}

// PruneEvents deletes journal entries ingested before the cutoff and
// returns how many were removed. The journal is history, not state, so
// pruning never affects orchestration behavior.
func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE ts_ingest < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows, nil
}

// SetSystemState upserts one key in the daemon metadata table.
func (s *Store) SetSystemState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set system state %q: %w", key, err)
	}
	return nil
}

// GetSystemState reads one key from the daemon metadata table. A missing
// key returns "" with no error.
func (s *Store) GetSystemState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get system state %q: %w", key, err)
	}
	return value, nil
}

func newEventID() EventID {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in much worse trouble
		// than a duplicate event id; fall back to a timestamp.
		return EventID(fmt.Sprintf("evt_%d", time.Now().UnixNano()))
	}
	return EventID("evt_" + hex.EncodeToString(buf))
}
