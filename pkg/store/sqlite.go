package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/verdantlabs/agritrace/pkg/trace"

	_ "modernc.org/sqlite"
)

// storedTimeLayout is fixed-width so the TEXT timestamp columns compare
// chronologically. RFC3339Nano trims trailing fractional zeros, which
// breaks lexicographic ordering when one fraction is a prefix of another.
// Matches the to_char pattern the Postgres store reads back with.
const storedTimeLayout = "2006-01-02T15:04:05.000000Z"

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

// SQLiteStore implements NodeStore and EventStore on a single SQLite
// database. Events live in an insert-only table ordered by an
// autoincrement sequence so chain order survives identical timestamps.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database handle and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handles returns the store bundled as injectable handles.
func (s *SQLiteStore) Handles() Store {
	return Store{Nodes: s, Events: s}
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			node_type TEXT NOT NULL,
			creation_time TEXT NOT NULL,
			status TEXT NOT NULL,
			linked_vtis JSON NOT NULL DEFAULT '[]',
			metadata JSON NOT NULL DEFAULT '{}',
			is_public_traceable INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			node_ref TEXT NOT NULL DEFAULT '',
			field_ref TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,
			event_type TEXT NOT NULL,
			actor_ref TEXT NOT NULL DEFAULT '',
			geo_lat REAL,
			geo_lng REAL,
			payload JSON,
			is_public_traceable INTEGER NOT NULL DEFAULT 0,
			payload_hash TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			entry_hash TEXT NOT NULL,
			chain_key TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_node ON events(node_ref) WHERE node_ref != '';`,
		`CREATE INDEX IF NOT EXISTS idx_events_field ON events(field_ref) WHERE field_ref != '';`,
		`CREATE INDEX IF NOT EXISTS idx_events_chain ON events(chain_key, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateNode(ctx context.Context, n *trace.Node) error {
	linked, err := json.Marshal(n.LinkedVTIs)
	if err != nil {
		return fmt.Errorf("marshal linked_vtis: %w", err)
	}
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, node_type, creation_time, status, linked_vtis, metadata, is_public_traceable)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Type, formatStoredTime(n.CreationTime), string(n.Status),
		string(linked), string(meta), boolToInt(n.IsPublicTraceable),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*trace.Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, node_type, creation_time, status, linked_vtis, metadata, is_public_traceable
		FROM nodes WHERE id = ?`, id)
	return scanNode(row)
}

func (s *SQLiteStore) PatchNodeMetadata(ctx context.Context, id string, mutate func(*trace.Metadata)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin patch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var metaJSON string
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM nodes WHERE id = ?`, id).Scan(&metaJSON)
	if err == sql.ErrNoRows {
		return ErrNodeNotFound
	}
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}

	var meta trace.Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	mutate(&meta)
	updated, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE nodes SET metadata = ? WHERE id = ?`, string(updated), id); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetNodeStatus(ctx context.Context, id string, status trace.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE nodes SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNodeNotFound
	}
	return nil
}

const eventColumns = `event_id, node_ref, field_ref, timestamp, event_type, actor_ref,
	geo_lat, geo_lng, payload, is_public_traceable, payload_hash, prev_hash, entry_hash`

func (s *SQLiteStore) AppendEvent(ctx context.Context, e *trace.Event) error {
	var lat, lng any
	if e.Geo != nil {
		lat, lng = e.Geo.Lat, e.Geo.Lng
	}
	var payload any
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, node_ref, field_ref, timestamp, event_type, actor_ref,
			geo_lat, geo_lng, payload, is_public_traceable, payload_hash, prev_hash, entry_hash, chain_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.NodeRef, e.FieldRef, formatStoredTime(e.Timestamp),
		string(e.EventType), e.ActorRef, lat, lng, payload,
		boolToInt(e.IsPublicTraceable), e.PayloadHash, e.PrevHash, e.EntryHash, e.ChainKey(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*trace.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE event_id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return e, err
}

func (s *SQLiteStore) EventsByNode(ctx context.Context, nodeID string) ([]trace.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE node_ref = ? ORDER BY timestamp ASC, seq ASC`, nodeID)
}

func (s *SQLiteStore) EventsByField(ctx context.Context, fieldRef string) ([]trace.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE field_ref = ? ORDER BY timestamp ASC, seq ASC`, fieldRef)
}

func (s *SQLiteStore) EventsByFieldWindow(ctx context.Context, fieldRef string, types []trace.EventType, since, until time.Time) ([]trace.Event, error) {
	if len(types) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	args := []any{fieldRef}
	for _, t := range types {
		args = append(args, string(t))
	}
	args = append(args, formatStoredTime(since), formatStoredTime(until))
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE field_ref = ? AND event_type IN (`+placeholders+`) AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, seq ASC`, args...)
}

func (s *SQLiteStore) LastOnChain(ctx context.Context, chainKey string) (*trace.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE chain_key = ? ORDER BY seq DESC LIMIT 1`, chainKey)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) EventsOnChain(ctx context.Context, chainKey string) ([]trace.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE chain_key = ? ORDER BY seq ASC`, chainKey)
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]trace.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []trace.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*trace.Node, error) {
	var (
		n          trace.Node
		created    string
		status     string
		linkedJSON string
		metaJSON   string
		public     int
	)
	err := row.Scan(&n.ID, &n.Type, &created, &status, &linkedJSON, &metaJSON, &public)
	if err == sql.ErrNoRows {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan node: %w", err)
	}
	if n.CreationTime, err = parseStoredTime(created); err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, err)
	}
	n.Status = trace.Status(status)
	n.IsPublicTraceable = public != 0
	if err := json.Unmarshal([]byte(linkedJSON), &n.LinkedVTIs); err != nil {
		return nil, fmt.Errorf("unmarshal linked_vtis: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &n.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &n, nil
}

func scanEvent(row rowScanner) (*trace.Event, error) {
	var (
		e         trace.Event
		ts        string
		eventType string
		lat, lng  sql.NullFloat64
		payload   sql.NullString
		public    int
	)
	err := row.Scan(&e.ID, &e.NodeRef, &e.FieldRef, &ts, &eventType, &e.ActorRef,
		&lat, &lng, &payload, &public, &e.PayloadHash, &e.PrevHash, &e.EntryHash)
	if err != nil {
		return nil, err
	}
	if e.Timestamp, err = parseStoredTime(ts); err != nil {
		return nil, fmt.Errorf("event %s: %w", e.ID, err)
	}
	e.EventType = trace.EventType(eventType)
	e.IsPublicTraceable = public != 0
	if lat.Valid && lng.Valid {
		e.Geo = &trace.GeoLocation{Lat: lat.Float64, Lng: lng.Float64}
	}
	if payload.Valid && payload.String != "" {
		e.Payload = json.RawMessage(payload.String)
	}
	return &e, nil
}

// parseStoredTime accepts the fixed-width layout plus RFC3339 variants for
// rows written before the layout change.
func parseStoredTime(value string) (time.Time, error) {
	if t, err := time.Parse(storedTimeLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("stored timestamp %q is not parseable", value)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
