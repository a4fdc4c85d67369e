package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/verdantlabs/agritrace/pkg/trace"

	_ "github.com/lib/pq"
)

// PostgresStore implements NodeStore and EventStore on PostgreSQL, for
// deployments where multiple workers share one database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle and runs migrations.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handles returns the store bundled as injectable handles.
func (s *PostgresStore) Handles() Store {
	return Store{Nodes: s, Events: s}
}

func (s *PostgresStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			node_type TEXT NOT NULL,
			creation_time TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			linked_vtis JSONB NOT NULL DEFAULT '[]',
			metadata JSONB NOT NULL DEFAULT '{}',
			is_public_traceable BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			seq BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			node_ref TEXT NOT NULL DEFAULT '',
			field_ref TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL,
			event_type TEXT NOT NULL,
			actor_ref TEXT NOT NULL DEFAULT '',
			geo_lat DOUBLE PRECISION,
			geo_lng DOUBLE PRECISION,
			payload JSONB,
			is_public_traceable BOOLEAN NOT NULL DEFAULT FALSE,
			payload_hash TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			entry_hash TEXT NOT NULL,
			chain_key TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_node ON events(node_ref) WHERE node_ref != ''`,
		`CREATE INDEX IF NOT EXISTS idx_events_field ON events(field_ref) WHERE field_ref != ''`,
		`CREATE INDEX IF NOT EXISTS idx_events_chain ON events(chain_key, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateNode(ctx context.Context, n *trace.Node) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.Type, n.CreationTime.UTC(), string(n.Status), string(linked), string(meta), n.IsPublicTraceable,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNode(ctx context.Context, id string) (*trace.Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, node_type, to_char(creation_time AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"'),
			status, linked_vtis, metadata, CASE WHEN is_public_traceable THEN 1 ELSE 0 END
		FROM nodes WHERE id = $1`, id)
	return scanNode(row)
}

func (s *PostgresStore) PatchNodeMetadata(ctx context.Context, id string, mutate func(*trace.Metadata)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin patch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var metaJSON string
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM nodes WHERE id = $1 FOR UPDATE`, id).Scan(&metaJSON)
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
	if _, err := tx.ExecContext(ctx, `UPDATE nodes SET metadata = $1 WHERE id = $2`, string(updated), id); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) SetNodeStatus(ctx context.Context, id string, status trace.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE nodes SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNodeNotFound
	}
	return nil
}

const pgEventColumns = `event_id, node_ref, field_ref,
	to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"'), event_type, actor_ref,
	geo_lat, geo_lng, payload::text, CASE WHEN is_public_traceable THEN 1 ELSE 0 END,
	payload_hash, prev_hash, entry_hash`

func (s *PostgresStore) AppendEvent(ctx context.Context, e *trace.Event) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.NodeRef, e.FieldRef, e.Timestamp.UTC(), string(e.EventType), e.ActorRef,
		lat, lng, payload, e.IsPublicTraceable, e.PayloadHash, e.PrevHash, e.EntryHash, e.ChainKey(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*trace.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgEventColumns+` FROM events WHERE event_id = $1`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return e, err
}

func (s *PostgresStore) EventsByNode(ctx context.Context, nodeID string) ([]trace.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+pgEventColumns+` FROM events WHERE node_ref = $1 ORDER BY timestamp ASC, seq ASC`, nodeID)
}

func (s *PostgresStore) EventsByField(ctx context.Context, fieldRef string) ([]trace.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+pgEventColumns+` FROM events WHERE field_ref = $1 ORDER BY timestamp ASC, seq ASC`, fieldRef)
}

func (s *PostgresStore) EventsByFieldWindow(ctx context.Context, fieldRef string, types []trace.EventType, since, until time.Time) ([]trace.Event, error) {
	if len(types) == 0 {
		return nil, nil
	}
	typeStrs := make([]string, len(types))
	for i, t := range types {
		typeStrs[i] = string(t)
	}
	return s.queryEvents(ctx, `
		SELECT `+pgEventColumns+` FROM events
		WHERE field_ref = $1 AND event_type = ANY($2) AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp ASC, seq ASC`,
		fieldRef, "{"+strings.Join(typeStrs, ",")+"}", since.UTC(), until.UTC())
}

func (s *PostgresStore) LastOnChain(ctx context.Context, chainKey string) (*trace.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgEventColumns+` FROM events WHERE chain_key = $1 ORDER BY seq DESC LIMIT 1`, chainKey)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *PostgresStore) EventsOnChain(ctx context.Context, chainKey string) ([]trace.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+pgEventColumns+` FROM events WHERE chain_key = $1 ORDER BY seq ASC`, chainKey)
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, args ...any) ([]trace.Event, error) {
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
