// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/growsignal/alphafeed/internal/feed"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DB is the subset of pgxpool.Pool the stores need; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store persists per-stage item collections, the seen-identifier set,
// and the drop audit log in Postgres.
type Store struct {
	db     DB
	prefix string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	prefix := cfg.TablePrefix
	if prefix == "" {
		prefix = "items"
	}
	if !validTableName.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: pool, prefix: prefix}, nil
}

// NewWithDB constructs a Store from an existing pool (primarily for testing).
func NewWithDB(db DB, prefix string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if prefix == "" {
		prefix = "items"
	}
	if !validTableName.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &Store{db: db, prefix: prefix}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

func (s *Store) stageTable(stage feed.Stage) string {
	return fmt.Sprintf("%s_%s", s.prefix, stage)
}

// EnsureSchema creates the per-stage tables, the seen-id set, and the
// drop log if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stage := range feed.Stages {
		query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	ts TIMESTAMPTZ NOT NULL
)`, s.stageTable(stage))
		if _, err := s.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("create %s: %w", s.stageTable(stage), err)
		}
	}
	if _, err := s.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS seen_ids (
	id TEXT PRIMARY KEY,
	seen_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return fmt.Errorf("create seen_ids: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS item_drops (
	item_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	reason TEXT NOT NULL,
	dropped_at TIMESTAMPTZ NOT NULL
)`); err != nil {
		return fmt.Errorf("create item_drops: %w", err)
	}
	return nil
}

// UpsertBatch writes the items into the stage's table inside a single
// transaction so readers never observe a partial batch.
func (s *Store) UpsertBatch(ctx context.Context, stage feed.Stage, items []feed.Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := fmt.Sprintf(`
INSERT INTO %s (id, payload, ts) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, ts = EXCLUDED.ts`,
		s.stageTable(stage))

	for _, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal item %s: %w", item.ID, err)
		}
		if _, err := tx.Exec(ctx, query, item.ID, payload, item.Timestamp); err != nil {
			return fmt.Errorf("upsert item %s: %w", item.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// List returns the stage's collection ordered by timestamp, then id.
func (s *Store) List(ctx context.Context, stage feed.Stage) ([]feed.Item, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s ORDER BY ts, id`, s.stageTable(stage))
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", stage, err)
	}
	defer rows.Close()

	var out []feed.Item
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", stage, err)
		}
		var item feed.Item
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", stage, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", stage, err)
	}
	return out, nil
}

// Prune removes items older than cutoff, then trims the stage table to
// maxItems by deleting the oldest rows. It returns the removed count.
func (s *Store) Prune(ctx context.Context, stage feed.Stage, cutoff time.Time, maxItems int) (int, error) {
	table := s.stageTable(stage)
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE ts < $1`, table), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune %s by age: %w", stage, err)
	}
	removed := int(tag.RowsAffected())

	if maxItems > 0 {
		capQuery := fmt.Sprintf(`
DELETE FROM %s WHERE id IN (
	SELECT id FROM %s ORDER BY ts DESC OFFSET $1
)`, table, table)
		tag, err = s.db.Exec(ctx, capQuery, maxItems)
		if err != nil {
			return removed, fmt.Errorf("prune %s by cap: %w", stage, err)
		}
		removed += int(tag.RowsAffected())
	}
	return removed, nil
}

// MarkSeen records the ids in the durable seen set.
func (s *Store) MarkSeen(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `INSERT INTO seen_ids (id) SELECT unnest($1::text[]) ON CONFLICT (id) DO NOTHING`
	if _, err := s.db.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// FilterUnseen returns the subset of ids absent from the seen set, in
// input order.
func (s *Store) FilterUnseen(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `SELECT id FROM seen_ids WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query seen ids: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seen id: %w", err)
		}
		seen[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen ids: %w", err)
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Record appends a drop record to the audit log.
func (s *Store) Record(ctx context.Context, drop feed.DropRecord) error {
	query := `INSERT INTO item_drops (item_id, stage, reason, dropped_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.db.Exec(ctx, query, drop.ItemID, string(drop.Stage), string(drop.Reason), drop.At); err != nil {
		return fmt.Errorf("record drop %s: %w", drop.ItemID, err)
	}
	return nil
}

// ListIDs returns the ids of items dropped at the given stage.
func (s *Store) ListIDs(ctx context.Context, stage feed.Stage) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT item_id FROM item_drops WHERE stage = $1`, string(stage))
	if err != nil {
		return nil, fmt.Errorf("list drops for %s: %w", stage, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan drop id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drop ids: %w", err)
	}
	return out, nil
}
