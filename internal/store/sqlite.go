package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"wsgraph/internal/cas"
)

// ErrHeadMoved is returned by CompareAndSwapHead when the stored head no
// longer matches the expected address: the caller's batch was computed
// against a stale base and must be recomputed.
var ErrHeadMoved = errors.New("head moved since the expected address")

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	address    TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS heads (
	workspace  TEXT NOT NULL,
	change_set TEXT NOT NULL,
	address    TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (workspace, change_set)
);
`

// SQLiteStore is the durable content store tier. Payloads are compressed
// with zstd at rest; addresses always refer to the uncompressed content.
type SQLiteStore struct {
	conn    *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// OpenSQLite opens or creates the store database at the given path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping store database: %w", err)
	}

	// WAL keeps concurrent readers off the writer's back.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	conn.Exec("PRAGMA busy_timeout=5000")

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying store schema: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &SQLiteStore{conn: conn, encoder: encoder, decoder: decoder}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.conn.Close()
}

// Put stores a payload under its content hash (idempotent).
func (s *SQLiteStore) Put(ctx context.Context, payload []byte) (cas.ContentHash, error) {
	hash := cas.HashBytes(payload)
	compressed := s.encoder.EncodeAll(payload, nil)

	_, err := s.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO objects (address, payload, created_at)
		VALUES (?, ?, ?)
	`, hash.String(), compressed, time.Now().UnixMilli())
	if err != nil {
		return cas.NilHash, fmt.Errorf("inserting object: %w", err)
	}
	return hash, nil
}

// Get retrieves a payload by hash.
func (s *SQLiteStore) Get(ctx context.Context, hash cas.ContentHash) ([]byte, bool, error) {
	var compressed []byte
	err := s.conn.QueryRowContext(ctx, `
		SELECT payload FROM objects WHERE address = ?
	`, hash.String()).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying object: %w", err)
	}

	payload, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompressing object %s: %w", hash, err)
	}
	return payload, true, nil
}

// Head returns the current head snapshot address for a change set, or the
// nil hash when none has been recorded.
func (s *SQLiteStore) Head(ctx context.Context, workspace, changeSet string) (cas.ContentHash, error) {
	var addr string
	err := s.conn.QueryRowContext(ctx, `
		SELECT address FROM heads WHERE workspace = ? AND change_set = ?
	`, workspace, changeSet).Scan(&addr)
	if err == sql.ErrNoRows {
		return cas.NilHash, nil
	}
	if err != nil {
		return cas.NilHash, fmt.Errorf("querying head: %w", err)
	}
	return cas.ParseHash(addr)
}

// CompareAndSwapHead advances the head pointer only if it still matches
// expected. Pass the nil hash as expected to record the first head. A
// mismatch fails with ErrHeadMoved and the caller must recompute against
// the current head.
func (s *SQLiteStore) CompareAndSwapHead(ctx context.Context, workspace, changeSet string, expected, next cas.ContentHash) error {
	now := time.Now().UnixMilli()

	if expected.IsNil() {
		result, err := s.conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO heads (workspace, change_set, address, updated_at)
			VALUES (?, ?, ?, ?)
		`, workspace, changeSet, next.String(), now)
		if err != nil {
			return fmt.Errorf("inserting head: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrHeadMoved
		}
		return nil
	}

	result, err := s.conn.ExecContext(ctx, `
		UPDATE heads SET address = ?, updated_at = ?
		WHERE workspace = ? AND change_set = ? AND address = ?
	`, next.String(), now, workspace, changeSet, expected.String())
	if err != nil {
		return fmt.Errorf("updating head: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrHeadMoved
	}
	return nil
}

// SweepOptions configures the retention sweep.
type SweepOptions struct {
	// Retention keeps objects younger than this even when unreferenced.
	Retention time.Duration

	// Keep protects additional addresses (e.g. payloads referenced from
	// inside live snapshots) beyond the current heads.
	Keep []cas.ContentHash

	// DryRun computes the plan without deleting anything.
	DryRun bool
}

// SweepPlan summarizes what a sweep deleted or would delete.
type SweepPlan struct {
	Examined int
	Deleted  int
}

// SweepObjects deletes unreferenced objects older than the retention
// window. Every current head is a root; callers that track nested content
// references pass them via Keep.
func (s *SQLiteStore) SweepObjects(ctx context.Context, opts SweepOptions) (*SweepPlan, error) {
	live := make(map[string]bool, len(opts.Keep))
	for _, h := range opts.Keep {
		live[h.String()] = true
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT address FROM heads`)
	if err != nil {
		return nil, fmt.Errorf("collecting head roots: %w", err)
	}
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning head: %w", err)
		}
		live[addr] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-opts.Retention).UnixMilli()
	rows, err = s.conn.QueryContext(ctx, `
		SELECT address FROM objects WHERE created_at < ?
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("collecting sweep candidates: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		candidates = append(candidates, addr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	plan := &SweepPlan{Examined: len(candidates)}
	for _, addr := range candidates {
		if live[addr] {
			continue
		}
		plan.Deleted++
		if opts.DryRun {
			continue
		}
		if _, err := s.conn.ExecContext(ctx, `DELETE FROM objects WHERE address = ?`, addr); err != nil {
			return nil, fmt.Errorf("deleting object %s: %w", addr, err)
		}
	}
	return plan, nil
}
