// Package postgres stores match ledgers in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/matchday/internal/domain/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    match_id  TEXT   NOT NULL,
    seq       BIGINT NOT NULL,
    kind      TEXT   NOT NULL,
    prev_hash TEXT   NOT NULL,
    hash      TEXT   NOT NULL,
    body      JSONB  NOT NULL,
    raw       BYTEA  NOT NULL,
    PRIMARY KEY (match_id, seq)
)`

const uniqueViolation = "23505"

// Connect creates a connection pool and verifies it.
func Connect(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Ledger implements ledger.Store. Appends to one match are serialised with a
// transaction-scoped advisory lock so several engine processes can share
// the database.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates the table when missing.
func NewLedger(ctx context.Context, pool *pgxpool.Pool) (*Ledger, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

// Close closes the pool.
func (l *Ledger) Close() { l.pool.Close() }

// Append implements ledger.Store.
func (l *Ledger) Append(ctx context.Context, matchID string, entries ...ledger.Entry) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, matchID); err != nil {
			return fmt.Errorf("lock %s: %w", matchID, err)
		}
		head, err := head(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if err := ledger.CheckAppend(head, entries); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, e := range entries {
			raw, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal entry %d: %w", e.Seq, err)
			}
			batch.Queue(`INSERT INTO ledger_entries (match_id, seq, kind, prev_hash, hash, body, raw)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				matchID, e.Seq, string(e.Kind), e.PrevHash, e.Hash, raw, raw)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s", ledger.ErrOutOfSequence, pgErr.Detail)
			}
			return fmt.Errorf("insert entries: %w", err)
		}
		return nil
	})
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// head reads raw rather than the JSONB column: JSONB reorders keys and
// the stored bytes must hash exactly as they were sealed.
func head(ctx context.Context, q rowQuerier, matchID string) (*ledger.Entry, error) {
	var raw []byte
	err := q.QueryRow(ctx,
		`SELECT raw FROM ledger_entries WHERE match_id = $1 ORDER BY seq DESC LIMIT 1`, matchID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read head of %s: %w", matchID, err)
	}
	var e ledger.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode head of %s: %w", matchID, err)
	}
	return &e, nil
}

// Head implements ledger.Store.
func (l *Ledger) Head(ctx context.Context, matchID string) (*ledger.Entry, error) {
	return head(ctx, l.pool, matchID)
}

// Read implements ledger.Store.
func (l *Ledger) Read(ctx context.Context, matchID string, from, to int64) ([]ledger.Entry, error) {
	if from < 1 {
		from = 1
	}
	rows, err := l.pool.Query(ctx,
		`SELECT raw FROM ledger_entries
		 WHERE match_id = $1 AND seq >= $2 AND ($3 <= 0 OR seq <= $3)
		 ORDER BY seq`, matchID, from, to)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", matchID, err)
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", matchID, err)
	}
	out := make([]ledger.Entry, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
	}
	return out, nil
}

// Matches implements ledger.Store.
func (l *Ledger) Matches(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT DISTINCT match_id FROM ledger_entries ORDER BY match_id`)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
