package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okian/matchday/internal/domain/ledger"
)

// Ledger implements ledger.Store.
type Ledger struct {
	db *sql.DB
}

// Ledger returns the ledger store.
func (d *DB) Ledger() *Ledger { return &Ledger{db: d.db} }

// Append implements ledger.Store. The head check and the inserts share one
// transaction.
func (l *Ledger) Append(ctx context.Context, matchID string, entries ...ledger.Entry) (err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	head, err := headTx(ctx, tx, matchID)
	if err != nil {
		return err
	}
	if err := ledger.CheckAppend(head, entries); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ledger_entries (match_id, seq, kind, prev_hash, hash, body) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %d: %w", e.Seq, err)
		}
		if _, err := stmt.ExecContext(ctx, matchID, e.Seq, string(e.Kind), e.PrevHash, e.Hash, body); err != nil {
			if isConstraint(err) {
				return fmt.Errorf("%w: seq %d already written", ledger.ErrOutOfSequence, e.Seq)
			}
			return fmt.Errorf("insert entry %d: %w", e.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func headTx(ctx context.Context, q querier, matchID string) (*ledger.Entry, error) {
	var body []byte
	err := q.QueryRowContext(ctx,
		`SELECT body FROM ledger_entries WHERE match_id = ? ORDER BY seq DESC LIMIT 1`, matchID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read head of %s: %w", matchID, err)
	}
	var e ledger.Entry
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("decode head of %s: %w", matchID, err)
	}
	return &e, nil
}

// Head implements ledger.Store.
func (l *Ledger) Head(ctx context.Context, matchID string) (*ledger.Entry, error) {
	return headTx(ctx, l.db, matchID)
}

// Read implements ledger.Store.
func (l *Ledger) Read(ctx context.Context, matchID string, from, to int64) ([]ledger.Entry, error) {
	if from < 1 {
		from = 1
	}
	query := `SELECT body FROM ledger_entries WHERE match_id = ? AND seq >= ? ORDER BY seq`
	args := []any{matchID, from}
	if to > 0 {
		query = `SELECT body FROM ledger_entries WHERE match_id = ? AND seq >= ? AND seq <= ? ORDER BY seq`
		args = append(args, to)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", matchID, err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		var e ledger.Entry
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Matches implements ledger.Store.
func (l *Ledger) Matches(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT DISTINCT match_id FROM ledger_entries ORDER BY match_id`)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan match id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
