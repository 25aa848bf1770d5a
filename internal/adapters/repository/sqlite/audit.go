package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/matchday/internal/domain/audit"
)

// AuditLog implements audit.Log. Records are never updated or deleted.
type AuditLog struct {
	db  *sql.DB
	now func() time.Time
}

// AuditLog returns the audit store.
func (d *DB) AuditLog() *AuditLog { return &AuditLog{db: d.db, now: time.Now} }

// Append implements audit.Log.
func (a *AuditLog) Append(ctx context.Context, rec audit.Record) (audit.Record, error) {
	rec = audit.Prepare(rec, a.now)
	body, err := json.Marshal(rec)
	if err != nil {
		return audit.Record{}, fmt.Errorf("marshal audit record: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, kind, match_id, subject, action, at, pos, body)
		 VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(pos), 0) + 1 FROM audit_records), ?)`,
		rec.ID, string(rec.Kind), rec.MatchID, rec.Subject, rec.Action, rec.At.UnixNano(), body)
	if err != nil {
		if isConstraint(err) {
			return audit.Record{}, fmt.Errorf("audit record %s already exists", rec.ID)
		}
		return audit.Record{}, fmt.Errorf("insert audit record: %w", err)
	}
	return rec, nil
}

// Get implements audit.Log.
func (a *AuditLog) Get(ctx context.Context, id string) (audit.Record, error) {
	var body []byte
	err := a.db.QueryRowContext(ctx, `SELECT body FROM audit_records WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Record{}, fmt.Errorf("%w: %s", audit.ErrNotFound, id)
	}
	if err != nil {
		return audit.Record{}, fmt.Errorf("get audit record: %w", err)
	}
	var rec audit.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return audit.Record{}, fmt.Errorf("decode audit record: %w", err)
	}
	return rec, nil
}

// List implements audit.Log, oldest first by insertion.
func (a *AuditLog) List(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.MatchID != "" {
		where = append(where, "match_id = ?")
		args = append(args, f.MatchID)
	}
	if f.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, f.Subject)
	}
	if !f.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	query := `SELECT body FROM audit_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY pos"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()
	var out []audit.Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		var rec audit.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
