package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okian/matchday/internal/domain/ingest"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/projection"
)

func scanBodies[T any](rows *sql.Rows) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func getBody[T any](ctx context.Context, db *sql.DB, query, id string) (T, error) {
	var (
		v    T
		body []byte
	)
	err := db.QueryRowContext(ctx, query, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return v, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if err != nil {
		return v, fmt.Errorf("get %s: %w", id, err)
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", id, err)
	}
	return v, nil
}

func updated(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return nil
}

// Quarantine implements ingest.QuarantineStore.
type Quarantine struct {
	db *sql.DB
}

// Quarantine returns the quarantine store.
func (d *DB) Quarantine() *Quarantine { return &Quarantine{db: d.db} }

// Put implements ingest.QuarantineStore.
func (q *Quarantine) Put(ctx context.Context, rec ingest.QuarantineRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal quarantine record: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO quarantine_records (id, status, created_at, body) VALUES (?, ?, ?, ?)`,
		rec.ID, string(rec.Status), rec.CreatedAt.UnixNano(), body)
	if isConstraint(err) {
		return fmt.Errorf("quarantine record %s already exists", rec.ID)
	}
	return err
}

// Get implements ingest.QuarantineStore.
func (q *Quarantine) Get(ctx context.Context, id string) (ingest.QuarantineRecord, error) {
	return getBody[ingest.QuarantineRecord](ctx, q.db, `SELECT body FROM quarantine_records WHERE id = ?`, id)
}

// Update implements ingest.QuarantineStore.
func (q *Quarantine) Update(ctx context.Context, rec ingest.QuarantineRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal quarantine record: %w", err)
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE quarantine_records SET status = ?, body = ? WHERE id = ?`, string(rec.Status), body, rec.ID)
	if err != nil {
		return fmt.Errorf("update quarantine record: %w", err)
	}
	return updated(res, rec.ID)
}

// List implements ingest.QuarantineStore.
func (q *Quarantine) List(ctx context.Context, status ingest.QuarantineStatus) ([]ingest.QuarantineRecord, error) {
	query := `SELECT body FROM quarantine_records ORDER BY created_at, id`
	var args []any
	if status != "" {
		query = `SELECT body FROM quarantine_records WHERE status = ? ORDER BY created_at, id`
		args = append(args, string(status))
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}
	return scanBodies[ingest.QuarantineRecord](rows)
}

// Corrections implements correction.Store.
type Corrections struct {
	db *sql.DB
}

// Corrections returns the correction store.
func (d *DB) Corrections() *Corrections { return &Corrections{db: d.db} }

// Put implements correction.Store.
func (c *Corrections) Put(ctx context.Context, corr model.Correction) error {
	body, err := json.Marshal(corr)
	if err != nil {
		return fmt.Errorf("marshal correction: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO corrections (id, match_id, ts, body) VALUES (?, ?, ?, ?)`,
		corr.CorrectionID, corr.MatchID, corr.Timestamp.UnixNano(), body)
	if isConstraint(err) {
		return fmt.Errorf("correction %s already exists", corr.CorrectionID)
	}
	return err
}

// Get implements correction.Store.
func (c *Corrections) Get(ctx context.Context, id string) (model.Correction, error) {
	return getBody[model.Correction](ctx, c.db, `SELECT body FROM corrections WHERE id = ?`, id)
}

// Update implements correction.Store.
func (c *Corrections) Update(ctx context.Context, corr model.Correction) error {
	body, err := json.Marshal(corr)
	if err != nil {
		return fmt.Errorf("marshal correction: %w", err)
	}
	res, err := c.db.ExecContext(ctx, `UPDATE corrections SET body = ? WHERE id = ?`, body, corr.CorrectionID)
	if err != nil {
		return fmt.Errorf("update correction: %w", err)
	}
	return updated(res, corr.CorrectionID)
}

// List implements correction.Store.
func (c *Corrections) List(ctx context.Context, matchID string) ([]model.Correction, error) {
	query := `SELECT body FROM corrections ORDER BY ts, id`
	var args []any
	if matchID != "" {
		query = `SELECT body FROM corrections WHERE match_id = ? ORDER BY ts, id`
		args = append(args, matchID)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	return scanBodies[model.Correction](rows)
}

// Snapshots implements projection.SnapshotStore.
type Snapshots struct {
	db *sql.DB
}

// Snapshots returns the snapshot store.
func (d *DB) Snapshots() *Snapshots { return &Snapshots{db: d.db} }

// Save implements projection.SnapshotStore. Saving the same version twice
// keeps the first copy.
func (s *Snapshots) Save(ctx context.Context, p *projection.MatchProjection) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO projection_snapshots (match_id, version, body) VALUES (?, ?, ?)`,
		p.MatchID, p.LedgerVersion, body)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load implements projection.SnapshotStore.
func (s *Snapshots) Load(ctx context.Context, matchID string, maxVersion int64) (*projection.MatchProjection, error) {
	query := `SELECT body FROM projection_snapshots WHERE match_id = ? ORDER BY version DESC LIMIT 1`
	args := []any{matchID}
	if maxVersion > 0 {
		query = `SELECT body FROM projection_snapshots WHERE match_id = ? AND version <= ? ORDER BY version DESC LIMIT 1`
		args = append(args, maxVersion)
	}
	var body []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	p := projection.NewMatchProjection(matchID)
	if err := json.Unmarshal(body, p); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return p, nil
}
