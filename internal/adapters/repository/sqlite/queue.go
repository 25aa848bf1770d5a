package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/matchday/internal/adapters/mq/queue"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/pkg/metrics"
)

const defaultQueuePoll = 250 * time.Millisecond

// Queue implements queue.Queue on the provider_queue table. Messages left in
// flight by a previous process are made ready again when the queue opens.
type Queue struct {
	db       *sql.DB
	capacity int
	poll     time.Duration

	mu      sync.Mutex
	signals map[string]chan struct{}
	closed  bool
	done    chan struct{}
}

// Queue opens the durable provider queue; capacity <= 0 means unbounded.
func (d *DB) Queue(ctx context.Context, capacity int) (*Queue, error) {
	if _, err := d.db.ExecContext(ctx, `UPDATE provider_queue SET in_flight = 0 WHERE in_flight = 1`); err != nil {
		return nil, fmt.Errorf("recover in-flight messages: %w", err)
	}
	return &Queue{
		db:       d.db,
		capacity: capacity,
		poll:     defaultQueuePoll,
		signals:  make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (q *Queue) signal(provider string) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.signals[provider]
	if !ok {
		ch = make(chan struct{}, 1)
		q.signals[provider] = ch
	}
	return ch
}

func (q *Queue) poke(provider string) {
	select {
	case q.signal(provider) <- struct{}{}:
	default:
	}
}

// Enqueue implements queue.Queue.
func (q *Queue) Enqueue(ctx context.Context, provider string, ev model.CanonicalEvent) (queue.Message, error) {
	if provider == "" {
		return queue.Message{}, queue.ErrProvider
	}
	if q.IsClosed() {
		return queue.Message{}, queue.ErrClosed
	}
	if q.capacity > 0 {
		if n := q.Len(ctx, provider); n >= q.capacity {
			metrics.RecordErrorByComponent("queue", "capacity_exceeded")
			return queue.Message{}, fmt.Errorf("%w: provider %s holds %d messages", queue.ErrFull, provider, n)
		}
	}
	msg := queue.Message{ID: uuid.NewString(), Provider: provider, Event: ev, EnqueuedAt: time.Now().UTC()}
	body, err := json.Marshal(msg.Event)
	if err != nil {
		return queue.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO provider_queue (id, provider, pos, enqueued_at, body)
		 VALUES (?, ?, (SELECT COALESCE(MAX(pos), 0) + 1 FROM provider_queue WHERE provider = ?), ?, ?)`,
		msg.ID, provider, provider, msg.EnqueuedAt.UnixNano(), body)
	if err != nil {
		return queue.Message{}, fmt.Errorf("enqueue: %w", err)
	}
	metrics.RecordQueueEnqueue(provider)
	q.poke(provider)
	return msg, nil
}

// Next implements queue.Queue, polling between wake-ups.
func (q *Queue) Next(ctx context.Context, provider string) (queue.Message, error) {
	signal := q.signal(provider)
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()
	for {
		if q.IsClosed() {
			return queue.Message{}, queue.ErrClosed
		}
		msg, ok, err := q.claim(ctx, provider)
		if err != nil {
			return queue.Message{}, err
		}
		if ok {
			return msg, nil
		}
		select {
		case <-signal:
		case <-ticker.C:
		case <-q.done:
		case <-ctx.Done():
			return queue.Message{}, ctx.Err()
		}
	}
}

func (q *Queue) claim(ctx context.Context, provider string) (msg queue.Message, ok bool, err error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return msg, false, fmt.Errorf("begin claim: %w", err)
	}
	defer func() {
		if !ok {
			_ = tx.Rollback()
		}
	}()
	var (
		body       []byte
		enqueuedAt int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, attempts, enqueued_at, body FROM provider_queue
		 WHERE provider = ? AND in_flight = 0 ORDER BY pos LIMIT 1`, provider).
		Scan(&msg.ID, &msg.Attempts, &enqueuedAt, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return msg, false, nil
	}
	if err != nil {
		return msg, false, fmt.Errorf("claim: %w", err)
	}
	if err := json.Unmarshal(body, &msg.Event); err != nil {
		return msg, false, fmt.Errorf("decode message %s: %w", msg.ID, err)
	}
	msg.Attempts++
	if _, err := tx.ExecContext(ctx,
		`UPDATE provider_queue SET in_flight = 1, attempts = ? WHERE id = ?`, msg.Attempts, msg.ID); err != nil {
		return msg, false, fmt.Errorf("mark in flight: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return msg, false, fmt.Errorf("commit claim: %w", err)
	}
	msg.Provider = provider
	msg.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	return msg, true, nil
}

// Ack implements queue.Queue.
func (q *Queue) Ack(ctx context.Context, provider, id string) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM provider_queue WHERE id = ? AND provider = ? AND in_flight = 1`, id, provider)
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", queue.ErrUnknown, id)
	}
	metrics.RecordQueueAck(provider)
	return nil
}

// Nack implements queue.Queue, moving the message ahead of the lane.
func (q *Queue) Nack(ctx context.Context, provider, id string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE provider_queue
		 SET in_flight = 0, pos = (SELECT MIN(pos) - 1 FROM provider_queue WHERE provider = ?)
		 WHERE id = ? AND provider = ? AND in_flight = 1`, provider, id, provider)
	if err != nil {
		return fmt.Errorf("nack: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", queue.ErrUnknown, id)
	}
	metrics.RecordQueueNack(provider)
	q.poke(provider)
	return nil
}

// Len implements queue.Queue.
func (q *Queue) Len(ctx context.Context, provider string) int {
	var n int
	if err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM provider_queue WHERE provider = ?`, provider).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Providers implements queue.Queue.
func (q *Queue) Providers(ctx context.Context) []string {
	rows, err := q.db.QueryContext(ctx, `SELECT DISTINCT provider FROM provider_queue ORDER BY provider`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if rows.Scan(&p) == nil {
			out = append(out, p)
		}
	}
	return out
}

// Close wakes blocked consumers. Queued messages stay on disk.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// IsClosed implements queue.Queue.
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
