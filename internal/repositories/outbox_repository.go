package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"relay-service/internal/models"
)

var ErrEntryNotFound = errors.New("outbox entry not found")

// OutboxRepository defines interactions with the durable outgoing-message queue.
type OutboxRepository interface {
	Append(ctx context.Context, msg models.QueuedMessage) error
	ListPending(ctx context.Context) ([]models.QueuedMessage, error)
	ListDead(ctx context.Context) ([]models.QueuedMessage, error)
	List(ctx context.Context) ([]models.QueuedMessage, error)
	Remove(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error
	MarkDead(ctx context.Context, id string, lastError string) error
	Requeue(ctx context.Context, id string) (models.QueuedMessage, error)
	Clear(ctx context.Context) error
	Depth(ctx context.Context) (pending int, dead int, err error)
}

// OutboxRepo is a sqlx-backed repository over the local sqlite store.
type OutboxRepo struct {
	db *sqlx.DB
}

// NewOutboxRepo constructs an OutboxRepo.
func NewOutboxRepo(db *sqlx.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

const outboxColumns = `seq, id, kind, target_id, body, attachment_ref, status, attempts, last_error, enqueued_at, next_attempt_at`

// Append persists a new entry at the tail of the queue.
func (r *OutboxRepo) Append(ctx context.Context, msg models.QueuedMessage) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO outbox (id, kind, target_id, body, attachment_ref, status, attempts, last_error, enqueued_at, next_attempt_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Kind, msg.TargetID, msg.Body, msg.AttachmentRef, msg.Status, msg.Attempts, msg.LastError, msg.EnqueuedAt, msg.NextAttemptAt)
	return err
}

// ListPending returns pending entries in enqueue order.
func (r *OutboxRepo) ListPending(ctx context.Context) ([]models.QueuedMessage, error) {
	var msgs []models.QueuedMessage
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+outboxColumns+` FROM outbox WHERE status = ? ORDER BY seq ASC`, models.StatusPending)
	return msgs, err
}

// ListDead returns dead-lettered entries in enqueue order.
func (r *OutboxRepo) ListDead(ctx context.Context) ([]models.QueuedMessage, error) {
	var msgs []models.QueuedMessage
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+outboxColumns+` FROM outbox WHERE status = ? ORDER BY seq ASC`, models.StatusDead)
	return msgs, err
}

// List returns every entry regardless of status, in enqueue order.
func (r *OutboxRepo) List(ctx context.Context) ([]models.QueuedMessage, error) {
	var msgs []models.QueuedMessage
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+outboxColumns+` FROM outbox ORDER BY seq ASC`)
	return msgs, err
}

// Remove deletes an entry after confirmed delivery. A removed id is never
// reinserted; callers generate fresh ids on every enqueue.
func (r *OutboxRepo) Remove(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// RecordFailure increments the attempt counter and schedules the next try.
func (r *OutboxRepo) RecordFailure(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = ?, next_attempt_at = ? WHERE id = ?`,
		lastError, nextAttemptAt, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// MarkDead transitions an entry to the dead-letter state.
func (r *OutboxRepo) MarkDead(ctx context.Context, id string, lastError string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox SET status = ?, attempts = attempts + 1, last_error = ? WHERE id = ?`,
		models.StatusDead, lastError, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Requeue returns a dead entry to the pending state with a fresh retry budget.
func (r *OutboxRepo) Requeue(ctx context.Context, id string) (models.QueuedMessage, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox SET status = ?, attempts = 0, last_error = '', next_attempt_at = ? WHERE id = ? AND status = ?`,
		models.StatusPending, time.Now().UTC(), id, models.StatusDead)
	if err != nil {
		return models.QueuedMessage{}, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.QueuedMessage{}, err
	}
	if count == 0 {
		return models.QueuedMessage{}, ErrEntryNotFound
	}

	var msg models.QueuedMessage
	err = r.db.GetContext(ctx, &msg, `SELECT `+outboxColumns+` FROM outbox WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QueuedMessage{}, ErrEntryNotFound
	}
	return msg, err
}

// Clear discards every entry unconditionally.
func (r *OutboxRepo) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM outbox`)
	return err
}

// Depth reports queue sizes for metrics.
func (r *OutboxRepo) Depth(ctx context.Context) (int, int, error) {
	var pending, dead int
	if err := r.db.GetContext(ctx, &pending, `SELECT COUNT(*) FROM outbox WHERE status = ?`, models.StatusPending); err != nil {
		return 0, 0, err
	}
	if err := r.db.GetContext(ctx, &dead, `SELECT COUNT(*) FROM outbox WHERE status = ?`, models.StatusDead); err != nil {
		return 0, 0, err
	}
	return pending, dead, nil
}
