package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
)

// QueueRepository implements repository.QueueRepository using PostgreSQL.
// Every transition is a conditional update guarded on the expected prior
// status, so concurrent dispatcher ticks racing on the same row produce
// exactly one winner.
type QueueRepository struct {
	db *sqlx.DB
}

// NewQueueRepository constructs the repository.
func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

const queueColumns = `id, campaign_id, lead_id, client_id, agent_id, status, priority,
	retry_count, queued_at, started_at, completed_at, next_retry_at, call_id, error_message`

// Enqueue inserts a batch of queue items.
func (r *QueueRepository) Enqueue(ctx context.Context, items []*domain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `INSERT INTO queue_items (
			id, campaign_id, lead_id, client_id, agent_id, status, priority, retry_count, queued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("queue repo: prepare enqueue: %w", err)
		}
		defer stmt.Close()

		for _, item := range items {
			if _, err := stmt.ExecContext(ctx,
				item.ID, item.CampaignID, item.LeadID, item.ClientID, item.AgentID,
				item.Status, item.Priority, item.RetryCount, item.QueuedAt,
			); err != nil {
				return fmt.Errorf("queue repo: enqueue: %w", err)
			}
		}
		return nil
	})
}

// Get fetches a queue item by id.
func (r *QueueRepository) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = $1`, id)

	var rec queueItemRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("queue repo: get: %w", err)
	}

	item := rec.toDomain()
	return &item, nil
}

// SelectDue returns dispatchable items: pending rows plus retry_pending rows
// whose next_retry_at has passed. High priority first, oldest first within a
// priority band so no lead starves.
func (r *QueueRepository) SelectDue(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]*domain.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+queueColumns+`
		FROM queue_items
		WHERE campaign_id = $1
		  AND (status = 'pending' OR (status = 'retry_pending' AND next_retry_at <= $2))
		ORDER BY priority DESC, COALESCE(next_retry_at, queued_at) ASC
		LIMIT $3`, campaignID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("queue repo: select due: %w", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

// Claim performs the atomic pending/retry_pending -> in_progress transition.
// The NOT EXISTS guard enforces the one-active-item-per-lead invariant
// structurally rather than by convention.
func (r *QueueRepository) Claim(ctx context.Context, id uuid.UUID, from domain.QueueStatus, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE queue_items SET
			status = 'in_progress',
			started_at = $3,
			next_retry_at = NULL
		WHERE id = $1 AND status = $2
		  AND NOT EXISTS (
			SELECT 1 FROM queue_items other
			WHERE other.lead_id = queue_items.lead_id
			  AND other.id <> queue_items.id
			  AND other.status = 'in_progress'
		  )`, id, from, now)
	if err != nil {
		return false, fmt.Errorf("queue repo: claim: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue repo: rows affected: %w", err)
	}
	return n == 1, nil
}

// CountInProgress counts active items; uuid.Nil counts across all campaigns.
func (r *QueueRepository) CountInProgress(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var count int
	var err error
	if campaignID == uuid.Nil {
		err = r.db.QueryRowxContext(ctx,
			`SELECT COUNT(*) FROM queue_items WHERE status = 'in_progress'`).Scan(&count)
	} else {
		err = r.db.QueryRowxContext(ctx,
			`SELECT COUNT(*) FROM queue_items WHERE campaign_id = $1 AND status = 'in_progress'`, campaignID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("queue repo: count in progress: %w", err)
	}
	return count, nil
}

// AttachCall records the call produced by dispatching this item.
func (r *QueueRepository) AttachCall(ctx context.Context, id, callID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE queue_items SET call_id = $2 WHERE id = $1 AND status = 'in_progress'`, id, callID)
	if err != nil {
		return fmt.Errorf("queue repo: attach call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkCompleted finishes an in-progress item after a connected outcome.
func (r *QueueRepository) MarkCompleted(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.transition(ctx, id, `UPDATE queue_items SET status = 'completed', completed_at = $2, error_message = NULL
		WHERE id = $1 AND status = 'in_progress'`, now)
}

// MarkFailed records a permanent failure.
func (r *QueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE queue_items SET status = 'failed', completed_at = $2, error_message = $3
		WHERE id = $1 AND status IN ('in_progress', 'pending', 'retry_pending')`, id, now, message)
	if err != nil {
		return fmt.Errorf("queue repo: mark failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Requeue schedules another attempt. next_retry_at is set together with the
// retry_pending status so the two never disagree.
func (r *QueueRepository) Requeue(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE queue_items SET
			status = 'retry_pending',
			retry_count = $2,
			next_retry_at = $3,
			started_at = NULL,
			call_id = NULL
		WHERE id = $1 AND status = 'in_progress'`, id, retryCount, nextRetryAt)
	if err != nil {
		return fmt.Errorf("queue repo: requeue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkExhausted terminates an item that hit the retry cap. The status is
// distinct from failed so operators can tell "gave up" from "broken".
func (r *QueueRepository) MarkExhausted(ctx context.Context, id uuid.UUID, message string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE queue_items SET status = 'max_retries_reached', completed_at = $2, error_message = $3
		WHERE id = $1 AND status = 'in_progress'`, id, now, message)
	if err != nil {
		return fmt.Errorf("queue repo: mark exhausted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListByCampaign lists items for the retry-timeline view.
func (r *QueueRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, status domain.QueueStatus, limit int) ([]*domain.QueueItem, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + queueColumns + ` FROM queue_items WHERE campaign_id = $1`
	args := []any{campaignID}
	if status != "" {
		query += ` AND status = $2 ORDER BY queued_at ASC LIMIT $3`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY queued_at ASC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue repo: list: %w", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

func (r *QueueRepository) transition(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("queue repo: transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanQueueItems(rows *sqlx.Rows) ([]*domain.QueueItem, error) {
	var results []*domain.QueueItem
	for rows.Next() {
		var rec queueItemRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("queue repo: scan: %w", err)
		}
		item := rec.toDomain()
		results = append(results, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue repo: rows err: %w", err)
	}
	return results, nil
}

type queueItemRecord struct {
	ID           uuid.UUID      `db:"id"`
	CampaignID   uuid.UUID      `db:"campaign_id"`
	LeadID       uuid.UUID      `db:"lead_id"`
	ClientID     uuid.UUID      `db:"client_id"`
	AgentID      uuid.UUID      `db:"agent_id"`
	Status       string         `db:"status"`
	Priority     int            `db:"priority"`
	RetryCount   int            `db:"retry_count"`
	QueuedAt     time.Time      `db:"queued_at"`
	StartedAt    sql.NullTime   `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	NextRetryAt  sql.NullTime   `db:"next_retry_at"`
	CallID       *uuid.UUID     `db:"call_id"`
	ErrorMessage sql.NullString `db:"error_message"`
}

func (r queueItemRecord) toDomain() domain.QueueItem {
	item := domain.QueueItem{
		ID:         r.ID,
		CampaignID: r.CampaignID,
		LeadID:     r.LeadID,
		ClientID:   r.ClientID,
		AgentID:    r.AgentID,
		Status:     domain.QueueStatus(r.Status),
		Priority:   r.Priority,
		RetryCount: r.RetryCount,
		QueuedAt:   r.QueuedAt,
		CallID:     r.CallID,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		item.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		item.CompletedAt = &t
	}
	if r.NextRetryAt.Valid {
		t := r.NextRetryAt.Time
		item.NextRetryAt = &t
	}
	if r.ErrorMessage.Valid {
		s := r.ErrorMessage.String
		item.ErrorMessage = &s
	}
	return item
}
