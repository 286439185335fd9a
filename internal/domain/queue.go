package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus enumerates lifecycle states of a dispatch queue item.
type QueueStatus string

const (
	QueueStatusPending           QueueStatus = "pending"
	QueueStatusInProgress        QueueStatus = "in_progress"
	QueueStatusCompleted         QueueStatus = "completed"
	QueueStatusFailed            QueueStatus = "failed"
	QueueStatusRetryPending      QueueStatus = "retry_pending"
	QueueStatusMaxRetriesReached QueueStatus = "max_retries_reached"
)

// QueueItem is one persisted dial request with its own lifecycle,
// independent of the Call record it eventually produces.
//
// Invariants: at most one item per lead is in_progress at a time;
// retry_count never exceeds the campaign's max daily retries;
// next_retry_at is set exactly when status is retry_pending.
type QueueItem struct {
	ID           uuid.UUID
	CampaignID   uuid.UUID
	LeadID       uuid.UUID
	ClientID     uuid.UUID
	AgentID      uuid.UUID
	Status       QueueStatus
	Priority     int
	RetryCount   int
	QueuedAt     time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	NextRetryAt  *time.Time
	CallID       *uuid.UUID
	ErrorMessage *string
}

// Terminal reports whether the item can never be dialed again.
func (q QueueStatus) Terminal() bool {
	switch q {
	case QueueStatusCompleted, QueueStatusFailed, QueueStatusMaxRetriesReached:
		return true
	}
	return false
}
