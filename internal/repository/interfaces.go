package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	apperrors "github.com/acme/voice-campaign-dispatcher/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// QueueRepository owns QueueItem lifecycle transitions. The conditional
// Claim update is the only synchronization primitive the dispatcher relies
// on; no external locks are involved.
type QueueRepository interface {
	Enqueue(ctx context.Context, items []*domain.QueueItem) error
	Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error)
	// SelectDue returns up to limit items eligible for dispatch: pending,
	// or retry_pending with next_retry_at due. Ordered by priority
	// descending, then arrival (queued_at / next_retry_at) ascending.
	SelectDue(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]*domain.QueueItem, error)
	// Claim transitions one item from the expected prior status to
	// in_progress. Returns false when another invocation won the race or
	// the lead already has an in-progress item.
	Claim(ctx context.Context, id uuid.UUID, from domain.QueueStatus, now time.Time) (bool, error)
	// CountInProgress counts active items; uuid.Nil counts across all
	// campaigns.
	CountInProgress(ctx context.Context, campaignID uuid.UUID) (int, error)
	AttachCall(ctx context.Context, id, callID uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string, now time.Time) error
	// Requeue moves an in-progress or failed item back to retry_pending.
	Requeue(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time) error
	MarkExhausted(ctx context.Context, id uuid.UUID, message string, now time.Time) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, status domain.QueueStatus, limit int) ([]*domain.QueueItem, error)
}

// CampaignRepository manages campaign metadata persistence.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, campaign *domain.Campaign) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error
	List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
}

// CallingWindowRepository manages campaign calling windows.
type CallingWindowRepository interface {
	Replace(ctx context.Context, campaignID uuid.UUID, windows []domain.CallingWindow) error
	List(ctx context.Context, campaignID uuid.UUID) ([]domain.CallingWindow, error)
}

// LeadRepository reads leads and mirrors dispatch outcomes onto them.
type LeadRepository interface {
	Create(ctx context.Context, lead *domain.Lead) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	// UpdateDispatchState writes the denormalized call_status/call_id/stage
	// mirror. Advisory only; queue_items stays authoritative.
	UpdateDispatchState(ctx context.Context, id uuid.UUID, status domain.CallStatus, callID *uuid.UUID, stage domain.LeadStage) error
}

// ClientRepository resolves tenant configuration, notably the caller-ID
// number calls are placed from.
type ClientRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Client, error)
}

// AgentRepository resolves conversational agents.
type AgentRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Agent, error)
}

// CampaignStatisticsRepository keeps advisory aggregate counters.
type CampaignStatisticsRepository interface {
	Ensure(ctx context.Context, campaignID uuid.UUID) error
	Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error)
	ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta StatsDelta) error
}

// CallStore persists call execution records.
type CallStore interface {
	CreateCall(ctx context.Context, record *domain.Call) error
	AttachExecution(ctx context.Context, callID uuid.UUID, externalCallID string) error
	GetCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	// UpdateStatus records a non-terminal transition (ringing, in_progress).
	UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error
	// Finalize writes the terminal status and completion fields. It is a
	// no-op returning false when the stored record is already terminal.
	Finalize(ctx context.Context, callID uuid.UUID, final CallCompletion) (bool, error)
	ListCallsByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.Call, []byte, error)
}

// CallCompletion carries the terminal fields written exactly once per call.
type CallCompletion struct {
	Status          domain.CallStatus
	DurationSeconds int
	Connected       bool
	EndedAt         time.Time
	RecordingURL    *string
	Transcript      *string
}

// StatsDelta captures atomic counter increments.
type StatsDelta struct {
	TotalEnqueuedDelta    int64
	ContactedLeadsDelta   int64
	ConnectedCallsDelta   int64
	FailedCallsDelta      int64
	InProgressCallsDelta  int64
	RetriesScheduledDelta int64
}
