package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
	apperrors "github.com/acme/voice-campaign-dispatcher/pkg/errors"
	"github.com/acme/voice-campaign-dispatcher/pkg/logger"
)

// recordingQueue captures the single transition the scheduler applies.
type recordingQueue struct {
	failed      *uuid.UUID
	failedMsg   string
	requeued    *uuid.UUID
	retryCount  int
	nextRetryAt time.Time
	exhausted   *uuid.UUID
}

func (r *recordingQueue) Enqueue(ctx context.Context, items []*domain.QueueItem) error { return nil }
func (r *recordingQueue) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	return nil, repository.ErrNotFound
}
func (r *recordingQueue) SelectDue(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]*domain.QueueItem, error) {
	return nil, nil
}
func (r *recordingQueue) Claim(ctx context.Context, id uuid.UUID, from domain.QueueStatus, now time.Time) (bool, error) {
	return false, nil
}
func (r *recordingQueue) CountInProgress(ctx context.Context, campaignID uuid.UUID) (int, error) {
	return 0, nil
}
func (r *recordingQueue) AttachCall(ctx context.Context, id, callID uuid.UUID) error { return nil }
func (r *recordingQueue) MarkCompleted(ctx context.Context, id uuid.UUID, now time.Time) error {
	return nil
}
func (r *recordingQueue) MarkFailed(ctx context.Context, id uuid.UUID, message string, now time.Time) error {
	r.failed = &id
	r.failedMsg = message
	return nil
}
func (r *recordingQueue) Requeue(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time) error {
	r.requeued = &id
	r.retryCount = retryCount
	r.nextRetryAt = nextRetryAt
	return nil
}
func (r *recordingQueue) MarkExhausted(ctx context.Context, id uuid.UUID, message string, now time.Time) error {
	r.exhausted = &id
	return nil
}
func (r *recordingQueue) ListByCampaign(ctx context.Context, campaignID uuid.UUID, status domain.QueueStatus, limit int) ([]*domain.QueueItem, error) {
	return nil, nil
}

type nopLeads struct{}

func (nopLeads) Create(ctx context.Context, lead *domain.Lead) error { return nil }
func (nopLeads) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	return nil, repository.ErrNotFound
}
func (nopLeads) UpdateDispatchState(ctx context.Context, id uuid.UUID, status domain.CallStatus, callID *uuid.UUID, stage domain.LeadStage) error {
	return nil
}

type nopStats struct{}

func (nopStats) Ensure(ctx context.Context, campaignID uuid.UUID) error { return nil }
func (nopStats) Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	return &domain.CampaignStats{}, nil
}
func (nopStats) ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta repository.StatsDelta) error {
	return nil
}

func newTestScheduler(queue *recordingQueue) *Scheduler {
	return NewScheduler(queue, nopLeads{}, nopStats{}, &logger.Logger{Logger: zap.NewNop()})
}

func testItem(retryCount int) *domain.QueueItem {
	return &domain.QueueItem{
		ID:         uuid.New(),
		CampaignID: uuid.New(),
		LeadID:     uuid.New(),
		Status:     domain.QueueStatusInProgress,
		RetryCount: retryCount,
		QueuedAt:   time.Now().UTC().Add(-time.Hour),
	}
}

func testCampaign(maxRetries int) *domain.Campaign {
	return &domain.Campaign{
		ID:          uuid.New(),
		RetryPolicy: domain.RetryPolicy{RetryDelay: 20 * time.Minute, MaxDailyRetries: maxRetries},
	}
}

func TestPermanentClassification(t *testing.T) {
	permanent := []error{
		apperrors.ErrCallerIDMissing,
		apperrors.ErrAgentNotFound,
		apperrors.ErrLeadPhoneMissing,
		fmt.Errorf("dispatcher: client abc: %w", apperrors.ErrCallerIDMissing),
	}
	for _, err := range permanent {
		if !Permanent(err) {
			t.Errorf("expected %v to classify as permanent", err)
		}
	}

	retryable := []error{
		apperrors.ErrInsufficientCredits,
		errors.New("provider timeout"),
		errors.New("placement throttle saturated"),
	}
	for _, err := range retryable {
		if Permanent(err) {
			t.Errorf("expected %v to classify as retryable", err)
		}
	}
}

func TestHandleFailurePermanentMarksFailed(t *testing.T) {
	queue := &recordingQueue{}
	s := newTestScheduler(queue)
	item := testItem(0)

	err := s.HandleFailure(context.Background(), item, testCampaign(3), apperrors.ErrAgentNotFound)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if queue.failed == nil || *queue.failed != item.ID {
		t.Fatalf("expected item marked failed")
	}
	if queue.requeued != nil || queue.exhausted != nil {
		t.Fatalf("expected no retry for permanent failure")
	}
}

func TestHandleFailureRetryableRequeues(t *testing.T) {
	queue := &recordingQueue{}
	s := newTestScheduler(queue)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	item := testItem(0)
	campaign := testCampaign(3)

	if err := s.HandleFailure(context.Background(), item, campaign, errors.New("provider timeout")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if queue.requeued == nil || *queue.requeued != item.ID {
		t.Fatalf("expected item requeued")
	}
	if queue.retryCount != 1 {
		t.Fatalf("expected retry_count incremented to 1, got %d", queue.retryCount)
	}
	want := now.Add(campaign.RetryPolicy.RetryDelay)
	if !queue.nextRetryAt.Equal(want) {
		t.Fatalf("expected next_retry_at %v, got %v", want, queue.nextRetryAt)
	}
}

func TestRescheduleAtCapExhausts(t *testing.T) {
	queue := &recordingQueue{}
	s := newTestScheduler(queue)

	// retry_count equals the cap, so no further attempt is allowed.
	item := testItem(1)
	if err := s.Reschedule(context.Background(), item, testCampaign(1), "no-answer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if queue.exhausted == nil || *queue.exhausted != item.ID {
		t.Fatalf("expected item exhausted at the cap")
	}
	if queue.requeued != nil {
		t.Fatalf("expected no requeue at the cap")
	}
}

func TestRescheduleBelowCapRequeues(t *testing.T) {
	queue := &recordingQueue{}
	s := newTestScheduler(queue)

	item := testItem(0)
	if err := s.Reschedule(context.Background(), item, testCampaign(1), "busy"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if queue.requeued == nil {
		t.Fatalf("expected requeue below the cap")
	}
	if queue.retryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", queue.retryCount)
	}
}

func TestZeroMaxRetriesNeverRequeues(t *testing.T) {
	queue := &recordingQueue{}
	s := newTestScheduler(queue)

	item := testItem(0)
	if err := s.Reschedule(context.Background(), item, testCampaign(0), "no-answer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if queue.exhausted == nil {
		t.Fatalf("expected immediate exhaustion with a zero retry cap")
	}
}
