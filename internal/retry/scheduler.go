package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
	apperrors "github.com/acme/voice-campaign-dispatcher/pkg/errors"
	"github.com/acme/voice-campaign-dispatcher/pkg/logger"
)

// permanentCauses is the fixed classification list. Anything not on it is
// retryable: transient provider errors, non-connected terminal outcomes,
// and insufficient credits (balances can be topped up mid-campaign).
var permanentCauses = []error{
	apperrors.ErrCallerIDMissing,
	apperrors.ErrAgentNotFound,
	apperrors.ErrLeadPhoneMissing,
}

// Permanent reports whether the failure cause is a configuration problem
// that retrying cannot fix.
func Permanent(cause error) bool {
	for _, sentinel := range permanentCauses {
		if errors.Is(cause, sentinel) {
			return true
		}
	}
	return false
}

// Scheduler decides what happens to a queue item after a failed or
// non-connected attempt: requeue with a delay, or stop.
type Scheduler struct {
	queue repository.QueueRepository
	leads repository.LeadRepository
	stats repository.CampaignStatisticsRepository
	log   *logger.Logger
	now   func() time.Time
}

// NewScheduler constructs the retry scheduler.
func NewScheduler(
	queue repository.QueueRepository,
	leads repository.LeadRepository,
	stats repository.CampaignStatisticsRepository,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		queue: queue,
		leads: leads,
		stats: stats,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// HandleFailure records a dispatch-time failure for an in-progress item.
// Permanent causes go straight to failed with retry_count untouched;
// everything else is requeued up to the campaign's daily cap.
func (s *Scheduler) HandleFailure(ctx context.Context, item *domain.QueueItem, campaign *domain.Campaign, cause error) error {
	if Permanent(cause) {
		now := s.now()
		if err := s.queue.MarkFailed(ctx, item.ID, cause.Error(), now); err != nil {
			return fmt.Errorf("retry scheduler: mark failed: %w", err)
		}
		s.applyDelta(ctx, campaign.ID, repository.StatsDelta{FailedCallsDelta: 1, InProgressCallsDelta: -1})
		s.mirrorLead(ctx, item.LeadID, domain.CallStatusFailed, item.CallID, domain.LeadStageContacted)
		return nil
	}

	return s.Reschedule(ctx, item, campaign, cause.Error())
}

// Reschedule requeues a retryable item, or marks it exhausted once the cap
// is hit. Also the landing path for non-connected terminal call outcomes.
func (s *Scheduler) Reschedule(ctx context.Context, item *domain.QueueItem, campaign *domain.Campaign, reason string) error {
	now := s.now()

	if item.RetryCount >= campaign.RetryPolicy.MaxDailyRetries {
		if err := s.queue.MarkExhausted(ctx, item.ID, reason, now); err != nil {
			return fmt.Errorf("retry scheduler: mark exhausted: %w", err)
		}
		s.applyDelta(ctx, campaign.ID, repository.StatsDelta{FailedCallsDelta: 1, InProgressCallsDelta: -1})
		s.mirrorLead(ctx, item.LeadID, domain.CallStatusFailed, item.CallID, domain.LeadStageExhausted)
		s.log.Info("retry scheduler: item exhausted",
			zap.String("queue_item_id", item.ID.String()),
			zap.Int("retry_count", item.RetryCount),
			zap.String("reason", reason),
		)
		return nil
	}

	nextRetryAt := now.Add(campaign.RetryPolicy.RetryDelay)
	if err := s.queue.Requeue(ctx, item.ID, item.RetryCount+1, nextRetryAt); err != nil {
		return fmt.Errorf("retry scheduler: requeue: %w", err)
	}
	s.applyDelta(ctx, campaign.ID, repository.StatsDelta{RetriesScheduledDelta: 1, InProgressCallsDelta: -1})
	s.mirrorLead(ctx, item.LeadID, domain.CallStatusFailed, nil, domain.LeadStageContacted)
	s.log.Info("retry scheduler: item requeued",
		zap.String("queue_item_id", item.ID.String()),
		zap.Int("retry_count", item.RetryCount+1),
		zap.Time("next_retry_at", nextRetryAt),
	)
	return nil
}

// applyDelta adjusts advisory counters. Counter drift never blocks the
// lifecycle transition that already committed.
func (s *Scheduler) applyDelta(ctx context.Context, campaignID uuid.UUID, delta repository.StatsDelta) {
	if err := s.stats.ApplyDelta(ctx, campaignID, delta); err != nil {
		s.log.Warn("retry scheduler: apply stats delta", zap.String("campaign_id", campaignID.String()), zap.Error(err))
	}
}

func (s *Scheduler) mirrorLead(ctx context.Context, leadID uuid.UUID, status domain.CallStatus, callID *uuid.UUID, stage domain.LeadStage) {
	if err := s.leads.UpdateDispatchState(ctx, leadID, status, callID, stage); err != nil {
		s.log.Warn("retry scheduler: mirror lead state", zap.String("lead_id", leadID.String()), zap.Error(err))
	}
}
