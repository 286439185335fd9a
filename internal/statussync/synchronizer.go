package statussync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
	"github.com/acme/voice-campaign-dispatcher/internal/retry"
	"github.com/acme/voice-campaign-dispatcher/internal/telephony"
	"github.com/acme/voice-campaign-dispatcher/pkg/logger"
)

// Result describes the outcome of one synchronization pass.
type Result struct {
	Status          domain.CallStatus
	RawStatus       string
	DurationSeconds int
	Connected       bool
	Terminal        bool
	// Applied is false when the call was already terminal and this pass
	// changed nothing. Replayed events land here.
	Applied bool
}

// Synchronizer reconciles provider-side call state with internal records.
// Terminal transitions are applied exactly once per call; replays and
// duplicate events degrade to no-ops.
type Synchronizer struct {
	provider  telephony.Provider
	calls     repository.CallStore
	queue     repository.QueueRepository
	campaigns repository.CampaignRepository
	leads     repository.LeadRepository
	stats     repository.CampaignStatisticsRepository
	retries   *retry.Scheduler
	threshold time.Duration
	log       *logger.Logger
	now       func() time.Time
}

// NewSynchronizer constructs a synchronizer. threshold is the minimum call
// duration, inclusive, for a completed call to count as connected.
func NewSynchronizer(
	provider telephony.Provider,
	calls repository.CallStore,
	queue repository.QueueRepository,
	campaigns repository.CampaignRepository,
	leads repository.LeadRepository,
	stats repository.CampaignStatisticsRepository,
	retries *retry.Scheduler,
	threshold time.Duration,
	log *logger.Logger,
) *Synchronizer {
	if threshold <= 0 {
		threshold = 45 * time.Second
	}
	return &Synchronizer{
		provider:  provider,
		calls:     calls,
		queue:     queue,
		campaigns: campaigns,
		leads:     leads,
		stats:     stats,
		retries:   retries,
		threshold: threshold,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sync fetches the execution's current provider state and applies it. For
// non-terminal statuses only the call record advances. For terminal
// statuses the call is finalized once, then the queue item completes or is
// handed to the retry scheduler.
func (s *Synchronizer) Sync(ctx context.Context, executionID string, callID, queueItemID uuid.UUID) (Result, error) {
	exec, err := s.provider.GetExecution(ctx, executionID)
	if err != nil {
		return Result{}, fmt.Errorf("synchronizer: fetch execution %s: %w", executionID, err)
	}

	status := MapProviderStatus(exec.Status)
	result := Result{
		Status:          status,
		RawStatus:       exec.Status,
		DurationSeconds: exec.DurationSeconds,
		Terminal:        IsTerminalProviderStatus(exec.Status),
	}

	if !result.Terminal {
		if err := s.calls.UpdateStatus(ctx, callID, status); err != nil {
			return result, fmt.Errorf("synchronizer: update call status: %w", err)
		}
		result.Applied = true
		s.mirrorLeadByCall(ctx, callID, status, domain.LeadStageContacted)
		return result, nil
	}

	result.Connected = status == domain.CallStatusCompleted &&
		time.Duration(exec.DurationSeconds)*time.Second >= s.threshold

	applied, err := s.calls.Finalize(ctx, callID, repository.CallCompletion{
		Status:          status,
		DurationSeconds: exec.DurationSeconds,
		Connected:       result.Connected,
		EndedAt:         s.now(),
		RecordingURL:    exec.RecordingURL,
		Transcript:      exec.Transcript,
	})
	if err != nil {
		return result, fmt.Errorf("synchronizer: finalize call: %w", err)
	}
	if !applied {
		// Already terminal: a replayed event, or a retry of a pass that
		// finalized the call but failed before settling the queue item.
		// Settle from the stored record so the item cannot stay
		// in_progress forever; true replays no-op inside settleQueueItem.
		s.log.Debug("synchronizer: call already finalized",
			zap.String("call_id", callID.String()),
			zap.String("raw_status", exec.Status),
		)
		stored, err := s.calls.GetCall(ctx, callID)
		if err != nil {
			return result, fmt.Errorf("synchronizer: load finalized call: %w", err)
		}
		settled := result
		settled.Status = stored.Status
		settled.DurationSeconds = stored.DurationSeconds
		settled.Connected = stored.Connected
		if err := s.settleQueueItem(ctx, queueItemID, callID, settled); err != nil {
			return result, err
		}
		return result, nil
	}
	result.Applied = true

	if err := s.settleQueueItem(ctx, queueItemID, callID, result); err != nil {
		return result, err
	}

	s.log.Info("synchronizer: call finalized",
		zap.String("call_id", callID.String()),
		zap.String("status", string(status)),
		zap.Int("duration_seconds", exec.DurationSeconds),
		zap.Bool("connected", result.Connected),
	)
	return result, nil
}

// settleQueueItem closes out the queue side of a finalized call: completed
// for connected calls, retry handling for everything else.
func (s *Synchronizer) settleQueueItem(ctx context.Context, queueItemID, callID uuid.UUID, result Result) error {
	item, err := s.queue.Get(ctx, queueItemID)
	if err != nil {
		return fmt.Errorf("synchronizer: load queue item: %w", err)
	}

	if item.Status != domain.QueueStatusInProgress {
		// Operator intervention or a prior pass already settled it.
		s.log.Warn("synchronizer: queue item not in progress",
			zap.String("queue_item_id", queueItemID.String()),
			zap.String("status", string(item.Status)),
		)
		return nil
	}

	if result.Connected {
		if err := s.queue.MarkCompleted(ctx, item.ID, s.now()); err != nil {
			return fmt.Errorf("synchronizer: mark queue item completed: %w", err)
		}
		if err := s.stats.ApplyDelta(ctx, item.CampaignID, repository.StatsDelta{
			ConnectedCallsDelta:  1,
			InProgressCallsDelta: -1,
		}); err != nil {
			s.log.Warn("synchronizer: apply stats delta", zap.String("campaign_id", item.CampaignID.String()), zap.Error(err))
		}
		if err := s.leads.UpdateDispatchState(ctx, item.LeadID, domain.CallStatusCompleted, &callID, domain.LeadStageEngaged); err != nil {
			s.log.Warn("synchronizer: mirror lead state", zap.String("lead_id", item.LeadID.String()), zap.Error(err))
		}
		return nil
	}

	campaign, err := s.campaigns.Get(ctx, item.CampaignID)
	if err != nil {
		return fmt.Errorf("synchronizer: load campaign: %w", err)
	}

	reason := fmt.Sprintf("call ended without connection: %s", result.RawStatus)
	if err := s.retries.Reschedule(ctx, item, campaign, reason); err != nil {
		return fmt.Errorf("synchronizer: reschedule: %w", err)
	}
	return nil
}

// mirrorLeadByCall updates the lead mirror for non-terminal progress. The
// call record carries the lead id.
func (s *Synchronizer) mirrorLeadByCall(ctx context.Context, callID uuid.UUID, status domain.CallStatus, stage domain.LeadStage) {
	call, err := s.calls.GetCall(ctx, callID)
	if err != nil {
		s.log.Debug("synchronizer: load call for lead mirror", zap.String("call_id", callID.String()), zap.Error(err))
		return
	}
	if err := s.leads.UpdateDispatchState(ctx, call.LeadID, status, &callID, stage); err != nil {
		s.log.Warn("synchronizer: mirror lead state", zap.String("lead_id", call.LeadID.String()), zap.Error(err))
	}
}
