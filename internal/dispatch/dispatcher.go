package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/ledger"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
	"github.com/acme/voice-campaign-dispatcher/internal/retry"
	"github.com/acme/voice-campaign-dispatcher/internal/telephony"
	apperrors "github.com/acme/voice-campaign-dispatcher/pkg/errors"
	"github.com/acme/voice-campaign-dispatcher/pkg/logger"
)

// PlacementThrottle caps simultaneous placement requests against the
// provider. Saturation is a transient condition, not an error.
type PlacementThrottle interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// ItemOutcome classifies what happened to one queue item during a batch.
type ItemOutcome string

const (
	OutcomeSkipped ItemOutcome = "skipped"
	OutcomePlaced  ItemOutcome = "placed"
	OutcomeFailed  ItemOutcome = "failed"
)

// ItemReport is the per-item record inside a dispatch report.
type ItemReport struct {
	QueueItemID uuid.UUID
	LeadID      uuid.UUID
	Outcome     ItemOutcome
	CallID      *uuid.UUID
	Error       string
}

// DispatchReport summarizes one batch. A batch never aborts midway; every
// selected item gets its own entry regardless of earlier failures.
type DispatchReport struct {
	CampaignID uuid.UUID
	Considered int
	Placed     int
	Failed     int
	Skipped    int
	Items      []ItemReport
}

// Dispatcher claims due queue items and places calls for them. Claiming is
// a conditional update on the item's prior status, so concurrent dispatcher
// processes may run the same campaign without double-dialing.
type Dispatcher struct {
	queue    repository.QueueRepository
	leads    repository.LeadRepository
	clients  repository.ClientRepository
	agents   repository.AgentRepository
	calls    repository.CallStore
	stats    repository.CampaignStatisticsRepository
	credits  ledger.CreditLedger
	provider telephony.Provider
	throttle PlacementThrottle
	retries  *retry.Scheduler
	log      *logger.Logger
	now      func() time.Time
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(
	queue repository.QueueRepository,
	leads repository.LeadRepository,
	clients repository.ClientRepository,
	agents repository.AgentRepository,
	calls repository.CallStore,
	stats repository.CampaignStatisticsRepository,
	credits ledger.CreditLedger,
	provider telephony.Provider,
	throttle PlacementThrottle,
	retries *retry.Scheduler,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		leads:    leads,
		clients:  clients,
		agents:   agents,
		calls:    calls,
		stats:    stats,
		credits:  credits,
		provider: provider,
		throttle: throttle,
		retries:  retries,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch selects up to slots due items for the campaign and processes each
// one: claim, check preconditions, place the call. Failures are recorded per
// item and handed to the retry scheduler; the loop always continues to the
// next item.
func (d *Dispatcher) Dispatch(ctx context.Context, campaign *domain.Campaign, slots int) (DispatchReport, error) {
	report := DispatchReport{CampaignID: campaign.ID}
	if slots <= 0 {
		return report, nil
	}

	now := d.now()
	due, err := d.queue.SelectDue(ctx, campaign.ID, now, slots)
	if err != nil {
		return report, fmt.Errorf("dispatcher: select due items: %w", err)
	}
	report.Considered = len(due)

	for _, item := range due {
		entry := ItemReport{QueueItemID: item.ID, LeadID: item.LeadID}

		claimed, err := d.queue.Claim(ctx, item.ID, item.Status, d.now())
		if err != nil {
			entry.Outcome = OutcomeFailed
			entry.Error = err.Error()
			report.Failed++
			report.Items = append(report.Items, entry)
			d.log.Error("dispatcher: claim", zap.String("queue_item_id", item.ID.String()), zap.Error(err))
			continue
		}
		if !claimed {
			// Another process won the race, or the lead is already on a call.
			entry.Outcome = OutcomeSkipped
			report.Skipped++
			report.Items = append(report.Items, entry)
			continue
		}

		callID, err := d.placeCall(ctx, campaign, item)
		if err != nil {
			entry.Outcome = OutcomeFailed
			entry.Error = err.Error()
			report.Failed++
			report.Items = append(report.Items, entry)
			d.log.Warn("dispatcher: placement failed",
				zap.String("queue_item_id", item.ID.String()),
				zap.String("lead_id", item.LeadID.String()),
				zap.Error(err),
			)
			if rerr := d.retries.HandleFailure(ctx, item, campaign, err); rerr != nil {
				d.log.Error("dispatcher: record failure", zap.String("queue_item_id", item.ID.String()), zap.Error(rerr))
			}
			continue
		}

		entry.Outcome = OutcomePlaced
		entry.CallID = &callID
		report.Placed++
		report.Items = append(report.Items, entry)
	}

	return report, nil
}

// placeCall runs the precondition checks and hands the claimed item to the
// provider. Precondition failures return the classification sentinels the
// retry scheduler keys on.
func (d *Dispatcher) placeCall(ctx context.Context, campaign *domain.Campaign, item *domain.QueueItem) (uuid.UUID, error) {
	lead, err := d.leads.Get(ctx, item.LeadID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatcher: load lead %s: %w", item.LeadID, err)
	}
	if lead.PhoneNumber == "" {
		return uuid.Nil, fmt.Errorf("dispatcher: lead %s: %w", lead.ID, apperrors.ErrLeadPhoneMissing)
	}

	client, err := d.clients.Get(ctx, item.ClientID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatcher: load client %s: %w", item.ClientID, err)
	}
	if client.CallerIDNumber == "" {
		return uuid.Nil, fmt.Errorf("dispatcher: client %s: %w", client.ID, apperrors.ErrCallerIDMissing)
	}

	agent, err := d.agents.Get(ctx, item.AgentID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatcher: agent %s: %w", item.AgentID, apperrors.ErrAgentNotFound)
	}

	balance, err := d.credits.GetBalance(ctx, item.ClientID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatcher: check balance: %w", err)
	}
	if balance <= 0 {
		return uuid.Nil, fmt.Errorf("dispatcher: client %s balance %d: %w", client.ID, balance, apperrors.ErrInsufficientCredits)
	}

	acquired, err := d.throttle.Acquire(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatcher: placement throttle: %w", err)
	}
	if !acquired {
		return uuid.Nil, fmt.Errorf("dispatcher: placement throttle saturated")
	}
	defer func() {
		if rerr := d.throttle.Release(ctx); rerr != nil {
			d.log.Warn("dispatcher: release throttle slot", zap.Error(rerr))
		}
	}()

	now := d.now()
	call := &domain.Call{
		ID:         uuid.New(),
		CampaignID: item.CampaignID,
		LeadID:     item.LeadID,
		ClientID:   item.ClientID,
		AgentID:    item.AgentID,
		Status:     domain.CallStatusInitiated,
		StartedAt:  now,
	}
	if err := d.calls.CreateCall(ctx, call); err != nil {
		return uuid.Nil, fmt.Errorf("dispatcher: create call record: %w", err)
	}

	placement, err := d.provider.PlaceCall(ctx, telephony.PlacementRequest{
		AgentExternalID: agent.ProviderAgentID,
		ToNumber:        lead.PhoneNumber,
		FromNumber:      client.CallerIDNumber,
		Correlation: telephony.Correlation{
			CallID:      call.ID,
			QueueItemID: item.ID,
		},
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatcher: place call: %w", err)
	}

	if err := d.calls.AttachExecution(ctx, call.ID, placement.ExecutionID); err != nil {
		d.log.Error("dispatcher: attach execution",
			zap.String("call_id", call.ID.String()),
			zap.String("execution_id", placement.ExecutionID),
			zap.Error(err),
		)
	}
	if err := d.queue.AttachCall(ctx, item.ID, call.ID); err != nil {
		d.log.Error("dispatcher: attach call to queue item", zap.String("queue_item_id", item.ID.String()), zap.Error(err))
	}
	if err := d.leads.UpdateDispatchState(ctx, lead.ID, domain.CallStatusInitiated, &call.ID, domain.LeadStageContacted); err != nil {
		d.log.Warn("dispatcher: mirror lead state", zap.String("lead_id", lead.ID.String()), zap.Error(err))
	}
	if err := d.stats.ApplyDelta(ctx, campaign.ID, repository.StatsDelta{
		ContactedLeadsDelta:  1,
		InProgressCallsDelta: 1,
	}); err != nil {
		d.log.Warn("dispatcher: apply stats delta", zap.String("campaign_id", campaign.ID.String()), zap.Error(err))
	}

	d.log.Info("dispatcher: call placed",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("queue_item_id", item.ID.String()),
		zap.String("call_id", call.ID.String()),
		zap.String("execution_id", placement.ExecutionID),
	)

	return call.ID, nil
}
