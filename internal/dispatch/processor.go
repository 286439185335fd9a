package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
	"github.com/acme/voice-campaign-dispatcher/pkg/logger"
)

// Processor drives the dispatch loop: every tick it walks the active
// campaigns, asks admission for free slots, and runs a dispatch batch per
// campaign. Campaign state and in-progress counts are re-read on every
// tick, never carried across ticks.
type Processor struct {
	campaigns  repository.CampaignRepository
	windows    repository.CallingWindowRepository
	admission  *AdmissionController
	dispatcher *Dispatcher
	fetchLimit int
	log        *logger.Logger
	now        func() time.Time
}

// NewProcessor constructs the dispatch processor.
func NewProcessor(
	campaigns repository.CampaignRepository,
	windows repository.CallingWindowRepository,
	admission *AdmissionController,
	dispatcher *Dispatcher,
	fetchLimit int,
	log *logger.Logger,
) *Processor {
	if fetchLimit <= 0 {
		fetchLimit = 100
	}
	return &Processor{
		campaigns:  campaigns,
		windows:    windows,
		admission:  admission,
		dispatcher: dispatcher,
		fetchLimit: fetchLimit,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the dispatch loop until the context is cancelled.
func (p *Processor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.log.Error("dispatch tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one pass over all active campaigns.
func (p *Processor) Tick(ctx context.Context) error {
	tracer := otel.Tracer("dialer.dispatch")
	tctx, span := tracer.Start(ctx, "dispatch.tick")
	defer span.End()

	active, err := p.campaigns.ListByStatus(tctx, domain.CampaignStatusActive, p.fetchLimit)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("dispatch processor: list active campaigns: %w", err)
	}
	span.SetAttributes(attribute.Int("campaign.count", len(active)))

	for _, campaign := range active {
		report, err := p.TickCampaign(tctx, campaign.ID)
		if err != nil {
			p.log.Error("dispatch processor: campaign tick",
				zap.String("campaign_id", campaign.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if report.Considered > 0 {
			p.log.Info("dispatch processor: batch done",
				zap.String("campaign_id", campaign.ID.String()),
				zap.Int("considered", report.Considered),
				zap.Int("placed", report.Placed),
				zap.Int("failed", report.Failed),
				zap.Int("skipped", report.Skipped),
			)
		}
	}

	return nil
}

// TickCampaign dispatches one batch for a single campaign. The campaign is
// re-read so a pause that landed after the active list was fetched still
// closes the gate before any claim happens.
func (p *Processor) TickCampaign(ctx context.Context, campaignID uuid.UUID) (DispatchReport, error) {
	tracer := otel.Tracer("dialer.dispatch")
	cctx, span := tracer.Start(ctx, "dispatch.campaign", trace.WithAttributes(
		attribute.String("campaign.id", campaignID.String()),
	))
	defer span.End()

	campaign, err := p.campaigns.Get(cctx, campaignID)
	if err != nil {
		span.RecordError(err)
		return DispatchReport{CampaignID: campaignID}, fmt.Errorf("dispatch processor: load campaign: %w", err)
	}

	windows, err := p.windows.List(cctx, campaignID)
	if err != nil {
		span.RecordError(err)
		return DispatchReport{CampaignID: campaignID}, fmt.Errorf("dispatch processor: load calling windows: %w", err)
	}
	campaign.CallingWindows = windows

	nowUTC := p.now()
	slots, err := p.admission.AvailableSlots(cctx, campaign, nowUTC)
	if err != nil {
		span.RecordError(err)
		return DispatchReport{CampaignID: campaignID}, err
	}
	span.SetAttributes(attribute.Int("slots.available", slots))
	if slots == 0 {
		return DispatchReport{CampaignID: campaignID}, nil
	}

	report, err := p.dispatcher.Dispatch(cctx, campaign, slots)
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	span.SetAttributes(
		attribute.Int("batch.considered", report.Considered),
		attribute.Int("batch.placed", report.Placed),
		attribute.Int("batch.failed", report.Failed),
	)
	return report, nil
}
