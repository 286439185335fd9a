package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
)

// AdmissionController computes how many new calls a campaign may start.
// The in-progress count is read fresh on every call; nothing here is
// cached, because slots computed from stale counts would overshoot the
// concurrency ceiling.
type AdmissionController struct {
	queue              repository.QueueRepository
	defaultConcurrency int
}

// NewAdmissionController constructs an admission controller. The default
// concurrency applies to campaigns with a non-positive concurrency level.
func NewAdmissionController(queue repository.QueueRepository, defaultConcurrency int) *AdmissionController {
	if defaultConcurrency <= 0 {
		defaultConcurrency = 1
	}
	return &AdmissionController{queue: queue, defaultConcurrency: defaultConcurrency}
}

// AvailableSlots returns concurrency_level minus the current in-progress
// count, floored at zero. A gated campaign always gets zero slots.
func (a *AdmissionController) AvailableSlots(ctx context.Context, campaign *domain.Campaign, nowUTC time.Time) (int, error) {
	if !Admits(campaign, nowUTC) {
		return 0, nil
	}

	limit := campaign.ConcurrencyLevel
	if limit <= 0 {
		limit = a.defaultConcurrency
	}

	active, err := a.queue.CountInProgress(ctx, campaign.ID)
	if err != nil {
		return 0, fmt.Errorf("admission: count in progress: %w", err)
	}

	slots := limit - active
	if slots < 0 {
		slots = 0
	}
	return slots, nil
}
