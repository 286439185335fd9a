package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
	"github.com/acme/voice-campaign-dispatcher/internal/retry"
	"github.com/acme/voice-campaign-dispatcher/internal/statussync"
	"github.com/acme/voice-campaign-dispatcher/internal/telephony"
)

type memCampaigns struct {
	campaign *domain.Campaign
}

func (m *memCampaigns) Create(ctx context.Context, campaign *domain.Campaign) error { return nil }
func (m *memCampaigns) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	if m.campaign != nil && m.campaign.ID == id {
		clone := *m.campaign
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}
func (m *memCampaigns) Update(ctx context.Context, campaign *domain.Campaign) error { return nil }
func (m *memCampaigns) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	return nil
}
func (m *memCampaigns) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	return nil, nil
}
func (m *memCampaigns) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	return nil, nil
}

// lastPlacementFor returns the most recent placement to the number along
// with the provider execution id it was assigned.
func lastPlacementFor(p *memProvider, phone string) (telephony.PlacementRequest, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.placements) - 1; i >= 0; i-- {
		if p.placements[i].ToNumber == phone {
			return p.placements[i], fmt.Sprintf("exec-%d", i+1), true
		}
	}
	return telephony.PlacementRequest{}, "", false
}

func setExecution(p *memProvider, id, status string, durationSeconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executions[id] = telephony.Execution{
		ExecutionID:     id,
		Status:          status,
		DurationSeconds: durationSeconds,
	}
}

// TestEndToEndCampaignFlow drives three leads through a campaign with a
// concurrency ceiling of two: two dispatched first, one connects, one goes
// to retry, the third fills the freed slot, and the retry exhausts at the
// cap after failing a second time.
func TestEndToEndCampaignFlow(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	w.campaign.ConcurrencyLevel = 2
	w.campaign.RetryPolicy = domain.RetryPolicy{RetryDelay: 5 * time.Minute, MaxDailyRetries: 1}

	campaigns := &memCampaigns{campaign: w.campaign}
	retries := retry.NewScheduler(w.queue, w.leads, w.stats, testLogger())
	sync := statussync.NewSynchronizer(
		w.provider, w.calls, w.queue, campaigns, w.leads, w.stats,
		retries, 45*time.Second, testLogger(),
	)

	base := time.Now().UTC()
	phoneA, phoneB, phoneC := "+15550001", "+15550002", "+15550003"
	itemA := w.addItem(w.addLead(phoneA), 0, base)
	itemB := w.addItem(w.addLead(phoneB), 0, base.Add(time.Second))
	itemC := w.addItem(w.addLead(phoneC), 0, base.Add(2*time.Second))

	// Tick 1: two slots, A and B go out, C waits.
	slots, err := w.admission.AvailableSlots(ctx, w.campaign, base)
	if err != nil {
		t.Fatalf("tick 1 slots: %v", err)
	}
	if slots != 2 {
		t.Fatalf("tick 1: expected 2 slots, got %d", slots)
	}
	report, err := w.dispatcher.Dispatch(ctx, w.campaign, slots)
	if err != nil {
		t.Fatalf("tick 1 dispatch: %v", err)
	}
	if report.Placed != 2 {
		t.Fatalf("tick 1: expected 2 placed, got %d", report.Placed)
	}
	if got := w.queue.get(itemC.ID).Status; got != domain.QueueStatusPending {
		t.Fatalf("tick 1: expected third item pending, got %s", got)
	}

	// A connects: completed at 60s clears the threshold.
	reqA, execA, ok := lastPlacementFor(w.provider, phoneA)
	if !ok {
		t.Fatalf("no placement for %s", phoneA)
	}
	setExecution(w.provider, execA, "completed", 60)
	resA, err := sync.Sync(ctx, execA, reqA.Correlation.CallID, reqA.Correlation.QueueItemID)
	if err != nil {
		t.Fatalf("sync A: %v", err)
	}
	if !resA.Connected || !resA.Applied {
		t.Fatalf("expected A connected and applied, got %+v", resA)
	}
	if got := w.queue.get(itemA.ID).Status; got != domain.QueueStatusCompleted {
		t.Fatalf("expected A completed, got %s", got)
	}

	// B goes unanswered and is scheduled for one retry.
	reqB, execB, ok := lastPlacementFor(w.provider, phoneB)
	if !ok {
		t.Fatalf("no placement for %s", phoneB)
	}
	setExecution(w.provider, execB, "no-answer", 10)
	if _, err := sync.Sync(ctx, execB, reqB.Correlation.CallID, reqB.Correlation.QueueItemID); err != nil {
		t.Fatalf("sync B: %v", err)
	}
	gotB := w.queue.get(itemB.ID)
	if gotB.Status != domain.QueueStatusRetryPending {
		t.Fatalf("expected B retry_pending, got %s", gotB.Status)
	}
	if gotB.RetryCount != 1 {
		t.Fatalf("expected B retry_count 1, got %d", gotB.RetryCount)
	}
	if gotB.NextRetryAt == nil {
		t.Fatalf("expected B next_retry_at set")
	}
	wantRetry := time.Now().UTC().Add(5 * time.Minute)
	if diff := gotB.NextRetryAt.Sub(wantRetry); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("expected B retry near +5m, got %v", gotB.NextRetryAt)
	}

	// Tick 2, immediately after: C fills a freed slot, B is not yet due.
	slots, err = w.admission.AvailableSlots(ctx, w.campaign, base)
	if err != nil {
		t.Fatalf("tick 2 slots: %v", err)
	}
	report, err = w.dispatcher.Dispatch(ctx, w.campaign, slots)
	if err != nil {
		t.Fatalf("tick 2 dispatch: %v", err)
	}
	if report.Placed != 1 {
		t.Fatalf("tick 2: expected 1 placed, got %d", report.Placed)
	}
	if got := w.queue.get(itemC.ID).Status; got != domain.QueueStatusInProgress {
		t.Fatalf("tick 2: expected C in progress, got %s", got)
	}
	if got := w.queue.get(itemB.ID).Status; got != domain.QueueStatusRetryPending {
		t.Fatalf("tick 2: expected B still retry_pending, got %s", got)
	}

	// Tick 3, past the retry delay: B's retry goes out in the remaining slot.
	w.dispatcher.now = func() time.Time { return time.Now().UTC().Add(6 * time.Minute) }
	slots, err = w.admission.AvailableSlots(ctx, w.campaign, base.Add(6*time.Minute))
	if err != nil {
		t.Fatalf("tick 3 slots: %v", err)
	}
	if slots != 1 {
		t.Fatalf("tick 3: expected 1 slot with C still active, got %d", slots)
	}
	report, err = w.dispatcher.Dispatch(ctx, w.campaign, slots)
	if err != nil {
		t.Fatalf("tick 3 dispatch: %v", err)
	}
	if report.Placed != 1 {
		t.Fatalf("tick 3: expected B's retry placed, got %d", report.Placed)
	}

	// The retry also goes unanswered; the cap of one is reached.
	reqB2, execB2, ok := lastPlacementFor(w.provider, phoneB)
	if !ok {
		t.Fatalf("no retry placement for %s", phoneB)
	}
	if execB2 == execB {
		t.Fatalf("expected a fresh execution for B's retry")
	}
	setExecution(w.provider, execB2, "no-answer", 0)
	if _, err := sync.Sync(ctx, execB2, reqB2.Correlation.CallID, reqB2.Correlation.QueueItemID); err != nil {
		t.Fatalf("sync B retry: %v", err)
	}
	if got := w.queue.get(itemB.ID).Status; got != domain.QueueStatusMaxRetriesReached {
		t.Fatalf("expected B exhausted at the cap, got %s", got)
	}
}
