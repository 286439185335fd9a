package statussync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
	"github.com/acme/voice-campaign-dispatcher/internal/retry"
	"github.com/acme/voice-campaign-dispatcher/internal/telephony"
	"github.com/acme/voice-campaign-dispatcher/pkg/logger"
)

type fakeProvider struct {
	executions map[string]telephony.Execution
}

func (p *fakeProvider) PlaceCall(ctx context.Context, req telephony.PlacementRequest) (telephony.Placement, error) {
	return telephony.Placement{}, fmt.Errorf("not supported")
}

func (p *fakeProvider) GetExecution(ctx context.Context, executionID string) (telephony.Execution, error) {
	exec, ok := p.executions[executionID]
	if !ok {
		return telephony.Execution{}, fmt.Errorf("execution %s not found", executionID)
	}
	return exec, nil
}

func (p *fakeProvider) StopCall(ctx context.Context, executionID string) error { return nil }

type fakeCallStore struct {
	mu    sync.Mutex
	calls map[uuid.UUID]*domain.Call
}

func (s *fakeCallStore) CreateCall(ctx context.Context, record *domain.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.calls[record.ID] = &clone
	return nil
}

func (s *fakeCallStore) AttachExecution(ctx context.Context, callID uuid.UUID, externalCallID string) error {
	return nil
}

func (s *fakeCallStore) GetCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *call
	return &clone, nil
}

func (s *fakeCallStore) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return repository.ErrNotFound
	}
	if call.Status.Terminal() {
		return nil
	}
	call.Status = status
	return nil
}

func (s *fakeCallStore) Finalize(ctx context.Context, callID uuid.UUID, final repository.CallCompletion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if call.Status.Terminal() {
		return false, nil
	}
	call.Status = final.Status
	call.DurationSeconds = final.DurationSeconds
	call.Connected = final.Connected
	ended := final.EndedAt
	call.EndedAt = &ended
	return true, nil
}

func (s *fakeCallStore) ListCallsByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.Call, []byte, error) {
	return nil, nil, nil
}

type fakeQueue struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.QueueItem
	// completeErr fails the next MarkCompleted once, then clears.
	completeErr error
}

func (q *fakeQueue) Enqueue(ctx context.Context, items []*domain.QueueItem) error { return nil }

func (q *fakeQueue) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *item
	return &clone, nil
}

func (q *fakeQueue) SelectDue(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]*domain.QueueItem, error) {
	return nil, nil
}

func (q *fakeQueue) Claim(ctx context.Context, id uuid.UUID, from domain.QueueStatus, now time.Time) (bool, error) {
	return false, nil
}

func (q *fakeQueue) CountInProgress(ctx context.Context, campaignID uuid.UUID) (int, error) {
	return 0, nil
}

func (q *fakeQueue) AttachCall(ctx context.Context, id, callID uuid.UUID) error { return nil }

func (q *fakeQueue) MarkCompleted(ctx context.Context, id uuid.UUID, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.completeErr != nil {
		err := q.completeErr
		q.completeErr = nil
		return err
	}
	item, ok := q.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	item.Status = domain.QueueStatusCompleted
	item.CompletedAt = &now
	return nil
}

func (q *fakeQueue) MarkFailed(ctx context.Context, id uuid.UUID, message string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.items[id]
	item.Status = domain.QueueStatusFailed
	item.ErrorMessage = &message
	return nil
}

func (q *fakeQueue) Requeue(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	item.Status = domain.QueueStatusRetryPending
	item.RetryCount = retryCount
	item.NextRetryAt = &nextRetryAt
	return nil
}

func (q *fakeQueue) MarkExhausted(ctx context.Context, id uuid.UUID, message string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	item.Status = domain.QueueStatusMaxRetriesReached
	item.ErrorMessage = &message
	return nil
}

func (q *fakeQueue) ListByCampaign(ctx context.Context, campaignID uuid.UUID, status domain.QueueStatus, limit int) ([]*domain.QueueItem, error) {
	return nil, nil
}

func (q *fakeQueue) get(id uuid.UUID) domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.items[id]
}

type fakeCampaigns struct {
	campaigns map[uuid.UUID]*domain.Campaign
}

func (c *fakeCampaigns) Create(ctx context.Context, campaign *domain.Campaign) error { return nil }

func (c *fakeCampaigns) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, ok := c.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return campaign, nil
}

func (c *fakeCampaigns) Update(ctx context.Context, campaign *domain.Campaign) error { return nil }

func (c *fakeCampaigns) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	return nil
}

func (c *fakeCampaigns) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	return nil, nil
}

func (c *fakeCampaigns) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	return nil, nil
}

type fakeLeads struct {
	mu    sync.Mutex
	leads map[uuid.UUID]*domain.Lead
}

func (m *fakeLeads) Create(ctx context.Context, lead *domain.Lead) error { return nil }

func (m *fakeLeads) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *lead
	return &clone, nil
}

func (m *fakeLeads) UpdateDispatchState(ctx context.Context, id uuid.UUID, status domain.CallStatus, callID *uuid.UUID, stage domain.LeadStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	lead.CallStatus = status
	lead.CallID = callID
	lead.Stage = stage
	return nil
}

type countingStats struct {
	mu     sync.Mutex
	totals domain.CampaignStats
}

func (s *countingStats) Ensure(ctx context.Context, campaignID uuid.UUID) error { return nil }

func (s *countingStats) Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := s.totals
	return &clone, nil
}

func (s *countingStats) ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta repository.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.ConnectedCalls += delta.ConnectedCallsDelta
	s.totals.FailedCalls += delta.FailedCallsDelta
	s.totals.InProgressCalls += delta.InProgressCallsDelta
	s.totals.RetriesScheduled += delta.RetriesScheduledDelta
	return nil
}

type syncWorld struct {
	provider  *fakeProvider
	calls     *fakeCallStore
	queue     *fakeQueue
	campaigns *fakeCampaigns
	leads     *fakeLeads
	stats     *countingStats
	sync      *Synchronizer

	campaign *domain.Campaign
	lead     *domain.Lead
	call     *domain.Call
	item     *domain.QueueItem
}

func newSyncWorld(t *testing.T) *syncWorld {
	t.Helper()

	campaign := &domain.Campaign{
		ID:          uuid.New(),
		Status:      domain.CampaignStatusActive,
		TimeZone:    "UTC",
		RetryPolicy: domain.RetryPolicy{RetryDelay: 10 * time.Minute, MaxDailyRetries: 2},
	}
	lead := &domain.Lead{ID: uuid.New(), PhoneNumber: "+15550101", Stage: domain.LeadStageContacted}
	call := &domain.Call{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		LeadID:     lead.ID,
		Status:     domain.CallStatusInitiated,
		StartedAt:  time.Now().UTC().Add(-2 * time.Minute),
	}
	item := &domain.QueueItem{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		LeadID:     lead.ID,
		Status:     domain.QueueStatusInProgress,
		QueuedAt:   time.Now().UTC().Add(-time.Hour),
		CallID:     &call.ID,
	}

	w := &syncWorld{
		provider:  &fakeProvider{executions: make(map[string]telephony.Execution)},
		calls:     &fakeCallStore{calls: map[uuid.UUID]*domain.Call{call.ID: call}},
		queue:     &fakeQueue{items: map[uuid.UUID]*domain.QueueItem{item.ID: item}},
		campaigns: &fakeCampaigns{campaigns: map[uuid.UUID]*domain.Campaign{campaign.ID: campaign}},
		leads:     &fakeLeads{leads: map[uuid.UUID]*domain.Lead{lead.ID: lead}},
		stats:     &countingStats{},
		campaign:  campaign,
		lead:      lead,
		call:      call,
		item:      item,
	}

	log := &logger.Logger{Logger: zap.NewNop()}
	retries := retry.NewScheduler(w.queue, w.leads, w.stats, log)
	w.sync = NewSynchronizer(
		w.provider, w.calls, w.queue, w.campaigns, w.leads, w.stats,
		retries, 45*time.Second, log,
	)
	return w
}

func (w *syncWorld) setExecution(status string, duration int) {
	w.provider.executions["exec-1"] = telephony.Execution{
		ExecutionID:     "exec-1",
		Status:          status,
		DurationSeconds: duration,
	}
}

func TestSyncNonTerminalAdvancesCallOnly(t *testing.T) {
	w := newSyncWorld(t)
	w.setExecution("ringing", 0)

	result, err := w.sync.Sync(context.Background(), "exec-1", w.call.ID, w.item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Terminal {
		t.Fatalf("expected non-terminal result for ringing")
	}
	if result.Status != domain.CallStatusRinging {
		t.Fatalf("expected ringing, got %s", result.Status)
	}

	call, _ := w.calls.GetCall(context.Background(), w.call.ID)
	if call.Status != domain.CallStatusRinging {
		t.Fatalf("expected call record ringing, got %s", call.Status)
	}
	if got := w.queue.get(w.item.ID).Status; got != domain.QueueStatusInProgress {
		t.Fatalf("expected queue item untouched, got %s", got)
	}
}

func TestSyncConnectedAtThreshold(t *testing.T) {
	w := newSyncWorld(t)
	w.setExecution("completed", 45)

	result, err := w.sync.Sync(context.Background(), "exec-1", w.call.ID, w.item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Connected {
		t.Fatalf("expected a 45s call to count as connected (threshold is inclusive)")
	}

	if got := w.queue.get(w.item.ID).Status; got != domain.QueueStatusCompleted {
		t.Fatalf("expected queue item completed, got %s", got)
	}
	lead, _ := w.leads.Get(context.Background(), w.lead.ID)
	if lead.Stage != domain.LeadStageEngaged {
		t.Fatalf("expected lead engaged, got %s", lead.Stage)
	}
	stats, _ := w.stats.Get(context.Background(), w.campaign.ID)
	if stats.ConnectedCalls != 1 {
		t.Fatalf("expected 1 connected call, got %d", stats.ConnectedCalls)
	}
}

func TestSyncBelowThresholdSchedulesRetry(t *testing.T) {
	w := newSyncWorld(t)
	w.setExecution("completed", 44)

	result, err := w.sync.Sync(context.Background(), "exec-1", w.call.ID, w.item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Connected {
		t.Fatalf("expected a 44s call to not count as connected")
	}

	got := w.queue.get(w.item.ID)
	if got.Status != domain.QueueStatusRetryPending {
		t.Fatalf("expected retry_pending for short call, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", got.RetryCount)
	}

	call, _ := w.calls.GetCall(context.Background(), w.call.ID)
	if call.Status != domain.CallStatusCompleted || call.Connected {
		t.Fatalf("expected finalized completed/unconnected call, got %s connected=%v", call.Status, call.Connected)
	}
}

func TestSyncNoAnswerSchedulesRetry(t *testing.T) {
	w := newSyncWorld(t)
	w.setExecution("no-answer", 0)

	if _, err := w.sync.Sync(context.Background(), "exec-1", w.call.ID, w.item.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := w.queue.get(w.item.ID).Status; got != domain.QueueStatusRetryPending {
		t.Fatalf("expected retry_pending after no-answer, got %s", got)
	}
	call, _ := w.calls.GetCall(context.Background(), w.call.ID)
	if call.Status != domain.CallStatusNoAnswer {
		t.Fatalf("expected no_answer call status, got %s", call.Status)
	}
}

func TestSyncExhaustsAtRetryCap(t *testing.T) {
	w := newSyncWorld(t)
	w.item.RetryCount = 2
	w.queue.items[w.item.ID].RetryCount = 2
	w.setExecution("busy", 0)

	if _, err := w.sync.Sync(context.Background(), "exec-1", w.call.ID, w.item.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := w.queue.get(w.item.ID).Status; got != domain.QueueStatusMaxRetriesReached {
		t.Fatalf("expected max_retries_reached at the cap, got %s", got)
	}
}

func TestSyncTerminalIsIdempotent(t *testing.T) {
	w := newSyncWorld(t)
	w.setExecution("completed", 60)

	first, err := w.sync.Sync(context.Background(), "exec-1", w.call.ID, w.item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Applied {
		t.Fatalf("expected first terminal sync to apply")
	}

	second, err := w.sync.Sync(context.Background(), "exec-1", w.call.ID, w.item.ID)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if second.Applied {
		t.Fatalf("expected replayed terminal sync to be a no-op")
	}

	stats, _ := w.stats.Get(context.Background(), w.campaign.ID)
	if stats.ConnectedCalls != 1 {
		t.Fatalf("expected connected counted once, got %d", stats.ConnectedCalls)
	}
	if got := w.queue.get(w.item.ID).Status; got != domain.QueueStatusCompleted {
		t.Fatalf("expected queue item completed, got %s", got)
	}
}

func TestSyncRetryAfterSettleFailureCompletesItem(t *testing.T) {
	w := newSyncWorld(t)
	w.setExecution("completed", 60)
	w.queue.completeErr = errors.New("connection reset by peer")

	// First pass finalizes the call but fails settling the queue item.
	if _, err := w.sync.Sync(context.Background(), "exec-1", w.call.ID, w.item.ID); err == nil {
		t.Fatalf("expected first sync to fail on queue settle")
	}
	call, _ := w.calls.GetCall(context.Background(), w.call.ID)
	if call.Status != domain.CallStatusCompleted {
		t.Fatalf("expected call finalized on first pass, got %s", call.Status)
	}
	if got := w.queue.get(w.item.ID).Status; got != domain.QueueStatusInProgress {
		t.Fatalf("expected item still in progress after failed settle, got %s", got)
	}

	// The retried pass finds the call already terminal and must still
	// settle the item from the stored record.
	result, err := w.sync.Sync(context.Background(), "exec-1", w.call.ID, w.item.ID)
	if err != nil {
		t.Fatalf("unexpected error on retried sync: %v", err)
	}
	if result.Applied {
		t.Fatalf("expected no second terminal write on retry")
	}
	if got := w.queue.get(w.item.ID).Status; got != domain.QueueStatusCompleted {
		t.Fatalf("expected item completed after retried sync, got %s", got)
	}
	stats, _ := w.stats.Get(context.Background(), w.campaign.ID)
	if stats.ConnectedCalls != 1 {
		t.Fatalf("expected connected counted once, got %d", stats.ConnectedCalls)
	}
}

func TestSyncPausedCampaignStillFinalizesInFlight(t *testing.T) {
	// Pausing only blocks admissions; calls already in flight must keep
	// syncing to their terminal state.
	connected := newSyncWorld(t)
	connected.campaign.Status = domain.CampaignStatusPaused
	connected.setExecution("completed", 60)

	if _, err := connected.sync.Sync(context.Background(), "exec-1", connected.call.ID, connected.item.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := connected.queue.get(connected.item.ID).Status; got != domain.QueueStatusCompleted {
		t.Fatalf("expected in-flight item completed under pause, got %s", got)
	}

	missed := newSyncWorld(t)
	missed.campaign.Status = domain.CampaignStatusPaused
	missed.setExecution("no-answer", 0)

	if _, err := missed.sync.Sync(context.Background(), "exec-1", missed.call.ID, missed.item.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := missed.queue.get(missed.item.ID)
	if got.Status != domain.QueueStatusRetryPending {
		t.Fatalf("expected retry scheduling to run under pause, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("expected retry_count 1 under pause, got %d", got.RetryCount)
	}
}

func TestSyncStoppedCallIsFailedTerminal(t *testing.T) {
	w := newSyncWorld(t)
	w.setExecution("stopped", 10)

	result, err := w.sync.Sync(context.Background(), "exec-1", w.call.ID, w.item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Terminal || result.Status != domain.CallStatusFailed {
		t.Fatalf("expected stopped to map to terminal failed, got terminal=%v status=%s", result.Terminal, result.Status)
	}
}
