package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
	"github.com/acme/voice-campaign-dispatcher/internal/telephony"
	"github.com/acme/voice-campaign-dispatcher/pkg/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

type memQueue struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.QueueItem
}

func newMemQueue() *memQueue {
	return &memQueue{items: make(map[uuid.UUID]*domain.QueueItem)}
}

func (q *memQueue) add(item *domain.QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	clone := *item
	q.items[item.ID] = &clone
}

func (q *memQueue) get(id uuid.UUID) domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.items[id]
}

func (q *memQueue) Enqueue(ctx context.Context, items []*domain.QueueItem) error {
	for _, item := range items {
		q.add(item)
	}
	return nil
}

func (q *memQueue) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *item
	return &clone, nil
}

func (q *memQueue) SelectDue(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]*domain.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*domain.QueueItem
	for _, item := range q.items {
		if item.CampaignID != campaignID {
			continue
		}
		switch item.Status {
		case domain.QueueStatusPending:
		case domain.QueueStatusRetryPending:
			if item.NextRetryAt == nil || item.NextRetryAt.After(now) {
				continue
			}
		default:
			continue
		}
		clone := *item
		due = append(due, &clone)
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return eligibleAt(due[i]).Before(eligibleAt(due[j]))
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func eligibleAt(item *domain.QueueItem) time.Time {
	if item.NextRetryAt != nil {
		return *item.NextRetryAt
	}
	return item.QueuedAt
}

func (q *memQueue) Claim(ctx context.Context, id uuid.UUID, from domain.QueueStatus, now time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok || item.Status != from {
		return false, nil
	}
	for _, other := range q.items {
		if other.ID != id && other.LeadID == item.LeadID && other.Status == domain.QueueStatusInProgress {
			return false, nil
		}
	}
	item.Status = domain.QueueStatusInProgress
	started := now
	item.StartedAt = &started
	item.NextRetryAt = nil
	return true, nil
}

func (q *memQueue) CountInProgress(ctx context.Context, campaignID uuid.UUID) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, item := range q.items {
		if item.Status != domain.QueueStatusInProgress {
			continue
		}
		if campaignID != uuid.Nil && item.CampaignID != campaignID {
			continue
		}
		count++
	}
	return count, nil
}

func (q *memQueue) AttachCall(ctx context.Context, id, callID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	item.CallID = &callID
	return nil
}

func (q *memQueue) MarkCompleted(ctx context.Context, id uuid.UUID, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	item.Status = domain.QueueStatusCompleted
	item.CompletedAt = &now
	return nil
}

func (q *memQueue) MarkFailed(ctx context.Context, id uuid.UUID, message string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	item.Status = domain.QueueStatusFailed
	item.CompletedAt = &now
	item.ErrorMessage = &message
	return nil
}

func (q *memQueue) Requeue(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	item.Status = domain.QueueStatusRetryPending
	item.RetryCount = retryCount
	item.NextRetryAt = &nextRetryAt
	item.StartedAt = nil
	item.CallID = nil
	return nil
}

func (q *memQueue) MarkExhausted(ctx context.Context, id uuid.UUID, message string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	item.Status = domain.QueueStatusMaxRetriesReached
	item.CompletedAt = &now
	item.ErrorMessage = &message
	return nil
}

func (q *memQueue) ListByCampaign(ctx context.Context, campaignID uuid.UUID, status domain.QueueStatus, limit int) ([]*domain.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*domain.QueueItem
	for _, item := range q.items {
		if item.CampaignID != campaignID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		clone := *item
		out = append(out, &clone)
	}
	return out, nil
}

type memLeads struct {
	mu    sync.Mutex
	leads map[uuid.UUID]*domain.Lead
}

func newMemLeads() *memLeads {
	return &memLeads{leads: make(map[uuid.UUID]*domain.Lead)}
}

func (m *memLeads) add(lead *domain.Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *lead
	m.leads[lead.ID] = &clone
}

func (m *memLeads) Create(ctx context.Context, lead *domain.Lead) error {
	m.add(lead)
	return nil
}

func (m *memLeads) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *lead
	return &clone, nil
}

func (m *memLeads) UpdateDispatchState(ctx context.Context, id uuid.UUID, status domain.CallStatus, callID *uuid.UUID, stage domain.LeadStage) error {
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

type memClients struct {
	clients map[uuid.UUID]*domain.Client
}

func (m *memClients) Get(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	client, ok := m.clients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return client, nil
}

type memAgents struct {
	agents map[uuid.UUID]*domain.Agent
}

func (m *memAgents) Get(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	agent, ok := m.agents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return agent, nil
}

type memCallStore struct {
	mu    sync.Mutex
	calls map[uuid.UUID]*domain.Call
}

func newMemCallStore() *memCallStore {
	return &memCallStore{calls: make(map[uuid.UUID]*domain.Call)}
}

func (m *memCallStore) CreateCall(ctx context.Context, record *domain.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.calls[record.ID] = &clone
	return nil
}

func (m *memCallStore) AttachExecution(ctx context.Context, callID uuid.UUID, externalCallID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return repository.ErrNotFound
	}
	call.ExternalCallID = externalCallID
	return nil
}

func (m *memCallStore) GetCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *call
	return &clone, nil
}

func (m *memCallStore) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return repository.ErrNotFound
	}
	if call.Status.Terminal() {
		return nil
	}
	call.Status = status
	return nil
}

func (m *memCallStore) Finalize(ctx context.Context, callID uuid.UUID, final repository.CallCompletion) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
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
	call.RecordingURL = final.RecordingURL
	call.Transcript = final.Transcript
	return true, nil
}

func (m *memCallStore) ListCallsByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.Call, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Call
	for _, call := range m.calls {
		if call.CampaignID == campaignID {
			out = append(out, *call)
		}
	}
	return out, nil, nil
}

type memStats struct {
	mu     sync.Mutex
	totals map[uuid.UUID]*domain.CampaignStats
}

func newMemStats() *memStats {
	return &memStats{totals: make(map[uuid.UUID]*domain.CampaignStats)}
}

func (m *memStats) Ensure(ctx context.Context, campaignID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.totals[campaignID]; !ok {
		m.totals[campaignID] = &domain.CampaignStats{}
	}
	return nil
}

func (m *memStats) Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.totals[campaignID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *stats
	return &clone, nil
}

func (m *memStats) ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta repository.StatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.totals[campaignID]
	if !ok {
		stats = &domain.CampaignStats{}
		m.totals[campaignID] = stats
	}
	stats.TotalEnqueued += delta.TotalEnqueuedDelta
	stats.ContactedLeads += delta.ContactedLeadsDelta
	stats.ConnectedCalls += delta.ConnectedCallsDelta
	stats.FailedCalls += delta.FailedCallsDelta
	stats.InProgressCalls += delta.InProgressCallsDelta
	stats.RetriesScheduled += delta.RetriesScheduledDelta
	return nil
}

type memLedger struct {
	balances map[uuid.UUID]int64
}

func (m *memLedger) GetBalance(ctx context.Context, clientID uuid.UUID) (int64, error) {
	return m.balances[clientID], nil
}

type openThrottle struct{}

func (openThrottle) Acquire(ctx context.Context) (bool, error) { return true, nil }
func (openThrottle) Release(ctx context.Context) error         { return nil }

type memProvider struct {
	mu         sync.Mutex
	placements []telephony.PlacementRequest
	executions map[string]telephony.Execution
	placeErr   error
}

func newMemProvider() *memProvider {
	return &memProvider{executions: make(map[string]telephony.Execution)}
}

func (p *memProvider) PlaceCall(ctx context.Context, req telephony.PlacementRequest) (telephony.Placement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.placeErr != nil {
		return telephony.Placement{}, p.placeErr
	}
	p.placements = append(p.placements, req)
	id := fmt.Sprintf("exec-%d", len(p.placements))
	p.executions[id] = telephony.Execution{ExecutionID: id, Status: "queued"}
	return telephony.Placement{ExecutionID: id, AcceptedStatus: "queued"}, nil
}

func (p *memProvider) GetExecution(ctx context.Context, executionID string) (telephony.Execution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	exec, ok := p.executions[executionID]
	if !ok {
		return telephony.Execution{}, fmt.Errorf("execution %s not found", executionID)
	}
	return exec, nil
}

func (p *memProvider) StopCall(ctx context.Context, executionID string) error {
	return nil
}

func (p *memProvider) placed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.placements)
}
