package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
	apperrors "github.com/acme/voice-campaign-dispatcher/pkg/errors"
)

// Service orchestrates campaign lifecycle operations and lead enqueueing.
type Service struct {
	repo               repository.CampaignRepository
	windowsRepo        repository.CallingWindowRepository
	queueRepo          repository.QueueRepository
	leadRepo           repository.LeadRepository
	statsRepo          repository.CampaignStatisticsRepository
	defaultConcurrency int
}

// NewService constructs a campaign service.
func NewService(
	repo repository.CampaignRepository,
	windows repository.CallingWindowRepository,
	queue repository.QueueRepository,
	leads repository.LeadRepository,
	stats repository.CampaignStatisticsRepository,
	defaultConcurrency int,
) *Service {
	return &Service{
		repo:               repo,
		windowsRepo:        windows,
		queueRepo:          queue,
		leadRepo:           leads,
		statsRepo:          stats,
		defaultConcurrency: defaultConcurrency,
	}
}

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	ClientID         uuid.UUID
	AgentID          uuid.UUID
	Name             string
	Description      string
	TimeZone         string
	ConcurrencyLevel int
	RetryPolicy      domain.RetryPolicy
	CallingWindows   []CallingWindowInput
}

// CallingWindowInput expresses one allowed dialing window.
type CallingWindowInput struct {
	DayOfWeek time.Weekday
	Start     time.Time
	End       time.Time
}

// UpdateCampaignInput captures updatable properties.
type UpdateCampaignInput struct {
	ID               uuid.UUID
	Name             *string
	Description      *string
	ConcurrencyLevel *int
	RetryPolicy      *domain.RetryPolicy
	CallingWindows   *[]CallingWindowInput
}

// EnqueueInput names leads to add to a campaign's dial queue.
type EnqueueInput struct {
	CampaignID uuid.UUID
	LeadIDs    []uuid.UUID
	Priority   int
}

// Create provisions a new campaign in draft state.
func (s *Service) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:               uuid.New(),
		ClientID:         input.ClientID,
		AgentID:          input.AgentID,
		Name:             input.Name,
		Description:      input.Description,
		TimeZone:         input.TimeZone,
		ConcurrencyLevel: s.resolveConcurrency(input.ConcurrencyLevel),
		RetryPolicy:      normalizeRetry(input.RetryPolicy),
		Status:           domain.CampaignStatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create campaign: %w", err)
	}

	if err := s.windowsRepo.Replace(ctx, campaign.ID, toDomainWindows(input.CallingWindows)); err != nil {
		return nil, fmt.Errorf("campaign service: store calling windows: %w", err)
	}

	if err := s.statsRepo.Ensure(ctx, campaign.ID); err != nil {
		return nil, fmt.Errorf("campaign service: ensure stats: %w", err)
	}

	return campaign, nil
}

// Get retrieves a campaign by id including calling windows.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	windows, err := s.windowsRepo.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign service: list calling windows: %w", err)
	}
	campaign.CallingWindows = windows
	return campaign, nil
}

// List returns campaigns after the given cursor.
func (s *Service) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	return s.repo.List(ctx, afterID, limit)
}

// Update modifies campaign metadata.
func (s *Service) Update(ctx context.Context, input UpdateCampaignInput) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		campaign.Name = *input.Name
	}
	if input.Description != nil {
		campaign.Description = *input.Description
	}
	if input.ConcurrencyLevel != nil {
		campaign.ConcurrencyLevel = s.resolveConcurrency(*input.ConcurrencyLevel)
	}
	if input.RetryPolicy != nil {
		campaign.RetryPolicy = normalizeRetry(*input.RetryPolicy)
	}

	campaign.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, campaign); err != nil {
		return nil, err
	}

	if input.CallingWindows != nil {
		if err := s.windowsRepo.Replace(ctx, campaign.ID, toDomainWindows(*input.CallingWindows)); err != nil {
			return nil, fmt.Errorf("campaign service: update calling windows: %w", err)
		}
	}

	return campaign, nil
}

// Activate opens the campaign for dispatch.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if campaign.Status == domain.CampaignStatusActive {
		return nil
	}
	if campaign.Status == domain.CampaignStatusCompleted {
		return fmt.Errorf("%w: cannot activate a completed campaign", apperrors.ErrConflict)
	}

	now := time.Now().UTC()
	campaign.Status = domain.CampaignStatusActive
	if campaign.StartedAt == nil {
		campaign.StartedAt = &now
	}
	campaign.UpdatedAt = now
	return s.repo.Update(ctx, campaign)
}

// Pause stops new admissions. Calls already in flight run to their natural
// end and are synchronized normally.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status != domain.CampaignStatusActive {
		return fmt.Errorf("%w: only active campaigns can be paused", apperrors.ErrConflict)
	}
	return s.repo.UpdateStatus(ctx, id, domain.CampaignStatusPaused)
}

// Resume reopens a paused campaign for dispatch.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status != domain.CampaignStatusPaused {
		return fmt.Errorf("%w: only paused campaigns can be resumed", apperrors.ErrConflict)
	}
	return s.repo.UpdateStatus(ctx, id, domain.CampaignStatusActive)
}

// Complete marks a campaign as completed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	campaign.Status = domain.CampaignStatusCompleted
	campaign.CompletedAt = &now
	campaign.UpdatedAt = now
	return s.repo.Update(ctx, campaign)
}

// Enqueue adds leads to the campaign's dial queue as pending items.
func (s *Service) Enqueue(ctx context.Context, input EnqueueInput) ([]*domain.QueueItem, error) {
	if len(input.LeadIDs) == 0 {
		return nil, fmt.Errorf("%w: no leads to enqueue", apperrors.ErrValidation)
	}

	campaign, err := s.repo.Get(ctx, input.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status == domain.CampaignStatusCompleted {
		return nil, fmt.Errorf("%w: campaign is completed", apperrors.ErrConflict)
	}

	now := time.Now().UTC()
	items := make([]*domain.QueueItem, 0, len(input.LeadIDs))
	for _, leadID := range input.LeadIDs {
		lead, err := s.leadRepo.Get(ctx, leadID)
		if err != nil {
			return nil, fmt.Errorf("campaign service: lead %s: %w", leadID, err)
		}
		items = append(items, &domain.QueueItem{
			ID:         uuid.New(),
			CampaignID: campaign.ID,
			LeadID:     lead.ID,
			ClientID:   campaign.ClientID,
			AgentID:    campaign.AgentID,
			Status:     domain.QueueStatusPending,
			Priority:   input.Priority,
			QueuedAt:   now,
		})
	}

	if err := s.queueRepo.Enqueue(ctx, items); err != nil {
		return nil, fmt.Errorf("campaign service: enqueue leads: %w", err)
	}

	if err := s.statsRepo.ApplyDelta(ctx, campaign.ID, repository.StatsDelta{
		TotalEnqueuedDelta: int64(len(items)),
	}); err != nil {
		return items, fmt.Errorf("campaign service: apply stats delta: %w", err)
	}

	return items, nil
}

// Stats retrieves aggregated statistics.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*domain.CampaignStats, error) {
	return s.statsRepo.Get(ctx, id)
}

// QueueItems lists queue items for a campaign, optionally filtered by
// status.
func (s *Service) QueueItems(ctx context.Context, campaignID uuid.UUID, status domain.QueueStatus, limit int) ([]*domain.QueueItem, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queueRepo.ListByCampaign(ctx, campaignID, status, limit)
}

func (s *Service) resolveConcurrency(value int) int {
	if value <= 0 {
		return s.defaultConcurrency
	}
	return value
}

func normalizeRetry(policy domain.RetryPolicy) domain.RetryPolicy {
	if policy.RetryDelay <= 0 {
		policy.RetryDelay = 15 * time.Minute
	}
	if policy.MaxDailyRetries < 0 {
		policy.MaxDailyRetries = 0
	}
	return policy
}

func toDomainWindows(inputs []CallingWindowInput) []domain.CallingWindow {
	windows := make([]domain.CallingWindow, 0, len(inputs))
	for _, in := range inputs {
		windows = append(windows, domain.CallingWindow{
			DayOfWeek: in.DayOfWeek,
			Start:     in.Start,
			End:       in.End,
		})
	}
	return windows
}

func validateCreateInput(input CreateCampaignInput) error {
	if input.Name == "" {
		return fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	if input.ClientID == uuid.Nil {
		return fmt.Errorf("%w: client id is required", apperrors.ErrValidation)
	}
	if input.AgentID == uuid.Nil {
		return fmt.Errorf("%w: agent id is required", apperrors.ErrValidation)
	}
	if input.TimeZone == "" {
		return fmt.Errorf("%w: time zone is required", apperrors.ErrValidation)
	}
	if _, err := time.LoadLocation(input.TimeZone); err != nil {
		return fmt.Errorf("%w: invalid time zone %s: %v", apperrors.ErrValidation, input.TimeZone, err)
	}
	return nil
}
