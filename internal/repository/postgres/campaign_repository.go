package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
)

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, client_id, agent_id, name, description, time_zone, status,
	concurrency_level, retry_delay_minutes, max_daily_retries,
	created_at, updated_at, started_at, completed_at`

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	q := `INSERT INTO campaigns (
		id, client_id, agent_id, name, description, time_zone, status,
		concurrency_level, retry_delay_minutes, max_daily_retries,
		created_at, updated_at, started_at, completed_at
	) VALUES (
		:id, :client_id, :agent_id, :name, :description, :time_zone, :status,
		:concurrency_level, :retry_delay_minutes, :max_daily_retries,
		:created_at, :updated_at, :started_at, :completed_at
	)`

	if _, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign)); err != nil {
		return fmt.Errorf("campaign repo: insert: %w", err)
	}
	return nil
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)

	var rec campaignRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := rec.toDomain()
	return &campaign, nil
}

// Update updates campaign metadata.
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	q := `UPDATE campaigns SET
		name = :name,
		description = :description,
		status = :status,
		time_zone = :time_zone,
		concurrency_level = :concurrency_level,
		retry_delay_minutes = :retry_delay_minutes,
		max_daily_retries = :max_daily_retries,
		updated_at = :updated_at,
		started_at = :started_at,
		completed_at = :completed_at
	 WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign))
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateStatus flips the campaign lifecycle status.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("campaign repo: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns campaigns with optional keyset pagination.
func (r *CampaignRepository) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sqlx.Rows
	var err error
	if afterID != nil {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
			FROM campaigns WHERE id > $1 ORDER BY id ASC LIMIT $2`, *afterID, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
			FROM campaigns ORDER BY id ASC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

// ListByStatus returns campaigns filtered by status.
func (r *CampaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
		FROM campaigns WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list by status: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

func scanCampaigns(rows *sqlx.Rows) ([]*domain.Campaign, error) {
	var results []*domain.Campaign
	for rows.Next() {
		var rec campaignRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign := rec.toDomain()
		results = append(results, &campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}
	return results, nil
}

func campaignParams(campaign *domain.Campaign) map[string]any {
	return map[string]any{
		"id":                  campaign.ID,
		"client_id":           campaign.ClientID,
		"agent_id":            campaign.AgentID,
		"name":                campaign.Name,
		"description":         campaign.Description,
		"time_zone":           campaign.TimeZone,
		"status":              campaign.Status,
		"concurrency_level":   campaign.ConcurrencyLevel,
		"retry_delay_minutes": int(campaign.RetryPolicy.RetryDelay / time.Minute),
		"max_daily_retries":   campaign.RetryPolicy.MaxDailyRetries,
		"created_at":          campaign.CreatedAt,
		"updated_at":          campaign.UpdatedAt,
		"started_at":          campaign.StartedAt,
		"completed_at":        campaign.CompletedAt,
	}
}

type campaignRecord struct {
	ID                uuid.UUID      `db:"id"`
	ClientID          uuid.UUID      `db:"client_id"`
	AgentID           uuid.UUID      `db:"agent_id"`
	Name              string         `db:"name"`
	Description       sql.NullString `db:"description"`
	TimeZone          string         `db:"time_zone"`
	Status            string         `db:"status"`
	ConcurrencyLevel  int            `db:"concurrency_level"`
	RetryDelayMinutes int            `db:"retry_delay_minutes"`
	MaxDailyRetries   int            `db:"max_daily_retries"`
	CreatedAt         sql.NullTime   `db:"created_at"`
	UpdatedAt         sql.NullTime   `db:"updated_at"`
	StartedAt         sql.NullTime   `db:"started_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	campaign := domain.Campaign{
		ID:               r.ID,
		ClientID:         r.ClientID,
		AgentID:          r.AgentID,
		Name:             r.Name,
		Description:      r.Description.String,
		TimeZone:         r.TimeZone,
		Status:           domain.CampaignStatus(r.Status),
		ConcurrencyLevel: r.ConcurrencyLevel,
		RetryPolicy: domain.RetryPolicy{
			RetryDelay:      time.Duration(r.RetryDelayMinutes) * time.Minute,
			MaxDailyRetries: r.MaxDailyRetries,
		},
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		campaign.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		campaign.CompletedAt = &t
	}
	return campaign
}
