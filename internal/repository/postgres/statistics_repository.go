package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
)

// CampaignStatisticsRepository implements repository.CampaignStatisticsRepository.
// Counters are advisory projections; deltas are applied server-side so
// concurrent dispatchers never lose updates.
type CampaignStatisticsRepository struct {
	db *sqlx.DB
}

// NewCampaignStatisticsRepository builds the repository.
func NewCampaignStatisticsRepository(db *sqlx.DB) *CampaignStatisticsRepository {
	return &CampaignStatisticsRepository{db: db}
}

// Ensure ensures a row exists for the campaign.
func (r *CampaignStatisticsRepository) Ensure(ctx context.Context, campaignID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO campaign_statistics (campaign_id)
		VALUES ($1) ON CONFLICT (campaign_id) DO NOTHING`, campaignID)
	if err != nil {
		return fmt.Errorf("campaign stats: ensure: %w", err)
	}
	return nil
}

// Get retrieves statistics.
func (r *CampaignStatisticsRepository) Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT total_enqueued, contacted_leads, connected_calls, failed_calls, in_progress_calls, retries_scheduled
		FROM campaign_statistics WHERE campaign_id = $1`, campaignID)

	var stats domain.CampaignStats
	if err := row.StructScan(&stats); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign stats: get: %w", err)
	}
	return &stats, nil
}

// ApplyDelta applies counter deltas atomically.
func (r *CampaignStatisticsRepository) ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta repository.StatsDelta) error {
	_, err := r.db.ExecContext(ctx, `UPDATE campaign_statistics SET
		total_enqueued = total_enqueued + $2,
		contacted_leads = contacted_leads + $3,
		connected_calls = connected_calls + $4,
		failed_calls = failed_calls + $5,
		in_progress_calls = in_progress_calls + $6,
		retries_scheduled = retries_scheduled + $7,
		updated_at = NOW()
	WHERE campaign_id = $1`,
		campaignID,
		delta.TotalEnqueuedDelta,
		delta.ContactedLeadsDelta,
		delta.ConnectedCallsDelta,
		delta.FailedCallsDelta,
		delta.InProgressCallsDelta,
		delta.RetriesScheduledDelta,
	)
	if err != nil {
		return fmt.Errorf("campaign stats: apply delta: %w", err)
	}
	return nil
}
