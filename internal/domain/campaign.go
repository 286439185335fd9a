package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// Campaign models an outbound dialing campaign definition.
type Campaign struct {
	ID               uuid.UUID
	ClientID         uuid.UUID
	AgentID          uuid.UUID
	Name             string
	Description      string
	TimeZone         string
	Status           CampaignStatus
	ConcurrencyLevel int
	RetryPolicy      RetryPolicy
	CallingWindows   []CallingWindow
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// RetryPolicy defines requeue rules for non-connected call outcomes.
type RetryPolicy struct {
	RetryDelay      time.Duration
	MaxDailyRetries int
}

// CallingWindow captures an allowed dialing window per day of week.
type CallingWindow struct {
	DayOfWeek time.Weekday
	Start     time.Time
	End       time.Time
}

// CampaignStats aggregates advisory campaign counters. The authoritative
// truth lives in queue_items and leads; these exist for dashboards only.
type CampaignStats struct {
	TotalEnqueued    int64 `db:"total_enqueued"`
	ContactedLeads   int64 `db:"contacted_leads"`
	ConnectedCalls   int64 `db:"connected_calls"`
	FailedCalls      int64 `db:"failed_calls"`
	InProgressCalls  int64 `db:"in_progress_calls"`
	RetriesScheduled int64 `db:"retries_scheduled"`
}
