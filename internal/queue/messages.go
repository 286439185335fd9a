package queue

import (
	"time"

	"github.com/google/uuid"
)

// StatusEvent is one provider status callback, normalized just enough to
// route: the correlation ids plus the provider's raw status string. Status
// vocabulary translation happens in the synchronizer, not here.
type StatusEvent struct {
	ExecutionID string    `json:"execution_id"`
	CallID      uuid.UUID `json:"call_id"`
	QueueItemID uuid.UUID `json:"queue_item_id"`
	CampaignID  uuid.UUID `json:"campaign_id"`
	RawStatus   string    `json:"raw_status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// DeadLetter wraps a status event whose synchronization failed, for
// out-of-band replay. Payload holds the original message bytes so a
// malformed event that never parsed into Event is still diagnosable.
type DeadLetter struct {
	Event      StatusEvent `json:"event"`
	Payload    []byte      `json:"payload,omitempty"`
	Error      string      `json:"error"`
	FailedAt   time.Time   `json:"failed_at"`
	Deliveries int         `json:"deliveries"`
}
