package telephony

import (
	"context"

	"github.com/google/uuid"
)

// Correlation is the opaque payload attached to every placed call so
// asynchronous status callbacks can be matched back to internal records
// without string parsing.
type Correlation struct {
	CallID      uuid.UUID `json:"call_id"`
	QueueItemID uuid.UUID `json:"queue_item_id"`
}

// PlacementRequest carries everything the provider needs to start a call.
type PlacementRequest struct {
	AgentExternalID string
	ToNumber        string
	FromNumber      string
	Correlation     Correlation
}

// Placement is the provider's acknowledgement of a placement request.
type Placement struct {
	ExecutionID    string
	AcceptedStatus string
}

// Execution is the provider's current view of a call. Status is the
// provider's free-form vocabulary; translation to the internal enum happens
// in the status synchronizer, nowhere else.
type Execution struct {
	ExecutionID     string
	Status          string
	DurationSeconds int
	RecordingURL    *string
	Transcript      *string
	Telephony       map[string]any
}

// Provider abstracts the voice provider's call placement and status APIs.
type Provider interface {
	PlaceCall(ctx context.Context, req PlacementRequest) (Placement, error)
	GetExecution(ctx context.Context, executionID string) (Execution, error)
	// StopCall requests termination of an in-flight call. The resulting
	// "stopped" status flows back through the normal sync path.
	StopCall(ctx context.Context, executionID string) error
}
