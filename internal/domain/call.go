package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus enumerates the internal lifecycle of a placed call.
type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusFailed     CallStatus = "failed"
)

// Terminal reports whether no further provider-side transition will occur.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusNoAnswer, CallStatusFailed:
		return true
	}
	return false
}

// Call represents one externally-placed call attempt. Created at dispatch
// time with status initiated; completion fields are written once, by the
// status synchronizer, when a terminal provider status is observed.
type Call struct {
	ID              uuid.UUID
	CampaignID      uuid.UUID
	LeadID          uuid.UUID
	ClientID        uuid.UUID
	AgentID         uuid.UUID
	ExternalCallID  string
	Status          CallStatus
	DurationSeconds int
	Connected       bool
	StartedAt       time.Time
	EndedAt         *time.Time
	RecordingURL    *string
	Transcript      *string
}
