package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadStage mirrors where a lead sits in the operator funnel.
type LeadStage string

const (
	LeadStageNew       LeadStage = "new"
	LeadStageContacted LeadStage = "contacted"
	LeadStageEngaged   LeadStage = "engaged"
	LeadStageExhausted LeadStage = "exhausted"
)

// Lead holds a denormalized mirror of the latest dispatch outcome for UI
// convenience. It is written by the dispatcher and synchronizer but is not
// the source of truth; queue_items is.
type Lead struct {
	ID          uuid.UUID
	ClientID    uuid.UUID
	PhoneNumber string
	Name        string
	CallStatus  CallStatus
	CallID      *uuid.UUID
	Stage       LeadStage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Client is a tenant operating campaigns. CallerIDNumber is the outbound
// from-number; dispatch fails permanently when it is unset.
type Client struct {
	ID             uuid.UUID
	Name           string
	CallerIDNumber string
	CreatedAt      time.Time
}

// Agent is a conversational agent registered with the voice provider.
type Agent struct {
	ID              uuid.UUID
	ClientID        uuid.UUID
	Name            string
	ProviderAgentID string
	CreatedAt       time.Time
}
