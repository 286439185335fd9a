package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
)

// CallStore persists call records in Scylla. Terminal completion fields are
// written through a lightweight transaction so a second sync of the same
// execution is a no-op.
type CallStore struct {
	session *gocql.Session
}

// NewCallStore creates a new call store.
func NewCallStore(session *gocql.Session) *CallStore {
	return &CallStore{session: session}
}

// CreateCall inserts a call record with status initiated.
func (s *CallStore) CreateCall(ctx context.Context, record *domain.Call) error {
	bucket := bucketDate(record.StartedAt)
	if err := s.session.Query(`INSERT INTO calls (call_id, campaign_id, lead_id, client_id, agent_id, external_call_id, status, duration_seconds, connected, started_at, ended_at, recording_url, transcript)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID.String(), record.CampaignID.String(), record.LeadID.String(), record.ClientID.String(), record.AgentID.String(),
		record.ExternalCallID, string(record.Status), record.DurationSeconds, record.Connected,
		record.StartedAt, record.EndedAt, record.RecordingURL, record.Transcript,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call store: insert calls: %w", err)
	}

	if err := s.session.Query(`INSERT INTO calls_by_campaign (campaign_id, bucket, call_id, lead_id, status, connected, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.CampaignID.String(), bucket, record.ID.String(), record.LeadID.String(), string(record.Status), record.Connected, record.StartedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call store: insert calls_by_campaign: %w", err)
	}

	return nil
}

// AttachExecution records the provider execution id once placement succeeds.
func (s *CallStore) AttachExecution(ctx context.Context, callID uuid.UUID, externalCallID string) error {
	if err := s.session.Query(`UPDATE calls SET external_call_id = ? WHERE call_id = ?`,
		externalCallID, callID.String(),
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call store: attach execution: %w", err)
	}
	return nil
}

// GetCall retrieves a call by ID.
func (s *CallStore) GetCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	var (
		campaignIDStr string
		leadIDStr     string
		clientIDStr   string
		agentIDStr    string
		externalID    string
		status        string
		duration      int
		connected     bool
		started       time.Time
		ended         *time.Time
		recordingURL  *string
		transcript    *string
	)

	err := s.session.Query(`SELECT campaign_id, lead_id, client_id, agent_id, external_call_id, status, duration_seconds, connected, started_at, ended_at, recording_url, transcript
		FROM calls WHERE call_id = ?`, callID.String()).WithContext(ctx).
		Scan(&campaignIDStr, &leadIDStr, &clientIDStr, &agentIDStr, &externalID, &status, &duration, &connected, &started, &ended, &recordingURL, &transcript)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call store: get call: %w", err)
	}

	call := &domain.Call{
		ID:              callID,
		ExternalCallID:  externalID,
		Status:          domain.CallStatus(status),
		DurationSeconds: duration,
		Connected:       connected,
		StartedAt:       started,
		EndedAt:         ended,
		RecordingURL:    recordingURL,
		Transcript:      transcript,
	}

	for _, pair := range []struct {
		dst *uuid.UUID
		src string
	}{
		{&call.CampaignID, campaignIDStr},
		{&call.LeadID, leadIDStr},
		{&call.ClientID, clientIDStr},
		{&call.AgentID, agentIDStr},
	} {
		id, err := uuid.Parse(pair.src)
		if err != nil {
			return nil, fmt.Errorf("call store: parse id: %w", err)
		}
		*pair.dst = id
	}

	return call, nil
}

// UpdateStatus records a non-terminal status transition. Terminal rows are
// never touched here; Finalize owns that write.
func (s *CallStore) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	_, err := s.session.Query(`UPDATE calls SET status = ? WHERE call_id = ?
		IF status IN ('initiated', 'ringing', 'in_progress')`,
		string(status), callID.String(),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("call store: update status: %w", err)
	}
	return nil
}

// Finalize writes the terminal status and completion fields. The IF clause
// restricts the write to non-terminal rows, making re-syncs no-ops.
func (s *CallStore) Finalize(ctx context.Context, callID uuid.UUID, final repository.CallCompletion) (bool, error) {
	applied, err := s.session.Query(`UPDATE calls SET
			status = ?, duration_seconds = ?, connected = ?, ended_at = ?, recording_url = ?, transcript = ?
		WHERE call_id = ?
		IF status IN ('initiated', 'ringing', 'in_progress')`,
		string(final.Status), final.DurationSeconds, final.Connected, final.EndedAt, final.RecordingURL, final.Transcript,
		callID.String(),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("call store: finalize: %w", err)
	}

	if applied {
		call, err := s.GetCall(ctx, callID)
		if err != nil {
			return true, fmt.Errorf("call store: refresh after finalize: %w", err)
		}
		bucket := bucketDate(call.StartedAt)
		if err := s.session.Query(`UPDATE calls_by_campaign SET status = ?, connected = ?
			WHERE campaign_id = ? AND bucket = ? AND call_id = ?`,
			string(final.Status), final.Connected, call.CampaignID.String(), bucket, callID.String(),
		).WithContext(ctx).Exec(); err != nil {
			return true, fmt.Errorf("call store: update campaign index: %w", err)
		}
	}

	return applied, nil
}

// ListCallsByCampaign lists calls for a campaign with pagination.
func (s *CallStore) ListCallsByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.Call, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT bucket, call_id, lead_id, status, connected, started_at
		FROM calls_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	calls := make([]domain.Call, 0, limit)

	var (
		bucket    time.Time
		callIDStr string
		leadIDStr string
		status    string
		connected bool
		started   time.Time
	)

	for iter.Scan(&bucket, &callIDStr, &leadIDStr, &status, &connected, &started) {
		callID, err := uuid.Parse(callIDStr)
		if err != nil {
			continue
		}
		leadID, err := uuid.Parse(leadIDStr)
		if err != nil {
			continue
		}

		calls = append(calls, domain.Call{
			ID:         callID,
			CampaignID: campaignID,
			LeadID:     leadID,
			Status:     domain.CallStatus(status),
			Connected:  connected,
			StartedAt:  started,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("call store: iter close: %w", err)
	}

	nextState := iter.PageState()

	return calls, nextState, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
