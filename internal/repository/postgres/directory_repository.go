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

// LeadRepository implements repository.LeadRepository using PostgreSQL.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs the repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Create inserts a lead.
func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead) error {
	q := `INSERT INTO leads (id, client_id, phone_number, name, call_status, call_id, stage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, q,
		lead.ID, lead.ClientID, lead.PhoneNumber, lead.Name,
		lead.CallStatus, lead.CallID, lead.Stage, lead.CreatedAt, lead.UpdatedAt,
	); err != nil {
		return fmt.Errorf("lead repo: insert: %w", err)
	}
	return nil
}

// Get fetches a lead by id.
func (r *LeadRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, client_id, phone_number, name, call_status, call_id, stage, created_at, updated_at
		FROM leads WHERE id = $1`, id)

	var rec leadRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lead repo: get: %w", err)
	}

	lead := rec.toDomain()
	return &lead, nil
}

// UpdateDispatchState mirrors the latest dispatch outcome onto the lead row.
func (r *LeadRepository) UpdateDispatchState(ctx context.Context, id uuid.UUID, status domain.CallStatus, callID *uuid.UUID, stage domain.LeadStage) error {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET call_status = $2, call_id = $3, stage = $4, updated_at = NOW()
		WHERE id = $1`, id, status, callID, stage)
	if err != nil {
		return fmt.Errorf("lead repo: update dispatch state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lead repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type leadRecord struct {
	ID          uuid.UUID      `db:"id"`
	ClientID    uuid.UUID      `db:"client_id"`
	PhoneNumber sql.NullString `db:"phone_number"`
	Name        sql.NullString `db:"name"`
	CallStatus  sql.NullString `db:"call_status"`
	CallID      *uuid.UUID     `db:"call_id"`
	Stage       string         `db:"stage"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r leadRecord) toDomain() domain.Lead {
	return domain.Lead{
		ID:          r.ID,
		ClientID:    r.ClientID,
		PhoneNumber: r.PhoneNumber.String,
		Name:        r.Name.String,
		CallStatus:  domain.CallStatus(r.CallStatus.String),
		CallID:      r.CallID,
		Stage:       domain.LeadStage(r.Stage),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// ClientRepository implements repository.ClientRepository using PostgreSQL.
type ClientRepository struct {
	db *sqlx.DB
}

// NewClientRepository constructs the repository.
func NewClientRepository(db *sqlx.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Get fetches a client by id.
func (r *ClientRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, name, caller_id_number, created_at FROM clients WHERE id = $1`, id)

	var rec struct {
		ID             uuid.UUID      `db:"id"`
		Name           string         `db:"name"`
		CallerIDNumber sql.NullString `db:"caller_id_number"`
		CreatedAt      time.Time      `db:"created_at"`
	}
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("client repo: get: %w", err)
	}

	return &domain.Client{
		ID:             rec.ID,
		Name:           rec.Name,
		CallerIDNumber: rec.CallerIDNumber.String,
		CreatedAt:      rec.CreatedAt,
	}, nil
}

// AgentRepository implements repository.AgentRepository using PostgreSQL.
type AgentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository constructs the repository.
func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// Get fetches an agent by id.
func (r *AgentRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, client_id, name, provider_agent_id, created_at FROM agents WHERE id = $1`, id)

	var rec struct {
		ID              uuid.UUID `db:"id"`
		ClientID        uuid.UUID `db:"client_id"`
		Name            string    `db:"name"`
		ProviderAgentID string    `db:"provider_agent_id"`
		CreatedAt       time.Time `db:"created_at"`
	}
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("agent repo: get: %w", err)
	}

	return &domain.Agent{
		ID:              rec.ID,
		ClientID:        rec.ClientID,
		Name:            rec.Name,
		ProviderAgentID: rec.ProviderAgentID,
		CreatedAt:       rec.CreatedAt,
	}, nil
}
