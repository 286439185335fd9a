package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-dispatcher/internal/telephony"
)

// Provider simulates the voice provider for local development. Placed calls
// progress to a random terminal status on a timer.
type Provider struct {
	mu         sync.Mutex
	executions map[string]*execution
	rng        *rand.Rand
}

type execution struct {
	placedAt time.Time
	terminal string
	duration int
}

// NewProvider constructs a mock provider with its own randomness source.
func NewProvider() *Provider {
	return &Provider{
		executions: make(map[string]*execution),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

var terminalOutcomes = []struct {
	status   string
	duration int
}{
	{"completed", 120},
	{"completed", 60},
	{"call-disconnected", 50},
	{"no-answer", 0},
	{"busy", 0},
	{"completed", 12},
}

// PlaceCall registers a simulated execution.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.PlacementRequest) (telephony.Placement, error) {
	if req.ToNumber == "" {
		return telephony.Placement{}, fmt.Errorf("mock provider: destination number required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	outcome := terminalOutcomes[p.rng.Intn(len(terminalOutcomes))]
	id := uuid.New().String()
	p.executions[id] = &execution{
		placedAt: time.Now().UTC(),
		terminal: outcome.status,
		duration: outcome.duration,
	}

	return telephony.Placement{ExecutionID: id, AcceptedStatus: "queued"}, nil
}

// GetExecution reports ringing for the first few seconds, then the chosen
// terminal outcome.
func (p *Provider) GetExecution(ctx context.Context, executionID string) (telephony.Execution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	exec, ok := p.executions[executionID]
	if !ok {
		return telephony.Execution{}, fmt.Errorf("mock provider: execution %s not found", executionID)
	}

	elapsed := time.Since(exec.placedAt)
	if elapsed < 5*time.Second {
		return telephony.Execution{ExecutionID: executionID, Status: "ringing"}, nil
	}

	return telephony.Execution{
		ExecutionID:     executionID,
		Status:          exec.terminal,
		DurationSeconds: exec.duration,
	}, nil
}

// StopCall forces the execution to a stopped terminal state.
func (p *Provider) StopCall(ctx context.Context, executionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	exec, ok := p.executions[executionID]
	if !ok {
		return fmt.Errorf("mock provider: execution %s not found", executionID)
	}
	exec.terminal = "stopped"
	exec.placedAt = time.Time{}
	return nil
}
