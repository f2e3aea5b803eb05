package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/TobiSchelling/TrendDrop/internal/broadcast"
)

// Phase is a state of the discovery cycle.
type Phase string

const (
	PhaseIdle          Phase = "IDLE"
	PhaseDiscovery     Phase = "DISCOVERY"
	PhaseValidation    Phase = "VALIDATION"
	PhaseTrendAnalysis Phase = "TREND_ANALYSIS"
	PhaseCompleted     Phase = "COMPLETED"
	PhaseError         Phase = "ERROR"
)

// Status is a snapshot of the agent. Snapshots are copies; mutating one has no effect.
type Status struct {
	Phase           Phase      `json:"phase"`
	Message         string     `json:"message"`
	Progress        int        `json:"progress"`
	Error           string     `json:"error,omitempty"`
	DiscoveredCount int        `json:"discovered_count"`
	ValidatedCount  int        `json:"validated_count"`
	PersistedCount  int        `json:"persisted_count"`
	DuplicateCount  int        `json:"duplicate_count"`
	InvalidCount    int        `json:"invalid_count"`
	RefreshedCount  int        `json:"refreshed_count"`
	RunID           string     `json:"run_id,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`

	// Derived at read time.
	IsRunning       bool       `json:"is_running"`
	CycleInProgress bool       `json:"cycle_in_progress"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	ClientCount     int        `json:"client_count"`
}

// AgentContext is the state shared by the orchestrator, the broadcast hub and
// the HTTP layer: the client registry, the cycle guard and the last status.
// Build one per process with NewAgentContext and pass it explicitly.
type AgentContext struct {
	Hub *broadcast.Hub

	cycle  atomic.Bool
	mu     sync.RWMutex
	status Status
}

// NewAgentContext creates an idle context around hub.
func NewAgentContext(hub *broadcast.Hub) *AgentContext {
	return &AgentContext{
		Hub:    hub,
		status: Status{Phase: PhaseIdle, Message: "Agent idle"},
	}
}

// CycleInProgress reports whether a cycle currently holds the run guard.
func (a *AgentContext) CycleInProgress() bool {
	return a.cycle.Load()
}

func (a *AgentContext) tryBeginCycle() bool {
	return a.cycle.CompareAndSwap(false, true)
}

func (a *AgentContext) endCycle() {
	a.cycle.Store(false)
}

// snapshot returns a copy of the stored status.
func (a *AgentContext) snapshot() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.status
	s.CycleInProgress = a.cycle.Load()
	if a.Hub != nil {
		s.ClientCount = a.Hub.ClientCount()
	}
	return s
}

// update applies fn under the lock. Within one run, progress never decreases.
func (a *AgentContext) update(fn func(*Status)) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.status
	fn(&a.status)
	if a.status.RunID == prev.RunID && a.status.Progress < prev.Progress {
		a.status.Progress = prev.Progress
	}
	if a.status.Progress > 100 {
		a.status.Progress = 100
	}
	return a.status
}
