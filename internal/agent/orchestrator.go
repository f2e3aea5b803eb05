// Package agent schedules discovery cycles and publishes their progress.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/TrendDrop/internal/broadcast"
	"github.com/TobiSchelling/TrendDrop/internal/lock"
	"github.com/TobiSchelling/TrendDrop/internal/pipeline"
)

var (
	// ErrNotRunning is returned by Trigger when the schedule has not been started.
	ErrNotRunning = errors.New("agent is not running")
	// ErrCycleInProgress is returned by RunOnce when another cycle holds the run guard.
	ErrCycleInProgress = errors.New("a cycle is already in progress")
)

const defaultInterval = time.Hour

// Runner executes one cycle. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, obs pipeline.Observer) (*pipeline.Result, error)
}

// Orchestrator drives the IDLE → DISCOVERY → VALIDATION → TREND_ANALYSIS →
// COMPLETED/ERROR state machine on a fixed interval.
type Orchestrator struct {
	actx     *AgentContext
	runner   Runner
	locker   lock.Locker
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	trigger   chan struct{}
	nextRunAt time.Time
	wg        sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocker guards cycles with a cross-process lock.
func WithLocker(l lock.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates a stopped orchestrator.
func New(actx *AgentContext, runner Runner, interval time.Duration, logger *slog.Logger, opts ...Option) *Orchestrator {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		actx:     actx,
		runner:   runner,
		locker:   lock.Noop{},
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins the schedule: one cycle immediately, then one per interval.
// Starting an already started agent is a no-op.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		o.logger.Info("agent already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.started = true
	o.cancel = cancel
	o.trigger = make(chan struct{}, 1)
	o.nextRunAt = o.now()
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info("agent started", "interval", o.interval)
	o.publish(o.actx.update(func(s *Status) {
		if s.Phase == PhaseIdle {
			s.Message = "Agent started"
		}
	}))
	go o.loop(ctx)
}

// Stop cancels the schedule and waits for an in-flight cycle to return.
// The status goes back to IDLE with the last counters kept.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.cancel()
	o.mu.Unlock()

	o.wg.Wait()
	o.logger.Info("agent stopped")
	o.publish(o.actx.update(func(s *Status) {
		s.Phase = PhaseIdle
		s.Message = "Agent stopped"
	}))
}

// Trigger asks the running schedule for an immediate cycle. It is a no-op
// while a cycle is in progress.
func (o *Orchestrator) Trigger() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return ErrNotRunning
	}
	if o.actx.CycleInProgress() {
		o.logger.Info("trigger ignored, cycle in progress")
		return nil
	}
	select {
	case o.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Running reports whether the schedule is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started
}

// Status returns a snapshot of the agent.
func (o *Orchestrator) Status() Status {
	s := o.actx.snapshot()
	o.mu.Lock()
	s.IsRunning = o.started
	if o.started {
		next := o.nextRunAt
		s.NextRunAt = &next
	}
	o.mu.Unlock()
	return s
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer o.wg.Done()

	o.scheduled(ctx)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.scheduled(ctx)
		case <-o.trigger:
			ticker.Reset(o.interval)
			o.scheduled(ctx)
		}
	}
}

func (o *Orchestrator) scheduled(ctx context.Context) {
	o.mu.Lock()
	o.nextRunAt = o.now().Add(o.interval)
	o.mu.Unlock()

	// Failures are recorded in the status; the schedule keeps going.
	_, _ = o.RunOnce(ctx)
}

// RunOnce runs a single cycle on the caller's goroutine. At most one cycle
// runs per process; a concurrent call returns ErrCycleInProgress.
func (o *Orchestrator) RunOnce(ctx context.Context) (res *pipeline.Result, err error) {
	if !o.actx.tryBeginCycle() {
		return nil, ErrCycleInProgress
	}
	defer o.actx.endCycle()

	runID := uuid.NewString()
	start := o.now()
	log := o.logger.With("run_id", runID)

	o.publish(o.actx.update(func(s *Status) {
		*s = Status{
			Phase:     PhaseDiscovery,
			Message:   "Starting discovery",
			Progress:  5,
			RunID:     runID,
			LastRunAt: &start,
		}
	}))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
			o.fail(log, "", err)
		}
	}()

	acquired, err := o.locker.Acquire(ctx)
	if err != nil {
		err = fmt.Errorf("acquiring cycle lock: %w", err)
		o.fail(log, PhaseDiscovery, err)
		return nil, err
	}
	if !acquired {
		log.Info("cycle lock held by another process, skipping")
		o.publish(o.actx.update(func(s *Status) {
			s.Phase = PhaseCompleted
			s.Progress = 100
			s.Message = "Skipped: another process is running a cycle"
		}))
		return &pipeline.Result{}, nil
	}
	stopKeepalive := lock.Keepalive(ctx, o.locker, log)
	defer func() {
		stopKeepalive()
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.locker.Release(rctx); err != nil {
			log.Warn("releasing cycle lock", "error", err)
		}
	}()

	obs := &statusObserver{o: o, phase: PhaseDiscovery}
	res, err = o.runner.Run(ctx, obs)
	if err != nil {
		o.fail(log, obs.phase, err)
		return res, err
	}

	if res.CapReached {
		log.Info("product cap reached")
		o.publish(o.actx.update(func(s *Status) {
			s.Phase = PhaseCompleted
			s.Progress = 100
			s.Message = "Product cap reached, nothing to discover"
		}))
		return res, nil
	}

	for _, step := range res.Steps {
		log.Info("step finished", "step", step.Name, "summary", step.Summary)
	}
	log.Info("cycle completed",
		"persisted", res.Counts.Persisted,
		"refreshed", res.Counts.Refreshed,
		"duplicates", res.Counts.Duplicates,
		"invalid", res.Counts.Invalid,
		"duration", o.now().Sub(start))
	o.publish(o.actx.update(func(s *Status) {
		applyCounts(s, res.Counts)
		s.Phase = PhaseCompleted
		s.Progress = 100
		s.Message = fmt.Sprintf("Discovered %d new products", res.Counts.Persisted)
	}))
	return res, nil
}

func (o *Orchestrator) fail(log *slog.Logger, phase Phase, err error) {
	log.Error("cycle failed", "phase", phase, "error", err)
	o.publish(o.actx.update(func(s *Status) {
		s.Phase = PhaseError
		s.Error = err.Error()
		if phase != "" {
			s.Message = fmt.Sprintf("Cycle failed during %s", phase)
		} else {
			s.Message = "Cycle failed"
		}
	}))
}

// publish broadcasts an agent_status message for s.
func (o *Orchestrator) publish(s Status) {
	if o.actx.Hub == nil {
		return
	}
	o.mu.Lock()
	s.IsRunning = o.started
	if o.started {
		next := o.nextRunAt
		s.NextRunAt = &next
	}
	o.mu.Unlock()
	s.CycleInProgress = o.actx.CycleInProgress()
	s.ClientCount = o.actx.Hub.ClientCount()
	o.actx.Hub.Emit(broadcast.TypeAgentStatus, s)
}

func applyCounts(s *Status, c pipeline.Counts) {
	s.DiscoveredCount = c.Discovered
	s.DuplicateCount = c.Duplicates
	s.ValidatedCount = c.Validated
	s.InvalidCount = c.Invalid
	s.PersistedCount = c.Persisted
	s.RefreshedCount = c.Refreshed
}

var stagePhases = map[pipeline.Stage]Phase{
	pipeline.StageDiscovery:     PhaseDiscovery,
	pipeline.StageValidation:    PhaseValidation,
	pipeline.StageTrendAnalysis: PhaseTrendAnalysis,
}

// statusObserver turns pipeline progress into status updates and broadcasts.
type statusObserver struct {
	o     *Orchestrator
	phase Phase
}

func (so *statusObserver) Progress(stage pipeline.Stage, percent int, message string, counts pipeline.Counts) {
	so.phase = stagePhases[stage]
	so.o.publish(so.o.actx.update(func(s *Status) {
		s.Phase = so.phase
		s.Progress = percent
		s.Message = message
		applyCounts(s, counts)
	}))
}

func (so *statusObserver) ProductUpdated(ev pipeline.ProductEvent) {
	if so.o.actx.Hub != nil {
		so.o.actx.Hub.Emit(broadcast.TypeProductUpdate, ev)
	}
}
