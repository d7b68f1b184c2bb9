// Package syncstatus runs sync passes one at a time and reports on them.
//
// The Controller is the single owner of the run state. Triggers that arrive
// while a pass is active are refused rather than queued.
package syncstatus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-booksync/pkg/pathsync"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
)

// Phase is the controller state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// TriggerResult reports what Trigger did.
type TriggerResult string

const (
	TriggerStarted        TriggerResult = "started"
	TriggerAlreadyRunning TriggerResult = "already_running"
)

var (
	// ErrAlreadyRunning is returned by RunSync while another pass is active.
	ErrAlreadyRunning = errors.New("a sync is already running")
	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("sync controller is closed")
)

// Syncer runs one pass over all replicas.
type Syncer interface {
	SyncAll(ctx context.Context, dryRun bool) (pathsync.Results, error)
}

// RunObserver is told about run boundaries, e.g. to export metrics.
type RunObserver interface {
	RunStarted()
	// RunFinished receives "success", "partial" or "failed".
	RunFinished(result string)
}

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	Phase      Phase      `json:"phase"`
	InProgress bool       `json:"in_progress"`
	RunID      string     `json:"run_id,omitempty"`
	DryRun     bool       `json:"dry_run"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	// LastSync is when the last pass completed. Failed passes leave it
	// unchanged.
	LastSync *time.Time       `json:"last_sync"`
	Result   pathsync.Results `json:"result"`
	Error    string           `json:"error,omitempty"`
}

// Controller serializes sync passes.
type Controller struct {
	syncer   Syncer
	store    *Store
	observer RunObserver

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	state  Snapshot
	closed bool
}

// Option customizes a Controller.
type Option func(*Controller)

// WithStore persists every finished snapshot and restores the last one on
// start.
func WithStore(s *Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithObserver registers a run observer.
func WithObserver(o RunObserver) Option {
	return func(c *Controller) { c.observer = o }
}

// New returns an idle Controller. Background passes run under ctx.
func New(ctx context.Context, syncer Syncer, opts ...Option) *Controller {
	c := &Controller{
		syncer: syncer,
		state:  Snapshot{Phase: PhaseIdle},
	}
	for _, o := range opts {
		o(c)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.restore()
	return c
}

func (c *Controller) restore() {
	if c.store == nil {
		return
	}
	snap, ok, err := c.store.Load()
	if err != nil {
		plog.Warn("Failed to load previous sync status, starting fresh", "error", err)
		return
	}
	if !ok {
		return
	}
	// A pass that was running when the process stopped did not finish.
	if snap.Phase == PhaseRunning {
		snap.Phase = PhaseFailed
		snap.Error = "interrupted by shutdown"
	}
	snap.InProgress = false
	c.state = snap
	plog.Debug("Restored sync status", "phase", snap.Phase, "run_id", snap.RunID)
}

// begin moves the controller to Running. It returns ErrAlreadyRunning if a
// pass is already active.
func (c *Controller) begin(dryRun bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	if c.state.InProgress {
		return "", ErrAlreadyRunning
	}
	now := time.Now().UTC()
	c.state = Snapshot{
		Phase:      PhaseRunning,
		InProgress: true,
		RunID:      uuid.NewString(),
		DryRun:     dryRun,
		StartedAt:  &now,
		LastSync:   c.state.LastSync,
	}
	if c.observer != nil {
		c.observer.RunStarted()
	}
	return c.state.RunID, nil
}

// Trigger starts one pass in the background. While a pass is running it
// returns TriggerAlreadyRunning and starts nothing.
func (c *Controller) Trigger(dryRun bool) (TriggerResult, error) {
	runID, err := c.begin(dryRun)
	if errors.Is(err, ErrAlreadyRunning) {
		return TriggerAlreadyRunning, nil
	}
	if err != nil {
		return "", err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(c.ctx, runID, dryRun)
	}()
	return TriggerStarted, nil
}

// RunSync runs one pass and waits for it.
func (c *Controller) RunSync(ctx context.Context, dryRun bool) (pathsync.Results, error) {
	runID, err := c.begin(dryRun)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, runID, dryRun)
}

func (c *Controller) run(ctx context.Context, runID string, dryRun bool) (results pathsync.Results, err error) {
	defer func() {
		if r := recover(); r != nil {
			plog.Error("Sync panicked", "run_id", runID, "panic", r)
			results, err = nil, errors.New("sync panicked")
			c.finish(nil, err)
		}
	}()

	plog.Info("Sync started", "run_id", runID, "dry_run", dryRun)
	results, err = c.syncer.SyncAll(ctx, dryRun)
	c.finish(results, err)
	return results, err
}

func (c *Controller) finish(results pathsync.Results, err error) {
	c.mu.Lock()
	now := time.Now().UTC()
	c.state.InProgress = false
	if err != nil {
		c.state.Phase = PhaseFailed
		c.state.Error = err.Error()
		plog.Error("Sync failed", "run_id", c.state.RunID, "error", err)
	} else {
		c.state.Phase = PhaseCompleted
		c.state.Result = results
		c.state.LastSync = &now
		plog.Info("Sync completed", "run_id", c.state.RunID, "replicas", len(results), "failed", results.Failed())
	}
	if c.observer != nil {
		c.observer.RunFinished(pathsync.RunResult(results, err))
	}
	snap := c.state
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(snap); err != nil {
			plog.Warn("Failed to persist sync status", "error", err)
		}
	}
}

// Status returns the current state.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until no background pass is running.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close refuses new passes, cancels a running background pass and waits
// for it to return.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
