package pathsync

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-booksync/pkg/plog"
	"github.com/paulschiretz/pgl-booksync/pkg/preflight"
)

// Outcome is the result of one replica: statistics, or the error that
// stopped the replica's pass.
type Outcome struct {
	Stats *Statistics
	Error string
}

// Failed reports whether the replica's pass did not complete.
func (o Outcome) Failed() bool { return o.Error != "" }

// MarshalJSON renders a failure as {"error": "..."} and a success as the
// statistics report.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Failed() {
		return json.Marshal(map[string]string{"error": o.Error})
	}
	return json.Marshal(o.Stats)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["error"]; ok {
		*o = Outcome{}
		return json.Unmarshal(raw, &o.Error)
	}
	stats := newStatistics(false)
	if err := json.Unmarshal(data, stats); err != nil {
		return err
	}
	*o = Outcome{Stats: stats}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (o Outcome) MarshalYAML() (any, error) {
	if o.Failed() {
		return map[string]string{"error": o.Error}, nil
	}
	return o.Stats.wire(), nil
}

// Results maps a replica root to its outcome.
type Results map[string]Outcome

// Failed returns how many replicas failed.
func (r Results) Failed() int {
	n := 0
	for _, o := range r {
		if o.Failed() {
			n++
		}
	}
	return n
}

// Run results reported to observers and hooks.
const (
	RunSuccess = "success"
	RunPartial = "partial"
	RunFailed  = "failed"
)

// RunResult labels a finished SyncAll call.
func RunResult(results Results, err error) string {
	switch {
	case err != nil:
		return RunFailed
	case results.Failed() > 0:
		return RunPartial
	default:
		return RunSuccess
	}
}

// OrchestratorOptions tunes SyncAll.
type OrchestratorOptions struct {
	// Parallel is the number of replicas synced at once. Values below 1
	// mean one at a time, in configuration order.
	Parallel int
	// MinFreeBytes is required on each replica volume before writing.
	MinFreeBytes uint64
}

// Orchestrator runs the engine against every configured replica.
type Orchestrator struct {
	engine   *Engine
	source   string
	replicas []string
	opts     OrchestratorOptions
}

// NewOrchestrator returns an Orchestrator for one source and its replicas.
func NewOrchestrator(engine *Engine, source string, replicas []string, opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		engine:   engine,
		source:   source,
		replicas: append([]string(nil), replicas...),
		opts:     opts,
	}
}

// Source returns the library source root.
func (o *Orchestrator) Source() string { return o.source }

// Replicas returns the replica roots in configuration order.
func (o *Orchestrator) Replicas() []string { return append([]string(nil), o.replicas...) }

// SyncAll reconciles every replica. An invalid source fails the whole pass
// before any replica is touched. A failing replica is recorded in Results
// and does not stop the others.
func (o *Orchestrator) SyncAll(ctx context.Context, dryRun bool) (Results, error) {
	if err := preflight.CheckSourceAccessible(o.source); err != nil {
		return nil, err
	}
	desired, err := o.engine.BuildDesiredState(ctx, o.source)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make(Results, len(o.replicas))
		g       errgroup.Group
	)
	limit := o.opts.Parallel
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, replica := range o.replicas {
		g.Go(func() error {
			outcome := o.syncOne(ctx, desired, replica, dryRun)
			mu.Lock()
			results[replica] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if n := results.Failed(); n > 0 {
		plog.Warn("Some replicas failed to sync", "failed", n, "total", len(o.replicas))
	}
	return results, nil
}

func (o *Orchestrator) syncOne(ctx context.Context, desired *DesiredState, replica string, dryRun bool) Outcome {
	plan := preflight.Plan{
		PathNesting:       true,
		ReplicaAccessible: true,
		ReplicaWritable:   !dryRun,
		MinFreeBytes:      o.opts.MinFreeBytes,
	}
	if err := preflight.Run(plan, o.source, replica); err != nil {
		plog.Error("Replica preflight failed", "replica", replica, "error", err)
		return Outcome{Error: err.Error()}
	}

	stats, err := o.engine.Apply(ctx, desired, replica, dryRun)
	if err != nil {
		plog.Error("Replica sync failed", "replica", replica, "error", err)
		return Outcome{Error: err.Error()}
	}
	return Outcome{Stats: stats}
}
