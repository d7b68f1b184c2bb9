package syncstatus

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-booksync/pkg/pathsync"
)

// fakeSyncer blocks each pass until release is closed.
type fakeSyncer struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
	results pathsync.Results
	err     error
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{
		started: make(chan struct{}, 10),
		release: make(chan struct{}),
		results: pathsync.Results{"/r1": {Stats: &pathsync.Statistics{AddedFiles: []string{"a.mobi"}}}},
	}
}

func (f *fakeSyncer) SyncAll(ctx context.Context, dryRun bool) (pathsync.Results, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.started <- struct{}{}
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.results, f.err
}

func (f *fakeSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	finished []string
}

func (o *recordingObserver) RunStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) RunFinished(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, result)
}

func TestTrigger_SingleFlight(t *testing.T) {
	syncer := newFakeSyncer()
	c := New(context.Background(), syncer)
	defer c.Close()

	res, err := c.Trigger(false)
	require.NoError(t, err)
	assert.Equal(t, TriggerStarted, res)
	<-syncer.started

	status := c.Status()
	assert.True(t, status.InProgress)
	assert.Equal(t, PhaseRunning, status.Phase)
	assert.NotEmpty(t, status.RunID)
	assert.Nil(t, status.LastSync)

	res, err = c.Trigger(true)
	require.NoError(t, err)
	assert.Equal(t, TriggerAlreadyRunning, res)

	_, err = c.RunSync(context.Background(), false)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(syncer.release)
	c.Wait()

	status = c.Status()
	assert.False(t, status.InProgress)
	assert.Equal(t, PhaseCompleted, status.Phase)
	require.NotNil(t, status.LastSync)
	assert.Equal(t, 1, status.Result["/r1"].Stats.Added())
	assert.Equal(t, 1, syncer.callCount())
}

func TestRunSync_FailureKeepsLastSync(t *testing.T) {
	syncer := newFakeSyncer()
	close(syncer.release)
	obs := &recordingObserver{}
	c := New(context.Background(), syncer, WithObserver(obs))
	defer c.Close()

	_, err := c.RunSync(context.Background(), false)
	require.NoError(t, err)
	first := c.Status().LastSync
	require.NotNil(t, first)

	syncer.err = errors.New("source directory does not exist")
	_, err = c.RunSync(context.Background(), false)
	require.Error(t, err)

	status := c.Status()
	assert.Equal(t, PhaseFailed, status.Phase)
	assert.Equal(t, "source directory does not exist", status.Error)
	assert.Equal(t, first, status.LastSync)
	assert.Nil(t, status.Result)
	assert.Equal(t, []string{"success", "failed"}, obs.finished)
	assert.Equal(t, 2, obs.started)
}

func TestRunSync_PartialFailureIsCompleted(t *testing.T) {
	syncer := newFakeSyncer()
	close(syncer.release)
	syncer.results = pathsync.Results{"/r1": {Error: "not a directory"}}
	obs := &recordingObserver{}
	c := New(context.Background(), syncer, WithObserver(obs))
	defer c.Close()

	results, err := c.RunSync(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, results.Failed())
	assert.Equal(t, PhaseCompleted, c.Status().Phase)
	assert.True(t, c.Status().DryRun)
	assert.Equal(t, []string{"partial"}, obs.finished)
}

func TestClose_CancelsAndRefuses(t *testing.T) {
	syncer := newFakeSyncer()
	c := New(context.Background(), syncer)

	_, err := c.Trigger(false)
	require.NoError(t, err)
	<-syncer.started

	c.Close()
	assert.Equal(t, PhaseFailed, c.Status().Phase)

	_, err = c.Trigger(false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	syncer := newFakeSyncer()
	close(syncer.release)

	c := New(context.Background(), syncer, WithStore(NewStore(dir)))
	_, err := c.RunSync(context.Background(), false)
	require.NoError(t, err)
	before := c.Status()
	c.Close()

	restarted := New(context.Background(), syncer, WithStore(NewStore(dir)))
	defer restarted.Close()
	after := restarted.Status()

	assert.Equal(t, before.RunID, after.RunID)
	assert.Equal(t, PhaseCompleted, after.Phase)
	require.NotNil(t, after.LastSync)
	assert.True(t, before.LastSync.Equal(*after.LastSync))
	assert.Equal(t, []string{"a.mobi"}, after.Result["/r1"].Stats.AddedFiles)
}

func TestStore_InterruptedRunIsFailed(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()
	require.NoError(t, NewStore(dir).Save(Snapshot{Phase: PhaseRunning, InProgress: true, RunID: "x", StartedAt: &now}))

	c := New(context.Background(), newFakeSyncer(), WithStore(NewStore(dir)))
	defer c.Close()

	status := c.Status()
	assert.False(t, status.InProgress)
	assert.Equal(t, PhaseFailed, status.Phase)
	assert.NotEmpty(t, status.Error)
}

func TestStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.WriteFile(s.Path(), []byte("not gzip"), 0644))

	_, _, err := s.Load()
	assert.ErrorContains(t, err, "may be corrupt")

	// The controller starts fresh.
	c := New(context.Background(), newFakeSyncer(), WithStore(s))
	defer c.Close()
	assert.Equal(t, PhaseIdle, c.Status().Phase)
}

func TestStore_MissingFile(t *testing.T) {
	_, ok, err := NewStore(t.TempDir()).Load()
	require.NoError(t, err)
	assert.False(t, ok)
}
