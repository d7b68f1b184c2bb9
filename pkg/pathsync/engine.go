// Package pathsync reconciles replica trees against a library source.
//
// A pass has two phases per replica. The add/update phase walks the desired
// layout in sorted order and copies what is missing or changed. The delete
// phase then removes every replica file the first phase did not claim,
// except protected files. The second phase depends on the complete claimed
// set, so the phases never overlap.
//
// A failure on one file is recorded in the Statistics and the pass goes on.
// Only problems with the source or the replica root are returned as errors.
package pathsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-booksync/pkg/bookmeta"
	"github.com/paulschiretz/pgl-booksync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-booksync/pkg/lockfile"
	"github.com/paulschiretz/pgl-booksync/pkg/metafile"
	"github.com/paulschiretz/pgl-booksync/pkg/pathhash"
	"github.com/paulschiretz/pgl-booksync/pkg/pathindex"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
	"github.com/paulschiretz/pgl-booksync/pkg/pool"
	"github.com/paulschiretz/pgl-booksync/pkg/util"
)

// Options tunes the engine.
type Options struct {
	// ModTimeWindow is the largest modification time difference still
	// treated as equal. Zero means exact match.
	ModTimeWindow time.Duration
	RetryCount    int
	RetryWait     time.Duration
	// BufferSize is the copy and hash buffer size in bytes.
	BufferSize int
	// ProgressInterval enables periodic progress logs when positive.
	ProgressInterval time.Duration
	// LockWait bounds how long a pass waits for another process's lock on
	// a replica. Zero fails immediately.
	LockWait time.Duration
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ModTimeWindow: time.Second,
		RetryCount:    2,
		RetryWait:     500 * time.Millisecond,
		BufferSize:    pool.DefaultBufferSize,
	}
}

// Engine reconciles one replica at a time. It is safe to run different
// replicas concurrently on one Engine.
type Engine struct {
	resolver   bookmeta.Resolver
	hasher     pathhash.Hasher
	buffers    *pool.BufferPool
	opts       Options
	newMetrics MetricsFactory
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithMetrics sets the per-replica metrics factory.
func WithMetrics(f MetricsFactory) EngineOption {
	return func(e *Engine) { e.newMetrics = f }
}

// WithHasher replaces the content hasher.
func WithHasher(h pathhash.Hasher) EngineOption {
	return func(e *Engine) { e.hasher = h }
}

// NewEngine returns an Engine that names files using resolver.
func NewEngine(resolver bookmeta.Resolver, opts Options, options ...EngineOption) *Engine {
	if resolver == nil {
		resolver = bookmeta.NopResolver{}
	}
	e := &Engine{
		resolver:   resolver,
		buffers:    pool.NewBufferPool(opts.BufferSize),
		opts:       opts,
		newMetrics: func(string) Metrics { return &NoopMetrics{} },
	}
	for _, o := range options {
		o(e)
	}
	if e.hasher == nil {
		e.hasher = pathhash.New(e.buffers)
	}
	return e
}

// Reconcile builds the desired state from sourceRoot and applies it to
// replicaRoot.
func (e *Engine) Reconcile(ctx context.Context, sourceRoot, replicaRoot string, dryRun bool) (*Statistics, error) {
	desired, err := e.BuildDesiredState(ctx, sourceRoot)
	if err != nil {
		return nil, err
	}
	return e.Apply(ctx, desired, replicaRoot, dryRun)
}

// replicaPass holds the state of applying one DesiredState to one replica.
type replicaPass struct {
	*Engine
	ctx         context.Context
	desired     *DesiredState
	root        string
	dryRun      bool
	stats       *Statistics
	metrics     Metrics
	createdDirs map[string]struct{}
	// processed holds every replica key claimed by the add/update phase.
	processed map[string]struct{}
}

// Apply makes replicaRoot match desired. On a dry run nothing is written,
// yet the returned Statistics are those a real run would produce.
func (e *Engine) Apply(ctx context.Context, desired *DesiredState, replicaRoot string, dryRun bool) (stats *Statistics, err error) {
	metrics := e.newMetrics(replicaRoot)
	started := time.Now()
	metrics.StartProgress("Sync progress", e.opts.ProgressInterval)
	defer func() {
		metrics.StopProgress()
		metrics.ObservePass(time.Since(started), err != nil)
		metrics.LogSummary("Sync finished")
	}()

	if !dryRun {
		if err := os.MkdirAll(replicaRoot, util.UserWritableDirPerms); err != nil {
			return nil, fmt.Errorf("failed to create replica %s: %w", replicaRoot, err)
		}
		lock, err := e.lockReplica(ctx, replicaRoot)
		if err != nil {
			return nil, err
		}
		defer lock.Release()
	}

	replica, err := pathindex.IndexReplica(replicaRoot)
	if err != nil {
		return nil, err
	}

	p := &replicaPass{
		Engine:      e,
		ctx:         ctx,
		desired:     desired,
		root:        replicaRoot,
		dryRun:      dryRun,
		stats:       newStatistics(dryRun),
		metrics:     metrics,
		createdDirs: make(map[string]struct{}),
		processed:   make(map[string]struct{}, len(desired.Targets)),
	}

	plog.Notice("SYN", "from", desired.SourceRoot, "to", replicaRoot, "dry_run", dryRun)
	p.stats.IgnoredFiles = append(p.stats.IgnoredFiles, desired.Ignored...)
	metrics.AddFilesIgnored(int64(len(desired.Ignored)))

	if err := p.syncPhase(replica.Files); err != nil {
		return nil, err
	}
	if err := p.deletePhase(replica.Files); err != nil {
		return nil, err
	}
	p.cleanStaleTemps(replica.StaleTemps)
	p.logErrors()

	if !dryRun {
		content := &metafile.MetafileContent{
			Version:      buildinfo.Version,
			AppID:        buildinfo.AppID,
			RunID:        uuid.NewString(),
			TimestampUTC: time.Now().UTC(),
			Source:       desired.SourceRoot,
			Counts:       p.stats.Counts(),
		}
		if err := metafile.Write(replicaRoot, content); err != nil {
			plog.Warn("Failed to write replica metafile", "replica", replicaRoot, "error", err)
		}
	}
	return p.stats, nil
}

func (e *Engine) lockReplica(ctx context.Context, replicaRoot string) (*lockfile.Lock, error) {
	if e.opts.LockWait <= 0 {
		return lockfile.Acquire(replicaRoot)
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.LockWait)
	defer cancel()
	return lockfile.AcquireWait(waitCtx, replicaRoot)
}

type action int

const (
	actionAdd action = iota
	actionUpdate
	actionUnchanged
)

// syncPhase handles additions and updates.
func (p *replicaPass) syncPhase(existing pathindex.Index) error {
	for _, key := range p.desired.Order {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		entry := p.desired.Targets[key]
		p.processed[key] = struct{}{}

		act := actionAdd
		if dst, ok := existing[key]; ok {
			var err error
			act, err = p.compare(entry.Source, dst)
			if err != nil {
				plog.Warn("Failed to compare file, leaving it in place", "path", key, "error", err)
				p.recordError(key, err)
				continue
			}
		}

		if act == actionUnchanged {
			p.stats.UnchangedFiles = append(p.stats.UnchangedFiles, key)
			p.metrics.AddFilesUnchanged(1)
			continue
		}

		if err := p.write(key, entry); err != nil {
			plog.Warn("Sync failed for path", "path", key, "error", err)
			p.recordError(key, err)
			continue
		}
		if act == actionAdd {
			p.stats.AddedFiles = append(p.stats.AddedFiles, key)
			p.metrics.AddFilesAdded(1)
		} else {
			p.stats.UpdatedFiles = append(p.stats.UpdatedFiles, key)
			p.metrics.AddFilesUpdated(1)
		}
	}
	return nil
}

// compare decides whether the replica copy dst still matches src. A size
// mismatch is decisive. Matching sizes with times inside the window are
// trusted. Anything else is settled by hashing both files.
func (p *replicaPass) compare(src, dst pathindex.FileRecord) (action, error) {
	if src.Size != dst.Size {
		return actionUpdate, nil
	}
	diff := time.Duration(src.ModTime - dst.ModTime).Abs()
	if diff <= p.opts.ModTimeWindow {
		return actionUnchanged, nil
	}

	srcSum, err := p.hasher.Sum(src.AbsPath)
	if err != nil {
		return 0, err
	}
	dstSum, err := p.hasher.Sum(dst.AbsPath)
	if err != nil {
		return 0, err
	}
	p.metrics.AddBytesHashed(src.Size + dst.Size)
	if srcSum != dstSum {
		return actionUpdate, nil
	}

	// Same content: align the time so the next pass skips the hash.
	if !p.dryRun {
		mt := src.ModTimeAsTime()
		if err := os.Chtimes(dst.AbsPath, mt, mt); err != nil {
			plog.Debug("Failed to align modification time", "path", dst.AbsPath, "error", err)
		}
	}
	return actionUnchanged, nil
}

func (p *replicaPass) write(key string, entry DesiredEntry) error {
	if p.dryRun {
		plog.Notice("[DRY RUN] COPY", "path", key, "from", entry.Source.AbsPath)
		return nil
	}

	absTrgPath := filepath.Join(p.root, filepath.FromSlash(key))
	if err := p.ensureDir(filepath.Dir(absTrgPath)); err != nil {
		return err
	}

	// A directory squatting on the target name cannot be replaced by rename.
	if info, err := os.Lstat(absTrgPath); err == nil && info.IsDir() {
		plog.Warn("Destination is a directory, removing before copy", "path", key)
		if err := os.RemoveAll(absTrgPath); err != nil {
			return fmt.Errorf("failed to remove directory at destination %s: %w", absTrgPath, err)
		}
	}

	n, err := p.copyFile(p.ctx, entry.Source, absTrgPath)
	if err != nil {
		return err
	}
	p.metrics.AddBytesWritten(n)
	plog.Notice("COPY", "path", key)
	return nil
}

func (p *replicaPass) ensureDir(dir string) error {
	if _, ok := p.createdDirs[dir]; ok {
		return nil
	}
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	p.createdDirs[dir] = struct{}{}
	return nil
}

// deletePhase removes replica files the sync phase did not claim.
func (p *replicaPass) deletePhase(existing pathindex.Index) error {
	for _, key := range sortedKeys(existing) {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		if _, ok := p.processed[key]; ok {
			continue
		}
		rec := existing[key]
		if p.desired.IsProtected(rec.LogicalName) {
			plog.Debug("KEEP", "reason", "protected", "path", key)
			continue
		}

		if p.dryRun {
			plog.Notice("[DRY RUN] DELETE", "path", key)
		} else {
			if err := os.Remove(rec.AbsPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				plog.Warn("Failed to delete file", "path", key, "error", err)
				p.recordError(key, fmt.Errorf("failed to delete %s: %w", rec.AbsPath, err))
				continue
			}
			plog.Notice("DELETE", "path", key)
		}
		p.stats.DeletedFiles = append(p.stats.DeletedFiles, key)
		p.metrics.AddFilesDeleted(1)
	}
	return nil
}

func (p *replicaPass) cleanStaleTemps(paths []string) {
	for _, path := range paths {
		if p.dryRun {
			plog.Debug("[DRY RUN] Would remove stale temporary file", "path", path)
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			plog.Warn("Failed to remove stale temporary file", "path", path, "error", err)
			continue
		}
		plog.Debug("Removed stale temporary file", "path", path)
	}
}

func (p *replicaPass) recordError(key string, err error) {
	p.stats.addError(key, err)
	p.metrics.AddFileErrors(1)
}

// logErrors prints one summary of all per-file failures.
func (p *replicaPass) logErrors() {
	if len(p.stats.ErrorFiles) == 0 {
		return
	}
	keys := append([]string(nil), p.stats.ErrorFiles...)
	sort.Strings(keys)
	plog.Warn(fmt.Sprintf("%d non-fatal errors occurred during sync", len(keys)), "replica", p.root, "files", keys)
}
