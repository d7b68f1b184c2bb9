package pathsync

import (
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-booksync/pkg/plog"
	"github.com/paulschiretz/pgl-booksync/pkg/util"
)

// Metrics defines the interface for collecting and reporting reconciliation
// statistics for one replica.
type Metrics interface {
	AddFilesAdded(n int64)
	AddFilesUpdated(n int64)
	AddFilesDeleted(n int64)
	AddFilesUnchanged(n int64)
	AddFilesIgnored(n int64)
	AddFileErrors(n int64)
	AddBytesHashed(n int64)
	AddBytesWritten(n int64)
	ObservePass(d time.Duration, failed bool)
	LogSummary(msg string)

	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// MetricsFactory returns the Metrics sink for a replica root.
type MetricsFactory func(replica string) Metrics

// SyncMetrics holds atomic counters for one pass and logs them via plog.
type SyncMetrics struct {
	FilesAdded     atomic.Int64
	FilesUpdated   atomic.Int64
	FilesDeleted   atomic.Int64
	FilesUnchanged atomic.Int64
	FilesIgnored   atomic.Int64
	FileErrors     atomic.Int64
	BytesHashed    atomic.Int64
	BytesWritten   atomic.Int64

	replica   string
	stopChan  chan struct{}
	startTime time.Time
}

// NewSyncMetrics returns log-only metrics for a replica.
func NewSyncMetrics(replica string) Metrics {
	return &SyncMetrics{replica: replica}
}

func (m *SyncMetrics) AddFilesAdded(n int64)     { m.FilesAdded.Add(n) }
func (m *SyncMetrics) AddFilesUpdated(n int64)   { m.FilesUpdated.Add(n) }
func (m *SyncMetrics) AddFilesDeleted(n int64)   { m.FilesDeleted.Add(n) }
func (m *SyncMetrics) AddFilesUnchanged(n int64) { m.FilesUnchanged.Add(n) }
func (m *SyncMetrics) AddFilesIgnored(n int64)   { m.FilesIgnored.Add(n) }
func (m *SyncMetrics) AddFileErrors(n int64)     { m.FileErrors.Add(n) }
func (m *SyncMetrics) AddBytesHashed(n int64)    { m.BytesHashed.Add(n) }
func (m *SyncMetrics) AddBytesWritten(n int64)   { m.BytesWritten.Add(n) }

func (m *SyncMetrics) ObservePass(time.Duration, bool) {}

func (m *SyncMetrics) StartProgress(msg string, interval time.Duration) {
	m.startTime = time.Now()
	if interval <= 0 {
		return
	}
	m.stopChan = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *SyncMetrics) StopProgress() {
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
}

// LogSummary prints the counters with a custom message.
// This can be called by a background ticker or at the end of the run.
func (m *SyncMetrics) LogSummary(msg string) {
	duration := time.Duration(0)
	if !m.startTime.IsZero() {
		duration = time.Since(m.startTime)
	}

	plog.Info(msg,
		"replica", m.replica,
		"added", m.FilesAdded.Load(),
		"updated", m.FilesUpdated.Load(),
		"deleted", m.FilesDeleted.Load(),
		"unchanged", m.FilesUnchanged.Load(),
		"ignored", m.FilesIgnored.Load(),
		"errors", m.FileErrors.Load(),
		"bytes_hashed", util.ByteCountIEC(m.BytesHashed.Load()),
		"bytes_written", util.ByteCountIEC(m.BytesWritten.Load()),
		"duration", duration.Round(time.Millisecond),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddFilesAdded(n int64)                            {}
func (m *NoopMetrics) AddFilesUpdated(n int64)                          {}
func (m *NoopMetrics) AddFilesDeleted(n int64)                          {}
func (m *NoopMetrics) AddFilesUnchanged(n int64)                        {}
func (m *NoopMetrics) AddFilesIgnored(n int64)                          {}
func (m *NoopMetrics) AddFileErrors(n int64)                            {}
func (m *NoopMetrics) AddBytesHashed(n int64)                           {}
func (m *NoopMetrics) AddBytesWritten(n int64)                          {}
func (m *NoopMetrics) ObservePass(d time.Duration, failed bool)         {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// Statically assert that our types implement the interface.
var _ Metrics = (*SyncMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
