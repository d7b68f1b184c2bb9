package syncmetrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-booksync/pkg/pathsync"
)

func TestForReplica_CountsPerReplica(t *testing.T) {
	c := New()
	a := c.ForReplica("/mnt/a")
	b := c.ForReplica("/mnt/b")

	a.AddFilesAdded(2)
	a.AddFilesDeleted(1)
	b.AddFilesAdded(5)
	a.AddBytesWritten(1024)
	a.ObservePass(1500*time.Millisecond, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.files.WithLabelValues("/mnt/a", "added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.files.WithLabelValues("/mnt/a", "deleted")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.files.WithLabelValues("/mnt/b", "added")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(c.bytes.WithLabelValues("/mnt/a", "written")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.passDuration))

	// The log counters keep working alongside.
	sm := a.(*replicaMetrics).SyncMetrics
	assert.Equal(t, int64(2), sm.FilesAdded.Load())
}

func TestRunLifecycle(t *testing.T) {
	c := New()
	c.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inProgress))
	c.RunFinished("partial")
	assert.Equal(t, 0.0, testutil.ToFloat64(c.inProgress))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("partial")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	c := New()
	var m pathsync.Metrics = c.ForReplica("/mnt/a")
	m.AddFilesUpdated(3)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `pgl_booksync_files_total{action="updated",replica="/mnt/a"} 3`), body)
	assert.Contains(t, body, "go_goroutines")
}
