package api_test

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-booksync/pkg/api"
	"github.com/paulschiretz/pgl-booksync/pkg/pathsync"
	"github.com/paulschiretz/pgl-booksync/pkg/syncstatus"
)

type fakeController struct {
	mu       sync.Mutex
	snap     syncstatus.Snapshot
	dryRuns  []bool
	err      error
	response syncstatus.TriggerResult
}

func (f *fakeController) Trigger(dryRun bool) (syncstatus.TriggerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.dryRuns = append(f.dryRuns, dryRun)
	return f.response, nil
}

func (f *fakeController) Status() syncstatus.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

type fakeCache struct{ invalidated int }

func (c *fakeCache) Invalidate() { c.invalidated++ }

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	server := api.NewServer(&fakeController{})

	rr := do(t, server, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
}

func TestTriggerEndpoint(t *testing.T) {
	t.Parallel()
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		target         string
		response       syncstatus.TriggerResult
		err            error
		expectedStatus int
		expectedBody   string
		expectedDryRun []bool
	}{
		{
			name:           "started",
			target:         "/sync/trigger",
			response:       syncstatus.TriggerStarted,
			expectedStatus: http.StatusAccepted,
			expectedBody:   "started",
			expectedDryRun: []bool{false},
		},
		{
			name:           "dry run flag",
			target:         "/sync/trigger?dry_run=true",
			response:       syncstatus.TriggerStarted,
			expectedStatus: http.StatusAccepted,
			expectedBody:   "started",
			expectedDryRun: []bool{true},
		},
		{
			name:           "already running",
			target:         "/sync/trigger",
			response:       syncstatus.TriggerAlreadyRunning,
			expectedStatus: http.StatusOK,
			expectedBody:   "already_running",
			expectedDryRun: []bool{false},
		},
		{
			name:           "invalid dry run",
			target:         "/sync/trigger?dry_run=maybe",
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "dry_run must be a boolean",
		},
		{
			name:           "controller closed",
			target:         "/sync/trigger",
			err:            syncstatus.ErrClosed,
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := &fakeController{
				response: tt.response,
				err:      tt.err,
				snap:     syncstatus.Snapshot{LastSync: &last},
			}
			server := api.NewServer(ctrl)

			rr := do(t, server, http.MethodPost, tt.target)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.expectedBody)
			assert.Equal(t, tt.expectedDryRun, ctrl.dryRuns)
			if rr.Code < 300 {
				var resp api.SyncResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				require.NotNil(t, resp.LastSync)
				assert.True(t, last.Equal(*resp.LastSync))
			}
		})
	}
}

func TestTriggerEndpoint_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	rr := do(t, api.NewServer(&fakeController{}), http.MethodGet, "/sync/trigger")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	stats := &pathsync.Statistics{AddedFiles: []string{"epubs/A - B.epub"}}

	tests := []struct {
		name           string
		snap           syncstatus.Snapshot
		expectedStatus string
		expectedErrors any
		expectedAdded  any
	}{
		{
			name:           "never run",
			snap:           syncstatus.Snapshot{Phase: syncstatus.PhaseIdle},
			expectedStatus: "idle",
		},
		{
			name:           "in progress",
			snap:           syncstatus.Snapshot{Phase: syncstatus.PhaseRunning, InProgress: true, RunID: "abc"},
			expectedStatus: "in_progress",
		},
		{
			name: "completed",
			snap: syncstatus.Snapshot{
				Phase:  syncstatus.PhaseCompleted,
				Result: pathsync.Results{"/r1": {Stats: stats}, "/r2": {Error: "not a directory"}},
			},
			expectedStatus: "idle",
			expectedAdded:  float64(1),
		},
		{
			name:           "failed",
			snap:           syncstatus.Snapshot{Phase: syncstatus.PhaseFailed, Error: "source missing"},
			expectedStatus: "idle",
			expectedErrors: "source missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := api.NewServer(&fakeController{snap: tt.snap})

			rr := do(t, server, http.MethodGet, "/sync/status")
			require.Equal(t, http.StatusOK, rr.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.expectedStatus, body["status"])
			assert.Equal(t, string(tt.snap.Phase), body["phase"])
			assert.Contains(t, body, "last_sync")

			details, ok := body["details"].(map[string]any)
			require.True(t, ok, "details missing: %v", body)
			assert.Equal(t, tt.expectedErrors, details["errors"])
			if tt.expectedAdded != nil {
				result := details["result"].(map[string]any)
				assert.Equal(t, tt.expectedAdded, result["/r1"].(map[string]any)["added"])
				assert.Equal(t, "not a directory", result["/r2"].(map[string]any)["error"])
			}
		})
	}
}

func TestInvalidateCacheEndpoint(t *testing.T) {
	t.Parallel()

	rr := do(t, api.NewServer(&fakeController{}), http.MethodPost, "/metadata/cache/invalidate")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	cache := &fakeCache{}
	rr = do(t, api.NewServer(&fakeController{}, api.WithCacheInvalidator(cache)), http.MethodPost, "/metadata/cache/invalidate")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, cache.invalidated)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rr := do(t, api.NewServer(&fakeController{}), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pgl_booksync_runs_total 1\n")
	})
	rr = do(t, api.NewServer(&fakeController{}, api.WithMetricsHandler(metrics)), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pgl_booksync_runs_total")
}

func TestDefaultMiddlewares(t *testing.T) {
	t.Parallel()
	added := make([]string, 0, 500)
	for range 500 {
		added = append(added, "epubs/Some Long Book Title - Some Author.epub")
	}
	ctrl := &fakeController{snap: syncstatus.Snapshot{
		Phase:  syncstatus.PhaseCompleted,
		Result: pathsync.Results{"/r1": {Stats: &pathsync.Statistics{AddedFiles: added}}},
	}}
	server := api.NewServer(ctrl, api.WithMiddlewares(api.DefaultMiddlewares()...))

	req, err := http.NewRequest(http.MethodGet, "/sync/status", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), `{"status":"idle"`))
}

func TestRecovererMiddleware(t *testing.T) {
	t.Parallel()
	server := api.NewServer(panicController{}, api.WithMiddlewares(api.DefaultMiddlewares()...))

	rr := do(t, server, http.MethodGet, "/sync/status")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

type panicController struct{}

func (panicController) Trigger(bool) (syncstatus.TriggerResult, error) {
	return "", errors.New("unused")
}

func (panicController) Status() syncstatus.Snapshot { panic("boom") }
