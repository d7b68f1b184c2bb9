package pathsync

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paulschiretz/pgl-booksync/pkg/preflight"
)

func TestSyncAll_ReplicaFailureIsolated(t *testing.T) {
	for _, parallel := range []int{1, 3} {
		t.Run(map[int]string{1: "Sequential", 3: "Parallel"}[parallel], func(t *testing.T) {
			lib := newTestLibrary(t)
			lib.addBook(t, "A/b.epub", "epub", "Book", "Author")

			base := t.TempDir()
			replicaA := filepath.Join(base, "a")
			replicaB := filepath.Join(base, "b")
			replicaC := filepath.Join(base, "c")
			// B is a regular file, so it can never be a replica root.
			createFile(t, replicaB, "not a dir", time.Now())

			o := NewOrchestrator(NewEngine(lib.resolver, testOptions()), lib.root,
				[]string{replicaA, replicaB, replicaC}, OrchestratorOptions{Parallel: parallel})
			results, err := o.SyncAll(context.Background(), false)
			if err != nil {
				t.Fatalf("SyncAll failed: %v", err)
			}

			if len(results) != 3 {
				t.Fatalf("expected 3 outcomes, got %d", len(results))
			}
			if !results[replicaB].Failed() {
				t.Errorf("expected replica B to fail, got %+v", results[replicaB])
			}
			for _, r := range []string{replicaA, replicaC} {
				out := results[r]
				if out.Failed() {
					t.Errorf("expected %s to succeed, got %s", r, out.Error)
					continue
				}
				if out.Stats.Added() != 1 {
					t.Errorf("expected one add on %s, got %+v", r, out.Stats.Counts())
				}
				if !pathExists(t, filepath.Join(r, "epubs", "Book - Author.epub")) {
					t.Errorf("expected book on %s", r)
				}
			}
			if results.Failed() != 1 {
				t.Errorf("expected 1 failed replica, got %d", results.Failed())
			}
		})
	}
}

func TestSyncAll_InvalidSource(t *testing.T) {
	replica := filepath.Join(t.TempDir(), "replica")
	o := NewOrchestrator(NewEngine(nil, testOptions()), filepath.Join(t.TempDir(), "missing"),
		[]string{replica}, OrchestratorOptions{})

	results, err := o.SyncAll(context.Background(), false)
	if !errors.Is(err, preflight.ErrSourceInvalid) {
		t.Fatalf("expected ErrSourceInvalid, got %v", err)
	}
	if results != nil {
		t.Errorf("expected no results, got %v", results)
	}
	if pathExists(t, replica) {
		t.Error("expected replica to stay untouched")
	}
}

func TestSyncAll_NestedReplicaRejected(t *testing.T) {
	lib := newTestLibrary(t)
	lib.addBook(t, "A/b.epub", "epub", "Book", "Author")
	nested := filepath.Join(lib.root, "replica")

	o := NewOrchestrator(NewEngine(lib.resolver, testOptions()), lib.root, []string{nested}, OrchestratorOptions{})
	results, err := o.SyncAll(context.Background(), false)
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if !results[nested].Failed() || !strings.Contains(results[nested].Error, "inside the library source") {
		t.Errorf("expected nesting failure, got %+v", results[nested])
	}
}

func TestSyncAll_DryRunCreatesNothing(t *testing.T) {
	lib := newTestLibrary(t)
	lib.addBook(t, "A/b.epub", "epub", "Book", "Author")
	replica := filepath.Join(t.TempDir(), "replica")

	o := NewOrchestrator(NewEngine(lib.resolver, testOptions()), lib.root, []string{replica}, OrchestratorOptions{})
	results, err := o.SyncAll(context.Background(), true)
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if out := results[replica]; out.Failed() || out.Stats.Added() != 1 || !out.Stats.DryRun {
		t.Errorf("unexpected dry run outcome: %+v", out)
	}
	if pathExists(t, replica) {
		t.Error("dry run must not create the replica")
	}
}

func TestSyncAll_CreatesMissingReplicaParents(t *testing.T) {
	lib := newTestLibrary(t)
	lib.addBook(t, "A/b.epub", "epub", "Book", "Author")
	replica := filepath.Join(t.TempDir(), "mnt", "reader", "library")

	o := NewOrchestrator(NewEngine(lib.resolver, testOptions()), lib.root, []string{replica}, OrchestratorOptions{})

	t.Run("Dry Run", func(t *testing.T) {
		results, err := o.SyncAll(context.Background(), true)
		if err != nil {
			t.Fatalf("SyncAll failed: %v", err)
		}
		if out := results[replica]; out.Failed() || out.Stats.Added() != 1 {
			t.Errorf("unexpected dry run outcome: %+v", out)
		}
		if pathExists(t, filepath.Dir(replica)) {
			t.Error("dry run must not create parent directories")
		}
	})

	t.Run("Real Run", func(t *testing.T) {
		results, err := o.SyncAll(context.Background(), false)
		if err != nil {
			t.Fatalf("SyncAll failed: %v", err)
		}
		if out := results[replica]; out.Failed() {
			t.Fatalf("expected replica to be created, got error: %s", out.Error)
		}
		if !pathExists(t, filepath.Join(replica, "epubs", "Book - Author.epub")) {
			t.Error("expected book in the newly created replica")
		}
	})
}

func TestSyncAll_NoReplicas(t *testing.T) {
	lib := newTestLibrary(t)
	lib.addBook(t, "A/b.epub", "epub", "Book", "Author")

	o := NewOrchestrator(NewEngine(lib.resolver, testOptions()), lib.root, nil, OrchestratorOptions{})
	results, err := o.SyncAll(context.Background(), false)
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if len(results) != 0 || results.Failed() != 0 {
		t.Errorf("expected empty results, got %v", results)
	}
	if RunResult(results, err) != RunSuccess {
		t.Errorf("expected a pass without replicas to succeed, got %s", RunResult(results, err))
	}
}

func TestOutcome_JSON(t *testing.T) {
	stats := newStatistics(false)
	stats.AddedFiles = append(stats.AddedFiles, "epubs/A - B.epub")
	stats.IgnoredFiles = append(stats.IgnoredFiles, "notes.xyz")
	stats.addError("kfx/C - D.kfx", errors.New("disk full"))

	results := Results{
		"/r1": {Stats: stats},
		"/r2": {Error: "replica path exists but is not a directory: /r2"},
	}
	data, err := json.Marshal(results)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal into map failed: %v", err)
	}
	if raw["/r2"]["error"] == nil || len(raw["/r2"]) != 1 {
		t.Errorf("expected failure to render as an error object, got %v", raw["/r2"])
	}
	r1 := raw["/r1"]
	for key, want := range map[string]float64{"added": 1, "ignored": 1, "errors": 1, "total_processed": 2} {
		if r1[key] != want {
			t.Errorf("%s = %v, want %v", key, r1[key], want)
		}
	}

	var back Results
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !back["/r2"].Failed() || back["/r1"].Failed() {
		t.Fatalf("unexpected decoded results: %+v", back)
	}
	if !reflect.DeepEqual(back["/r1"].Stats, stats) {
		t.Errorf("decoded stats mismatch\n got: %+v\nwant: %+v", back["/r1"].Stats, stats)
	}
}

func TestOutcome_YAML(t *testing.T) {
	stats := newStatistics(true)
	stats.DeletedFiles = append(stats.DeletedFiles, "old.mobi")
	data, err := yaml.Marshal(Results{"/r1": {Stats: stats}, "/r2": {Error: "boom"}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	out := string(data)
	for _, want := range []string{"deleted: 1", "dry_run: true", "error: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in YAML output:\n%s", want, out)
		}
	}
}

func TestStatistics_TotalProcessed(t *testing.T) {
	s := newStatistics(false)
	s.AddedFiles = []string{"a"}
	s.UpdatedFiles = []string{"b"}
	s.DeletedFiles = []string{"c", "d"}
	s.UnchangedFiles = []string{"e"}
	s.IgnoredFiles = []string{"f"}
	s.addError("g", errors.New("x"))
	if got := s.TotalProcessed(); got != 6 {
		t.Errorf("TotalProcessed = %d, want 6", got)
	}
	if c := s.Counts(); c.Errors != 1 || c.Deleted != 2 {
		t.Errorf("unexpected counts: %+v", c)
	}
}
