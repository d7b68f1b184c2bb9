package pathsync

import (
	"encoding/json"
	"sort"

	"github.com/paulschiretz/pgl-booksync/pkg/metafile"
)

// Statistics is the per-replica report of one pass. Every count equals the
// length of its file list. Lists hold replica-relative target paths, except
// Ignored, which holds source file names.
type Statistics struct {
	AddedFiles     []string
	UpdatedFiles   []string
	DeletedFiles   []string
	UnchangedFiles []string
	IgnoredFiles   []string
	ErrorFiles     []string

	// FileErrors holds the error message per entry of ErrorFiles.
	FileErrors map[string]string

	DryRun bool
}

func newStatistics(dryRun bool) *Statistics {
	return &Statistics{
		AddedFiles:     []string{},
		UpdatedFiles:   []string{},
		DeletedFiles:   []string{},
		UnchangedFiles: []string{},
		IgnoredFiles:   []string{},
		ErrorFiles:     []string{},
		FileErrors:     map[string]string{},
		DryRun:         dryRun,
	}
}

func (s *Statistics) Added() int     { return len(s.AddedFiles) }
func (s *Statistics) Updated() int   { return len(s.UpdatedFiles) }
func (s *Statistics) Deleted() int   { return len(s.DeletedFiles) }
func (s *Statistics) Unchanged() int { return len(s.UnchangedFiles) }
func (s *Statistics) Ignored() int   { return len(s.IgnoredFiles) }
func (s *Statistics) Errors() int    { return len(s.ErrorFiles) }

// TotalProcessed is added + updated + deleted + unchanged + ignored.
func (s *Statistics) TotalProcessed() int {
	return s.Added() + s.Updated() + s.Deleted() + s.Unchanged() + s.Ignored()
}

func (s *Statistics) addError(name string, err error) {
	s.ErrorFiles = append(s.ErrorFiles, name)
	s.FileErrors[name] = err.Error()
}

// Counts returns the totals in metafile form.
func (s *Statistics) Counts() metafile.Counts {
	return metafile.Counts{
		Added:     s.Added(),
		Updated:   s.Updated(),
		Deleted:   s.Deleted(),
		Unchanged: s.Unchanged(),
		Ignored:   s.Ignored(),
		Errors:    s.Errors(),
	}
}

// statisticsJSON is the wire form consumed by the HTTP layer and the CLI.
type statisticsJSON struct {
	Added          int               `json:"added" yaml:"added"`
	Updated        int               `json:"updated" yaml:"updated"`
	Deleted        int               `json:"deleted" yaml:"deleted"`
	Unchanged      int               `json:"unchanged" yaml:"unchanged"`
	Ignored        int               `json:"ignored" yaml:"ignored"`
	Errors         int               `json:"errors" yaml:"errors"`
	AddedFiles     []string          `json:"added_files" yaml:"added_files"`
	UpdatedFiles   []string          `json:"updated_files" yaml:"updated_files"`
	DeletedFiles   []string          `json:"deleted_files" yaml:"deleted_files"`
	UnchangedFiles []string          `json:"unchanged_files" yaml:"unchanged_files"`
	IgnoredFiles   []string          `json:"ignored_files" yaml:"ignored_files"`
	ErrorFiles     []string          `json:"error_files" yaml:"error_files"`
	ErrorDetails   map[string]string `json:"error_details,omitempty" yaml:"error_details,omitempty"`
	TotalProcessed int               `json:"total_processed" yaml:"total_processed"`
	DryRun         bool              `json:"dry_run" yaml:"dry_run"`
}

func (s *Statistics) wire() statisticsJSON {
	return statisticsJSON{
		Added:          s.Added(),
		Updated:        s.Updated(),
		Deleted:        s.Deleted(),
		Unchanged:      s.Unchanged(),
		Ignored:        s.Ignored(),
		Errors:         s.Errors(),
		AddedFiles:     s.AddedFiles,
		UpdatedFiles:   s.UpdatedFiles,
		DeletedFiles:   s.DeletedFiles,
		UnchangedFiles: s.UnchangedFiles,
		IgnoredFiles:   s.IgnoredFiles,
		ErrorFiles:     s.ErrorFiles,
		ErrorDetails:   s.FileErrors,
		TotalProcessed: s.TotalProcessed(),
		DryRun:         s.DryRun,
	}
}

// MarshalJSON implements json.Marshaler.
func (s *Statistics) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.wire())
}

// UnmarshalJSON implements json.Unmarshaler. Counts are derived from the
// lists, so inconsistent input counts are ignored.
func (s *Statistics) UnmarshalJSON(data []byte) error {
	var w statisticsJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = *newStatistics(w.DryRun)
	s.AddedFiles = append(s.AddedFiles, w.AddedFiles...)
	s.UpdatedFiles = append(s.UpdatedFiles, w.UpdatedFiles...)
	s.DeletedFiles = append(s.DeletedFiles, w.DeletedFiles...)
	s.UnchangedFiles = append(s.UnchangedFiles, w.UnchangedFiles...)
	s.IgnoredFiles = append(s.IgnoredFiles, w.IgnoredFiles...)
	s.ErrorFiles = append(s.ErrorFiles, w.ErrorFiles...)
	for k, v := range w.ErrorDetails {
		s.FileErrors[k] = v
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s *Statistics) MarshalYAML() (any, error) {
	return s.wire(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
