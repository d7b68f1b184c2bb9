package syncstatus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-booksync/pkg/util"
)

// SnapshotFileName is the persisted status file inside the state directory.
const SnapshotFileName = "status.json.gz"

// Store persists the last Snapshot as gzip-compressed JSON.
type Store struct {
	dir string
}

// NewStore returns a Store writing into dir. The directory is created on
// the first Save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, SnapshotFileName)
}

// Save atomically replaces the stored snapshot.
func (s *Store) Save(snap Snapshot) (err error) {
	if err := os.MkdirAll(s.dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+SnapshotFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary status file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	zw := pgzip.NewWriter(tmp)
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err = enc.Encode(snap); err != nil {
		zw.Close()
		tmp.Close()
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err = zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to compress status: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary status file: %w", err)
	}
	if err = os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("failed to move status file into place: %w", err)
	}
	return nil
}

// Load reads the stored snapshot. A missing file returns false and no error.
func (s *Store) Load() (Snapshot, bool, error) {
	f, err := os.Open(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("failed to open status file: %w", err)
	}
	defer f.Close()

	zr, err := pgzip.NewReader(f)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("status file %s is not valid gzip (may be corrupt): %w", s.Path(), err)
	}
	defer zr.Close()

	var snap Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to parse status file %s (may be corrupt): %w", s.Path(), err)
	}
	return snap, true, nil
}
