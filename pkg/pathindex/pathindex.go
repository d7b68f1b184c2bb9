// Package pathindex builds flat snapshots of the files in a library source
// tree or a replica tree.
//
// A source index walks the whole tree. A replica index only looks at the root
// and the fixed set of format subdirectories, because the replica layout is
// produced by the sync engine and anything else in it is not ours to manage.
package pathindex

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-booksync/pkg/plog"
	"github.com/paulschiretz/pgl-booksync/pkg/util"
)

// TempFilePrefix and TempFileSuffix frame the names of in-flight copies.
// They are hidden, so the indexer never reports them as regular files.
const (
	TempFilePrefix = ".pgl-booksync-"
	TempFileSuffix = ".tmp"
)

// SourceSidecars are library housekeeping files that are never synced.
var SourceSidecars = map[string]struct{}{
	"metadata.opf": {},
	"cover.jpg":    {},
}

// ReplicaSubdirs is the allow-list of format directories scanned on a replica.
var ReplicaSubdirs = []string{"epubs", "original_mobi", "original_epubs", "kfx", "azw3"}

// FileRecord describes one file on disk.
type FileRecord struct {
	// LogicalName is the comparison key. For a source it is the original
	// file name, for a replica it is the derived target file name.
	LogicalName string
	AbsPath     string
	Size        int64
	ModTime     int64 // Unix Nano. Stored as int64 to keep records pointer-free.
	Ext         string
}

// ModTimeAsTime returns the modification time as a time.Time.
func (r FileRecord) ModTimeAsTime() time.Time {
	return time.Unix(0, r.ModTime)
}

// Index maps a logical name to its record.
type Index map[string]FileRecord

// ReplicaIndex is the result of scanning a replica.
type ReplicaIndex struct {
	// Files is keyed by the slash-separated path relative to the replica
	// root, e.g. "epubs/Title - Author.epub".
	Files Index
	// StaleTemps lists leftover temporary copies from an interrupted run.
	StaleTemps []string
}

func newRecord(name, absPath string, info fs.FileInfo) (FileRecord, bool) {
	ext := util.Ext(name)
	if ext == "" {
		return FileRecord{}, false
	}
	return FileRecord{
		LogicalName: name,
		AbsPath:     absPath,
		Size:        info.Size(),
		ModTime:     info.ModTime().UnixNano(),
		Ext:         ext,
	}, true
}

// IndexSource walks root recursively. Hidden entries and sidecars are
// skipped. Duplicate names are resolved last-write-wins in walk order.
func IndexSource(root string) (Index, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot access source %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", root)
	}

	idx := make(Index)
	err = filepath.WalkDir(root, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if absPath == root {
				return err
			}
			plog.Warn("SKIP", "reason", "error accessing path", "path", absPath, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if absPath == root {
			return nil
		}

		name := d.Name()
		if util.IsHidden(name) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := SourceSidecars[strings.ToLower(name)]; ok {
			return nil
		}
		if !d.Type().IsRegular() {
			plog.Debug("SKIP", "reason", "not a regular file", "path", absPath)
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			plog.Warn("SKIP", "reason", "failed to get file info", "path", absPath, "error", err)
			return nil
		}
		rec, ok := newRecord(name, absPath, fi)
		if !ok {
			return nil
		}
		if prev, dup := idx[name]; dup {
			plog.Debug("Duplicate source name, keeping later entry", "name", name, "previous", prev.AbsPath, "current", absPath)
		}
		idx[name] = rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source %s: %w", root, err)
	}
	return idx, nil
}

// IndexReplica scans the replica root and its format subdirectories.
// A root that does not exist yet yields an empty index.
func IndexReplica(root string) (*ReplicaIndex, error) {
	res := &ReplicaIndex{Files: make(Index)}

	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot access replica %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("replica %s is not a directory", root)
	}

	if err := scanDir(root, "", res); err != nil {
		return nil, fmt.Errorf("cannot read replica %s: %w", root, err)
	}
	for _, sub := range ReplicaSubdirs {
		dir := filepath.Join(root, sub)
		if err := scanDir(dir, sub, res); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("cannot read replica directory %s: %w", dir, err)
		}
	}
	return res, nil
}

// scanDir adds the regular files directly inside dir to res, keyed by their
// slash-separated path relative to the replica root.
func scanDir(dir, relDir string, res *ReplicaIndex) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		absPath := filepath.Join(dir, name)
		if e.IsDir() {
			continue
		}
		if util.IsHidden(name) {
			if strings.HasPrefix(name, TempFilePrefix) && strings.HasSuffix(name, TempFileSuffix) {
				res.StaleTemps = append(res.StaleTemps, absPath)
			}
			continue
		}
		if !e.Type().IsRegular() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			plog.Warn("SKIP", "reason", "failed to get file info", "path", absPath, "error", err)
			continue
		}
		rec, ok := newRecord(name, absPath, fi)
		if !ok {
			continue
		}
		res.Files[path.Join(relDir, name)] = rec
	}
	return nil
}
