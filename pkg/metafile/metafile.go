// Package metafile records the outcome of the last sync pass inside each
// replica, so a replica can be inspected without the service running.
package metafile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-booksync/pkg/util"
)

// MetaFileName is the name of the replica metadata file. It is hidden so the
// replica index never sees it.
const MetaFileName = ".pgl-booksync.meta.json"

// Counts mirrors the per-category totals of a sync pass.
type Counts struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Ignored   int `json:"ignored"`
	Errors    int `json:"errors"`
}

// MetafileContent holds the contents of the metafile.
type MetafileContent struct {
	Version      string    `json:"version"`
	AppID        string    `json:"appID"`
	RunID        string    `json:"runID"`
	TimestampUTC time.Time `json:"timestampUTC"`
	Source       string    `json:"source"`
	Counts       Counts    `json:"counts"`
}

// Write replaces the metafile in dirPath. The file is written to a temporary
// name first so readers never see a truncated file.
func Write(dirPath string, content *MetafileContent) error {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal meta data: %w", err)
	}

	tmp, err := os.CreateTemp(dirPath, MetaFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("could not create meta file in %s: %w", dirPath, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(jsonData); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}
	// Group-writable: the metafile belongs to the replica contents, which are
	// often shared between users of one reader device.
	if err := tmp.Chmod(util.UserGroupWritableFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("could not set permissions on meta file %s: %w", metaFilePath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}
	if err := os.Rename(tmpPath, metaFilePath); err != nil {
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}
	return nil
}

// Read opens and parses the metafile in a given directory.
func Read(dirPath string) (MetafileContent, error) {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	metaFile, err := os.Open(metaFilePath)
	if err != nil {
		// Return the original error so os.IsNotExist works for callers.
		return MetafileContent{}, err
	}
	defer metaFile.Close()

	var content MetafileContent
	if err := json.NewDecoder(metaFile).Decode(&content); err != nil {
		return MetafileContent{}, fmt.Errorf("could not parse metafile %s: %w. It may be corrupt", metaFilePath, err)
	}
	return content, nil
}
