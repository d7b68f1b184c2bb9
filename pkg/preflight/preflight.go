// Package preflight provides checks that run before a sync pass touches a
// replica. Apart from the writability test, which creates the replica root,
// the checks do not change the filesystem.
package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-booksync/pkg/util"
)

// ErrSourceInvalid marks configuration errors on the library source. A pass
// that fails with it never touches any replica.
var ErrSourceInvalid = errors.New("invalid library source")

// Plan selects which checks Run performs for one replica.
type Plan struct {
	ReplicaAccessible bool
	PathNesting       bool
	// ReplicaWritable creates the replica root and test-writes to it. Skipped on
	// dry runs.
	ReplicaWritable bool
	// MinFreeBytes, if positive, requires that much free space on the
	// replica volume.
	MinFreeBytes uint64
}

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: source directory %s does not exist", ErrSourceInvalid, srcPath)
		}
		return fmt.Errorf("%w: cannot stat source directory %s: %v", ErrSourceInvalid, srcPath, err)
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("%w: source path %s is not a directory", ErrSourceInvalid, srcPath)
	}
	return nil
}

// CheckReplicaAccessible confirms the replica root is a directory, or that it
// does not exist yet and can be created below its nearest existing ancestor.
// Missing intermediate directories are created by the sync.
func CheckReplicaAccessible(replicaPath string) error {
	info, err := os.Stat(replicaPath)
	if errors.Is(err, fs.ErrNotExist) {
		ancestor := nearestExisting(replicaPath)
		ancestorInfo, err := os.Stat(ancestor)
		if err != nil {
			return fmt.Errorf("cannot access ancestor directory %s: %w", ancestor, err)
		}
		if !ancestorInfo.IsDir() {
			return fmt.Errorf("cannot create replica %s: %s is not a directory", replicaPath, ancestor)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("cannot access replica path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("replica path exists but is not a directory: %s", replicaPath)
	}
	return nil
}

// nearestExisting returns path or the closest ancestor of it that exists.
func nearestExisting(path string) string {
	cur := path
	for {
		if _, err := os.Stat(cur); err == nil {
			return cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return cur
		}
		cur = parent
	}
}

// CheckReplicaWritable creates the replica root if needed and verifies a file
// can be created in it.
func CheckReplicaWritable(replicaPath string) error {
	if err := os.MkdirAll(replicaPath, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create replica directory %s: %w", replicaPath, err)
	}
	f, err := os.CreateTemp(replicaPath, ".pgl-booksync-writetest-*")
	if err != nil {
		return fmt.Errorf("replica directory %s is not writable: %w", replicaPath, err)
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(name)
	return nil
}

// CheckPathNesting rejects a replica inside the source or a source inside the
// replica. Either would make the sync feed on its own output.
func CheckPathNesting(srcPath, replicaPath string) error {
	src, err := filepath.Abs(srcPath)
	if err != nil {
		return fmt.Errorf("could not resolve source path %s: %w", srcPath, err)
	}
	dst, err := filepath.Abs(replicaPath)
	if err != nil {
		return fmt.Errorf("could not resolve replica path %s: %w", replicaPath, err)
	}
	if src == dst {
		return fmt.Errorf("replica %s is the library source", replicaPath)
	}
	if isWithin(src, dst) {
		return fmt.Errorf("replica %s is inside the library source %s", replicaPath, srcPath)
	}
	if isWithin(dst, src) {
		return fmt.Errorf("library source %s is inside the replica %s", srcPath, replicaPath)
	}
	return nil
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}

// CheckFreeSpace fails when the volume holding path, or its nearest existing
// ancestor, has less than minBytes available.
func CheckFreeSpace(path string, minBytes uint64) error {
	if minBytes == 0 {
		return nil
	}
	free, err := freeBytes(nearestExisting(path))
	if err != nil {
		return fmt.Errorf("could not determine free space for %s: %w", path, err)
	}
	if free < minBytes {
		return fmt.Errorf("not enough free space on %s: %s available, %s required",
			path, util.ByteCountIEC(int64(free)), util.ByteCountIEC(int64(minBytes)))
	}
	return nil
}

// Run executes the replica checks selected by p.
func Run(p Plan, srcPath, replicaPath string) error {
	if p.PathNesting {
		if err := CheckPathNesting(srcPath, replicaPath); err != nil {
			return err
		}
	}
	if p.ReplicaAccessible {
		if err := CheckReplicaAccessible(replicaPath); err != nil {
			return err
		}
	}
	if p.ReplicaWritable {
		if err := CheckReplicaWritable(replicaPath); err != nil {
			return err
		}
	}
	return CheckFreeSpace(replicaPath, p.MinFreeBytes)
}
