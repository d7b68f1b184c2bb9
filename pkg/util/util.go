package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Permission constants for file and directory modes.
const (
	// PermUserWrite is the user-write permission bit (0200).
	PermUserWrite os.FileMode = 0200

	// UserWritableDirPerms represents the standard permissions for newly created directories (rwxr-xr-x).
	UserWritableDirPerms os.FileMode = 0755
	// UserWritableFilePerms represents the standard permissions for newly created files (rw-r--r--).
	UserWritableFilePerms os.FileMode = 0644
	// UserGroupWritableFilePerms represents permissions for files that should be writable by the user and group (rw-rw-r--).
	UserGroupWritableFilePerms os.FileMode = 0664
)

// WithUserWritePermission ensures that any file permission has the owner-write
// bit (0200) set, so a replica never locks the sync user out of its own copies.
func WithUserWritePermission(basePerm os.FileMode) os.FileMode {
	return basePerm | PermUserWrite
}

// ExpandPath expands the tilde (~) prefix in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// IsHidden reports whether a base name is a dot-file or dot-directory.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Ext returns the lowercase extension of name without the leading dot.
// Names without an extension, and dot-files such as ".bashrc", yield "".
func Ext(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// Stem returns name with its final extension removed.
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// SplitList splits a comma-separated list, trimming blanks and dropping empty
// entries. It accepts the REPLICA_PATHS style of configuring destinations.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// InvertMap takes a map[K]V and returns a map[V]K.
// It's a generic helper for creating reverse lookup maps for enums.
func InvertMap[K comparable, V comparable](m map[K]V) map[V]K {
	inv := make(map[V]K, len(m))
	for k, v := range m {
		inv[v] = k
	}
	return inv
}

// ByteCountIEC formats a byte count using binary (1024) units.
func ByteCountIEC(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
