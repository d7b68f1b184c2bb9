// Package bookmeta resolves book titles and authors for files in a library.
//
// The sync engine only sees the Resolver interface. Misses are not errors:
// callers apply Fallback and keep going.
package bookmeta

import (
	"context"
	"path/filepath"

	"github.com/paulschiretz/pgl-booksync/pkg/util"
)

// UnknownAuthor is used whenever no author can be determined.
const UnknownAuthor = "Unknown"

// BookMetadata is the title and ordered author list of one book.
// The first author is the primary one.
type BookMetadata struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
}

// PrimaryAuthor returns the first non-empty author, or UnknownAuthor.
func (m BookMetadata) PrimaryAuthor() string {
	for _, a := range m.Authors {
		if a != "" {
			return a
		}
	}
	return UnknownAuthor
}

// Fallback is the metadata used for a file the library does not know:
// the file name stem as title and an unknown author.
func Fallback(absPath string) BookMetadata {
	return BookMetadata{
		Title:   util.Stem(filepath.Base(absPath)),
		Authors: []string{UnknownAuthor},
	}
}

// Resolver looks up metadata for a source file. found is false on a miss.
type Resolver interface {
	Resolve(ctx context.Context, absPath string) (meta BookMetadata, found bool, err error)
}

// StaticResolver resolves from a fixed map keyed by cleaned absolute path.
// It is used in tests and when no library database is configured.
type StaticResolver map[string]BookMetadata

// Resolve implements Resolver.
func (s StaticResolver) Resolve(_ context.Context, absPath string) (BookMetadata, bool, error) {
	m, ok := s[filepath.Clean(absPath)]
	return m, ok, nil
}

// NopResolver never finds anything, so every file uses Fallback naming.
type NopResolver struct{}

// Resolve implements Resolver.
func (NopResolver) Resolve(context.Context, string) (BookMetadata, bool, error) {
	return BookMetadata{}, false, nil
}

var (
	_ Resolver = StaticResolver(nil)
	_ Resolver = NopResolver{}
)
