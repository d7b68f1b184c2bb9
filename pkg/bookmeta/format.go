package bookmeta

import (
	"path/filepath"
	"strings"
)

// Format is one stored format of a book. A library row either records the
// concrete file (FilePathFormat) or only the format name (ExtensionFormat).
type Format interface {
	// Ext returns the lowercase file extension the format is stored under.
	Ext() string
	isFormat()
}

// FilePathFormat is a format whose file location is known.
type FilePathFormat struct {
	Path string
}

func (f FilePathFormat) Ext() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Path), "."))
}
func (FilePathFormat) isFormat() {}

// ExtensionFormat is a format known only by its extension.
type ExtensionFormat struct {
	Extension string
}

func (f ExtensionFormat) Ext() string { return strings.ToLower(f.Extension) }
func (ExtensionFormat) isFormat()     {}

// Book is one library entry with everything needed to match its files.
type Book struct {
	ID      int64
	Title   string
	Authors []string
	// Dir is the absolute directory holding the book's files.
	Dir     string
	Formats []Format
}

// Metadata returns the book's title and authors.
func (b Book) Metadata() BookMetadata {
	authors := b.Authors
	if len(authors) == 0 {
		authors = []string{UnknownAuthor}
	}
	return BookMetadata{Title: b.Title, Authors: authors}
}

type dirExtKey struct {
	dir string
	ext string
}

// bookIndex answers path lookups over a fixed set of books.
type bookIndex struct {
	byPath   map[string]BookMetadata
	byDirExt map[dirExtKey]BookMetadata
	// byBase maps a file name to its book; names claimed by more than one
	// book are recorded as ambiguous and never matched.
	byBase    map[string]BookMetadata
	ambiguous map[string]struct{}
}

func newBookIndex(books []Book) *bookIndex {
	idx := &bookIndex{
		byPath:    make(map[string]BookMetadata),
		byDirExt:  make(map[dirExtKey]BookMetadata),
		byBase:    make(map[string]BookMetadata),
		ambiguous: make(map[string]struct{}),
	}
	for _, b := range books {
		meta := b.Metadata()
		dir := filepath.Clean(b.Dir)
		for _, f := range b.Formats {
			switch f := f.(type) {
			case FilePathFormat:
				p := filepath.Clean(f.Path)
				idx.byPath[p] = meta
				idx.addBase(filepath.Base(p), meta)
			case ExtensionFormat:
				idx.byDirExt[dirExtKey{dir: dir, ext: f.Ext()}] = meta
			}
		}
	}
	return idx
}

func (idx *bookIndex) addBase(name string, meta BookMetadata) {
	if _, bad := idx.ambiguous[name]; bad {
		return
	}
	if _, dup := idx.byBase[name]; dup {
		delete(idx.byBase, name)
		idx.ambiguous[name] = struct{}{}
		return
	}
	idx.byBase[name] = meta
}

// lookup tries the exact path, then the book directory plus extension, then
// a unique file name anywhere in the library.
func (idx *bookIndex) lookup(absPath string) (BookMetadata, bool) {
	p := filepath.Clean(absPath)
	if m, ok := idx.byPath[p]; ok {
		return m, true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
	if m, ok := idx.byDirExt[dirExtKey{dir: filepath.Dir(p), ext: ext}]; ok {
		return m, true
	}
	if m, ok := idx.byBase[filepath.Base(p)]; ok {
		return m, true
	}
	return BookMetadata{}, false
}
