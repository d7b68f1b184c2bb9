package bookmeta

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/paulschiretz/pgl-booksync/pkg/plog"
)

// LibraryDBName is the library database file at the root of a library.
const LibraryDBName = "metadata.db"

// CalibreResolver answers lookups from a Calibre library database.
//
// The database is opened read-only. Its books are loaded into memory on
// first use and reloaded only when the database file's size or modification
// time changes.
type CalibreResolver struct {
	libraryRoot string
	dbPath      string

	mu       sync.Mutex
	index    *bookIndex
	loadedAt fileStamp
}

type fileStamp struct {
	size    int64
	modTime int64
}

// NewCalibreResolver returns a resolver for the library rooted at libraryRoot.
func NewCalibreResolver(libraryRoot string) *CalibreResolver {
	return &CalibreResolver{
		libraryRoot: libraryRoot,
		dbPath:      filepath.Join(libraryRoot, LibraryDBName),
	}
}

// Resolve implements Resolver.
func (r *CalibreResolver) Resolve(ctx context.Context, absPath string) (BookMetadata, bool, error) {
	idx, err := r.current(ctx)
	if err != nil {
		return BookMetadata{}, false, err
	}
	m, ok := idx.lookup(absPath)
	return m, ok, nil
}

// Books loads every book from the library database.
func (r *CalibreResolver) Books(ctx context.Context) ([]Book, error) {
	db, err := openReadOnly(r.dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return loadBooks(ctx, db, r.libraryRoot)
}

func (r *CalibreResolver) current(ctx context.Context) (*bookIndex, error) {
	info, err := os.Stat(r.dbPath)
	if err != nil {
		return nil, fmt.Errorf("cannot access library database %s: %w", r.dbPath, err)
	}
	stamp := fileStamp{size: info.Size(), modTime: info.ModTime().UnixNano()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index != nil && r.loadedAt == stamp {
		return r.index, nil
	}

	books, err := r.Books(ctx)
	if err != nil {
		return nil, err
	}
	r.index = newBookIndex(books)
	r.loadedAt = stamp
	plog.Debug("Loaded library database", "path", r.dbPath, "books", len(books))
	return r.index, nil
}

func openReadOnly(path string) (*sql.DB, error) {
	dsn := (&url.URL{Scheme: "file", OmitHost: true, Path: filepath.ToSlash(path), RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open library database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open library database %s: %w", path, err)
	}
	return db, nil
}

const (
	booksQuery   = `SELECT id, title, path FROM books`
	authorsQuery = `SELECT bal.book, a.name
		FROM books_authors_link bal
		JOIN authors a ON a.id = bal.author
		ORDER BY bal.book, bal.id`
	formatsQuery = `SELECT book, format, name FROM data`
)

func loadBooks(ctx context.Context, db *sql.DB, libraryRoot string) ([]Book, error) {
	var order []int64
	byID := make(map[int64]*Book)

	rows, err := db.QueryContext(ctx, booksQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	for rows.Next() {
		var (
			id          int64
			title, path string
		)
		if err := rows.Scan(&id, &title, &path); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read book row: %w", err)
		}
		byID[id] = &Book{
			ID:    id,
			Title: title,
			Dir:   filepath.Join(libraryRoot, filepath.FromSlash(path)),
		}
		order = append(order, id)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("failed to read books: %w", err)
	}

	rows, err = db.QueryContext(ctx, authorsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query authors: %w", err)
	}
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read author row: %w", err)
		}
		if b, ok := byID[id]; ok {
			b.Authors = append(b.Authors, name)
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("failed to read authors: %w", err)
	}

	rows, err = db.QueryContext(ctx, formatsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query formats: %w", err)
	}
	for rows.Next() {
		var (
			id     int64
			format string
			name   sql.NullString
		)
		if err := rows.Scan(&id, &format, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read format row: %w", err)
		}
		b, ok := byID[id]
		if !ok {
			continue
		}
		b.Formats = append(b.Formats, formatFor(b.Dir, format, name))
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("failed to read formats: %w", err)
	}

	books := make([]Book, 0, len(order))
	for _, id := range order {
		books = append(books, *byID[id])
	}
	return books, nil
}

// formatFor turns one data row into its Format. Calibre stores the file name
// without extension and the format in upper case.
func formatFor(bookDir, format string, name sql.NullString) Format {
	ext := strings.ToLower(format)
	if name.Valid && name.String != "" {
		return FilePathFormat{Path: filepath.Join(bookDir, name.String+"."+ext)}
	}
	return ExtensionFormat{Extension: ext}
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

var _ Resolver = (*CalibreResolver)(nil)
