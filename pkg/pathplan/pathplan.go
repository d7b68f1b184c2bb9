// Package pathplan decides where a library file lives on a replica and what
// it is called there.
//
// Planning is a pure function of the file extension, the title and the
// primary author, so repeated runs always agree on every target path.
package pathplan

import (
	"path"
	"strings"

	"github.com/paulschiretz/pgl-booksync/pkg/bookmeta"
	"github.com/paulschiretz/pgl-booksync/pkg/pathindex"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
)

// LibraryDBName is mirrored verbatim to the replica root.
const LibraryDBName = bookmeta.LibraryDBName

// Subdir is a replica format directory. The empty Subdir is the replica root.
type Subdir string

const (
	SubdirRoot          Subdir = ""
	SubdirEpubs         Subdir = "epubs"
	SubdirOriginalEpubs Subdir = "original_epubs"
	SubdirOriginalMobi  Subdir = "original_mobi"
	SubdirKFX           Subdir = "kfx"
	SubdirAZW3          Subdir = "azw3"
)

// routes maps a file extension to its replica directory.
var routes = map[string]Subdir{
	"epub":          SubdirEpubs,
	"original_epub": SubdirOriginalEpubs,
	"original_mobi": SubdirOriginalMobi,
	"kfx":           SubdirKFX,
	"azw3":          SubdirAZW3,
	"original_azw3": SubdirAZW3,
	"mobi":          SubdirRoot,
}

// Route returns the replica directory for ext and whether ext is supported.
func Route(ext string) (Subdir, bool) {
	s, ok := routes[strings.ToLower(ext)]
	return s, ok
}

// DestinationPlan is where one source file goes on every replica.
type DestinationPlan struct {
	// TargetRelPath is slash-separated and relative to the replica root.
	TargetRelPath string
	TargetSubdir  Subdir
	TargetName    string
	// Skip is set for unsupported extensions; such files are not synced.
	Skip bool
	// Heuristic names the author rule applied, for logging.
	Heuristic AuthorRule
}

// unsafeChars are stripped from every name component.
const unsafeChars = `\/*?:"<>|`

// Sanitize removes characters that are not allowed in file names on common
// filesystems.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafeChars, r) {
			return -1
		}
		return r
	}, s)
}

// Plan computes the destination of file. When found is false, meta is
// ignored and the file name stem is used as title with an unknown author.
func Plan(file pathindex.FileRecord, meta bookmeta.BookMetadata, found bool) DestinationPlan {
	if file.LogicalName == LibraryDBName {
		return DestinationPlan{TargetRelPath: LibraryDBName, TargetName: LibraryDBName}
	}

	subdir, ok := Route(file.Ext)
	if !ok {
		plog.Warn("Unsupported format, skipping", "file", file.LogicalName, "ext", file.Ext)
		return DestinationPlan{Skip: true}
	}

	if !found {
		meta = bookmeta.Fallback(file.LogicalName)
	}
	title, author, rule := SplitAuthor(meta.Title, meta.PrimaryAuthor())
	if rule != RuleCleanAuthor {
		plog.Debug("Author heuristic applied", "file", file.LogicalName, "rule", rule, "title", title, "author", author)
	}

	name := TargetName(title, author, file.Ext)
	return DestinationPlan{
		TargetRelPath: path.Join(string(subdir), name),
		TargetSubdir:  subdir,
		TargetName:    name,
		Heuristic:     rule,
	}
}

// TargetName builds "{title} - {author}.{ext}" from sanitized components.
// Leading dots are dropped from the title so the name is never hidden.
func TargetName(title, author, ext string) string {
	return strings.TrimLeft(Sanitize(title), ".") + " - " + Sanitize(author) + "." + strings.ToLower(ext)
}
