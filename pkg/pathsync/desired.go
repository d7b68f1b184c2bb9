package pathsync

import (
	"context"
	"fmt"

	"github.com/paulschiretz/pgl-booksync/pkg/bookmeta"
	"github.com/paulschiretz/pgl-booksync/pkg/pathindex"
	"github.com/paulschiretz/pgl-booksync/pkg/pathplan"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
)

// ProtectedFiles are never deleted from a replica, even when the source no
// longer produces them.
var ProtectedFiles = map[string]struct{}{
	pathplan.LibraryDBName:          {},
	"metadata_db_prefs_backup.json": {},
}

// DesiredEntry is one source file and where it must live on every replica.
type DesiredEntry struct {
	Source pathindex.FileRecord
	Plan   pathplan.DestinationPlan
}

// DesiredState is the replica layout the source library calls for. It is
// built once per pass and shared read-only by all replicas.
type DesiredState struct {
	SourceRoot string
	// Targets is keyed by the replica-relative target path.
	Targets map[string]DesiredEntry
	// Order lists the keys of Targets in sorted order.
	Order []string
	// Ignored lists source file names that are not synced.
	Ignored []string
	// Protected holds file names that must survive the delete pass because
	// an ignored source file maps onto them.
	Protected map[string]struct{}
}

// IsProtected reports whether a replica file name may not be deleted.
func (d *DesiredState) IsProtected(name string) bool {
	if _, ok := ProtectedFiles[name]; ok {
		return true
	}
	_, ok := d.Protected[name]
	return ok
}

// forceIgnored reports library sidecar databases and settings files, which
// are not books. The library database itself is handled separately.
func forceIgnored(rec pathindex.FileRecord) bool {
	if rec.LogicalName == pathplan.LibraryDBName {
		return false
	}
	return rec.Ext == "db" || rec.Ext == "json"
}

// BuildDesiredState indexes the source and plans every file. Failing to
// index the source is returned as an error; per-file problems are not.
func (e *Engine) BuildDesiredState(ctx context.Context, sourceRoot string) (*DesiredState, error) {
	idx, err := pathindex.IndexSource(sourceRoot)
	if err != nil {
		return nil, err
	}

	desired := &DesiredState{
		SourceRoot: sourceRoot,
		Targets:    make(map[string]DesiredEntry, len(idx)),
		Ignored:    []string{},
		Protected:  make(map[string]struct{}),
	}

	for _, name := range sortedKeys(idx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := idx[name]

		if forceIgnored(rec) {
			plog.Debug("IGNORE", "reason", "library sidecar", "file", name)
			desired.ignore(name)
			continue
		}

		var (
			meta  bookmeta.BookMetadata
			found bool
		)
		if name != pathplan.LibraryDBName {
			meta, found, err = e.resolver.Resolve(ctx, rec.AbsPath)
			if err != nil {
				plog.Warn("Metadata lookup failed, using file name", "file", rec.AbsPath, "error", err)
				found = false
			}
		}

		plan := pathplan.Plan(rec, meta, found)
		if plan.Skip {
			desired.ignore(name)
			desired.protectDerivedName(rec, meta, found)
			continue
		}

		if prev, clash := desired.Targets[plan.TargetRelPath]; clash {
			plog.Warn("Two source files map to the same target, keeping the later one",
				"target", plan.TargetRelPath, "dropped", prev.Source.AbsPath, "kept", rec.AbsPath)
			desired.ignore(prev.Source.LogicalName)
		}
		desired.Targets[plan.TargetRelPath] = DesiredEntry{Source: rec, Plan: plan}
	}

	desired.Order = sortedKeys(desired.Targets)
	plog.Info("Planned library layout", "source", sourceRoot, "targets", len(desired.Targets), "ignored", len(desired.Ignored))
	return desired, nil
}

func (d *DesiredState) ignore(name string) {
	d.Ignored = append(d.Ignored, name)
	d.Protected[name] = struct{}{}
}

// protectDerivedName keeps a replica file that carries the name the skipped
// source file would have been given.
func (d *DesiredState) protectDerivedName(rec pathindex.FileRecord, meta bookmeta.BookMetadata, found bool) {
	if !found {
		meta = bookmeta.Fallback(rec.LogicalName)
	}
	title, author, _ := pathplan.SplitAuthor(meta.Title, meta.PrimaryAuthor())
	d.Protected[pathplan.TargetName(title, author, rec.Ext)] = struct{}{}
}

// String summarizes the state for logs.
func (d *DesiredState) String() string {
	return fmt.Sprintf("%d targets, %d ignored from %s", len(d.Targets), len(d.Ignored), d.SourceRoot)
}
