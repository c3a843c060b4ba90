// Package reconcile implements the Reconciler's shadow-set algorithm: it
// diffs Walker output against the loaded State Store to classify every
// path as added, changed, unchanged, or removed (§4.5).
package reconcile

import (
	"context"
	"time"

	"github.com/dirscan/scanner/entry"
	"github.com/dirscan/scanner/internal/logging"
	"github.com/dirscan/scanner/walker"
)

var log = logging.Module("dirscan/reconcile")

// Classification is the outcome of reconciling one path.
type Classification int

const (
	Added Classification = iota
	Changed
	Unchanged
	Removed
)

func (c Classification) String() string {
	switch c {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Unchanged:
		return "unchanged"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Result pairs a path's Entry with how it was classified this scan.
type Result struct {
	Path  string
	Entry *entry.Entry
	Class Classification
}

// NewEntryFunc constructs an Entry for a path first observed by the
// Walker, honoring the Scanner's registered Entry factory (§9 "Registered
// Entry subtype").
type NewEntryFunc func(path string, info walker.Visit) *entry.Entry

// Reconcile runs the shadow-set algorithm of §4.5 over visits (the current
// Walker output) against entries (the State Store's loaded map). Reconcile
// refreshes Info on tracked Entries in place but never adds or deletes map
// keys: new Entries are only returned as Added results, and the caller
// inserts them or deletes removed ones after dispatch.
//
// afterEach, if non-nil, is invoked after each classified visit, to drive
// checkpoint accounting (checkpoint.Checkpointer is invoked mid-Reconcile
// per §2 data flow).
func Reconcile(
	ctx context.Context,
	now time.Time,
	entries map[string]*entry.Entry,
	visits []walker.Visit,
	newEntry NewEntryFunc,
	afterEach func(ctx context.Context) error,
) ([]Result, error) {
	shadow := make(map[string]struct{}, len(entries))
	for path := range entries {
		shadow[path] = struct{}{}
	}

	results := make([]Result, 0, len(visits))

	for _, v := range visits {
		if _, tracked := shadow[v.Path]; tracked {
			delete(shadow, v.Path)

			e := entries[v.Path]
			e.Info = snapshotInfo(v)

			changed, err := e.ContentsHaveChanged(now)
			if err != nil {
				log(ctx).Warnf("transient error checking %v for changes: %v", v.Path, err) // §7
				continue
			}

			class := Unchanged
			if changed {
				class = Changed
			}

			results = append(results, Result{Path: v.Path, Entry: e, Class: class})
		} else {
			e := newEntry(v.Path, v)
			e.Info = snapshotInfo(v)
			results = append(results, Result{Path: v.Path, Entry: e, Class: Added})
		}

		if afterEach != nil {
			if err := afterEach(ctx); err != nil {
				return results, err
			}
		}
	}

	// Everything left in shadow never showed up on disk this scan: removed
	// (§4.5 step 3). The Entry is still available from the caller's map
	// for the removal hook.
	for path := range shadow {
		e := entries[path]
		results = append(results, Result{Path: path, Entry: e, Class: Removed})
	}

	return results, nil
}

func snapshotInfo(v walker.Visit) *entry.Info {
	info := &entry.Info{
		Size:    v.Info.Size(),
		ModTime: v.Info.ModTime(),
		AccTime: statAccessTime(v.Info),
		Mode:    v.Info.Mode(),
	}
	if st, ok := statInode(v.Info); ok {
		info.Inode = st
	}
	return info
}
