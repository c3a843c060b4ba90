// Package walker produces the set of entries currently on disk for a scan
// root, honoring a configured maximum depth and a "minimal scan" gate
// that can skip traversal entirely when nothing has changed (§4.4).
package walker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/dirscan/scanner/internal/logging"
)

var log = logging.Module("dirscan/walker")

// Visit is one path discovered by a walk, with its lstat snapshot.
type Visit struct {
	Path string
	Info os.FileInfo
}

// Walker traverses a root directory depth-first, never following
// symlinks for recursion (§4.4 Full walk).
type Walker struct {
	Root string
	// MaxDepth: nil means unbounded, 0 means Root's immediate children
	// only (no descent), N means descend N further levels below them.
	MaxDepth *int
	// MinimalScan gates traversal on the root directory's mtime; see
	// Walk's doc comment.
	MinimalScan bool
}

// Walk returns every Visit under Root within MaxDepth, in depth-first
// order; Root itself is not included. When MinimalScan is set and lastSavedRootMTime is non-zero and
// equal to the root's current mtime, Walk returns (nil, false, nil): the
// caller should skip reconciliation of on-disk state entirely but still
// run existing Entries through age-based policy (§4.4 Minimal-scan gate).
func (w *Walker) Walk(ctx context.Context, lastSavedRootMTime time.Time) (visits []Visit, didWalk bool, err error) {
	if w.MinimalScan {
		if w.MaxDepth == nil || *w.MaxDepth != 0 {
			log(ctx).Warnf("minimalScan combined with non-zero/unbounded depth: subdirectory changes will be invisible")
		}

		rootInfo, statErr := os.Stat(w.Root)
		if statErr != nil {
			return nil, false, errors.Wrap(statErr, "stat scan root")
		}

		if !lastSavedRootMTime.IsZero() && rootInfo.ModTime().Equal(lastSavedRootMTime) {
			log(ctx).Debugw("minimal scan: root unchanged, skipping traversal", "root", w.Root)
			return nil, false, nil
		}
	}

	visits, err = w.fullWalk(ctx)
	return visits, true, err
}

func (w *Walker) fullWalk(ctx context.Context) ([]Visit, error) {
	rootInfo, err := os.Lstat(w.Root)
	if err != nil {
		return nil, errors.Wrap(err, "lstat scan root")
	}

	// Root is walked one level above depth 0 so that its children are
	// visited at depth 0; Root's own visit (always the first) is then
	// dropped, since the scan root is not itself a tracked path.
	var visits []Visit
	if err := w.walkDir(ctx, w.Root, rootInfo, -1, &visits); err != nil {
		return nil, err
	}

	return visits[1:], nil
}

func (w *Walker) walkDir(ctx context.Context, path string, info os.FileInfo, depth int, out *[]Visit) error {
	*out = append(*out, Visit{Path: path, Info: info})

	if !info.IsDir() {
		return nil
	}

	if w.MaxDepth != nil && depth >= *w.MaxDepth {
		return nil
	}

	children, err := os.ReadDir(path)
	if err != nil {
		log(ctx).Warnf("transient I/O error reading directory %v: %v", path, err) // §7: skip, continue
		return nil
	}

	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		childPath := filepath.Join(path, name)

		childInfo, err := os.Lstat(childPath)
		if err != nil {
			log(ctx).Warnf("transient I/O error stat'ing %v: %v", childPath, err) // §7
			continue
		}

		if childInfo.Mode()&os.ModeSymlink != 0 {
			// Symlinks are recorded but never traversed (§4.4 Full walk).
			*out = append(*out, Visit{Path: childPath, Info: childInfo})
			continue
		}

		if err := w.walkDir(ctx, childPath, childInfo, depth+1, out); err != nil {
			return err
		}
	}

	return nil
}
