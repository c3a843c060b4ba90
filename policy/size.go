package policy

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/petar/GoLLRB/llrb"
	"github.com/pkg/errors"

	"github.com/dirscan/scanner/action"
	"github.com/dirscan/scanner/entry"
	"github.com/dirscan/scanner/internal/volume"
)

// SizeResult summarizes one size-policy pass.
type SizeResult struct {
	Before  int64
	After   int64
	Removed []string
}

// bySizeDesc orders tree items so that ascending traversal visits the
// largest entries first, ties broken by path (§4.6 Size policy).
type bySizeDesc struct {
	size int64
	path string
}

func (a bySizeDesc) Less(other llrb.Item) bool {
	b := other.(bySizeDesc)
	if a.size != b.size {
		return a.size > b.size
	}
	return a.path < b.path
}

// ApplySize evaluates the tracked set's total size against maxSize
// (absolute byte count, or "N%" of the scan root's volume capacity) and,
// if exceeded, dispatches onPastLimit for the largest entries in
// descending-size order until the total is at or below the limit
// (§4.6 Size policy). Entries removed by the hook are deleted from
// entries.
func ApplySize(
	ctx context.Context,
	dispatcher *action.Dispatcher,
	entries map[string]*entry.Entry,
	maxSize string,
	scanRoot string,
	hook action.Hook,
	now time.Time,
) (SizeResult, error) {
	var result SizeResult

	if maxSize == "" || hook.IsZero() {
		return result, nil
	}

	limit, err := resolveLimit(maxSize, scanRoot)
	if err != nil {
		return result, errors.Wrap(err, "resolve maxSize")
	}

	tree := llrb.New()

	for path, e := range entries {
		sz, err := entrySize(e)
		if err != nil {
			log(ctx).Warnf("transient error sizing %v: %v", path, err) // §7
			continue
		}
		result.Before += sz
		tree.InsertNoReplace(bySizeDesc{size: sz, path: path})
	}
	result.After = result.Before

	if result.After <= limit {
		return result, nil
	}

	tree.AscendGreaterOrEqual(llrb.Inf(-1), func(i llrb.Item) bool {
		// Strict: keep removing while still at or above limit. Checking
		// <= here would stop one removal early whenever a removal lands
		// exactly on limit (§8 scenario 5: removing the 60- and 50-byte
		// entries lands exactly on the 100-byte limit after the first).
		if result.After < limit {
			return false
		}

		item := i.(bySizeDesc)
		e, ok := entries[item.path]
		if !ok {
			return true
		}

		age := e.AgeDays(now)
		if dispatcher.DispatchPastLimit(ctx, hook, e, age) {
			delete(entries, item.path)
			result.Removed = append(result.Removed, item.path)
			result.After -= item.size
		}

		return true
	})

	return result, nil
}

func entrySize(e *entry.Entry) (int64, error) {
	if e.Info != nil {
		return e.Info.Size, nil
	}
	return e.Size()
}

// resolveLimit parses maxSize into an absolute byte count, resolving a
// percentage form against the scan root's volume capacity (§6 Volume
// capacity query).
func resolveLimit(maxSize, scanRoot string) (int64, error) {
	if pct, isPct := strings.CutSuffix(maxSize, "%"); isPct {
		frac, err := strconv.ParseFloat(pct, 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse percentage")
		}

		total, _, err := volume.Capacity(scanRoot)
		if err != nil {
			return 0, errors.Wrap(err, "query volume capacity")
		}

		return int64(frac / 100 * float64(total)), nil
	}

	n, err := strconv.ParseInt(maxSize, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse absolute byte count")
	}

	return n, nil
}
