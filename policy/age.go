// Package policy implements the Policy Engine: the age-limit and
// size-limit policies applied to the reconciled Entry set (spec.md §4.6).
package policy

import (
	"context"
	"time"

	"github.com/dirscan/scanner/action"
	"github.com/dirscan/scanner/entry"
	"github.com/dirscan/scanner/internal/logging"
)

var log = logging.Module("dirscan/policy")

// AgeResult summarizes one age-policy pass.
type AgeResult struct {
	Evaluated int
	Removed   []string
}

// ApplyAge evaluates every Entry's canonical-timestamp age against days and
// dispatches onPastLimit for the ones past the limit (§4.6 Age policy).
// Entries for which the hook returns true are deleted from entries; the
// caller (Scanner) is responsible for persisting the resulting map.
func ApplyAge(
	ctx context.Context,
	dispatcher *action.Dispatcher,
	entries map[string]*entry.Entry,
	days float64,
	hook action.Hook,
	now time.Time,
) AgeResult {
	var result AgeResult

	if hook.IsZero() {
		return result
	}

	for path, e := range entries {
		result.Evaluated++

		age := e.AgeDays(now)
		if age <= days {
			continue
		}

		if dispatcher.DispatchPastLimit(ctx, hook, e, age) {
			delete(entries, path)
			result.Removed = append(result.Removed, path)
			log(ctx).Debugw("age policy removed entry", "path", path, "ageDays", age)
		}
	}

	return result
}
