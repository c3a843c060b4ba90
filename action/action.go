// Package action implements the Action Dispatcher: it invokes the
// user-supplied hooks that decide whether a state transition or policy
// breach should be committed, normalizing the two hook variants (Go
// callable, or shell command template) behind one interface.
package action

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/dirscan/scanner/entry"
	"github.com/dirscan/scanner/internal/logging"
)

var log = logging.Module("dirscan/action")

// EntryFunc is the callable variant of onEntryAdded/onEntryChanged/
// onEntryRemoved.
type EntryFunc func(ctx context.Context, e *entry.Entry) bool

// AgeFunc is the callable variant of onEntryPastLimit.
type AgeFunc func(ctx context.Context, e *entry.Entry, ageDays float64) bool

// Hook is a tagged variant of {callable, command template} per Design
// Notes §9: exactly one of Func/AgeFunc or Command is set.
type Hook struct {
	Func    EntryFunc
	AgeFunc AgeFunc
	Command string // shell template containing one %s for the path
}

// IsZero reports whether the Hook has neither a callable nor a command,
// i.e. the corresponding transition is simply not observed.
func (h Hook) IsZero() bool {
	return h.Func == nil && h.AgeFunc == nil && h.Command == ""
}

// Dispatcher invokes Hooks, translating callable panics/command failures
// into a false result per the error-handling design (§7): hooks must
// never throw out of the dispatcher.
type Dispatcher struct {
	Dryrun bool
}

// Dispatch invokes an EntryFunc/command Hook for a non-age transition
// (added/changed/removed) and returns its commit/suppress verdict.
func (d *Dispatcher) Dispatch(ctx context.Context, h Hook, e *entry.Entry) (result bool) {
	if h.Command != "" {
		return d.runCommand(ctx, h.Command, e.Path)
	}

	if h.Func == nil {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			log(ctx).Errorf("hook panicked for %v: %v", e.Path, r)
			result = false
		}
	}()

	return h.Func(ctx, e)
}

// DispatchPastLimit invokes onEntryPastLimit with the entry's computed age
// in days.
func (d *Dispatcher) DispatchPastLimit(ctx context.Context, h Hook, e *entry.Entry, ageDays float64) (result bool) {
	if h.Command != "" {
		return d.runCommand(ctx, h.Command, e.Path)
	}

	if h.AgeFunc == nil {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			log(ctx).Errorf("age hook panicked for %v: %v", e.Path, r)
			result = false
		}
	}()

	return h.AgeFunc(ctx, e, ageDays)
}

// runCommand substitutes the shell-escaped path into template's %s and
// executes the result through a shell. When Dryrun is set the command is
// logged but never executed, and the result is true (§4.7).
func (d *Dispatcher) runCommand(ctx context.Context, template, path string) bool {
	cmdline := strings.Replace(template, "%s", EscapeShellArg(path), 1)

	if d.Dryrun {
		log(ctx).Infof("dryrun: would run %q", cmdline)
		return true
	}

	log(ctx).Debugw("running action command", "command", cmdline)

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline) //nolint:gosec // cmdline is operator-supplied policy config

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log(ctx).Warnf("action command failed for %v: %v: %s", path, err, stderr.String())
		return false
	}

	return true
}

// EscapeShellArg double-quotes path for interpolation into a `sh -c`
// command line (§4.7, §6 Shell action). It delegates to entry's copy so
// the escaping rules used by action commands and by Entry.shred never
// drift apart.
func EscapeShellArg(path string) string {
	return entry.EscapeShellArg(path)
}
