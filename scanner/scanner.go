// Package scanner implements the Scanner Engine: the orchestrator that
// drives one invocation through Lock -> Load -> Walk -> Reconcile -> Policy
// -> Dispatch -> Save -> Unlock (spec.md §2).
package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/dirscan/scanner/action"
	"github.com/dirscan/scanner/checkpoint"
	"github.com/dirscan/scanner/entry"
	"github.com/dirscan/scanner/internal/logging"
	"github.com/dirscan/scanner/lockmgr"
	"github.com/dirscan/scanner/policy"
	"github.com/dirscan/scanner/reconcile"
	"github.com/dirscan/scanner/store"
	"github.com/dirscan/scanner/walker"
)

var log = logging.Module("dirscan/scanner")

var tracer = otel.Tracer("github.com/dirscan/scanner")

// NewEntryFunc is the registered Entry factory a caller can override to
// extend Entry construction (Design Notes §9 "Registered Entry subtype").
type NewEntryFunc func(handle entry.Handle, path string, now time.Time) *entry.Entry

// Options is the complete configuration surface named in spec.md §6.
type Options struct {
	// Directory is the scan root.
	Directory string
	// Database is the state file path, default "<Directory>/.files.dat".
	Database string
	// TempDir, if set, is where Save and checkpoint flushes write their
	// temp file before renaming into place (§4.2).
	TempDir string

	// Days is the age threshold in days; <= 0 disables the age policy.
	Days float64
	// MaxSize is an absolute byte count or a percentage string like "80%";
	// empty disables the size policy.
	MaxSize string

	// Depth: nil = unbounded, 0 = Directory's immediate entries only (no
	// descent), N = descend N further levels below them.
	Depth *int

	UseATime bool
	UseMTime bool

	UseChecksum       bool
	UseChecksumAlways bool
	CheckWindowDays   float64

	CacheAttrs  bool
	MinimalScan bool
	PruneDirs   bool
	Sudo        bool
	Dryrun      bool

	// ShredCommand, if set, replaces plain file removal with a secure-wipe
	// command template (§4.1).
	ShredCommand string

	// CheckpointBytes is the mid-scan flush threshold; <= 0 selects
	// checkpoint.DefaultThresholdBytes.
	CheckpointBytes int64

	OnEntryAdded     action.Hook
	OnEntryChanged   action.Hook
	OnEntryRemoved   action.Hook
	OnEntryPastLimit action.Hook // shared by the age and size policies

	// NewEntry overrides Entry construction; nil selects entry.New.
	NewEntry NewEntryFunc

	// Metrics, if non-nil, receives Prometheus instrumentation for this
	// scan. Optional.
	Metrics *Metrics
	// DebugDump pretty-prints the final Entry set at Info level when set.
	DebugDump bool
}

// Result summarizes one completed scan (SPEC_FULL.md "Supplemented
// features": a structured return value rather than only an error).
type Result struct {
	Added, Changed, Unchanged, Removed int
	BytesHashed                        int64
	AgePolicyRemoved                   int
	SizePolicyRemoved                  int
	CheckpointFlushes                  int64
	DidWalk                            bool
	LegacyUpgrade                      bool
	Duration                           time.Duration
}

// Scanner drives a single scan root's invocations. It implements
// entry.Handle so Entries created or loaded during a scan can reach its
// configuration and hashing-progress accounting without importing this
// package (Design Notes §9 "Back-references without cycles").
type Scanner struct {
	Options

	cp          *checkpoint.Checkpointer
	dispatcher  *action.Dispatcher
	bytesHashed int64
}

// New constructs a Scanner, applying defaults for Database, NewEntry, and
// the age/size policies' shared onEntryPastLimit hook (defaulting to the
// "safeRemove" behavior described in spec.md §4.6).
func New(opts Options) *Scanner {
	if opts.Database == "" {
		opts.Database = filepath.Join(opts.Directory, ".files.dat")
	}
	if opts.NewEntry == nil {
		opts.NewEntry = entry.New
	}
	if opts.OnEntryPastLimit.IsZero() {
		opts.OnEntryPastLimit = action.Hook{AgeFunc: safeRemove}
	}

	s := &Scanner{
		Options:    opts,
		dispatcher: &action.Dispatcher{Dryrun: opts.Dryrun},
	}
	s.cp = checkpoint.New(opts.Database, opts.TempDir, opts.CheckpointBytes)

	return s
}

// safeRemove is the default onEntryPastLimit hook: remove the entry from
// disk and report success (spec.md §4.6).
func safeRemove(ctx context.Context, e *entry.Entry, _ float64) bool {
	if err := e.Remove(ctx); err != nil {
		log(ctx).Warnf("safeRemove failed for %v: %v", e.Path, err)
		return false
	}
	return true
}

// entry.Handle implementation.

func (s *Scanner) Dryrun() bool         { return s.Options.Dryrun }
func (s *Scanner) Sudo() bool           { return s.Options.Sudo }
func (s *Scanner) ShredCommand() string { return s.Options.ShredCommand }
func (s *Scanner) PruneDirs() bool      { return s.Options.PruneDirs }

func (s *Scanner) AddBytesHashed(n int64) {
	atomic.AddInt64(&s.bytesHashed, n)
	s.cp.AddBytesHashed(n)
	if s.Metrics != nil {
		s.Metrics.BytesHashed.Add(float64(n))
	}
}

func (s *Scanner) applyConfig(e *entry.Entry) {
	e.UseChecksum = s.Options.UseChecksum
	e.UseChecksumAlways = s.Options.UseChecksumAlways
	e.CheckWindowDays = s.Options.CheckWindowDays
	e.UseATime = s.Options.UseATime
	e.UseMTime = s.Options.UseMTime
	e.CacheAttrs = s.Options.CacheAttrs
}

// Run executes one complete scan: Lock -> Load -> Walk -> Reconcile ->
// Policy -> Dispatch -> Save -> Unlock (§2).
func (s *Scanner) Run(ctx context.Context) (Result, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "Scanner.Run")
	defer span.End()

	// A sibling lock file, not the database itself, so that acquiring the
	// lock never creates or truncates the state database before Load gets
	// a chance to see "missing file = fresh database" (lockmgr.New's doc
	// comment on this exact tradeoff).
	lockPath := s.Options.Database + ".lock"
	mgr := lockmgr.New(lockPath)

	_, lockSpan := tracer.Start(ctx, "Lock")
	unlock, err := mgr.Exclusive()
	lockSpan.End()
	if err != nil {
		return Result{}, errors.Wrap(err, "acquire scan lock")
	}
	defer unlock.Unlock() //nolint:errcheck

	_, loadSpan := tracer.Start(ctx, "Load")
	entries, legacyUpgrade, err := store.Load(ctx, s.Options.Database)
	loadSpan.End()
	if err != nil {
		return Result{}, errors.Wrap(err, "load state database")
	}

	store.Attach(entries, s)
	for _, e := range entries {
		s.applyConfig(e)
	}

	var lastSavedRootMTime time.Time
	if fi, statErr := os.Stat(s.Options.Database); statErr == nil {
		lastSavedRootMTime = fi.ModTime()
	}

	w := &walker.Walker{Root: s.Options.Directory, MaxDepth: s.Options.Depth, MinimalScan: s.Options.MinimalScan}

	_, walkSpan := tracer.Start(ctx, "Walk")
	visits, didWalk, err := w.Walk(ctx, lastSavedRootMTime)
	walkSpan.End()
	if err != nil {
		return Result{}, errors.Wrap(err, "walk scan root")
	}
	visits = excludeControlFiles(visits, s.Options.Database, lockPath)

	now := time.Now()

	newEntry := func(path string, _ walker.Visit) *entry.Entry {
		e := s.Options.NewEntry(s, path, now)
		s.applyConfig(e)
		return e
	}

	afterEach := func(ctx context.Context) error {
		return s.cp.MaybeFlush(ctx, entries)
	}

	// A minimal scan that skipped traversal (didWalk false) has nothing to
	// reconcile against: visits is empty, not "everything is gone", so the
	// existing Entry set must not be run through removal classification
	// (§4.4 minimal-scan gate - it still feeds Policy, just not Reconcile).
	var results []reconcile.Result
	if didWalk {
		_, reconcileSpan := tracer.Start(ctx, "Reconcile")
		results, err = reconcile.Reconcile(ctx, now, entries, visits, newEntry, afterEach)
		reconcileSpan.End()
		if err != nil {
			return Result{}, errors.Wrap(err, "reconcile")
		}
	}

	_, policySpan := tracer.Start(ctx, "Policy")
	var ageRemoved, sizeRemoved int
	if s.Options.Days > 0 {
		ageResult := policy.ApplyAge(ctx, s.dispatcher, entries, s.Options.Days, s.Options.OnEntryPastLimit, now)
		ageRemoved = len(ageResult.Removed)
	}
	if s.Options.MaxSize != "" {
		sizeResult, sizeErr := policy.ApplySize(ctx, s.dispatcher, entries, s.Options.MaxSize, s.Options.Directory, s.Options.OnEntryPastLimit, now)
		if sizeErr != nil {
			policySpan.End()
			return Result{}, errors.Wrap(sizeErr, "apply size policy")
		}
		sizeRemoved = len(sizeResult.Removed)
	}
	policySpan.End()
	if s.Metrics != nil {
		s.Metrics.PolicyRemovals.WithLabelValues("age").Add(float64(ageRemoved))
		s.Metrics.PolicyRemovals.WithLabelValues("size").Add(float64(sizeRemoved))
	}

	_, dispatchSpan := tracer.Start(ctx, "Dispatch")
	counts := s.dispatch(ctx, entries, results, now)
	dispatchSpan.End()

	_, saveSpan := tracer.Start(ctx, "Save")
	saveErr := store.Save(ctx, s.Options.Database, s.Options.TempDir, entries)
	saveSpan.End()
	if saveErr != nil {
		return Result{}, errors.Wrap(saveErr, "save state database")
	}

	s.DebugDump(ctx, entries)

	result := Result{
		Added:             counts.added,
		Changed:           counts.changed,
		Unchanged:         counts.unchanged,
		Removed:           counts.removed,
		BytesHashed:       atomic.LoadInt64(&s.bytesHashed),
		AgePolicyRemoved:  ageRemoved,
		SizePolicyRemoved: sizeRemoved,
		CheckpointFlushes: s.cp.Flushes(),
		DidWalk:           didWalk,
		LegacyUpgrade:     legacyUpgrade,
		Duration:          time.Since(start),
	}

	if s.Metrics != nil {
		s.Metrics.EntriesAdded.Add(float64(counts.added))
		s.Metrics.EntriesChanged.Add(float64(counts.changed))
		s.Metrics.EntriesUnchanged.Add(float64(counts.unchanged))
		s.Metrics.EntriesRemoved.Add(float64(counts.removed))
		s.Metrics.CheckpointFlushes.Add(float64(s.cp.Flushes()))
		s.Metrics.ScanDuration.Observe(result.Duration.Seconds())
	}

	return result, nil
}

type dispatchCounts struct {
	added, changed, unchanged, removed int
}

// dispatch applies onEntryAdded/Changed/Removed to each Reconcile result,
// committing or suppressing per §7 ("state not committed" when a hook
// returns false).
func (s *Scanner) dispatch(ctx context.Context, entries map[string]*entry.Entry, results []reconcile.Result, now time.Time) dispatchCounts {
	var counts dispatchCounts

	for _, r := range results {
		switch r.Class {
		case reconcile.Added:
			if s.dispatcher.Dispatch(ctx, s.Options.OnEntryAdded, r.Entry) {
				r.Entry.AdvanceGeneration(now)
				entries[r.Path] = r.Entry
				counts.added++
			} else {
				log(ctx).Debugw("onEntryAdded suppressed commit", "path", r.Path)
			}

		case reconcile.Changed:
			if s.dispatcher.Dispatch(ctx, s.Options.OnEntryChanged, r.Entry) {
				r.Entry.AdvanceGeneration(now)
				counts.changed++
			} else {
				log(ctx).Debugw("onEntryChanged suppressed commit, entry remains at its prior generation", "path", r.Path)
			}

		case reconcile.Unchanged:
			counts.unchanged++

		case reconcile.Removed:
			if s.dispatcher.Dispatch(ctx, s.Options.OnEntryRemoved, r.Entry) {
				if err := r.Entry.Remove(ctx); err != nil {
					log(ctx).Warnf("failed to remove %v: %v", r.Path, err)
				}
				delete(entries, r.Path)
				counts.removed++

				if s.Options.PruneDirs {
					if err := entry.PruneEmptyDir(ctx, s, filepath.Dir(r.Path)); err != nil {
						log(ctx).Warnf("failed to prune %v: %v", filepath.Dir(r.Path), err)
					}
				}
			} else {
				log(ctx).Debugw("onEntryRemoved suppressed commit, entry remains tracked", "path", r.Path)
			}
		}
	}

	return counts
}

// excludeControlFiles drops the state database and its lock file from the
// walked set. Both live inside the scanned directory by default (§6), but
// neither is a tracked subject: the database is rewritten by every Save
// and would otherwise perpetually reclassify itself as changed.
func excludeControlFiles(visits []walker.Visit, controlPaths ...string) []walker.Visit {
	skip := make(map[string]struct{}, len(controlPaths))
	for _, p := range controlPaths {
		skip[p] = struct{}{}
	}

	out := visits[:0]
	for _, v := range visits {
		if _, excluded := skip[v.Path]; excluded {
			continue
		}
		out = append(out, v)
	}
	return out
}
