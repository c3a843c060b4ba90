package reconcile_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dirscan/scanner/entry"
	"github.com/dirscan/scanner/reconcile"
	"github.com/dirscan/scanner/walker"
)

type fakeHandle struct{}

func (fakeHandle) Dryrun() bool         { return false }
func (fakeHandle) Sudo() bool           { return false }
func (fakeHandle) ShredCommand() string { return "" }
func (fakeHandle) PruneDirs() bool      { return false }
func (fakeHandle) AddBytesHashed(int64) {}

func visitFor(t *testing.T, path string) walker.Visit {
	t.Helper()
	fi, err := os.Lstat(path)
	require.NoError(t, err)
	return walker.Visit{Path: path, Info: fi}
}

func newEntryFunc(handle entry.Handle, now time.Time) reconcile.NewEntryFunc {
	return func(path string, _ walker.Visit) *entry.Entry {
		return entry.New(handle, path, now)
	}
}

func TestReconcileClassifiesAdded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	now := time.Now()
	visits := []walker.Visit{visitFor(t, path)}

	results, err := reconcile.Reconcile(context.Background(), now, map[string]*entry.Entry{}, visits, newEntryFunc(fakeHandle{}, now), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, reconcile.Added, results[0].Class)
	require.Equal(t, path, results[0].Path)
	require.NotNil(t, results[0].Entry.Info)
}

func TestReconcileClassifiesUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stable.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	fi, err := os.Lstat(path)
	require.NoError(t, err)

	now := time.Now()
	e := entry.New(fakeHandle{}, path, now)
	e.PrevStamp = now
	e.PrevInfo = &entry.Info{Size: fi.Size(), ModTime: fi.ModTime(), Mode: fi.Mode()}

	entries := map[string]*entry.Entry{path: e}
	visits := []walker.Visit{visitFor(t, path)}

	results, err := reconcile.Reconcile(context.Background(), now, entries, visits, newEntryFunc(fakeHandle{}, now), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, reconcile.Unchanged, results[0].Class)
}

func TestReconcileClassifiesChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mutated.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	now := time.Now()
	e := entry.New(fakeHandle{}, path, now)
	e.PrevStamp = now
	e.PrevInfo = &entry.Info{Size: 999, ModTime: now.Add(-time.Hour), Mode: 0o600}

	entries := map[string]*entry.Entry{path: e}
	visits := []walker.Visit{visitFor(t, path)}

	results, err := reconcile.Reconcile(context.Background(), now, entries, visits, newEntryFunc(fakeHandle{}, now), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, reconcile.Changed, results[0].Class)
}

func TestReconcileClassifiesRemoved(t *testing.T) {
	now := time.Now()
	gone := entry.New(fakeHandle{}, "/tmp/does-not-exist-anymore", now)

	entries := map[string]*entry.Entry{gone.Path: gone}

	results, err := reconcile.Reconcile(context.Background(), now, entries, nil, newEntryFunc(fakeHandle{}, now), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, reconcile.Removed, results[0].Class)
	require.Equal(t, gone.Path, results[0].Path)
}

func TestReconcileInvokesAfterEachPerVisit(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a", "b", "c"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
		paths = append(paths, p)
	}

	now := time.Now()
	var visits []walker.Visit
	for _, p := range paths {
		visits = append(visits, visitFor(t, p))
	}

	calls := 0
	afterEach := func(context.Context) error {
		calls++
		return nil
	}

	_, err := reconcile.Reconcile(context.Background(), now, map[string]*entry.Entry{}, visits, newEntryFunc(fakeHandle{}, now), afterEach)
	require.NoError(t, err)
	require.Equal(t, len(visits), calls)
}

func TestReconcileAfterEachErrorStopsAndPropagates(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a")
	p2 := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(p1, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(p2, []byte("x"), 0o600))

	now := time.Now()
	visits := []walker.Visit{visitFor(t, p1), visitFor(t, p2)}

	calls := 0
	boom := errors.New("checkpoint save failed")
	afterEach := func(context.Context) error {
		calls++
		if calls == 1 {
			return boom
		}
		return nil
	}

	results, err := reconcile.Reconcile(context.Background(), now, map[string]*entry.Entry{}, visits, newEntryFunc(fakeHandle{}, now), afterEach)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
	require.Len(t, results, 1, "partial results up to the failing checkpoint are still returned")
}
