package entry_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dirscan/scanner/entry"
)

type fakeHandle struct {
	dryrun       bool
	sudo         bool
	shred        string
	pruneDirs    bool
	bytesHashed  int64
}

func (h *fakeHandle) Dryrun() bool          { return h.dryrun }
func (h *fakeHandle) Sudo() bool            { return h.sudo }
func (h *fakeHandle) ShredCommand() string  { return h.shred }
func (h *fakeHandle) PruneDirs() bool       { return h.pruneDirs }
func (h *fakeHandle) AddBytesHashed(n int64) { h.bytesHashed += n }

func TestCanonicalTimePrecedence(t *testing.T) {
	stamp := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	mtime := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	atime := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	e := entry.New(nil, "/x", stamp)
	require.True(t, e.CanonicalTime().Equal(stamp), "falls back to first-seen stamp")

	e.Info = &entry.Info{ModTime: mtime}
	e.UseMTime = true
	require.True(t, e.CanonicalTime().Equal(mtime))

	e.Info.AccTime = atime
	e.UseATime = true
	require.True(t, e.CanonicalTime().Equal(atime), "atime takes precedence over mtime")
}

func TestContentsHaveChangedMtimeUnchanged(t *testing.T) {
	now := time.Now()
	e := entry.New(nil, "/x", now)
	e.Info = &entry.Info{ModTime: now}
	e.PrevInfo = &entry.Info{ModTime: now}

	changed, err := e.ContentsHaveChanged(now)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestContentsHaveChangedUseChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	h := &fakeHandle{}
	e := entry.New(h, path, time.Now())
	e.UseChecksum = true

	fi, err := os.Lstat(path)
	require.NoError(t, err)
	e.Info = &entry.Info{ModTime: fi.ModTime(), Size: fi.Size(), Mode: fi.Mode()}
	e.PrevInfo = &entry.Info{ModTime: fi.ModTime().Add(-time.Hour)} // force mtime-changed branch

	changed, err := e.ContentsHaveChanged(time.Now())
	require.NoError(t, err)
	require.True(t, changed, "first checksum always differs from empty stored checksum")
	require.NotEmpty(t, e.Checksum)
	require.Positive(t, h.bytesHashed)

	stored := e.Checksum
	changed, err = e.ContentsHaveChanged(time.Now())
	require.NoError(t, err)
	require.False(t, changed, "PrevInfo still differs, but re-hashing unmodified content matches the stored checksum")
	require.Equal(t, stored, e.Checksum)
}

func TestContentsHaveChangedUseChecksumAlwaysRespectsWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	e := entry.New(&fakeHandle{}, path, time.Now())
	e.UseChecksumAlways = true
	e.CheckWindowDays = 7
	e.Jitter = 0

	fi, err := os.Lstat(path)
	require.NoError(t, err)
	e.Info = &entry.Info{ModTime: fi.ModTime()}
	e.PrevInfo = &entry.Info{ModTime: fi.ModTime()} // mtime unchanged

	now := time.Now()
	e.LastCheck = now.Add(-24 * time.Hour) // well within the 7 day window

	changed, err := e.ContentsHaveChanged(now)
	require.NoError(t, err)
	require.False(t, changed, "within checkWindow, forced re-hash is skipped")
	require.Empty(t, e.Checksum)

	e.LastCheck = now.Add(-8 * 24 * time.Hour) // outside the window
	changed, err = e.ContentsHaveChanged(now)
	require.NoError(t, err)
	require.True(t, changed, "first checksum always differs from the empty stored checksum")
	require.NotEmpty(t, e.Checksum)
}

func TestSizeDirectoryRecurses(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 10), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 20), 0o600))

	e := entry.New(nil, dir, time.Now())

	size, err := e.Size()
	require.NoError(t, err)
	require.EqualValues(t, 30, size)
}

func TestAdvanceGeneration(t *testing.T) {
	e := entry.New(nil, "/x", time.Now())
	e.Info = &entry.Info{Size: 5}

	now := time.Now()
	e.AdvanceGeneration(now)

	require.True(t, e.PrevStamp.Equal(now))
	require.Equal(t, e.Info, e.PrevInfo)
}
