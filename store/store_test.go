package store_test

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/dirscan/scanner/entry"
	"github.com/dirscan/scanner/store"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	entries, upgraded, err := store.Load(context.Background(), filepath.Join(t.TempDir(), "nope.dat"))
	require.NoError(t, err)
	require.False(t, upgraded)
	require.Empty(t, entries)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".files.dat")

	now := time.Now().Truncate(time.Second)
	entries := map[string]*entry.Entry{
		"/a": entry.New(nil, "/a", now),
	}
	entries["/a"].Info = &entry.Info{Size: 123}
	entries["/a"].Checksum = "deadbeef"
	entries["/a"].AdvanceGeneration(now)

	require.NoError(t, store.Save(context.Background(), path, "", entries))

	loaded, upgraded, err := store.Load(context.Background(), path)
	require.NoError(t, err)
	require.False(t, upgraded)
	require.Len(t, loaded, 1)
	require.Equal(t, "deadbeef", loaded["/a"].Checksum)
	require.EqualValues(t, 123, loaded["/a"].Info.Size)
	require.True(t, loaded["/a"].Stamp.Equal(now))
}

func TestSaveViaTempDir(t *testing.T) {
	dir := t.TempDir()
	tempDir := t.TempDir()
	path := filepath.Join(dir, ".files.dat")

	entries := map[string]*entry.Entry{"/a": entry.New(nil, "/a", time.Now())}

	require.NoError(t, store.Save(context.Background(), path, tempDir, entries))
	require.FileExists(t, path)

	leftovers, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	require.Empty(t, leftovers, "temp file must be renamed away, not left behind")
}

func TestLoadUpgradesLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".files.dat")

	stamp := time.Now().Truncate(time.Second)
	legacy := map[string]time.Time{"/x": stamp}

	var gobBuf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&gobBuf).Encode(legacy))

	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write(gobBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	entries, upgraded, err := store.Load(context.Background(), path)
	require.NoError(t, err)
	require.True(t, upgraded)
	require.Len(t, entries, 1)
	require.True(t, entries["/x"].Stamp.Equal(stamp))

	// Saving now upgrades the on-disk format in place.
	require.NoError(t, store.Save(context.Background(), path, "", entries))

	_, upgradedAgain, err := store.Load(context.Background(), path)
	require.NoError(t, err)
	require.False(t, upgradedAgain)
}

func TestLoadCorruptDatabaseIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".files.dat")
	require.NoError(t, os.WriteFile(path, []byte("not a gzip stream at all"), 0o600))

	_, _, err := store.Load(context.Background(), path)
	require.ErrorIs(t, err, store.ErrCorrupt)
}

func TestAttachReattachesHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))

	entries := map[string]*entry.Entry{path: entry.New(nil, path, time.Now())}
	h := &testHandle{}
	store.Attach(entries, h)

	// ComputeChecksum reports hashed bytes through the attached handle's
	// AddBytesHashed, so a count on h shows Attach replaced the nil handle.
	_, err := entries[path].ComputeChecksum()
	require.NoError(t, err)
	require.EqualValues(t, 3, h.hashed)
}

type testHandle struct{ hashed int64 }

func (testHandle) Dryrun() bool             { return false }
func (testHandle) Sudo() bool               { return false }
func (testHandle) ShredCommand() string     { return "" }
func (testHandle) PruneDirs() bool          { return false }
func (h *testHandle) AddBytesHashed(n int64) { h.hashed += n }
