// Package store implements the State Store: the durable mapping of path
// to Entry, with versioned serialization, atomic rewrite, and legacy
// format upgrade (§4.2). Locking around Load/Save is the caller's
// responsibility (normally Scanner's single outer lockmgr.Manager covering
// the whole invocation) - see DESIGN.md "Locking discipline".
package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	natomic "github.com/natefinch/atomic"
	"github.com/pkg/errors"

	"github.com/dirscan/scanner/entry"
	"github.com/dirscan/scanner/internal/logging"
)

var log = logging.Module("dirscan/store")

// ErrCorrupt is returned when the state database cannot be decoded in
// either the current or legacy format. Per §7 this is fatal; the operator
// must intervene.
var ErrCorrupt = errors.New("store: state database is corrupt")

const currentVersion = 1

// record is the on-disk projection of an Entry: only the fields §3 calls
// persisted. Per-entry configuration (UseChecksum, CheckWindowDays, ...)
// and the transient scanner handle/dirty bit are never part of it.
type record struct {
	Path      string
	Stamp     time.Time
	Info      *entry.Info
	Checksum  string
	LastCheck time.Time
	PrevStamp time.Time
	PrevInfo  *entry.Info
}

type envelope struct {
	Version int
	Records map[string]record
}

// Load reads and deserializes the state database at path. It supports
// both the current envelope format and the legacy path->timestamp mapping
// (§6), upgrading the latter in memory; legacyUpgrade reports whether an
// upgrade happened so the caller knows the next Save must rewrite it.
//
// A missing file is treated as an empty, fresh database (first scan).
func Load(ctx context.Context, path string) (entries map[string]*entry.Entry, legacyUpgrade bool, err error) {
	raw, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*entry.Entry{}, false, nil
		}
		return nil, false, errors.Wrap(err, "read state database")
	}

	decompressed, err := gunzip(raw)
	if err != nil {
		return nil, false, errors.Wrap(ErrCorrupt, err.Error())
	}

	if env, ok := decodeEnvelope(decompressed); ok {
		return fromRecords(env.Records), false, nil
	}

	if legacy, ok := decodeLegacy(decompressed); ok {
		log(ctx).Infof("upgrading legacy state database %v (%d entries) on next save", path, len(legacy))
		return fromLegacy(legacy), true, nil
	}

	return nil, false, ErrCorrupt
}

func decodeEnvelope(b []byte) (envelope, bool) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env); err != nil {
		return envelope{}, false
	}
	if env.Version != currentVersion || env.Records == nil {
		return envelope{}, false
	}
	return env, true
}

func decodeLegacy(b []byte) (map[string]time.Time, bool) {
	var legacy map[string]time.Time
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&legacy); err != nil {
		return nil, false
	}
	return legacy, true
}

func fromRecords(records map[string]record) map[string]*entry.Entry {
	out := make(map[string]*entry.Entry, len(records))
	for path, r := range records {
		e := entry.New(nil, path, r.Stamp)
		e.Info = r.Info
		e.Checksum = r.Checksum
		e.LastCheck = r.LastCheck
		e.PrevStamp = r.PrevStamp
		e.PrevInfo = r.PrevInfo
		out[path] = e
	}
	return out
}

func fromLegacy(legacy map[string]time.Time) map[string]*entry.Entry {
	out := make(map[string]*entry.Entry, len(legacy))
	for path, stamp := range legacy {
		out[path] = entry.New(nil, path, stamp)
	}
	return out
}

// Save serializes entries to path in the current envelope format. If
// tempDir is non-empty, the temp file is created there and then renamed
// over path, so tempDir must be on the same filesystem as path (a rename
// across filesystems fails and Save returns an error); otherwise
// natefinch/atomic performs a colocated temp-file-then-rename in path's
// own directory.
//
// On any failure after partial output, the partial temp file is removed
// and a wrapped error is returned (§4.2, Design Notes §9 "Atomic save").
func Save(ctx context.Context, path, tempDir string, entries map[string]*entry.Entry) error {
	env := toEnvelope(entries)

	var gobBuf bytes.Buffer
	if err := gob.NewEncoder(&gobBuf).Encode(env); err != nil {
		return errors.Wrap(err, "encode state database")
	}

	var compressed bytes.Buffer
	gz, err := gzip.NewWriterLevel(&compressed, gzip.BestSpeed)
	if err != nil {
		return errors.Wrap(err, "create compressor")
	}
	if _, err := gz.Write(gobBuf.Bytes()); err != nil {
		return errors.Wrap(err, "compress state database")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "flush compressor")
	}

	if tempDir == "" {
		if err := natomic.WriteFile(path, &compressed); err != nil {
			return errors.Wrap(err, "atomic write state database")
		}
		log(ctx).Debugw("saved state database", "path", path, "entries", len(entries))
		return nil
	}

	if err := saveViaTempDir(path, tempDir, compressed.Bytes()); err != nil {
		return err
	}
	log(ctx).Debugw("saved state database via tempDir", "path", path, "tempDir", tempDir, "entries", len(entries))
	return nil
}

func saveViaTempDir(path, tempDir string, data []byte) error {
	tmpPath := filepath.Join(tempDir, ".dirscan-"+uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return errors.Wrap(err, "create temp state database")
	}

	if _, err := f.Write(data); err != nil {
		f.Close() //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
		return errors.Wrap(err, "write temp state database")
	}

	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
		return errors.Wrap(err, "sync temp state database")
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return errors.Wrap(err, "close temp state database")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return errors.Wrap(err, "rename temp state database into place")
	}

	return nil
}

func toEnvelope(entries map[string]*entry.Entry) envelope {
	records := make(map[string]record, len(entries))
	for path, e := range entries {
		records[path] = record{
			Path:      e.Path,
			Stamp:     e.Stamp,
			Info:      e.Info,
			Checksum:  e.Checksum,
			LastCheck: e.LastCheck,
			PrevStamp: e.PrevStamp,
			PrevInfo:  e.PrevInfo,
		}
	}
	return envelope{Version: currentVersion, Records: records}
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "open gzip stream")
	}
	defer zr.Close() //nolint:errcheck

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "read gzip stream")
	}
	return out, nil
}

// Attach re-establishes the scanner handle on every Entry produced by
// Load, per §4.2's "re-attach the scanner back-reference to every loaded
// Entry".
func Attach(entries map[string]*entry.Entry, handle entry.Handle) {
	for _, e := range entries {
		e.Attach(handle)
	}
}
