// Package entry implements the tracked-object record at the heart of the
// scanner: identity, cached stat metadata, content checksum, and the
// change-detection and removal behavior a Scanner drives entries through.
package entry

import (
	"crypto/sha1" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"hash/fnv"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/dirscan/scanner/internal/logging"
)

var log = logging.Module("dirscan/entry")

// Info is the subset of a stat result the scanner persists. It is a plain
// value type (no os.FileInfo) so it serializes cleanly across runs.
type Info struct {
	Size    int64
	ModTime time.Time
	AccTime time.Time
	Inode   uint64
	Mode    os.FileMode
}

// Handle is the narrow view of the owning Scanner that an Entry needs in
// order to honor its configuration and report hashing progress. Entry
// depends only on this interface, never on package scanner, so there is no
// import cycle between entry and scanner (Design Notes §9).
type Handle interface {
	Dryrun() bool
	Sudo() bool
	ShredCommand() string
	PruneDirs() bool
	AddBytesHashed(n int64)
}

// Entry tracks one filesystem path across scans.
type Entry struct {
	Path string

	Stamp time.Time // first-seen instant
	Info  *Info     // nil if the path has never been successfully stat'd

	Checksum  string // SHA-1 hex, empty until computed
	LastCheck time.Time

	PrevStamp time.Time
	PrevInfo  *Info

	// UseChecksum hashes the file whenever ModTime changes.
	UseChecksum bool
	// UseChecksumAlways re-hashes periodically regardless of ModTime,
	// desynchronized across a fleet by Jitter.
	UseChecksumAlways bool
	CheckWindowDays   float64
	Jitter            float64 // stable per-entry offset in [0,1) of CheckWindowDays

	// UseATime/UseMTime select the canonical timestamp source, see
	// CanonicalTime.
	UseATime bool
	UseMTime bool

	// CacheAttrs retains Info across Size() calls instead of re-stat'ing.
	CacheAttrs bool

	dirty  bool
	handle Handle
}

// New creates an Entry for path, first-seen now, with the scanner handle
// attached. The caller is responsible for populating Info from an initial
// Lstat.
func New(handle Handle, path string, now time.Time) *Entry {
	e := &Entry{
		Path:   path,
		Stamp:  now,
		handle: handle,
	}
	e.Jitter = stableJitter(path)
	return e
}

// Attach re-establishes the transient scanner handle after the Entry has
// been deserialized from the State Store; handle and the dirty bit are
// never part of the persisted form (§3 invariants).
func (e *Entry) Attach(handle Handle) {
	e.handle = handle
}

// Dirty reports whether the Entry has pending mutations that require the
// State Store to be rewritten.
func (e *Entry) Dirty() bool { return e.dirty }

// ClearDirty resets the dirty bit, normally called right after a save.
func (e *Entry) ClearDirty() { e.dirty = false }

func (e *Entry) markDirty() { e.dirty = true }

// CanonicalTime chooses the Entry's single timestamp for age calculations:
// access time if configured, else modification time if configured, else
// the first-seen Stamp (§3 Timestamp policy).
func (e *Entry) CanonicalTime() time.Time {
	if e.UseATime && e.Info != nil && !e.Info.AccTime.IsZero() {
		return e.Info.AccTime
	}
	if e.UseMTime && e.Info != nil && !e.Info.ModTime.IsZero() {
		return e.Info.ModTime
	}
	return e.Stamp
}

// AgeDays returns the age of CanonicalTime() relative to now, in days.
func (e *Entry) AgeDays(now time.Time) float64 {
	return now.Sub(e.CanonicalTime()).Hours() / 24
}

// Size returns the file size in bytes, or the recursive sum of children for
// a directory. It uses the cached Info when CacheAttrs is set; otherwise it
// re-stats the path.
func (e *Entry) Size() (int64, error) {
	info := e.Info
	if info == nil || !e.CacheAttrs {
		fi, err := os.Lstat(e.Path)
		if err != nil {
			return 0, errors.Wrap(err, "stat")
		}

		info = &Info{Size: fi.Size(), ModTime: fi.ModTime(), Mode: fi.Mode()}
		if e.CacheAttrs {
			e.Info = info
		}
	}

	if !info.Mode.IsDir() {
		return info.Size, nil
	}

	return dirSize(e.Path)
}

func dirSize(path string) (int64, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, errors.Wrap(err, "read dir")
	}

	var total int64
	for _, de := range entries {
		fi, err := de.Info()
		if err != nil {
			continue // transient I/O: skip, never fatal (§7)
		}
		if fi.IsDir() {
			sub, err := dirSize(path + string(os.PathSeparator) + de.Name())
			if err == nil {
				total += sub
			}
			continue
		}
		total += fi.Size()
	}
	return total, nil
}

// ComputeChecksum lazily computes the SHA-1 of the Entry's content. It
// returns "" for non-regular files. Large files are hashed by mapping them
// into memory rather than streaming through a copy buffer.
func (e *Entry) ComputeChecksum() (string, error) {
	if e.Info != nil && !e.Info.Mode.IsRegular() {
		return "", nil
	}

	f, err := os.Open(e.Path)
	if err != nil {
		return "", errors.Wrap(err, "open")
	}
	defer f.Close() //nolint:errcheck

	fi, err := f.Stat()
	if err != nil {
		return "", errors.Wrap(err, "stat")
	}
	if !fi.Mode().IsRegular() {
		return "", nil
	}

	h := sha1.New() //nolint:gosec

	var n int64
	if fi.Size() > 0 {
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			// fall back to a regular stream, e.g. on filesystems that
			// don't support mmap.
			n, err = io.Copy(h, f)
			if err != nil {
				return "", errors.Wrap(err, "hash")
			}
		} else {
			defer m.Unmap() //nolint:errcheck
			if _, err := h.Write(m); err != nil {
				return "", errors.Wrap(err, "hash")
			}
			n = int64(len(m))
		}
	}

	if e.handle != nil {
		e.handle.AddBytesHashed(n)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	return sum, nil
}

// ContentsHaveChanged implements the change-detection heuristic of §4.1.
func (e *Entry) ContentsHaveChanged(now time.Time) (bool, error) {
	mtimeChanged := e.PrevInfo == nil || e.Info == nil || !e.Info.ModTime.Equal(e.PrevInfo.ModTime)

	if !mtimeChanged && !e.UseChecksumAlways {
		return false, nil
	}

	if mtimeChanged && e.UseChecksum {
		sum, err := e.ComputeChecksum()
		if err != nil {
			return false, err
		}

		changed := sum != e.Checksum
		e.Checksum = sum
		e.markDirty()
		return changed, nil
	}

	if e.UseChecksumAlways {
		windowDays := e.CheckWindowDays + e.Jitter*e.CheckWindowDays
		if !e.LastCheck.IsZero() && now.Sub(e.LastCheck).Hours()/24 < windowDays {
			return mtimeChanged, nil
		}

		sum, err := e.ComputeChecksum()
		if err != nil {
			return false, err
		}

		e.LastCheck = now
		e.markDirty()

		changed := sum != e.Checksum
		e.Checksum = sum
		return changed, nil
	}

	return mtimeChanged, nil
}

// stableJitter derives a deterministic per-path pseudo-random value in
// [0,1), used to desynchronize checkWindow re-hashes across a fleet of
// Entries instead of having them all fall due on the same scan.
func stableJitter(path string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	r := rand.New(rand.NewSource(int64(h.Sum64()))) //nolint:gosec
	return r.Float64()
}

// AdvanceGeneration stamps PrevStamp/PrevInfo with the Entry's current
// observed state, marking the end of this scan's reconciliation for this
// path (§4.5 dispatch rules).
func (e *Entry) AdvanceGeneration(now time.Time) {
	e.PrevStamp = now
	e.PrevInfo = e.Info
}
