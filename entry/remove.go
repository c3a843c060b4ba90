package entry

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Remove implements the removal protocol of §4.1: dryrun short-circuit,
// file/symlink/directory dispatch, optional secure-wipe, sudo retry, and a
// post-condition check that never itself raises.
func (e *Entry) Remove(ctx context.Context) error {
	if e.handle != nil && e.handle.Dryrun() {
		log(ctx).Infof("dryrun: would remove %v", e.Path)
		return nil
	}

	fi, statErr := os.Lstat(e.Path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return nil // already gone: not an error (§7 missing path mid-scan)
		}
		return errors.Wrap(statErr, "lstat before remove")
	}

	err := e.removeOnce(ctx, fi)
	if err != nil && e.handle != nil && e.handle.Sudo() {
		err = e.removeWithSudo(ctx, fi)
	}

	if err != nil {
		log(ctx).Warnf("failed to remove %v: %v", e.Path, err)
	}

	if _, statErr := os.Lstat(e.Path); statErr == nil {
		log(ctx).Warnf("remove appeared to succeed but %v is still present", e.Path)
	}

	return nil // §4.1 step 6: a failed removal is logged, not returned
}

func (e *Entry) removeOnce(ctx context.Context, fi os.FileInfo) error {
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		return os.Remove(e.Path)

	case fi.IsDir():
		if e.handle != nil {
			if cmd := fastRecursiveDeleteCommand(e.Path); cmd != nil {
				out, err := cmd.CombinedOutput()
				if err == nil {
					return nil
				}
				log(ctx).Debugw("fast recursive delete failed, falling back", "path", e.Path, "output", string(out), "err", err)
			}
		}
		return os.RemoveAll(e.Path)

	default:
		if e.handle != nil && e.handle.ShredCommand() != "" {
			return e.shred(ctx)
		}
		return os.Remove(e.Path)
	}
}

func (e *Entry) shred(ctx context.Context) error {
	template := e.handle.ShredCommand()
	cmdline := strings.Replace(template, "%s", EscapeShellArg(e.Path), 1)

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline) //nolint:gosec // operator-supplied shred tool

	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "shred command failed: %s", out)
	}

	return nil
}

func (e *Entry) removeWithSudo(ctx context.Context, fi os.FileInfo) error {
	rmFlag := "-f"
	if fi.IsDir() {
		rmFlag = "-rf"
	}

	cmd := exec.CommandContext(ctx, "sudo", "rm", rmFlag, e.Path) //nolint:gosec

	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "sudo rm failed: %s", out)
	}

	return nil
}

// fastRecursiveDeleteCommand delegates a directory removal to a faster
// subprocess (rm -rf) when available, as permitted by §4.1 step 4; nil
// when no such tool is usable causes the caller to fall back to
// os.RemoveAll.
func fastRecursiveDeleteCommand(path string) *exec.Cmd {
	rmPath, err := exec.LookPath("rm")
	if err != nil {
		return nil
	}
	return exec.Command(rmPath, "-rf", path) //nolint:gosec
}

// EscapeShellArg double-quotes path for interpolation into a `sh -c`
// command line, preserving `$`, `"`, and `\` as literal characters by
// backslash-escaping them before quoting. This is the one place that
// logic lives; action.EscapeShellArg delegates here rather than keeping
// its own copy, since package action already imports package entry.
func EscapeShellArg(path string) string {
	escaped := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		`$`, `\$`,
	).Replace(path)

	return `"` + escaped + `"`
}

// PruneEmptyDir removes dir if it is empty, honoring dryrun as Remove
// does; unlike Remove, it makes no retry under sudo. It is the supplemented pruneDirs behavior
// (SPEC_FULL.md "Supplemented features").
func PruneEmptyDir(ctx context.Context, handle Handle, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read dir")
	}

	if len(entries) > 0 {
		return nil
	}

	if handle != nil && handle.Dryrun() {
		log(ctx).Infof("dryrun: would prune empty directory %v", dir)
		return nil
	}

	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		log(ctx).Warnf("failed to prune empty directory %v: %v", dir, err)
	}

	return nil
}
