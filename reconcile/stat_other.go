//go:build !linux

package reconcile

import (
	"os"
	"time"
)

// statInode and statAccessTime have no portable equivalent outside Linux's
// syscall.Stat_t; platforms other than Linux simply don't get an inode
// number or access time in Info (mtime-based change detection still
// works fully).
func statInode(fi os.FileInfo) (uint64, bool) {
	return 0, false
}

func statAccessTime(fi os.FileInfo) time.Time {
	return time.Time{}
}
