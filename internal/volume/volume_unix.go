//go:build !windows

package volume

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func capacity(path string) (total, available uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, errors.Wrap(err, "statfs")
	}

	bsize := uint64(st.Bsize) //nolint:unconvert // Bsize's width varies by GOARCH
	return bsize * uint64(st.Blocks), bsize * uint64(st.Bavail), nil
}
