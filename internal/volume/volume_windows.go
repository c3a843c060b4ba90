//go:build windows

package volume

import "github.com/pkg/errors"

func capacity(path string) (total, available uint64, err error) {
	return 0, 0, errors.New("volume capacity query is not implemented on windows")
}
