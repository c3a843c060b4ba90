// Package volume resolves the free/total byte capacity of the filesystem
// hosting a path, used by the Policy Engine to turn a percentage maxSize
// ("N%") into an absolute byte limit (spec.md §4.6/§6).
package volume

// Capacity reports the total and available byte capacity of the
// filesystem that hosts path. Available reflects space usable by an
// unprivileged process, matching df's "Avail" column rather than the
// superuser-reserved "Free" count.
func Capacity(path string) (total, available uint64, err error) {
	return capacity(path)
}
