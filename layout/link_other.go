//go:build !linux

package layout

import "errors"

func deviceID(path string) (uint64, bool) {
	return 0, false
}

// tryReflink has no portable equivalent outside Linux's FICLONE ioctl;
// callers fall back to hardlink, then copy.
func tryReflink(dst, src string) error {
	return errors.New("reflink unsupported on this platform")
}
