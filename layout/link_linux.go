//go:build linux

package layout

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/orepkg/ore/internal/oreerrors"
)

func deviceID(path string) (uint64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(st.Dev), true
}

// tryReflink issues the FICLONE ioctl to make dst a copy-on-write
// clone of src, the fast path on btrfs/xfs/overlayfs-with-support.
func tryReflink(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": src})
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": dst})
	}
	defer out.Close()

	if err := unix.IoctlFileClone(int(out.Fd()), int(in.Fd())); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
