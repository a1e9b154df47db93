package layout

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/orepkg/ore/internal/oreerrors"
)

func cacheKeyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// reflinkUnsupported and hardlinkUnsupported remember, per source
// filesystem device id, that
// reflink (and separately hardlink) already failed there, so later
// files in the same run skip straight to the strategy that works.
var (
	reflinkUnsupported  sync.Map // map[uint64]bool
	hardlinkUnsupported sync.Map // map[uint64]bool
)

// linkTree mirrors src's file tree into dst, preferring reflink, then
// hardlink, then a full copy as src/dst cross a filesystem boundary or
// the platform has neither. The store holds one canonical extracted
// copy per resolution; every consuming install path links to it
// rather than re-extracting.
func linkTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			if rel == "." {
				return nil
			}
			return os.MkdirAll(target, 0o755)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return linkFile(path, target, info.Mode())
		}
	})
}

func linkFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"dir": filepath.Dir(dst)})
	}
	os.Remove(dst)

	dev, ok := deviceID(src)

	if ok {
		if _, failed := reflinkUnsupported.Load(dev); !failed {
			if err := tryReflink(dst, src); err == nil {
				return nil
			}
			reflinkUnsupported.Store(dev, true)
		}
		if _, failed := hardlinkUnsupported.Load(dev); !failed {
			if err := os.Link(src, dst); err == nil {
				return nil
			}
			hardlinkUnsupported.Store(dev, true)
		}
	} else if err := os.Link(src, dst); err == nil {
		return nil
	}

	return copyFile(src, dst, mode)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": src})
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": dst})
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": dst})
	}
	return out.Close()
}
