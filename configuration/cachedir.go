package configuration

import (
	"os"
	"path/filepath"
)

// defaultCacheDir returns $XDG_CACHE_HOME/ore (or the OS equivalent),
// falling back to ./.ore-cache if the user cache directory cannot be
// determined.
func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".ore-cache"
	}
	return filepath.Join(dir, "ore")
}
