package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/orepkg/ore/internal/oreerrors"
)

// writeBinShim creates binDir/cmdName as an executable entry point for
// target: a symlink on Unix, or cmd/ps1/extensionless shim files on
// Windows, each invoking target with the local runtime.
func writeBinShim(binDir, cmdName, target string) error {
	if runtime.GOOS == "windows" {
		return writeWindowsShims(binDir, cmdName, target)
	}
	return writeUnixSymlink(binDir, cmdName, target)
}

func writeUnixSymlink(binDir, cmdName, target string) error {
	link := filepath.Join(binDir, cmdName)
	rel, err := filepath.Rel(binDir, target)
	if err != nil {
		rel = target
	}
	os.Remove(link)
	if err := os.Symlink(rel, link); err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"link": link, "target": target})
	}
	return os.Chmod(target, 0o755)
}

func writeWindowsShims(binDir, cmdName, target string) error {
	shims := map[string]string{
		cmdName:          fmt.Sprintf("#!/bin/sh\nexec node \"%s\" \"$@\"\n", target),
		cmdName + ".cmd": fmt.Sprintf("@ECHO off\r\nnode \"%s\" %%*\r\n", target),
		cmdName + ".ps1": fmt.Sprintf("#!/usr/bin/env pwsh\n& node \"%s\" $args\n", target),
	}
	for name, content := range shims {
		path := filepath.Join(binDir, name)
		if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
			return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path})
		}
	}
	return nil
}
