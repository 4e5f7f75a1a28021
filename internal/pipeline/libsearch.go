package pipeline

import (
	"os"
	"path/filepath"

	"github.com/coldironforge/linker/internal/linkerr"
)

// systemLibDirs is searched after every -L directory, in order, for
// each -l NAME that no -L directory satisfies (spec §6).
var systemLibDirs = []string{"/lib", "/usr/lib", "/usr/local/lib"}

// resolveLib finds lib<name>.a for a -l flag, searching -L directories
// first and the fixed system directories second.
func resolveLib(name string, libDirs []string) (string, error) {
	fname := "lib" + name + ".a"
	for _, dir := range libDirs {
		candidate := filepath.Join(dir, fname)
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	for _, dir := range systemLibDirs {
		candidate := filepath.Join(dir, fname)
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", linkerr.New(linkerr.IOError, "cannot find -l%s (searched %v and system dirs)", name, libDirs)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
