package util

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

// GetTopLevelDir returns the repository root, found by walking up from the
// working directory to the directory holding go.mod.
func GetTopLevelDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(filepath.Join(d, "go.mod")); err == nil {
			return d
		}
		if d == filepath.Dir(d) {
			return dir
		}
	}
}

func BinaryExistsOnPath(binaryName string) bool {
	_, err := exec.LookPath(binaryName)
	return err == nil
}

// MissingBinaries returns the names that cannot be found on PATH.
func MissingBinaries(names ...string) []string {
	return lo.Filter(names, func(name string, _ int) bool {
		return strings.TrimSpace(name) != "" && !BinaryExistsOnPath(name)
	})
}
