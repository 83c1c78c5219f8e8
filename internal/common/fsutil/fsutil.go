// Package fsutil holds the small filesystem helpers shared by the model
// registry, the manager and the CLI.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading "~" to the user's home directory. Paths such
// as models_dir and lib_path in config files are usually written that way.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// PathExists reports whether path exists. Errors other than "not exist"
// (permissions, for example) count as existing.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// IsFile reports whether path is an existing regular file.
func IsFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// SizeMB returns the size of the file at path in whole MiB, at least 1.
func SizeMB(path string) (int, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	mb := int(fi.Size() >> 20)
	if mb <= 0 {
		mb = 1
	}
	return mb, nil
}
