// Package support holds per platform defaults.
package support

import (
	"os"
	"path/filepath"
)

// EnsureLogPath returns LogPath after creating its directory.
func EnsureLogPath() (string, error) {
	p, err := LogPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return "", err
	}
	return p, nil
}
