//go:build !windows
// +build !windows

package support

import (
	"os/user"
	"path/filepath"
)

// LogPath returns where a detached daemon logs when no log file is configured.
func LogPath() (string, error) {
	currentUser, err := user.Current()
	if err != nil {
		return "", err
	}

	if currentUser.Uid == "0" {
		return "/var/log/mqttcd/mqttcd.log", nil
	}
	return filepath.Join(currentUser.HomeDir, ".mqttcd", "log", "mqttcd.log"), nil
}
