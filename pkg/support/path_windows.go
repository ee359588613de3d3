package support

// LogPath returns where a detached daemon logs when no log file is configured.
func LogPath() (string, error) {
	return "C:\\Program Files\\mqttcd\\log\\mqttcd.log", nil
}
