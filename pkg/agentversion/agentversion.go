package agentversion

import "fmt"

// Set with -ldflags "-X github.com/bizflycloud/mqttcd/pkg/agentversion.version=..."
var (
	version   string
	commit    string
	buildTime string
)

// Version returns the daemon version.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}

// String returns version, commit and build time on one line.
func String() string {
	c, b := commit, buildTime
	if c == "" {
		c = "unknown"
	}
	if b == "" {
		b = "unknown"
	}
	return fmt.Sprintf("version: %s, commit: %s, build: %s", Version(), c, b)
}
