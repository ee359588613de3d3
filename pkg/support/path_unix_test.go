//go:build !windows
// +build !windows

package support

import (
	"os/user"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPath(t *testing.T) {
	p, err := LogPath()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p))
	assert.Equal(t, "mqttcd.log", filepath.Base(p))

	u, err := user.Current()
	require.NoError(t, err)
	if u.Uid != "0" {
		assert.True(t, strings.HasPrefix(p, u.HomeDir))
	}
}
