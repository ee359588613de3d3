// Package daemon detaches the process from its controlling terminal.
package daemon

import (
	"os"
	"os/exec"
)

// envMarker is set in the environment of a detached child.
const envMarker = "MQTTCD_DETACHED"

// IsChild reports whether this process was started by Detach.
func IsChild() bool {
	return os.Getenv(envMarker) == "1"
}

// Detach starts the running executable again with the same arguments in a
// new session, stdio on /dev/null, and returns the child's pid. The caller is
// expected to exit.
func Detach() (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer devnull.Close()

	cmd := command(exe, os.Args[1:], devnull)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	return pid, cmd.Process.Release()
}

func command(exe string, args []string, stdio *os.File) *exec.Cmd {
	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), envMarker+"=1")
	cmd.Stdin = stdio
	cmd.Stdout = stdio
	cmd.Stderr = stdio
	cmd.SysProcAttr = sysProcAttr()
	return cmd
}
