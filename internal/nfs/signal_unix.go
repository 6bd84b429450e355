//go:build unix

package nfs

import (
	"os"

	"golang.org/x/sys/unix"
)

func terminate(p *os.Process) error {
	return unix.Kill(p.Pid, unix.SIGTERM)
}

func kill(p *os.Process) error {
	return unix.Kill(p.Pid, unix.SIGKILL)
}
