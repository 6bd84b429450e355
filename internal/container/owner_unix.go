//go:build unix

package container

import "golang.org/x/sys/unix"

func hostOwner() Owner {
	return Owner{UID: unix.Getuid(), GID: unix.Getgid()}
}
