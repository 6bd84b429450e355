package container

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
)

// Owner is a host uid/gid pair.
type Owner struct {
	UID int
	GID int
}

// ResolveOwner applies manifest overrides to the invoking user's ids. It
// returns nil on hosts without POSIX ownership.
func ResolveOwner(uid, gid *int) *Owner {
	if runtime.GOOS == "windows" {
		return nil
	}
	o := hostOwner()
	if uid != nil {
		o.UID = *uid
	}
	if gid != nil {
		o.GID = *gid
	}
	return &o
}

// Chown restores host ownership of a copied tree.
func (e *Executor) Chown(ctx context.Context, p string, o Owner) error {
	args := []string{"-R", strconv.Itoa(o.UID) + ":" + strconv.Itoa(o.GID), p}
	res, err := e.Runner.Run(ctx, "chown", args, runnerOpts())
	if err != nil {
		return fmt.Errorf("chown %s: %w: %s", p, err, res.Stderr)
	}
	return nil
}
