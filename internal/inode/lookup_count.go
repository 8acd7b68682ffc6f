package inode

import (
	"log/slog"
)

// refcount is the in-memory reference counter: incremented by ref,
// decremented by unref. When it reaches zero on a gc-marked inode,
// destroy is invoked (within the caller's transaction) and the inode is
// evicted from the manager's in-memory table. External synchronization is
// required, matching gcsfuse's lookupCount (fs/inode/lookup_count.go),
// generalized from a fixed "kernel lookup count" to a general open-handle
// refcount.
type refcount struct {
	count uint64
}

func (rc *refcount) inc() {
	rc.count++
}

// dec decrements the count by n and reports whether it reached zero. It
// panics on underflow, matching gcsfuse's lookupCount.Dec: a refcount going
// negative is a bug in the caller (fdtable or the facade), not a
// recoverable runtime condition.
func (rc *refcount) dec(n uint64) (zero bool) {
	if n > rc.count {
		slog.Error("inode: refcount underflow", "have", rc.count, "want_to_subtract", n)
		panic("inode: refcount underflow")
	}
	rc.count -= n
	return rc.count == 0
}
