package encryptedfs

import (
	"golang.org/x/sys/unix"

	"github.com/matrixai/go-encryptedfs/internal/inode"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

type accessBits uint32

const (
	accessX accessBits = 1
	accessW accessBits = 2
	accessR accessBits = 4
)

func isDirMode(mode uint32) bool  { return mode&unix.S_IFMT == unix.S_IFDIR }
func isLinkMode(mode uint32) bool { return mode&unix.S_IFMT == unix.S_IFLNK }
func isCharMode(mode uint32) bool { return mode&unix.S_IFMT == unix.S_IFCHR }
func isRegMode(mode uint32) bool  { return mode&unix.S_IFMT == unix.S_IFREG }

// checkAccess tests st against want, matching classic POSIX mode-bit
// checks: owner bits if uid matches, group bits if gid matches, else
// other bits. uid 0 (root) bypasses every check.
func checkAccess(st inode.Stat, uid, gid uint32, want accessBits) error {
	if uid == 0 {
		return nil
	}

	var shift uint
	switch {
	case st.UID == uid:
		shift = 6
	case st.GID == gid:
		shift = 3
	default:
		shift = 0
	}

	have := accessBits((st.Mode >> shift) & 0o7)
	if have&want != want {
		return xerrors.ErrAccess
	}
	return nil
}

func modeBits(mode uint32) uint32 {
	return mode &^ unix.S_IFMT
}
