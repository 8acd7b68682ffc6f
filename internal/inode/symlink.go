package inode

import (
	"golang.org/x/sys/unix"

	"github.com/matrixai/go-encryptedfs/internal/kvstore"
)

// SymlinkCreate writes a new symlink inode (stat nlink=1) with the given
// target string.
func (m *Manager) SymlinkCreate(tx *kvstore.Txn, ino uint64, attr Attr, target string) error {
	if err := putRecord(tx, Record{Ino: ino, Type: TypeSymlink}); err != nil {
		return err
	}
	now := m.clock.Now()
	st := Stat{
		Ino: ino, Mode: attr.Mode | unix.S_IFLNK, UID: attr.UID, GID: attr.GID, Nlink: 1,
		Size: uint64(len(target)), Atime: now, Mtime: now, Ctime: now, Birthtime: now,
	}
	if err := putStat(tx, st); err != nil {
		return err
	}
	return tx.Put(kvstore.NamespaceSymlink, symlinkKey(ino), []byte(target))
}

// SymlinkGetLink returns ino's target string.
func (m *Manager) SymlinkGetLink(tx *kvstore.Txn, ino uint64) (string, error) {
	if err := requireType(tx, ino, TypeSymlink, "symlinkGetLink"); err != nil {
		return "", err
	}
	raw, err := tx.Get(kvstore.NamespaceSymlink, symlinkKey(ino))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
