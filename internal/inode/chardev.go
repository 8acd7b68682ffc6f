package inode

import (
	"golang.org/x/sys/unix"

	"github.com/matrixai/go-encryptedfs/internal/kvstore"
)

// CharDevCreate writes a new character-device inode (stat nlink=1, rdev
// packing the major/minor pair). This is a reserved type tag only: actual
// I/O is routed by the file descriptor table's ops registry, not by this
// package.
func (m *Manager) CharDevCreate(tx *kvstore.Txn, ino uint64, attr Attr, major, minor uint32) error {
	if err := putRecord(tx, Record{Ino: ino, Type: TypeCharacterDev}); err != nil {
		return err
	}
	now := m.clock.Now()
	st := Stat{
		Ino: ino, Mode: attr.Mode | unix.S_IFCHR, UID: attr.UID, GID: attr.GID, Nlink: 1,
		Rdev: unix.Mkdev(major, minor), Atime: now, Mtime: now, Ctime: now, Birthtime: now,
	}
	return putStat(tx, st)
}
