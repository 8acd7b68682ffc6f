// Package inode is the typed object store: inode allocation and reference
// counting, per-type create/destroy, the directory entry table, the
// symlink link table, and the file block table, all layered over
// internal/kvstore with per-inode locks acquired in ascending numeric
// order. Grounded on gcsfuse's fs/inode package (Inode interface,
// lookupCount, per-inode syncutil.InvariantMutex) generalized from "object
// wrapping a GCS backing object" to "object stored as rows in a
// transactional KV database".
package inode

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// Type discriminates the inode record. CharacterDev is a reserved type
// tag only; no device I/O beyond what fdtable's ops registry provides.
type Type int

const (
	TypeDirectory Type = iota + 1
	TypeFile
	TypeSymlink
	TypeCharacterDev
)

func (t Type) String() string {
	switch t {
	case TypeDirectory:
		return "directory"
	case TypeFile:
		return "file"
	case TypeSymlink:
		return "symlink"
	case TypeCharacterDev:
		return "characterDev"
	default:
		return fmt.Sprintf("inode.Type(%d)", int(t))
	}
}

// Record is the primary inode row: {ino, type, gc}. gc marks an inode whose
// hard-link count has reached zero but which is still referenced by open
// descriptors; gc inodes are invisible to dirGet/dirGetEntry but remain
// readable until the last unref.
type Record struct {
	Ino  uint64 `json:"ino"`
	Type Type   `json:"type"`
	GC   bool   `json:"gc"`
}

// Stat is the per-inode stat record.
type Stat struct {
	Ino       uint64    `json:"ino"`
	Mode      uint32    `json:"mode"`
	UID       uint32    `json:"uid"`
	GID       uint32    `json:"gid"`
	Nlink     uint32    `json:"nlink"`
	Size      uint64    `json:"size"`
	Blocks    uint64    `json:"blocks"`
	Atime     time.Time `json:"atime"`
	Mtime     time.Time `json:"mtime"`
	Ctime     time.Time `json:"ctime"`
	Birthtime time.Time `json:"birthtime"`
	Rdev      uint64    `json:"rdev"`
}

func inodeKey(ino uint64) []byte {
	return []byte(fmt.Sprintf("%020d", ino))
}

func statKey(ino uint64) []byte {
	return []byte(fmt.Sprintf("%020d", ino))
}

func symlinkKey(ino uint64) []byte {
	return []byte(fmt.Sprintf("%020d", ino))
}

func dirEntryKey(dirIno uint64, name string) []byte {
	return []byte(fmt.Sprintf("%020d/%s", dirIno, name))
}

func dirEntryPrefix(dirIno uint64) []byte {
	return []byte(fmt.Sprintf("%020d/", dirIno))
}

func fileBlockKey(ino uint64, block uint64) []byte {
	return []byte(fmt.Sprintf("%020d/%020d", ino, block))
}

func fileBlockPrefix(ino uint64) []byte {
	return []byte(fmt.Sprintf("%020d/", ino))
}

func getRecord(tx *kvstore.Txn, ino uint64) (Record, error) {
	raw, err := tx.Get(kvstore.NamespaceInode, inodeKey(ino))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("inode: corrupt record %d: %w", ino, err)
	}
	return rec, nil
}

func putRecord(tx *kvstore.Txn, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Put(kvstore.NamespaceInode, inodeKey(rec.Ino), raw)
}

func deleteRecord(tx *kvstore.Txn, ino uint64) error {
	return tx.Delete(kvstore.NamespaceInode, inodeKey(ino))
}

// WalkInodes streams every inode record in storage order, for fsck-style
// consistency walks that need to see every allocated inode regardless of
// directory reachability.
func (m *Manager) WalkInodes(tx *kvstore.Txn, fn func(rec Record) error) error {
	return tx.ForEach(kvstore.NamespaceInode, nil, func(key, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("inode: corrupt record %s: %w", key, err)
		}
		return fn(rec)
	})
}

// requireType returns xerrors.ErrInvalid if the inode at ino is not of the
// expected type. A type mismatch is a caller logic error, not a recovered
// condition; the resolver and facade are expected to pre-check type via
// statGet before calling a type-specific accessor.
func requireType(tx *kvstore.Txn, ino uint64, want Type, op string) error {
	rec, err := getRecord(tx, ino)
	if err != nil {
		return err
	}
	if rec.Type != want {
		return xerrors.Wrap(op, fmt.Sprintf("ino=%d", ino), xerrors.ErrInvalid,
			fmt.Errorf("expected %v, got %v", want, rec.Type))
	}
	return nil
}
