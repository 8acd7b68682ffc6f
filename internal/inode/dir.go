package inode

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
	"github.com/matrixai/go-encryptedfs/internal/xtime"
)

// Attr bundles the mode/uid/gid triple every per-type create call
// accepts.
type Attr struct {
	Mode uint32
	UID  uint32
	GID  uint32
}

// DirCreate writes a new directory inode record, its stat (nlink=2, mode
// bits OR'd with S_IFDIR), and the synthetic "." -> self, ".." ->
// parentIno entries. The parent's nlink is left unchanged here: DirSetEntry
// bumps it when the new directory is linked into the parent.
func (m *Manager) DirCreate(tx *kvstore.Txn, ino uint64, attr Attr, parentIno *uint64) error {
	return dirCreateLocked(tx, m.clock, ino, attr.Mode, attr.UID, attr.GID, parentIno)
}

func dirCreateLocked(tx *kvstore.Txn, clock xtime.Clock, ino uint64, mode, uid, gid uint32, parentIno *uint64) error {
	parent := ino
	if parentIno != nil {
		parent = *parentIno
	}

	if err := putRecord(tx, Record{Ino: ino, Type: TypeDirectory}); err != nil {
		return err
	}

	now := clock.Now()
	st := Stat{
		Ino: ino, Mode: mode | unix.S_IFDIR, UID: uid, GID: gid, Nlink: 2,
		Atime: now, Mtime: now, Ctime: now, Birthtime: now,
	}
	if err := putStat(tx, st); err != nil {
		return err
	}

	if err := putDirEntryRaw(tx, ino, ".", ino); err != nil {
		return err
	}
	if err := putDirEntryRaw(tx, ino, "..", parent); err != nil {
		return err
	}
	return nil
}

func putDirEntryRaw(tx *kvstore.Txn, dirIno uint64, name string, childIno uint64) error {
	return tx.Put(kvstore.NamespaceDir, dirEntryKey(dirIno, name), []byte(fmt.Sprintf("%d", childIno)))
}

func validEntryName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return xerrors.New("dirSetEntry", name, xerrors.ErrInvalid)
	}
	return nil
}

// DirSetEntry inserts a name -> childIno mapping, increments the child's
// nlink, and (if the child is itself a directory) bumps dirIno's nlink.
// Callers must pre-check DirGetEntry for an existing occupant: "already
// present" is the caller's responsibility.
func (m *Manager) DirSetEntry(tx *kvstore.Txn, dirIno uint64, name string, childIno uint64) error {
	if err := validEntryName(name); err != nil {
		return err
	}
	if err := putDirEntryRaw(tx, dirIno, name, childIno); err != nil {
		return err
	}
	if err := bumpNlink(tx, childIno, 1); err != nil {
		return err
	}

	childRec, err := getRecord(tx, childIno)
	if err != nil {
		return err
	}
	if childRec.Type == TypeDirectory {
		if err := bumpNlink(tx, dirIno, 1); err != nil {
			return err
		}
	}
	return nil
}

// DirUnsetEntry removes name from dirIno, decrements the child's nlink
// (destroying it if that drops to zero and it is unreferenced), and
// decrements dirIno's nlink if the child was a directory.
func (m *Manager) DirUnsetEntry(tx *kvstore.Txn, dirIno uint64, name string) error {
	childIno, err := m.DirGetEntry(tx, dirIno, name)
	if err != nil {
		return err
	}
	if childIno == nil {
		return xerrors.New("dirUnsetEntry", name, xerrors.ErrNotExist)
	}

	if err := tx.Delete(kvstore.NamespaceDir, dirEntryKey(dirIno, name)); err != nil {
		return err
	}

	childRec, err := getRecord(tx, *childIno)
	if err != nil {
		return err
	}

	if err := bumpNlink(tx, *childIno, -1); err != nil {
		return err
	}
	st, err := getStat(tx, *childIno)
	if err != nil {
		return err
	}
	if st.Nlink == 0 {
		if err := m.destroyInodeIfUnreferenced(tx, *childIno); err != nil {
			return err
		}
	}

	if childRec.Type == TypeDirectory {
		if err := bumpNlink(tx, dirIno, -1); err != nil {
			return err
		}
	}
	return nil
}

// DirGetEntry resolves name within dirIno: "." -> dirIno, ".." -> the
// stored parent (root's ".." is root), otherwise a table lookup. A nil
// result means name does not exist.
func (m *Manager) DirGetEntry(tx *kvstore.Txn, dirIno uint64, name string) (*uint64, error) {
	raw, err := tx.Get(kvstore.NamespaceDir, dirEntryKey(dirIno, name))
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ino uint64
	if _, err := fmt.Sscanf(string(raw), "%d", &ino); err != nil {
		return nil, fmt.Errorf("inode: corrupt dir entry %d/%s: %w", dirIno, name, err)
	}
	return &ino, nil
}

// DirResetEntry atomically renames oldName to newName within one
// directory; newName replaces any prior occupant, with the replaced
// inode's nlink/gc handling applied exactly as DirUnsetEntry would.
func (m *Manager) DirResetEntry(tx *kvstore.Txn, dirIno uint64, oldName, newName string) error {
	childIno, err := m.DirGetEntry(tx, dirIno, oldName)
	if err != nil {
		return err
	}
	if childIno == nil {
		return xerrors.New("dirResetEntry", oldName, xerrors.ErrNotExist)
	}

	existing, err := m.DirGetEntry(tx, dirIno, newName)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := m.DirUnsetEntry(tx, dirIno, newName); err != nil {
			return err
		}
	}

	if err := tx.Delete(kvstore.NamespaceDir, dirEntryKey(dirIno, oldName)); err != nil {
		return err
	}
	return putDirEntryRaw(tx, dirIno, newName, *childIno)
}

// DirGet streams every (name, ino) pair in dirIno, "." and ".." first,
// followed by the stored table entries in storage order.
func (m *Manager) DirGet(tx *kvstore.Txn, dirIno uint64, fn func(name string, ino uint64) error) error {
	for _, special := range []string{".", ".."} {
		ino, err := m.DirGetEntry(tx, dirIno, special)
		if err != nil {
			return err
		}
		if ino != nil {
			if err := fn(special, *ino); err != nil {
				return err
			}
		}
	}

	prefix := dirEntryPrefix(dirIno)
	return tx.ForEach(kvstore.NamespaceDir, prefix, func(key, value []byte) error {
		name := strings.TrimPrefix(string(key), string(prefix))
		if name == "." || name == ".." {
			return nil
		}
		var ino uint64
		if _, err := fmt.Sscanf(string(value), "%d", &ino); err != nil {
			return fmt.Errorf("inode: corrupt dir entry %s: %w", key, err)
		}
		return fn(name, ino)
	})
}

// DirEntryCount counts a directory's entries, including "." and "..", used
// by the facade's rmdir/rename emptiness checks (empty means entries == 2).
func (m *Manager) DirEntryCount(tx *kvstore.Txn, dirIno uint64) (int, error) {
	count := 0
	err := m.DirGet(tx, dirIno, func(name string, ino uint64) error {
		count++
		return nil
	})
	return count, err
}
