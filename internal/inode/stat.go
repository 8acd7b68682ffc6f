package inode

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matrixai/go-encryptedfs/internal/kvstore"
)

func getStat(tx *kvstore.Txn, ino uint64) (Stat, error) {
	raw, err := tx.Get(kvstore.NamespaceStat, statKey(ino))
	if err != nil {
		return Stat{}, err
	}
	var st Stat
	if err := json.Unmarshal(raw, &st); err != nil {
		return Stat{}, fmt.Errorf("inode: corrupt stat %d: %w", ino, err)
	}
	return st, nil
}

func putStat(tx *kvstore.Txn, st Stat) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return tx.Put(kvstore.NamespaceStat, statKey(st.Ino), raw)
}

func bumpNlink(tx *kvstore.Txn, ino uint64, delta int32) error {
	st, err := getStat(tx, ino)
	if err != nil {
		return err
	}
	st.Nlink = uint32(int64(st.Nlink) + int64(delta))
	return putStat(tx, st)
}

// StatGet returns the full stat record for ino.
func (m *Manager) StatGet(tx *kvstore.Txn, ino uint64) (Stat, error) {
	return getStat(tx, ino)
}

// StatField names an individually settable stat property, for
// StatGetProp/StatSetProp.
type StatField string

const (
	StatFieldMode      StatField = "mode"
	StatFieldUID       StatField = "uid"
	StatFieldGID       StatField = "gid"
	StatFieldNlink     StatField = "nlink"
	StatFieldSize      StatField = "size"
	StatFieldBlocks    StatField = "blocks"
	StatFieldAtime     StatField = "atime"
	StatFieldMtime     StatField = "mtime"
	StatFieldCtime     StatField = "ctime"
	StatFieldBirthtime StatField = "birthtime"
	StatFieldRdev      StatField = "rdev"
)

// StatGetProp reads a single stat field as an interface{} of its natural
// Go type (uint32, uint64, or time.Time). This is presented as a
// per-field accessor, even though the current storage layout keeps the
// whole record as one encrypted blob per inode; field isolation here is
// purely at the API boundary.
func (m *Manager) StatGetProp(tx *kvstore.Txn, ino uint64, field StatField) (interface{}, error) {
	st, err := getStat(tx, ino)
	if err != nil {
		return nil, err
	}
	switch field {
	case StatFieldMode:
		return st.Mode, nil
	case StatFieldUID:
		return st.UID, nil
	case StatFieldGID:
		return st.GID, nil
	case StatFieldNlink:
		return st.Nlink, nil
	case StatFieldSize:
		return st.Size, nil
	case StatFieldBlocks:
		return st.Blocks, nil
	case StatFieldAtime:
		return st.Atime, nil
	case StatFieldMtime:
		return st.Mtime, nil
	case StatFieldCtime:
		return st.Ctime, nil
	case StatFieldBirthtime:
		return st.Birthtime, nil
	case StatFieldRdev:
		return st.Rdev, nil
	default:
		return nil, fmt.Errorf("inode: unknown stat field %q", field)
	}
}

// StatSetProp writes a single stat field, read-modify-write over the
// per-inode stat blob.
func (m *Manager) StatSetProp(tx *kvstore.Txn, ino uint64, field StatField, value interface{}) error {
	st, err := getStat(tx, ino)
	if err != nil {
		return err
	}
	if err := setStatField(&st, field, value); err != nil {
		return err
	}
	return putStat(tx, st)
}

func setStatField(st *Stat, field StatField, value interface{}) error {
	switch field {
	case StatFieldMode:
		v, ok := value.(uint32)
		if !ok {
			return fmt.Errorf("inode: mode must be uint32, got %T", value)
		}
		st.Mode = v
	case StatFieldUID:
		v, ok := value.(uint32)
		if !ok {
			return fmt.Errorf("inode: uid must be uint32, got %T", value)
		}
		st.UID = v
	case StatFieldGID:
		v, ok := value.(uint32)
		if !ok {
			return fmt.Errorf("inode: gid must be uint32, got %T", value)
		}
		st.GID = v
	case StatFieldNlink:
		v, ok := value.(uint32)
		if !ok {
			return fmt.Errorf("inode: nlink must be uint32, got %T", value)
		}
		st.Nlink = v
	case StatFieldSize:
		v, ok := value.(uint64)
		if !ok {
			return fmt.Errorf("inode: size must be uint64, got %T", value)
		}
		st.Size = v
	case StatFieldBlocks:
		v, ok := value.(uint64)
		if !ok {
			return fmt.Errorf("inode: blocks must be uint64, got %T", value)
		}
		st.Blocks = v
	case StatFieldAtime:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("inode: atime must be time.Time, got %T", value)
		}
		st.Atime = v
	case StatFieldMtime:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("inode: mtime must be time.Time, got %T", value)
		}
		st.Mtime = v
	case StatFieldCtime:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("inode: ctime must be time.Time, got %T", value)
		}
		st.Ctime = v
	case StatFieldBirthtime:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("inode: birthtime must be time.Time, got %T", value)
		}
		st.Birthtime = v
	case StatFieldRdev:
		v, ok := value.(uint64)
		if !ok {
			return fmt.Errorf("inode: rdev must be uint64, got %T", value)
		}
		st.Rdev = v
	default:
		return fmt.Errorf("inode: unknown stat field %q", field)
	}
	return nil
}
