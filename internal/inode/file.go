package inode

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// maxFileSize bounds the representable file size so that fileSetBlocks can
// detect overflow and report file-too-big rather than silently wrapping.
const maxFileSize = 1 << 48

// FileCreate writes a new file inode (stat nlink=1, size=0, blocks=0),
// optionally seeding it with initialData via FileSetBlocks.
func (m *Manager) FileCreate(tx *kvstore.Txn, ino uint64, attr Attr, initialData []byte) error {
	if err := putRecord(tx, Record{Ino: ino, Type: TypeFile}); err != nil {
		return err
	}
	now := m.clock.Now()
	st := Stat{
		Ino: ino, Mode: attr.Mode | unix.S_IFREG, UID: attr.UID, GID: attr.GID, Nlink: 1,
		Atime: now, Mtime: now, Ctime: now, Birthtime: now,
	}
	if err := putStat(tx, st); err != nil {
		return err
	}
	if len(initialData) == 0 {
		return nil
	}
	return m.FileSetBlocks(tx, ino, initialData, 0)
}

// FileGetBlocks streams the blocks of ino from startBlock (inclusive) to
// endBlock (exclusive); a nil endBlock means "through the last block".
func (m *Manager) FileGetBlocks(tx *kvstore.Txn, ino uint64, startBlock uint64, endBlock *uint64, fn func(block uint64, data []byte) error) error {
	if err := requireType(tx, ino, TypeFile, "fileGetBlocks"); err != nil {
		return err
	}
	prefix := fileBlockPrefix(ino)
	return tx.ForEach(kvstore.NamespaceFileBlock, prefix, func(key, value []byte) error {
		block, err := strconv.ParseUint(strings.TrimPrefix(string(key), string(prefix)), 10, 64)
		if err != nil {
			return fmt.Errorf("inode: corrupt fileblock key %s: %w", key, err)
		}
		if block < startBlock {
			return nil
		}
		if endBlock != nil && block >= *endBlock {
			return nil
		}
		return fn(block, value)
	})
}

// FileGetLastBlock returns the highest-numbered block and its bytes, for
// fast append; it reports ok=false for an empty file.
func (m *Manager) FileGetLastBlock(tx *kvstore.Txn, ino uint64) (index uint64, data []byte, ok bool, err error) {
	st, err := getStat(tx, ino)
	if err != nil {
		return 0, nil, false, err
	}
	if st.Blocks == 0 {
		return 0, nil, false, nil
	}
	last := st.Blocks - 1
	raw, err := tx.Get(kvstore.NamespaceFileBlock, fileBlockKey(ino, last))
	if err != nil {
		return 0, nil, false, err
	}
	return last, raw, true, nil
}

// FileSetBlocks writes data split into blockSize-sized blocks starting at
// startBlock, updating size and blocks. The tail block may be shorter than
// blockSize. A write that would leave a gap of wholly absent blocks before
// startBlock is rejected as invalid; only a write that starts at or before
// the current block count is accepted.
func (m *Manager) FileSetBlocks(tx *kvstore.Txn, ino uint64, data []byte, startBlock uint64) error {
	if err := requireType(tx, ino, TypeFile, "fileSetBlocks"); err != nil {
		return err
	}
	st, err := getStat(tx, ino)
	if err != nil {
		return err
	}

	if startBlock > st.Blocks {
		return xerrors.New("fileSetBlocks", fmt.Sprintf("ino=%d", ino), xerrors.ErrInvalid)
	}

	blockSize := uint64(m.blockSize)
	newSize := startBlock*blockSize + uint64(len(data))
	if newSize > maxFileSize {
		return xerrors.New("fileSetBlocks", fmt.Sprintf("ino=%d", ino), xerrors.ErrFileTooBig)
	}

	block := startBlock
	for off := uint64(0); off < uint64(len(data)); off += blockSize {
		end := off + blockSize
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		if err := tx.Put(kvstore.NamespaceFileBlock, fileBlockKey(ino, block), data[off:end]); err != nil {
			return err
		}
		block++
	}

	if len(data) == 0 {
		// A zero-length write still defines size/blocks per startBlock.
		block = startBlock
	}

	if block > st.Blocks {
		st.Blocks = block
	}
	if newSize > st.Size {
		st.Size = newSize
	}
	now := m.clock.Now()
	st.Mtime = now
	st.Ctime = now
	return putStat(tx, st)
}

// FileTruncateDown shrinks ino to newSize, deleting every block beyond the
// new last block and cutting the new last block short at newSize if
// newSize falls inside it.
func (m *Manager) FileTruncateDown(tx *kvstore.Txn, ino uint64, newSize uint64) error {
	if err := requireType(tx, ino, TypeFile, "fileTruncateDown"); err != nil {
		return err
	}
	st, err := getStat(tx, ino)
	if err != nil {
		return err
	}
	if newSize >= st.Size {
		return nil
	}

	blockSize := uint64(m.blockSize)
	keepBlocks := (newSize + blockSize - 1) / blockSize
	tailOffset := newSize % blockSize

	prefix := fileBlockPrefix(ino)
	var dropKeys [][]byte
	err = tx.ForEach(kvstore.NamespaceFileBlock, prefix, func(key, value []byte) error {
		block, perr := strconv.ParseUint(strings.TrimPrefix(string(key), string(prefix)), 10, 64)
		if perr != nil {
			return fmt.Errorf("inode: corrupt fileblock key %s: %w", key, perr)
		}
		if block >= keepBlocks {
			dropKeys = append(dropKeys, append([]byte(nil), key...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range dropKeys {
		if err := tx.Delete(kvstore.NamespaceFileBlock, k); err != nil {
			return err
		}
	}

	if newSize > 0 && tailOffset != 0 {
		lastBlock := keepBlocks - 1
		raw, gerr := tx.Get(kvstore.NamespaceFileBlock, fileBlockKey(ino, lastBlock))
		if gerr != nil && !xerrors.Is(gerr, xerrors.ErrNotExist) {
			return gerr
		}
		trimmed := raw
		if uint64(len(trimmed)) > tailOffset {
			trimmed = trimmed[:tailOffset]
		}
		if err := tx.Put(kvstore.NamespaceFileBlock, fileBlockKey(ino, lastBlock), trimmed); err != nil {
			return err
		}
	}

	st.Size = newSize
	st.Blocks = keepBlocks
	now := m.clock.Now()
	st.Mtime = now
	st.Ctime = now
	return putStat(tx, st)
}

// FileClearData deletes every block of ino and resets size/blocks to zero.
func (m *Manager) FileClearData(tx *kvstore.Txn, ino uint64) error {
	if err := requireType(tx, ino, TypeFile, "fileClearData"); err != nil {
		return err
	}
	return fileClearDataLocked(tx, ino)
}

func fileClearDataLocked(tx *kvstore.Txn, ino uint64) error {
	st, err := getStat(tx, ino)
	if err != nil {
		return err
	}
	prefix := fileBlockPrefix(ino)
	var keys [][]byte
	err = tx.ForEach(kvstore.NamespaceFileBlock, prefix, func(key, value []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := tx.Delete(kvstore.NamespaceFileBlock, k); err != nil {
			return err
		}
	}
	st.Size = 0
	st.Blocks = 0
	return putStat(tx, st)
}
