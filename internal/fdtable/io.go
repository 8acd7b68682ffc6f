package fdtable

import (
	"github.com/matrixai/go-encryptedfs/internal/inode"
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// Read reads up to len(buf) bytes via mgr starting at position (or the
// descriptor's current position if position is nil), advancing the
// descriptor's position when no explicit position was given. Reading past
// EOF returns 0 bytes and a nil error.
func (fd *FD) Read(tx *kvstore.Txn, mgr *inode.Manager, buf []byte, position *int64) (int, error) {
	if fd.charDevOps != nil {
		pos := fd.Position()
		if position != nil {
			pos = *position
		}
		n, err := fd.charDevOps.Read(buf, pos)
		if position == nil {
			fd.mu.Lock()
			fd.pos += int64(n)
			fd.mu.Unlock()
		}
		return n, err
	}

	if fd.Access&AccessRead == 0 {
		return 0, xerrors.New("read", "", xerrors.ErrBadFd)
	}

	fd.mu.Lock()
	start := fd.pos
	if position != nil {
		start = *position
	}
	fd.mu.Unlock()

	st, err := mgr.StatGet(tx, fd.Ino)
	if err != nil {
		return 0, err
	}
	if start < 0 || uint64(start) >= st.Size || len(buf) == 0 {
		return 0, nil
	}

	blockSize := uint64(mgr.BlockSize())
	end := uint64(start) + uint64(len(buf))
	if end > st.Size {
		end = st.Size
	}
	startBlock := uint64(start) / blockSize
	endBlock := (end + blockSize - 1) / blockSize

	n := 0
	err = mgr.FileGetBlocks(tx, fd.Ino, startBlock, &endBlock, func(block uint64, data []byte) error {
		blockStart := block * blockSize
		for i, b := range data {
			abs := blockStart + uint64(i)
			if abs < uint64(start) || abs >= end {
				continue
			}
			buf[abs-uint64(start)] = b
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if position == nil {
		fd.mu.Lock()
		fd.pos = start + int64(n)
		fd.mu.Unlock()
	}
	return n, nil
}

// Write writes buf via mgr at position (or the descriptor's current
// position, snapped to EOF first if O_APPEND is set), advancing the
// descriptor's position when no explicit position was given. Writes that
// grow the file update size in stat; mtime/ctime are updated by
// FileSetBlocks.
func (fd *FD) Write(tx *kvstore.Txn, mgr *inode.Manager, buf []byte, position *int64) (int, error) {
	if fd.charDevOps != nil {
		pos := fd.Position()
		if position != nil {
			pos = *position
		}
		n, err := fd.charDevOps.Write(buf, pos)
		if position == nil {
			fd.mu.Lock()
			fd.pos += int64(n)
			fd.mu.Unlock()
		}
		return n, err
	}

	if fd.Access&AccessWrite == 0 {
		return 0, xerrors.New("write", "", xerrors.ErrBadFd)
	}

	st, err := mgr.StatGet(tx, fd.Ino)
	if err != nil {
		return 0, err
	}

	start := int64(0)
	switch {
	case position != nil:
		start = *position
	case fd.Flags&OAppend != 0:
		start = int64(st.Size)
	default:
		start = fd.Position()
	}
	if start < 0 {
		return 0, xerrors.New("write", "", xerrors.ErrInvalid)
	}

	blockSize := uint64(mgr.BlockSize())
	startBlock := uint64(start) / blockSize
	withinBlockOffset := uint64(start) % blockSize
	absoluteEnd := uint64(start) + uint64(len(buf))

	var startBlockExisting []byte
	if withinBlockOffset != 0 {
		var rerr error
		startBlockExisting, rerr = readOneBlock(tx, mgr, fd.Ino, startBlock, blockSize)
		if rerr != nil {
			return 0, rerr
		}
	}

	var payload []byte
	if withinBlockOffset != 0 {
		// The write doesn't begin on a block boundary: merge with the
		// existing partial block so FileSetBlocks doesn't clobber the
		// bytes before the write's start offset within that block.
		if uint64(len(startBlockExisting)) < withinBlockOffset {
			startBlockExisting = append(startBlockExisting, make([]byte, withinBlockOffset-uint64(len(startBlockExisting)))...)
		}
		payload = make([]byte, 0, withinBlockOffset+uint64(len(buf)))
		payload = append(payload, startBlockExisting[:withinBlockOffset]...)
		payload = append(payload, buf...)
	} else {
		payload = append([]byte(nil), buf...)
	}

	if len(buf) > 0 {
		// FileSetBlocks replaces a block's stored value wholesale, so a
		// write that ends mid-block (and isn't past the file's current
		// last block) would otherwise drop every byte beyond the write
		// inside that block. Re-append whatever used to follow it.
		lastBlock := (absoluteEnd - 1) / blockSize
		withinLastBlockEnd := absoluteEnd - lastBlock*blockSize
		if withinLastBlockEnd != blockSize && lastBlock < st.Blocks {
			existingLast := startBlockExisting
			if lastBlock != startBlock || existingLast == nil {
				var rerr error
				existingLast, rerr = readOneBlock(tx, mgr, fd.Ino, lastBlock, blockSize)
				if rerr != nil {
					return 0, rerr
				}
			}
			if uint64(len(existingLast)) > withinLastBlockEnd {
				payload = append(payload, existingLast[withinLastBlockEnd:]...)
			}
		}
	}

	if err := mgr.FileSetBlocks(tx, fd.Ino, payload, startBlock); err != nil {
		return 0, err
	}

	if position == nil {
		fd.mu.Lock()
		fd.pos = start + int64(len(buf))
		fd.mu.Unlock()
	}
	return len(buf), nil
}

func readOneBlock(tx *kvstore.Txn, mgr *inode.Manager, ino uint64, block, blockSize uint64) ([]byte, error) {
	var out []byte
	end := block + 1
	err := mgr.FileGetBlocks(tx, ino, block, &end, func(b uint64, data []byte) error {
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}
