package encryptedfs

import (
	"golang.org/x/sys/unix"

	"github.com/matrixai/go-encryptedfs/internal/fdtable"
	"github.com/matrixai/go-encryptedfs/internal/inode"
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/resolver"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// Open resolves path with resolveLastLink tied to O_NOFOLLOW, validates the
// target against the requested flags, creates it under an allocation lock
// when O_CREAT names a missing file, and hands back a file descriptor
// whose access bits are derived from flags.
func (e *EFS) Open(path string, flagsStr string, mode uint32) (index int, err error) {
	done := e.metrics.Track("open")
	defer func() { done(err) }()

	flags, ferr := parseFlags(flagsStr)
	if ferr != nil {
		err = ferr
		return 0, err
	}

	uid, gid := e.owner()
	curdirIno, _ := e.cwd.get()
	createMode := modeBits(mode) &^ e.umask

	resolveLastLink := flags&fdtable.ONofollow == 0

	var nav resolver.Navigated
	err = e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		var verr error
		nav, verr = e.res.navigate(tx, e.rootIno(), curdirIno, path, resolveLastLink, uid, gid)
		return verr
	}, curdirIno)
	if err != nil {
		return 0, err
	}

	if nav.Target != nil {
		return e.openExisting(path, flags, uid, gid, *nav.Target)
	}

	if flags&fdtable.OCreat == 0 || nav.Remaining != "" {
		err = xerrors.New("open", path, xerrors.ErrNotExist)
		return 0, err
	}

	return e.openCreate(path, flags, createMode, uid, gid, nav.Dir, nav.Name)
}

func (e *EFS) openExisting(path string, flags int, uid, gid uint32, ino uint64) (int, error) {
	var st inode.Stat
	err := e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		var serr error
		st, serr = e.mgr.StatGet(tx, ino)
		return serr
	}, ino)
	if err != nil {
		return 0, err
	}

	if flags&fdtable.OCreat != 0 && flags&fdtable.OExcl != 0 {
		return 0, xerrors.New("open", path, xerrors.ErrExist)
	}

	writeWanted := flags&fdtable.OWronly != 0 || flags&fdtable.ORdwr != 0
	switch {
	case isDirMode(st.Mode):
		if writeWanted {
			return 0, xerrors.New("open", path, xerrors.ErrIsDir)
		}
	case flags&fdtable.ODirectory != 0:
		return 0, xerrors.New("open", path, xerrors.ErrNotDir)
	}

	want := accessR
	if writeWanted {
		want = accessW
	}
	if flags&fdtable.ORdwr != 0 {
		want = accessR | accessW
	}
	if aerr := checkAccess(st, uid, gid, want); aerr != nil {
		return 0, xerrors.New("open", path, aerr)
	}

	if flags&fdtable.OTrunc != 0 && isRegMode(st.Mode) && writeWanted {
		if err := e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
			return e.mgr.FileClearData(tx, ino)
		}, ino); err != nil {
			return 0, err
		}
	}

	var major, minor uint32
	isChar := isCharMode(st.Mode)
	if isChar {
		major, minor = unix.Major(st.Rdev), unix.Minor(st.Rdev)
	}

	index, _, cerr := e.fds.CreateFD(ino, flags, major, minor, isChar)
	if cerr != nil {
		return 0, cerr
	}
	return index, nil
}

func (e *EFS) openCreate(path string, flags int, mode uint32, uid, gid uint32, parent uint64, name string) (int, error) {
	release := e.mgr.AllocationLock(parent, name)
	defer release()

	var resultIno uint64
	var adopted bool
	_, err := e.mgr.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		existing, gerr := e.mgr.DirGetEntry(tx, parent, name)
		if gerr != nil {
			return gerr
		}
		if existing != nil {
			resultIno = *existing
			adopted = true
			return nil
		}

		parentSt, serr := e.mgr.StatGet(tx, parent)
		if serr != nil {
			return serr
		}
		if aerr := checkAccess(parentSt, uid, gid, accessW); aerr != nil {
			return xerrors.New("open", path, aerr)
		}

		if cerr := e.mgr.FileCreate(tx, newIno, inode.Attr{Mode: mode, UID: uid, GID: gid}, nil); cerr != nil {
			return cerr
		}
		if serr := e.mgr.DirSetEntry(tx, parent, name, newIno); serr != nil {
			return serr
		}
		resultIno = newIno
		return nil
	}, parent)
	if err != nil {
		return 0, err
	}

	if adopted && flags&fdtable.OExcl != 0 {
		return 0, xerrors.New("open", path, xerrors.ErrExist)
	}

	index, _, cerr := e.fds.CreateFD(resultIno, flags, 0, 0, false)
	if cerr != nil {
		return 0, cerr
	}
	return index, nil
}

// Read reads up to len(buf) bytes from the descriptor at index, starting at
// its current position (or the given absolute position, if non-negative)
// and advancing the position only when no explicit position was supplied.
func (e *EFS) Read(index int, buf []byte, position int64) (n int, err error) {
	done := e.metrics.Track("read")
	defer func() { done(err) }()

	fd, ok := e.fds.Get(index)
	if !ok {
		err = xerrors.New("read", "", xerrors.ErrBadFd)
		return 0, err
	}

	var pos *int64
	if position >= 0 {
		pos = &position
	}

	err = e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		var rerr error
		n, rerr = fd.Read(tx, e.mgr, buf, pos)
		return rerr
	}, fd.Ino)
	return n, err
}

// Write writes buf to the descriptor at index; see Read for the position
// convention.
func (e *EFS) Write(index int, buf []byte, position int64) (n int, err error) {
	done := e.metrics.Track("write")
	defer func() { done(err) }()

	fd, ok := e.fds.Get(index)
	if !ok {
		err = xerrors.New("write", "", xerrors.ErrBadFd)
		return 0, err
	}

	var pos *int64
	if position >= 0 {
		pos = &position
	}

	err = e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		var werr error
		n, werr = fd.Write(tx, e.mgr, buf, pos)
		return werr
	}, fd.Ino)
	return n, err
}

// Close releases the descriptor at index, unpinning its inode.
func (e *EFS) Close(index int) error {
	done := e.metrics.Track("close")
	var err error
	defer func() { done(err) }()

	fd, ok := e.fds.Get(index)
	if !ok {
		err = xerrors.New("close", "", xerrors.ErrBadFd)
		return err
	}

	err = e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		return e.fds.DeleteFD(tx, index)
	}, fd.Ino)
	return err
}

// Lseek repositions the descriptor at index. whence follows unix.SEEK_SET /
// unix.SEEK_CUR / unix.SEEK_END.
func (e *EFS) Lseek(index int, offset int64, whence int) (int64, error) {
	fd, ok := e.fds.Get(index)
	if !ok {
		return 0, xerrors.New("lseek", "", xerrors.ErrBadFd)
	}

	var newPos int64
	switch whence {
	case unix.SEEK_SET:
		newPos = offset
	case unix.SEEK_CUR:
		newPos = fd.Position() + offset
	case unix.SEEK_END:
		var st inode.Stat
		err := e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
			var serr error
			st, serr = e.mgr.StatGet(tx, fd.Ino)
			return serr
		}, fd.Ino)
		if err != nil {
			return 0, err
		}
		newPos = int64(st.Size) + offset
	default:
		return 0, xerrors.New("lseek", "", xerrors.ErrInvalid)
	}
	if newPos < 0 {
		return 0, xerrors.New("lseek", "", xerrors.ErrInvalid)
	}
	fd.SetPosition(newPos)
	return newPos, nil
}

// Ftruncate resizes the descriptor's file to length, zero-filling a grown
// tail and discarding blocks past a shrunk one.
func (e *EFS) Ftruncate(index int, length int64) error {
	if length < 0 {
		return xerrors.New("ftruncate", "", xerrors.ErrInvalid)
	}
	fd, ok := e.fds.Get(index)
	if !ok {
		return xerrors.New("ftruncate", "", xerrors.ErrBadFd)
	}
	if fd.Access&fdtable.AccessWrite == 0 {
		return xerrors.New("ftruncate", "", xerrors.ErrBadFd)
	}
	return e.truncateIno(fd.Ino, length)
}

// Fallocate pre-allocates storage for [offset, offset+length) without
// changing the reported size beyond what the write would. Blocks inside the
// range that don't yet exist are materialized as zero-filled.
func (e *EFS) Fallocate(index int, offset, length int64) error {
	if offset < 0 || length <= 0 {
		return xerrors.New("fallocate", "", xerrors.ErrInvalid)
	}
	fd, ok := e.fds.Get(index)
	if !ok {
		return xerrors.New("fallocate", "", xerrors.ErrBadFd)
	}
	if fd.Access&fdtable.AccessWrite == 0 {
		return xerrors.New("fallocate", "", xerrors.ErrBadFd)
	}

	blockSize := int64(e.mgr.BlockSize())
	return e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		st, err := e.mgr.StatGet(tx, fd.Ino)
		if err != nil {
			return err
		}
		want := uint64(offset + length)
		if want <= st.Size {
			return nil
		}
		pad := want - st.Size
		zeros := make([]byte, pad)
		startBlock := st.Size / uint64(blockSize)
		withinOffset := st.Size % uint64(blockSize)
		payload := zeros
		if withinOffset != 0 {
			existing, lerr := fdReadOneBlock(tx, e.mgr, fd.Ino, startBlock, uint64(blockSize))
			if lerr != nil {
				return lerr
			}
			merged := append(append([]byte(nil), existing...), zeros...)
			payload = merged
		}
		return e.mgr.FileSetBlocks(tx, fd.Ino, payload, startBlock)
	}, fd.Ino)
}

func fdReadOneBlock(tx *kvstore.Txn, mgr *inode.Manager, ino uint64, block, blockSize uint64) ([]byte, error) {
	var out []byte
	end := block + 1
	err := mgr.FileGetBlocks(tx, ino, block, &end, func(b uint64, data []byte) error {
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// Dup allocates a new descriptor index sharing position with index.
func (e *EFS) Dup(index int) (int, error) {
	return e.fds.DupFD(index)
}

// truncateIno resizes ino's data to length, used by Ftruncate and the
// non-fd Truncate in stat.go.
func (e *EFS) truncateIno(ino uint64, length int64) error {
	blockSize := int64(e.mgr.BlockSize())
	return e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		st, err := e.mgr.StatGet(tx, ino)
		if err != nil {
			return err
		}
		want := uint64(length)
		switch {
		case want == st.Size:
			return nil
		case want > st.Size:
			pad := want - st.Size
			startBlock := st.Size / uint64(blockSize)
			withinOffset := st.Size % uint64(blockSize)
			payload := make([]byte, pad)
			if withinOffset != 0 {
				existing, lerr := fdReadOneBlock(tx, e.mgr, ino, startBlock, uint64(blockSize))
				if lerr != nil {
					return lerr
				}
				payload = append(append([]byte(nil), existing...), payload...)
			}
			return e.mgr.FileSetBlocks(tx, ino, payload, startBlock)
		default:
			return e.mgr.FileTruncateDown(tx, ino, want)
		}
	}, ino)
}
