package encryptedfs

import (
	"time"

	"github.com/matrixai/go-encryptedfs/internal/inode"
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// Stat is the public stat record returned by Stat/Lstat/Fstat.
type Stat = inode.Stat

// Stat resolves path (following a terminal symlink) and returns its stat
// record.
func (e *EFS) Stat(path string) (Stat, error) {
	return e.statPath(path, true)
}

// Lstat resolves path without following a terminal symlink.
func (e *EFS) Lstat(path string) (Stat, error) {
	return e.statPath(path, false)
}

func (e *EFS) statPath(path string, followLink bool) (Stat, error) {
	done := e.metrics.Track("stat")
	var err error
	defer func() { done(err) }()

	uid, gid := e.owner()
	curdirIno, _ := e.cwd.get()

	var st Stat
	err = e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		nav, verr := e.res.navigate(tx, e.rootIno(), curdirIno, path, followLink, uid, gid)
		if verr != nil {
			return verr
		}
		if nav.Target == nil {
			return xerrors.New("stat", path, xerrors.ErrNotExist)
		}
		var serr error
		st, serr = e.mgr.StatGet(tx, *nav.Target)
		return serr
	}, curdirIno)
	if err != nil {
		return Stat{}, err
	}
	return st, nil
}

// Fstat returns the stat record for an open descriptor's inode.
func (e *EFS) Fstat(index int) (Stat, error) {
	fd, ok := e.fds.Get(index)
	if !ok {
		return Stat{}, xerrors.New("fstat", "", xerrors.ErrBadFd)
	}
	var st Stat
	err := e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		var serr error
		st, serr = e.mgr.StatGet(tx, fd.Ino)
		return serr
	}, fd.Ino)
	return st, err
}

// Exists reports whether path resolves to anything, swallowing
// ErrNotExist/ErrNotDir into a plain false.
func (e *EFS) Exists(path string) bool {
	_, err := e.Stat(path)
	if err == nil {
		return true
	}
	return !(xerrors.Is(err, xerrors.ErrNotExist) || xerrors.Is(err, xerrors.ErrNotDir))
}

// Access checks the requesting uid/gid against path's mode bits for want,
// expressed in the unix.R_OK/W_OK/X_OK bit values.
func (e *EFS) Access(path string, want uint32) error {
	uid, gid := e.owner()
	curdirIno, _ := e.cwd.get()
	return e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		nav, verr := e.res.navigate(tx, e.rootIno(), curdirIno, path, true, uid, gid)
		if verr != nil {
			return verr
		}
		if nav.Target == nil {
			return xerrors.New("access", path, xerrors.ErrNotExist)
		}
		st, serr := e.mgr.StatGet(tx, *nav.Target)
		if serr != nil {
			return serr
		}
		return checkAccess(st, uid, gid, accessBits(want))
	}, curdirIno)
}

// Chmod sets path's permission bits (the type bits are preserved).
func (e *EFS) Chmod(path string, mode uint32) error {
	return e.setPropByPath("chmod", path, true, func(tx *kvstore.Txn, ino uint64, uid, gid uint32) error {
		st, err := e.mgr.StatGet(tx, ino)
		if err != nil {
			return err
		}
		if uid != 0 && st.UID != uid {
			return xerrors.New("chmod", path, xerrors.ErrPermission)
		}
		newMode := (st.Mode &^ 0o7777) | (modeBits(mode) & 0o7777)
		return e.mgr.StatSetProp(tx, ino, inode.StatFieldMode, newMode)
	})
}

// Lchmod is Chmod without following a terminal symlink.
func (e *EFS) Lchmod(path string, mode uint32) error {
	return e.setPropByPath("lchmod", path, false, func(tx *kvstore.Txn, ino uint64, uid, gid uint32) error {
		st, err := e.mgr.StatGet(tx, ino)
		if err != nil {
			return err
		}
		if uid != 0 && st.UID != uid {
			return xerrors.New("lchmod", path, xerrors.ErrPermission)
		}
		newMode := (st.Mode &^ 0o7777) | (modeBits(mode) & 0o7777)
		return e.mgr.StatSetProp(tx, ino, inode.StatFieldMode, newMode)
	})
}

// Fchmod is Chmod against an open descriptor.
func (e *EFS) Fchmod(index int, mode uint32) error {
	fd, ok := e.fds.Get(index)
	if !ok {
		return xerrors.New("fchmod", "", xerrors.ErrBadFd)
	}
	uid, _ := e.owner()
	return e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		st, err := e.mgr.StatGet(tx, fd.Ino)
		if err != nil {
			return err
		}
		if uid != 0 && st.UID != uid {
			return xerrors.New("fchmod", "", xerrors.ErrPermission)
		}
		newMode := (st.Mode &^ 0o7777) | (modeBits(mode) & 0o7777)
		return e.mgr.StatSetProp(tx, fd.Ino, inode.StatFieldMode, newMode)
	}, fd.Ino)
}

// Chown changes path's owning uid/gid (following a terminal symlink). A
// negative value for either leaves that field unchanged.
func (e *EFS) Chown(path string, uid, gid int64) error {
	return e.chownPath(path, true, uid, gid)
}

// Lchown is Chown without following a terminal symlink.
func (e *EFS) Lchown(path string, uid, gid int64) error {
	return e.chownPath(path, false, uid, gid)
}

func (e *EFS) chownPath(path string, followLink bool, uid, gid int64) error {
	return e.setPropByPath("chown", path, followLink, func(tx *kvstore.Txn, ino uint64, reqUID, reqGID uint32) error {
		if reqUID != 0 {
			return xerrors.New("chown", path, xerrors.ErrPermission)
		}
		if uid >= 0 {
			if err := e.mgr.StatSetProp(tx, ino, inode.StatFieldUID, uint32(uid)); err != nil {
				return err
			}
		}
		if gid >= 0 {
			if err := e.mgr.StatSetProp(tx, ino, inode.StatFieldGID, uint32(gid)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Fchown is Chown against an open descriptor.
func (e *EFS) Fchown(index int, uid, gid int64) error {
	fd, ok := e.fds.Get(index)
	if !ok {
		return xerrors.New("fchown", "", xerrors.ErrBadFd)
	}
	reqUID, _ := e.owner()
	return e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		if reqUID != 0 {
			return xerrors.New("fchown", "", xerrors.ErrPermission)
		}
		if uid >= 0 {
			if err := e.mgr.StatSetProp(tx, fd.Ino, inode.StatFieldUID, uint32(uid)); err != nil {
				return err
			}
		}
		if gid >= 0 {
			if err := e.mgr.StatSetProp(tx, fd.Ino, inode.StatFieldGID, uint32(gid)); err != nil {
				return err
			}
		}
		return nil
	}, fd.Ino)
}

// Chownr recursively applies Chown to path and, if it is a directory,
// every entry beneath it.
func (e *EFS) Chownr(path string, uid, gid int64) error {
	if err := e.Chown(path, uid, gid); err != nil {
		return err
	}
	st, err := e.Stat(path)
	if err != nil {
		return err
	}
	if !isDirMode(st.Mode) {
		return nil
	}
	entries, err := e.Readdir(path)
	if err != nil {
		return err
	}
	trimmed := path
	if trimmed != "/" {
		trimmed = trimmed + "/"
	}
	for _, ent := range entries {
		if ent.Name == "." || ent.Name == ".." {
			continue
		}
		if err := e.Chownr(trimmed+ent.Name, uid, gid); err != nil {
			return err
		}
	}
	return nil
}

// Utimes sets path's atime/mtime (following a terminal symlink).
func (e *EFS) Utimes(path string, atime, mtime time.Time) error {
	return e.setPropByPath("utimes", path, true, func(tx *kvstore.Txn, ino uint64, uid, gid uint32) error {
		if err := e.mgr.StatSetProp(tx, ino, inode.StatFieldAtime, atime); err != nil {
			return err
		}
		return e.mgr.StatSetProp(tx, ino, inode.StatFieldMtime, mtime)
	})
}

// Futimes is Utimes against an open descriptor.
func (e *EFS) Futimes(index int, atime, mtime time.Time) error {
	fd, ok := e.fds.Get(index)
	if !ok {
		return xerrors.New("futimes", "", xerrors.ErrBadFd)
	}
	return e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		if err := e.mgr.StatSetProp(tx, fd.Ino, inode.StatFieldAtime, atime); err != nil {
			return err
		}
		return e.mgr.StatSetProp(tx, fd.Ino, inode.StatFieldMtime, mtime)
	}, fd.Ino)
}

// Truncate resizes the regular file at path without requiring an open
// descriptor.
func (e *EFS) Truncate(path string, length int64) error {
	if length < 0 {
		return xerrors.New("truncate", path, xerrors.ErrInvalid)
	}
	uid, gid := e.owner()
	curdirIno, _ := e.cwd.get()

	var ino uint64
	err := e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		nav, verr := e.res.navigate(tx, e.rootIno(), curdirIno, path, true, uid, gid)
		if verr != nil {
			return verr
		}
		if nav.Target == nil {
			return xerrors.New("truncate", path, xerrors.ErrNotExist)
		}
		st, serr := e.mgr.StatGet(tx, *nav.Target)
		if serr != nil {
			return serr
		}
		if !isRegMode(st.Mode) {
			return xerrors.New("truncate", path, xerrors.ErrInvalid)
		}
		if aerr := checkAccess(st, uid, gid, accessW); aerr != nil {
			return xerrors.New("truncate", path, aerr)
		}
		ino = *nav.Target
		return nil
	}, curdirIno)
	if err != nil {
		return err
	}
	return e.truncateIno(ino, length)
}

// Realpath resolves path fully and returns the canonical absolute path,
// following every symlink along the way.
func (e *EFS) Realpath(path string) (string, error) {
	uid, gid := e.owner()
	curdirIno, _ := e.cwd.get()

	var stack []string
	err := e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		nav, verr := e.res.navigate(tx, e.rootIno(), curdirIno, path, true, uid, gid)
		if verr != nil {
			return verr
		}
		if nav.Target == nil {
			return xerrors.New("realpath", path, xerrors.ErrNotExist)
		}
		stack = nav.PathStack
		return nil
	}, curdirIno)
	if err != nil {
		return "", err
	}
	if len(stack) == 0 {
		return "/", nil
	}
	out := ""
	for _, seg := range stack {
		out += "/" + seg
	}
	return out, nil
}

// setPropByPath resolves path, applies fn under a write transaction locked
// on the resolved inode, and reports its error.
func (e *EFS) setPropByPath(op, path string, followLink bool, fn func(tx *kvstore.Txn, ino uint64, uid, gid uint32) error) error {
	done := e.metrics.Track(op)
	var err error
	defer func() { done(err) }()

	uid, gid := e.owner()
	curdirIno, _ := e.cwd.get()

	var ino uint64
	err = e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		nav, verr := e.res.navigate(tx, e.rootIno(), curdirIno, path, followLink, uid, gid)
		if verr != nil {
			return verr
		}
		if nav.Target == nil {
			return xerrors.New(op, path, xerrors.ErrNotExist)
		}
		ino = *nav.Target
		return nil
	}, curdirIno)
	if err != nil {
		return err
	}

	err = e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		return fn(tx, ino, uid, gid)
	}, ino)
	return err
}
