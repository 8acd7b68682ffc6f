package encryptedfs

import (
	"github.com/matrixai/go-encryptedfs/internal/inode"
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// resolveParent navigates to the parent directory and terminal name of
// path, without requiring the terminal name to exist. Used by every
// operation that creates or removes a single directory entry.
func (e *EFS) resolveParent(tx *kvstore.Txn, path string, uid, gid uint32) (parent uint64, name string, existing *uint64, err error) {
	curdirIno, _ := e.cwd.get()
	nav, err := e.res.navigate(tx, e.rootIno(), curdirIno, path, false, uid, gid)
	if err != nil {
		return 0, "", nil, err
	}
	if nav.Target == nil && nav.Remaining != "" {
		return 0, "", nil, xerrors.New("resolveParent", path, xerrors.ErrNotExist)
	}
	if nav.Target != nil {
		return nav.Dir, nav.Name, nav.Target, nil
	}
	return nav.Dir, nav.Name, nil, nil
}

// Link creates newPath as a new hard link to oldPath's inode. Directories
// cannot be hard-linked.
func (e *EFS) Link(oldPath, newPath string) error {
	done := e.metrics.Track("link")
	var err error
	defer func() { done(err) }()

	uid, gid := e.owner()
	curdirIno, _ := e.cwd.get()

	err = e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		oldNav, verr := e.res.navigate(tx, e.rootIno(), curdirIno, oldPath, false, uid, gid)
		if verr != nil {
			return verr
		}
		if oldNav.Target == nil {
			return xerrors.NewTo("link", oldPath, newPath, xerrors.ErrNotExist)
		}
		oldSt, serr := e.mgr.StatGet(tx, *oldNav.Target)
		if serr != nil {
			return serr
		}
		if isDirMode(oldSt.Mode) {
			return xerrors.NewTo("link", oldPath, newPath, xerrors.ErrPermission)
		}

		parent, name, existing, perr := e.resolveParent(tx, newPath, uid, gid)
		if perr != nil {
			return perr
		}
		if existing != nil {
			return xerrors.NewTo("link", oldPath, newPath, xerrors.ErrExist)
		}

		parentSt, gerr := e.mgr.StatGet(tx, parent)
		if gerr != nil {
			return gerr
		}
		if aerr := checkAccess(parentSt, uid, gid, accessW); aerr != nil {
			return xerrors.NewTo("link", oldPath, newPath, aerr)
		}

		return e.mgr.DirSetEntry(tx, parent, name, *oldNav.Target)
	}, curdirIno)
	return err
}

// Unlink removes a non-directory entry at path.
func (e *EFS) Unlink(path string) error {
	done := e.metrics.Track("unlink")
	var err error
	defer func() { done(err) }()

	uid, gid := e.owner()
	curdirIno, _ := e.cwd.get()

	err = e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		parent, name, existing, perr := e.resolveParent(tx, path, uid, gid)
		if perr != nil {
			return perr
		}
		if existing == nil {
			return xerrors.New("unlink", path, xerrors.ErrNotExist)
		}

		childSt, gerr := e.mgr.StatGet(tx, *existing)
		if gerr != nil {
			return gerr
		}
		if isDirMode(childSt.Mode) {
			return xerrors.New("unlink", path, xerrors.ErrIsDir)
		}

		parentSt, gerr := e.mgr.StatGet(tx, parent)
		if gerr != nil {
			return gerr
		}
		if aerr := checkAccess(parentSt, uid, gid, accessW); aerr != nil {
			return xerrors.New("unlink", path, aerr)
		}

		return e.mgr.DirUnsetEntry(tx, parent, name)
	}, curdirIno)
	return err
}

// Symlink creates newPath as a symbolic link pointing at target. target is
// stored verbatim and is not validated until something navigates through
// it.
func (e *EFS) Symlink(target, newPath string) error {
	done := e.metrics.Track("symlink")
	var err error
	defer func() { done(err) }()

	uid, gid := e.owner()

	var parent uint64
	var name string
	err = e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		var perr error
		parent, name, _, perr = e.resolveParent(tx, newPath, uid, gid)
		return perr
	})
	if err != nil {
		return err
	}

	release := e.mgr.AllocationLock(parent, name)
	defer release()

	_, err = e.mgr.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		existing, gerr := e.mgr.DirGetEntry(tx, parent, name)
		if gerr != nil {
			return gerr
		}
		if existing != nil {
			return xerrors.New("symlink", newPath, xerrors.ErrExist)
		}

		parentSt, serr := e.mgr.StatGet(tx, parent)
		if serr != nil {
			return serr
		}
		if aerr := checkAccess(parentSt, uid, gid, accessW); aerr != nil {
			return xerrors.New("symlink", newPath, aerr)
		}

		if cerr := e.mgr.SymlinkCreate(tx, newIno, inode.Attr{Mode: 0o777, UID: uid, GID: gid}, target); cerr != nil {
			return cerr
		}
		return e.mgr.DirSetEntry(tx, parent, name, newIno)
	}, parent)
	return err
}

// Readlink returns path's symlink target without following it.
func (e *EFS) Readlink(path string) (string, error) {
	done := e.metrics.Track("readlink")
	var err error
	defer func() { done(err) }()

	uid, gid := e.owner()
	curdirIno, _ := e.cwd.get()

	var target string
	err = e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		nav, verr := e.res.navigate(tx, e.rootIno(), curdirIno, path, false, uid, gid)
		if verr != nil {
			return verr
		}
		if nav.Target == nil {
			return xerrors.New("readlink", path, xerrors.ErrNotExist)
		}
		st, serr := e.mgr.StatGet(tx, *nav.Target)
		if serr != nil {
			return serr
		}
		if !isLinkMode(st.Mode) {
			return xerrors.New("readlink", path, xerrors.ErrInvalid)
		}
		var lerr error
		target, lerr = e.mgr.SymlinkGetLink(tx, *nav.Target)
		return lerr
	}, curdirIno)
	if err != nil {
		return "", err
	}
	return target, nil
}

// Mknod creates a character-device inode at path. Actual device I/O is
// routed through the file descriptor table's registered Ops; this call
// only allocates the reserved type tag.
func (e *EFS) Mknod(path string, mode uint32, major, minor uint32) error {
	done := e.metrics.Track("mknod")
	var err error
	defer func() { done(err) }()

	uid, gid := e.owner()
	createMode := modeBits(mode) &^ e.umask

	var parent uint64
	var name string
	err = e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		var perr error
		parent, name, _, perr = e.resolveParent(tx, path, uid, gid)
		return perr
	})
	if err != nil {
		return err
	}

	release := e.mgr.AllocationLock(parent, name)
	defer release()

	_, err = e.mgr.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		existing, gerr := e.mgr.DirGetEntry(tx, parent, name)
		if gerr != nil {
			return gerr
		}
		if existing != nil {
			return xerrors.New("mknod", path, xerrors.ErrExist)
		}

		parentSt, serr := e.mgr.StatGet(tx, parent)
		if serr != nil {
			return serr
		}
		if aerr := checkAccess(parentSt, uid, gid, accessW); aerr != nil {
			return xerrors.New("mknod", path, aerr)
		}

		if cerr := e.mgr.CharDevCreate(tx, newIno, inode.Attr{Mode: createMode, UID: uid, GID: gid}, major, minor); cerr != nil {
			return cerr
		}
		return e.mgr.DirSetEntry(tx, parent, name, newIno)
	}, parent)
	return err
}
