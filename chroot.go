package encryptedfs

import (
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// Chroot returns a new EFS sharing this instance's store, inode manager,
// and descriptor table, but rooted at path. Closing the parent also closes
// every chroot'd child; closing a child alone is a no-op on the shared
// store.
func (e *EFS) Chroot(path string) (*EFS, error) {
	uid, gid := e.owner()
	curdirIno, _ := e.cwd.get()

	var newRoot uint64
	var stack []string
	err := e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		nav, verr := e.res.navigate(tx, e.rootIno(), curdirIno, path, true, uid, gid)
		if verr != nil {
			return verr
		}
		if nav.Target == nil {
			return xerrors.New("chroot", path, xerrors.ErrNotExist)
		}
		st, serr := e.mgr.StatGet(tx, *nav.Target)
		if serr != nil {
			return serr
		}
		if !isDirMode(st.Mode) {
			return xerrors.New("chroot", path, xerrors.ErrNotDir)
		}
		if aerr := checkAccess(st, uid, gid, accessX); aerr != nil {
			return xerrors.New("chroot", path, aerr)
		}
		newRoot = *nav.Target
		stack = nav.PathStack
		return nil
	}, curdirIno)
	if err != nil {
		return nil, err
	}
	e.mgr.Ref(newRoot)

	child := &EFS{
		store:     e.store,
		mgr:       e.mgr,
		fds:       e.fds,
		res:       e.res,
		umask:     e.umask,
		log:       e.log,
		metrics:   e.metrics,
		cwd:       &cwd{ino: newRoot, pathStack: stack},
		parent:    e,
		chrootIno: &newRoot,
	}
	child.SetOwner(uid, gid)

	e.mu2.Lock()
	e.childFS = append(e.childFS, child)
	e.mu2.Unlock()

	return child, nil
}
