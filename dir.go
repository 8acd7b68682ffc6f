package encryptedfs

import (
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// DirEntry is one entry returned by Readdir.
type DirEntry struct {
	Name string
	Ino  uint64
	Mode uint32
}

// Readdir lists path's entries, including "." and "..", in storage order.
func (e *EFS) Readdir(path string) ([]DirEntry, error) {
	done := e.metrics.Track("readdir")
	var err error
	defer func() { done(err) }()

	uid, gid := e.owner()
	curdirIno, _ := e.cwd.get()

	var entries []DirEntry
	err = e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		nav, verr := e.res.navigate(tx, e.rootIno(), curdirIno, path, true, uid, gid)
		if verr != nil {
			return verr
		}
		if nav.Target == nil {
			return xerrors.New("readdir", path, xerrors.ErrNotExist)
		}

		st, serr := e.mgr.StatGet(tx, *nav.Target)
		if serr != nil {
			return serr
		}
		if !isDirMode(st.Mode) {
			return xerrors.New("readdir", path, xerrors.ErrNotDir)
		}
		if aerr := checkAccess(st, uid, gid, accessR|accessX); aerr != nil {
			return xerrors.New("readdir", path, aerr)
		}

		return e.mgr.DirGet(tx, *nav.Target, func(name string, ino uint64) error {
			childSt, gerr := e.mgr.StatGet(tx, ino)
			if gerr != nil {
				return gerr
			}
			entries = append(entries, DirEntry{Name: name, Ino: ino, Mode: childSt.Mode})
			return nil
		})
	}, curdirIno)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
