package encryptedfs

import (
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// Rename moves oldPath to newPath, replacing any existing file at newPath
// (a non-empty directory at newPath is rejected). A first read-only pass
// discovers which inodes the transaction needs to lock; WithTransaction
// then re-resolves both paths under the lock, so a race between the two
// passes is still caught rather than acted on stale state.
func (e *EFS) Rename(oldPath, newPath string) error {
	done := e.metrics.Track("rename")
	var err error
	defer func() { done(err) }()

	uid, gid := e.owner()

	var oldParent, newParent, oldIno uint64
	var newExisting *uint64
	err = e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		var perr error
		var existing *uint64
		oldParent, _, existing, perr = e.resolveParent(tx, oldPath, uid, gid)
		if perr != nil {
			return perr
		}
		if existing == nil {
			return xerrors.NewTo("rename", oldPath, newPath, xerrors.ErrNotExist)
		}
		oldIno = *existing
		newParent, _, newExisting, perr = e.resolveParent(tx, newPath, uid, gid)
		return perr
	})
	if err != nil {
		return err
	}

	lockInos := []uint64{oldParent, newParent, oldIno}
	if newExisting != nil {
		lockInos = append(lockInos, *newExisting)
	}

	return e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		curOldParent, curOldName, curOldExisting, perr := e.resolveParent(tx, oldPath, uid, gid)
		if perr != nil {
			return perr
		}
		if curOldExisting == nil {
			return xerrors.NewTo("rename", oldPath, newPath, xerrors.ErrNotExist)
		}
		curNewParent, curNewName, curNewExisting, perr := e.resolveParent(tx, newPath, uid, gid)
		if perr != nil {
			return perr
		}

		oldParentSt, serr := e.mgr.StatGet(tx, curOldParent)
		if serr != nil {
			return serr
		}
		if aerr := checkAccess(oldParentSt, uid, gid, accessW); aerr != nil {
			return xerrors.NewTo("rename", oldPath, newPath, aerr)
		}
		newParentSt, serr := e.mgr.StatGet(tx, curNewParent)
		if serr != nil {
			return serr
		}
		if aerr := checkAccess(newParentSt, uid, gid, accessW); aerr != nil {
			return xerrors.NewTo("rename", oldPath, newPath, aerr)
		}

		movedSt, serr := e.mgr.StatGet(tx, *curOldExisting)
		if serr != nil {
			return serr
		}

		if curNewExisting != nil {
			destSt, derr := e.mgr.StatGet(tx, *curNewExisting)
			if derr != nil {
				return derr
			}
			if isDirMode(destSt.Mode) {
				if !isDirMode(movedSt.Mode) {
					return xerrors.NewTo("rename", oldPath, newPath, xerrors.ErrIsDir)
				}
				count, cerr := e.mgr.DirEntryCount(tx, *curNewExisting)
				if cerr != nil {
					return cerr
				}
				if count > 2 {
					return xerrors.NewTo("rename", oldPath, newPath, xerrors.ErrNotEmpty)
				}
			} else if isDirMode(movedSt.Mode) {
				return xerrors.NewTo("rename", oldPath, newPath, xerrors.ErrNotDir)
			}
		}

		if isDirMode(movedSt.Mode) && curNewParent != curOldParent {
			if e.isDescendant(tx, *curOldExisting, curNewParent) {
				return xerrors.NewTo("rename", oldPath, newPath, xerrors.ErrInvalid)
			}
		}

		if curOldParent == curNewParent {
			return e.mgr.DirResetEntry(tx, curOldParent, curOldName, curNewName)
		}

		if curNewExisting != nil {
			if err := e.mgr.DirUnsetEntry(tx, curNewParent, curNewName); err != nil {
				return err
			}
		}
		if err := e.mgr.DirSetEntry(tx, curNewParent, curNewName, *curOldExisting); err != nil {
			return err
		}
		return e.mgr.DirUnsetEntry(tx, curOldParent, curOldName)
	}, lockInos...)
}

// isDescendant reports whether candidate is dirIno or one of its ancestors,
// used to reject a directory rename into its own subtree.
func (e *EFS) isDescendant(tx *kvstore.Txn, candidate, dirIno uint64) bool {
	cur := dirIno
	for i := 0; i < 4096; i++ {
		if cur == candidate {
			return true
		}
		if cur == e.rootIno() {
			return false
		}
		parentPtr, err := e.mgr.DirGetEntry(tx, cur, "..")
		if err != nil || parentPtr == nil {
			return false
		}
		if *parentPtr == cur {
			return false
		}
		cur = *parentPtr
	}
	return false
}
