package encryptedfs

import (
	"strings"

	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// RmdirOptions configures Rmdir.
type RmdirOptions struct {
	// Recursive removes a non-empty directory's contents first instead of
	// requiring the caller to empty it.
	Recursive bool
}

// Rmdir removes the (by default, empty) directory at path. Trailing
// slashes are trimmed first; "." and ".." and the root are rejected.
func (e *EFS) Rmdir(path string, opts RmdirOptions) error {
	done := e.metrics.Track("rmdir")
	var err error
	defer func() { done(err) }()

	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		trimmed = "/"
	}
	base := trimmed
	if idx := strings.LastIndexByte(trimmed, '/'); idx >= 0 {
		base = trimmed[idx+1:]
	}
	if base == "." || base == ".." {
		err = xerrors.New("rmdir", path, xerrors.ErrInvalid)
		return err
	}

	uid, gid := e.owner()

	if opts.Recursive {
		var missing bool
		missing, err = e.removeTreeIfDir(trimmed, uid, gid)
		if err != nil {
			return err
		}
		if missing {
			err = nil
			return nil
		}
	}

	err = e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		parent, name, existing, perr := e.resolveParent(tx, trimmed, uid, gid)
		if perr != nil {
			return perr
		}
		if existing == nil {
			return xerrors.New("rmdir", path, xerrors.ErrNotExist)
		}
		if *existing == e.rootIno() {
			return xerrors.New("rmdir", path, xerrors.ErrBusy)
		}

		st, serr := e.mgr.StatGet(tx, *existing)
		if serr != nil {
			return serr
		}
		if !isDirMode(st.Mode) {
			return xerrors.New("rmdir", path, xerrors.ErrNotDir)
		}

		count, cerr := e.mgr.DirEntryCount(tx, *existing)
		if cerr != nil {
			return cerr
		}
		if count > 2 {
			return xerrors.New("rmdir", path, xerrors.ErrNotEmpty)
		}

		parentSt, serr := e.mgr.StatGet(tx, parent)
		if serr != nil {
			return serr
		}
		if aerr := checkAccess(parentSt, uid, gid, accessW); aerr != nil {
			return xerrors.New("rmdir", path, aerr)
		}

		return e.mgr.DirUnsetEntry(tx, parent, name)
	})
	return err
}

// removeTreeIfDir descends into path (if it is a directory) and unlinks
// every entry, recursing into each sub-directory as it is reached, before the caller's
// final DirUnsetEntry removes the now-empty directory itself. A missing
// path is reported via the missing return, not an error: Rmdir with
// Recursive set succeeds on a missing target, so there is simply nothing
// to descend into.
func (e *EFS) removeTreeIfDir(path string, uid, gid uint32) (missing bool, err error) {
	var entries []DirEntry
	rerr := e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		_, _, existing, perr := e.resolveParent(tx, path, uid, gid)
		if perr != nil {
			if xerrors.Is(perr, xerrors.ErrNotExist) {
				missing = true // an intermediate directory is missing too
				return nil
			}
			return perr
		}
		if existing == nil {
			missing = true
			return nil
		}
		st, serr := e.mgr.StatGet(tx, *existing)
		if serr != nil {
			return serr
		}
		if !isDirMode(st.Mode) {
			return nil // non-directory: let the caller's Rmdir report ENOTDIR
		}
		return e.mgr.DirGet(tx, *existing, func(name string, ino uint64) error {
			if name == "." || name == ".." {
				return nil
			}
			childSt, gerr := e.mgr.StatGet(tx, ino)
			if gerr != nil {
				return gerr
			}
			entries = append(entries, DirEntry{Name: name, Ino: ino, Mode: childSt.Mode})
			return nil
		})
	})
	if rerr != nil {
		return false, rerr
	}
	if missing {
		return true, nil
	}

	for _, ent := range entries {
		childPath := strings.TrimRight(path, "/") + "/" + ent.Name
		if isDirMode(ent.Mode) {
			if err := e.Rmdir(childPath, RmdirOptions{Recursive: true}); err != nil {
				return false, err
			}
			continue
		}
		if err := e.Unlink(childPath); err != nil {
			return false, err
		}
	}
	return false, nil
}
