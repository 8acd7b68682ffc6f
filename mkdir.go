package encryptedfs

import (
	"strings"

	"github.com/matrixai/go-encryptedfs/internal/inode"
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/resolver"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// MkdirOptions configures Mkdir.
type MkdirOptions struct {
	Mode      uint32
	Recursive bool
}

// Mkdir navigates, and on every iteration either adopts an existing
// directory (Recursive), creates an intermediate directory (Recursive), or
// creates the terminal directory under an allocation lock that serializes
// concurrent creators of the same (parent, name) target.
func (e *EFS) Mkdir(path string, opts MkdirOptions) error {
	done := e.metrics.Track("mkdir")
	var err error
	defer func() { done(err) }()

	uid, gid := e.owner()
	curdirIno, _ := e.cwd.get()
	mode := (opts.Mode &^ e.umask) | 0 // directory type bit applied in DirCreate

	remaining := path
	dirIno := curdirIno

	for {
		var nav resolver.Navigated
		err = e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
			var verr error
			nav, verr = e.res.navigate(tx, e.rootIno(), dirIno, remaining, true, uid, gid)
			return verr
		}, dirIno)
		if err != nil {
			return err
		}

		if nav.Target != nil {
			var st inode.Stat
			err = e.mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
				var serr error
				st, serr = e.mgr.StatGet(tx, *nav.Target)
				return serr
			}, *nav.Target)
			if err != nil {
				return err
			}
			if !isDirMode(st.Mode) {
				err = xerrors.New("mkdir", path, xerrors.ErrExist)
				return err
			}
			if !opts.Recursive {
				err = xerrors.New("mkdir", path, xerrors.ErrExist)
				return err
			}
			if nav.Remaining == "" {
				return nil // fully resolved, already a directory
			}
			dirIno = *nav.Target
			remaining = nav.Remaining
			continue
		}

		// nav.Target == nil: the terminal segment is missing.
		if nav.Remaining != "" && !opts.Recursive {
			err = xerrors.New("mkdir", path, xerrors.ErrNotExist)
			return err
		}

		name := nav.Name
		parent := nav.Dir
		release := e.mgr.AllocationLock(parent, name)

		var resultIno uint64
		var adopted bool
		_, err = e.mgr.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
			existing, gerr := e.mgr.DirGetEntry(tx, parent, name)
			if gerr != nil {
				return gerr
			}
			if existing != nil {
				// A racer won; adopt their inode. The freshly allocated (but
				// unused) newIno is simply never referenced by any directory
				// entry.
				resultIno = *existing
				adopted = true
				return nil
			}

			parentSt, serr := e.mgr.StatGet(tx, parent)
			if serr != nil {
				return serr
			}
			if parentSt.Nlink < 2 {
				return xerrors.New("mkdir", path, xerrors.ErrNotDir)
			}
			if aerr := checkAccess(parentSt, uid, gid, accessW); aerr != nil {
				return xerrors.New("mkdir", path, aerr)
			}

			if derr := e.mgr.DirCreate(tx, newIno, inode.Attr{Mode: mode, UID: uid, GID: gid}, &parent); derr != nil {
				return derr
			}
			if serr := e.mgr.DirSetEntry(tx, parent, name, newIno); serr != nil {
				return serr
			}
			resultIno = newIno
			return nil
		}, parent)
		release()
		if err != nil {
			return err
		}
		if adopted && !opts.Recursive {
			// As for a target found by navigation: only a recursive mkdir
			// adopts an existing directory.
			err = xerrors.New("mkdir", path, xerrors.ErrExist)
			return err
		}
		childIno := resultIno

		if nav.Remaining == "" {
			return nil
		}
		dirIno = childIno
		remaining = nav.Remaining
	}
}

// validPathSegment rejects "." and ".." where the caller must not name
// them explicitly (e.g. rmdir's target segment).
func validPathSegment(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}
