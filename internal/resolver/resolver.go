// Package resolver is the path resolution state machine: navigate/
// navigateFrom turn a textual path into a Navigated record, handling ".",
// "..", repeated slashes, trailing slashes, and symlink resolution with
// cycle detection. Grounded on gcsfuse's dir-entry lookup
// chain (fs/inode/dir.go's LookUpChild plus fs/fs.go's path-to-inode
// walking), generalized from "one GCS bucket namespace" to "the inode
// manager's directory entry table, possibly crossing symlinks".
package resolver

import (
	"strings"

	"golang.org/x/sys/unix"

	"github.com/matrixai/go-encryptedfs/internal/inode"
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// Navigated is the result of resolving a path.
type Navigated struct {
	Dir       uint64   // the containing directory's inode
	Target    *uint64  // nil if the terminal name does not exist
	Name      string   // the terminal path segment
	Remaining string   // unconsumed suffix, set only when Target is nil
	PathStack []string // absolute segment stack, for realpath
}

// Resolver walks paths against an inode.Manager.
type Resolver struct {
	mgr *inode.Manager
}

// New returns a Resolver bound to mgr.
func New(mgr *inode.Manager) *Resolver {
	return &Resolver{mgr: mgr}
}

// Permission is the access-check callback the facade supplies: given a
// directory's inode, report whether the requesting uid/gid may pass
// (X_OK) through it on the way to the next path segment.
type Permission func(tx *kvstore.Txn, dirIno uint64) error

// Navigate resolves path starting from curdirIno (the current working
// directory's inode) unless path is absolute, in which case it starts
// from rootIno. resolveLastLink controls whether a terminal symlink is
// followed (false lets callers like lstat/open(O_NOFOLLOW) see the link
// itself).
func (r *Resolver) Navigate(tx *kvstore.Txn, rootIno, curdirIno uint64, path string, resolveLastLink bool, checkX Permission) (Navigated, error) {
	normalized := normalize(path)

	start := curdirIno
	pathStack := []string{}
	if strings.HasPrefix(normalized, "/") {
		start = rootIno
		normalized = strings.TrimPrefix(normalized, "/")
	}

	if normalized == "" {
		return Navigated{Dir: rootIno, Target: &rootIno, Name: "", PathStack: nil}, nil
	}

	return r.navigateFrom(tx, rootIno, start, normalized, resolveLastLink, map[uint64]struct{}{}, pathStack, checkX)
}

// normalize collapses consecutive slashes and rewrites a trailing slash to
// "/.".
func normalize(path string) string {
	var b strings.Builder
	lastSlash := false
	for _, c := range path {
		if c == '/' {
			if lastSlash {
				continue
			}
			lastSlash = true
		} else {
			lastSlash = false
		}
		b.WriteRune(c)
	}
	out := b.String()
	if len(out) > 1 && strings.HasSuffix(out, "/") {
		out += "."
	}
	return out
}

func (r *Resolver) navigateFrom(
	tx *kvstore.Txn,
	rootIno, curdir uint64,
	remaining string,
	resolveLastLink bool,
	activeSymlinks map[uint64]struct{},
	pathStack []string,
	checkX Permission,
) (Navigated, error) {
	if checkX != nil {
		if err := checkX(tx, curdir); err != nil {
			return Navigated{}, err
		}
	}

	name, rest := splitFirst(remaining)

	switch name {
	case ".":
		if rest == "" {
			// name == "." means dir is NOT the same directory as target:
			// the containing directory of "." is curdir's parent, while the
			// target is curdir itself.
			parentPtr, err := r.mgr.DirGetEntry(tx, curdir, "..")
			if err != nil {
				return Navigated{}, err
			}
			parent := curdir
			if parentPtr != nil {
				parent = *parentPtr
			}
			return Navigated{Dir: parent, Target: &curdir, Name: ".", PathStack: pathStack}, nil
		}
		return r.navigateFrom(tx, rootIno, curdir, rest, resolveLastLink, activeSymlinks, pathStack, checkX)
	case "..":
		parentPtr, err := r.mgr.DirGetEntry(tx, curdir, "..")
		if err != nil {
			return Navigated{}, err
		}
		parent := curdir
		if parentPtr != nil {
			parent = *parentPtr
		}
		poppedStack := pathStack
		if len(poppedStack) > 0 {
			poppedStack = poppedStack[:len(poppedStack)-1]
		}
		if rest == "" {
			// name == ".." means dir is a child of target: the containing
			// directory of ".." is curdir itself (a child of parent), while
			// the target is parent.
			return Navigated{Dir: curdir, Target: &parent, Name: "..", PathStack: poppedStack}, nil
		}
		return r.navigateFrom(tx, rootIno, parent, rest, resolveLastLink, activeSymlinks, poppedStack, checkX)
	}

	childPtr, err := r.mgr.DirGetEntry(tx, curdir, name)
	if err != nil {
		return Navigated{}, err
	}
	if childPtr == nil {
		return Navigated{Dir: curdir, Target: nil, Name: name, Remaining: rest, PathStack: pathStack}, nil
	}
	child := *childPtr
	pushedStack := append(append([]string(nil), pathStack...), name)

	rec, err := r.mgr.StatGetProp(tx, child, inode.StatFieldMode)
	if err != nil {
		return Navigated{}, err
	}
	mode := rec.(uint32)

	switch {
	case isSymlinkMode(mode):
		if !resolveLastLink && rest == "" {
			return Navigated{Dir: curdir, Target: &child, Name: name, PathStack: pushedStack}, nil
		}
		if _, looping := activeSymlinks[child]; looping {
			return Navigated{}, xerrors.New("navigate", name, xerrors.ErrLoop)
		}
		nextActive := copySet(activeSymlinks)
		nextActive[child] = struct{}{}

		target, err := r.mgr.SymlinkGetLink(tx, child)
		if err != nil {
			return Navigated{}, err
		}
		joined := joinRemaining(target, rest)

		if strings.HasPrefix(joined, "/") {
			return r.navigateFrom(tx, rootIno, rootIno, strings.TrimPrefix(normalize(joined), "/"), resolveLastLink, nextActive, nil, checkX)
		}
		poppedStack := pathStack
		return r.navigateFrom(tx, rootIno, curdir, normalize(joined), resolveLastLink, nextActive, poppedStack, checkX)

	case isDirMode(mode):
		if rest == "" {
			return Navigated{Dir: curdir, Target: &child, Name: name, PathStack: pushedStack}, nil
		}
		return r.navigateFrom(tx, rootIno, child, rest, resolveLastLink, activeSymlinks, pushedStack, checkX)

	default: // File or CharacterDev
		if rest == "" {
			return Navigated{Dir: curdir, Target: &child, Name: name, PathStack: pushedStack}, nil
		}
		return Navigated{}, xerrors.New("navigate", name, xerrors.ErrNotDir)
	}
}

// splitFirst separates the first "/"-delimited segment of path from the
// rest (without a leading slash).
func splitFirst(path string) (first, rest string) {
	path = strings.TrimPrefix(path, "/")
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		return path, ""
	}
	return path[:idx], path[idx+1:]
}

func joinRemaining(target, rest string) string {
	if rest == "" {
		return target
	}
	if strings.HasSuffix(target, "/") {
		return target + rest
	}
	return target + "/" + rest
}

func copySet(s map[uint64]struct{}) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(s)+1)
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func isDirMode(mode uint32) bool     { return mode&unix.S_IFMT == unix.S_IFDIR }
func isSymlinkMode(mode uint32) bool { return mode&unix.S_IFMT == unix.S_IFLNK }
