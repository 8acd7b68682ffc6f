// Package xerrors defines the POSIX-style error kinds the filesystem
// facade returns.
//
// Each kind wraps a syscall.Errno so callers written against the standard
// library (errors.Is(err, syscall.ENOENT)) keep working, following the same
// spirit as gcsfuse's fs package returning github.com/jacobsa/fuse sentinel
// errors (fuse.ENOENT, fuse.EEXIST, fuse.ENOTDIR, ...) from fs/fs.go.
package xerrors

import (
	"errors"
	"fmt"
	"syscall"
)

// Sentinel kinds returned by every facade operation.
var (
	ErrNotExist     = syscall.ENOENT
	ErrExist        = syscall.EEXIST
	ErrAccess       = syscall.EACCES
	ErrPermission   = syscall.EPERM
	ErrNotDir       = syscall.ENOTDIR
	ErrIsDir        = syscall.EISDIR
	ErrNotEmpty     = syscall.ENOTEMPTY
	ErrInvalid      = syscall.EINVAL
	ErrBadFd        = syscall.EBADF
	ErrLoop         = syscall.ELOOP
	ErrBusy         = syscall.EBUSY
	ErrFileTooBig   = syscall.EFBIG
	ErrNoDev        = syscall.ENODEV
	ErrNameTooLong  = syscall.ENAMETOOLONG
	ErrCorruptChunk = errors.New("encryptedfs: corrupted chunk (AEAD tag mismatch)")
	ErrKeyIncorrect = errors.New("encryptedfs: store key incorrect")
)

// Error annotates one of the sentinel kinds above with diagnostic context:
// the path(s) involved, the public syscall name that was being served, and
// (optionally) the lower-level cause.
type Error struct {
	Op     string // e.g. "open", "mkdir", "rename"
	Path   string
	Path2  string // destination path, for rename/link
	Kind   error  // one of the sentinels above
	Cause  error  // optional underlying error
}

func (e *Error) Error() string {
	switch {
	case e.Path2 != "" && e.Cause != nil:
		return fmt.Sprintf("%s %q -> %q: %v: %v", e.Op, e.Path, e.Path2, e.Kind, e.Cause)
	case e.Path2 != "":
		return fmt.Sprintf("%s %q -> %q: %v", e.Op, e.Path, e.Path2, e.Kind)
	case e.Cause != nil:
		return fmt.Sprintf("%s %q: %v: %v", e.Op, e.Path, e.Kind, e.Cause)
	default:
		return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Kind }

func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// New builds an *Error for op/path with the given kind.
func New(op, path string, kind error) *Error {
	return &Error{Op: op, Path: path, Kind: kind}
}

// NewTo builds an *Error for a two-path operation (rename, link).
func NewTo(op, path, path2 string, kind error) *Error {
	return &Error{Op: op, Path: path, Path2: path2, Kind: kind}
}

// Wrap builds an *Error for op/path with kind, keeping cause for diagnostics.
func Wrap(op, path string, kind, cause error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Cause: cause}
}

// Is reports whether err's kind matches kind, regardless of annotation.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
