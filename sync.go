package encryptedfs

import "github.com/matrixai/go-encryptedfs/internal/xerrors"

// Fsync flushes index's data and metadata to stable storage. Every write
// already commits with its enclosing bbolt transaction (see internal/
// kvstore), so there is nothing left to flush by the time a caller can
// observe a completed Write; this validates the descriptor and returns.
func (e *EFS) Fsync(index int) error {
	if _, ok := e.fds.Get(index); !ok {
		return xerrors.New("fsync", "", xerrors.ErrBadFd)
	}
	return nil
}

// Fdatasync is Fsync without the metadata-only guarantee; the underlying
// store makes no distinction between the two, so it behaves identically.
func (e *EFS) Fdatasync(index int) error {
	if _, ok := e.fds.Get(index); !ok {
		return xerrors.New("fdatasync", "", xerrors.ErrBadFd)
	}
	return nil
}
