// Package fdtable is the file descriptor table: integer fd -> {inode,
// flags, position}, pinning the inode manager's refcount on
// creation and unpinning on close, with dup sharing the underlying
// descriptor object (and so its position). Grounded on gcsfuse's
// fs/dir_handle.go / fs/file.go handle-table pattern (an integer handle ID
// mapping to a struct guarded by its own syncutil.InvariantMutex),
// generalized from "kernel handle ID -> open GCS object" to "process fd ->
// open inode".
package fdtable

import (
	"fmt"
	"sync"

	"github.com/jacobsa/syncutil"

	"github.com/matrixai/go-encryptedfs/internal/inode"
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

// Open flag bits, the O_* set the facade's Open accepts.
const (
	ORdonly = 1 << iota
	OWronly
	ORdwr
	OCreat
	OTrunc
	OAppend
	OExcl
	ONofollow
	ODirectory
)

// AccessMode is the read/write bitmask derived from open flags and checked
// against a descriptor's permissions on every read/write.
type AccessMode int

const (
	AccessRead AccessMode = 1 << iota
	AccessWrite
)

// DeriveAccess computes the access bits for a flag set:
// O_RDWR -> R|W, O_WRONLY|O_TRUNC -> W, else R.
func DeriveAccess(flags int) AccessMode {
	switch {
	case flags&ORdwr != 0:
		return AccessRead | AccessWrite
	case flags&OWronly != 0 || flags&OTrunc != 0:
		return AccessWrite
	default:
		return AccessRead
	}
}

// Ops routes I/O for a character-device inode to its registered
// implementation, keyed by (major, minor).
type Ops interface {
	Read(buf []byte, position int64) (n int, err error)
	Write(buf []byte, position int64) (n int, err error)
}

// FD is a single open file descriptor: an inode reference plus the flags
// it was opened with and its current byte position.
type FD struct {
	mu sync.Mutex

	Ino    uint64
	Flags  int
	Access AccessMode
	pos    int64

	charDevOps Ops // non-nil only for character-device descriptors
}

// Position returns the descriptor's current read/write offset.
func (fd *FD) Position() int64 {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.pos
}

// SetPosition overwrites the descriptor's offset (lseek).
func (fd *FD) SetPosition(pos int64) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.pos = pos
}

// Table maps integer fd indices to *FD, pinning/unpinning the inode
// manager's refcount as descriptors come and go.
type Table struct {
	mgr *inode.Manager

	mu      syncutil.InvariantMutex
	next    int
	entries map[int]*FD

	opsMu sync.Mutex
	ops   map[devKey]Ops
}

type devKey struct {
	major, minor uint32
}

// New returns an empty Table bound to mgr.
func New(mgr *inode.Manager) *Table {
	return &Table{
		mgr:     mgr,
		next:    3, // 0,1,2 conventionally reserved for stdio by embedders
		entries: make(map[int]*FD),
		ops:     make(map[devKey]Ops),
	}
}

// RegisterOps installs the I/O implementation for a character-device
// (major, minor) pair. Opening a descriptor against an unregistered device
// fails in CreateFD with a missing-inode-ops error (ErrNoDev).
func (t *Table) RegisterOps(major, minor uint32, ops Ops) {
	t.opsMu.Lock()
	defer t.opsMu.Unlock()
	t.ops[devKey{major, minor}] = ops
}

func (t *Table) opsFor(major, minor uint32) (Ops, bool) {
	t.opsMu.Lock()
	defer t.opsMu.Unlock()
	ops, ok := t.ops[devKey{major, minor}]
	return ops, ok
}

// CreateFD allocates a new fd index for ino, pins ino's refcount, and
// returns the index and descriptor. For character-device inodes, the
// caller must supply the device's (major, minor) so I/O can be routed; for
// other types pass (0, 0).
func (t *Table) CreateFD(ino uint64, flags int, major, minor uint32, isCharDev bool) (int, *FD, error) {
	fd := &FD{Ino: ino, Flags: flags, Access: DeriveAccess(flags)}

	if isCharDev {
		ops, ok := t.opsFor(major, minor)
		if !ok {
			return 0, nil, xerrors.Wrap("open", "", xerrors.ErrNoDev,
				errMissingOps(major, minor))
		}
		fd.charDevOps = ops
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	index := t.next
	t.next++
	t.entries[index] = fd
	t.mgr.Ref(ino)
	return index, fd, nil
}

// Get returns the descriptor at index, or (nil, false) if it is closed.
func (t *Table) Get(index int) (*FD, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd, ok := t.entries[index]
	return fd, ok
}

// DeleteFD closes index, unpinning its inode's refcount under tx.
func (t *Table) DeleteFD(tx *kvstore.Txn, index int) error {
	t.mu.Lock()
	fd, ok := t.entries[index]
	if ok {
		delete(t.entries, index)
	}
	t.mu.Unlock()

	if !ok {
		return xerrors.New("close", "", xerrors.ErrBadFd)
	}
	return t.mgr.Unref(tx, fd.Ino, 1)
}

// DupFD allocates a new index pointing at the same descriptor object as
// oldIndex, so the two indices share position. The inode's refcount is
// bumped again: each fd index counts as its own reference.
func (t *Table) DupFD(oldIndex int) (int, error) {
	t.mu.Lock()
	fd, ok := t.entries[oldIndex]
	if !ok {
		t.mu.Unlock()
		return 0, xerrors.New("dup", "", xerrors.ErrBadFd)
	}
	newIndex := t.next
	t.next++
	t.entries[newIndex] = fd
	t.mu.Unlock()

	t.mgr.Ref(fd.Ino)
	return newIndex, nil
}

func errMissingOps(major, minor uint32) error {
	return fmt.Errorf("fdtable: no ops registered for character device %d:%d", major, minor)
}
