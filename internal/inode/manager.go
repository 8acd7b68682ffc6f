package inode

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jacobsa/syncutil"

	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
	"github.com/matrixai/go-encryptedfs/internal/xtime"
)

// rootMetaKey is the meta-namespace key holding the persisted root inode
// index, so that restart returns the same root.
var rootMetaKey = []byte("root-ino")

// nextInoMetaKey persists the allocation counter's high-water mark.
var nextInoMetaKey = []byte("next-ino")

// Manager is the inode manager. It owns per-inode locks (acquired in
// ascending numeric order by WithTransaction), the in-memory refcount
// table, and the inode-index allocator.
type Manager struct {
	store     *kvstore.Store
	blockSize int
	clock     xtime.Clock

	mu    sync.Mutex // guards locks, refs, nextIno, freeList, allocLocks
	locks map[uint64]*syncutil.InvariantMutex
	refs  map[uint64]*refcount

	nextIno  uint64
	freeList []uint64

	allocLocks map[string]*sync.Mutex

	rootIno uint64
}

// Config bundles the construction parameters for a Manager.
type Config struct {
	Store     *kvstore.Store
	BlockSize int
	Clock     xtime.Clock
}

// New opens (or initializes) the inode manager backed by store. If no root
// directory has ever been created, one is allocated with the given root
// mode/uid/gid and persisted; otherwise the prior root index is restored.
func New(cfg Config, rootMode, rootUID, rootGID uint32) (*Manager, error) {
	if cfg.Clock == nil {
		cfg.Clock = xtime.Real()
	}
	m := &Manager{
		store:      cfg.Store,
		blockSize:  cfg.BlockSize,
		clock:      cfg.Clock,
		locks:      make(map[uint64]*syncutil.InvariantMutex),
		refs:       make(map[uint64]*refcount),
		nextIno:    1,
		allocLocks: make(map[string]*sync.Mutex),
	}

	var rootIno uint64
	var rootExists bool
	err := m.store.View(func(tx *kvstore.Txn) error {
		raw, err := tx.Get(kvstore.NamespaceMeta, rootMetaKey)
		if err != nil {
			if xerrors.Is(err, xerrors.ErrNotExist) {
				return nil
			}
			return err
		}
		rootExists = true
		_, scanErr := fmt.Sscanf(string(raw), "%d", &rootIno)
		return scanErr
	})
	if err != nil {
		return nil, err
	}

	if rootExists {
		m.rootIno = rootIno
		err = m.store.View(func(tx *kvstore.Txn) error {
			raw, err := tx.Get(kvstore.NamespaceMeta, nextInoMetaKey)
			if err != nil {
				return err
			}
			_, scanErr := fmt.Sscanf(string(raw), "%d", &m.nextIno)
			return scanErr
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	ino, err := m.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := dirCreateLocked(tx, m.clock, newIno, rootMode, rootUID, rootGID, nil); err != nil {
			return err
		}
		return tx.Put(kvstore.NamespaceMeta, rootMetaKey, []byte(fmt.Sprintf("%d", newIno)))
	})
	if err != nil {
		return nil, fmt.Errorf("inode: create root: %w", err)
	}
	m.rootIno = ino
	return m, nil
}

// RootIno returns the persisted root inode index.
func (m *Manager) RootIno() uint64 {
	return m.rootIno
}

// BlockSize returns the configured file block size.
func (m *Manager) BlockSize() int {
	return m.blockSize
}

func (m *Manager) lockFor(ino uint64) *syncutil.InvariantMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[ino]
	if !ok {
		l = &syncutil.InvariantMutex{}
		m.locks[ino] = l
	}
	return l
}

// inoAllocate returns a fresh inode index: either recycled from the free
// list or the next counter value. It is synchronous and lock-free with
// respect to the KV store; callers on the failure path must call
// inoDeallocate to return the index.
func (m *Manager) inoAllocate() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.freeList); n > 0 {
		ino := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return ino
	}
	ino := m.nextIno
	m.nextIno++
	return ino
}

// inoDeallocate returns ino to the free list after a failed creation.
func (m *Manager) inoDeallocate(ino uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeList = append(m.freeList, ino)
}

// AllocationLock serializes concurrent allocation attempts for the same
// (parentIno, name) target: concurrent mkdir("a/b") callers converge on
// one winner instead of racing to create duplicate inodes. The returned
// func must be called to release the lock.
func (m *Manager) AllocationLock(parentIno uint64, name string) func() {
	key := fmt.Sprintf("%d/%s", parentIno, name)
	m.mu.Lock()
	mu, ok := m.allocLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		m.allocLocks[key] = mu
	}
	m.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// WithTransaction acquires per-inode locks on inos in ascending numeric
// order, runs fn inside a single KV write transaction, and releases the
// locks in reverse order on return.
func (m *Manager) WithTransaction(fn func(tx *kvstore.Txn) error, inos ...uint64) error {
	sorted := sortedUnique(inos)
	for _, ino := range sorted {
		m.lockFor(ino).Lock()
	}
	defer func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			m.lockFor(sorted[i]).Unlock()
		}
	}()
	return m.store.Update(fn)
}

// WithReadTransaction is WithTransaction's read-only counterpart.
func (m *Manager) WithReadTransaction(fn func(tx *kvstore.Txn) error, inos ...uint64) error {
	sorted := sortedUnique(inos)
	for _, ino := range sorted {
		m.lockFor(ino).Lock()
	}
	defer func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			m.lockFor(sorted[i]).Unlock()
		}
	}()
	return m.store.View(fn)
}

// WithNewInodeTransaction allocates a fresh inode index, opens a
// transaction on {newIno, extraInos...}, and runs fn. On error the index is
// returned to the free list and the KV writes are rolled back (bbolt
// rolls back automatically on a non-nil return from Update).
func (m *Manager) WithNewInodeTransaction(fn func(tx *kvstore.Txn, newIno uint64) error, extraInos ...uint64) (uint64, error) {
	newIno := m.inoAllocate()
	inos := append([]uint64{newIno}, extraInos...)
	err := m.WithTransaction(func(tx *kvstore.Txn) error {
		if err := fn(tx, newIno); err != nil {
			return err
		}
		// Persist the allocator's high-water mark in the same transaction
		// so a restart resumes past every inode ever successfully created.
		m.mu.Lock()
		next := m.nextIno
		m.mu.Unlock()
		return tx.Put(kvstore.NamespaceMeta, nextInoMetaKey, []byte(fmt.Sprintf("%d", next)))
	}, inos...)
	if err != nil {
		m.inoDeallocate(newIno)
		return 0, err
	}
	return newIno, nil
}

// Ref increments ino's in-memory reference count. It does not require a
// transaction: the refcount is purely in-memory bookkeeping for open
// descriptors.
func (m *Manager) Ref(ino uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.refs[ino]
	if !ok {
		rc = &refcount{}
		m.refs[ino] = rc
	}
	rc.inc()
}

// Unref decrements ino's in-memory reference count by n. If the count
// reaches zero and the inode is gc-marked, it is destroyed within tx (the
// caller must supply an active transaction that already holds ino's lock).
func (m *Manager) Unref(tx *kvstore.Txn, ino uint64, n uint64) error {
	m.mu.Lock()
	rc, ok := m.refs[ino]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	zero := rc.dec(n)
	if zero {
		delete(m.refs, ino)
	}
	m.mu.Unlock()

	if !zero {
		return nil
	}

	rec, err := getRecord(tx, ino)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotExist) {
			return nil
		}
		return err
	}
	if !rec.GC {
		return nil
	}
	return destroyInode(tx, ino, rec.Type)
}

// destroyInodeIfUnreferenced marks ino for garbage collection once its
// nlink drops to zero: if nothing currently holds an open reference, it is
// destroyed immediately within tx; otherwise it is flagged gc=true and
// destruction is deferred to the final Unref.
func (m *Manager) destroyInodeIfUnreferenced(tx *kvstore.Txn, ino uint64) error {
	rec, err := getRecord(tx, ino)
	if err != nil {
		return err
	}

	m.mu.Lock()
	rc, held := m.refs[ino]
	referenced := held && rc.count > 0
	m.mu.Unlock()

	if referenced {
		rec.GC = true
		return putRecord(tx, rec)
	}
	return destroyInode(tx, ino, rec.Type)
}

func destroyInode(tx *kvstore.Txn, ino uint64, typ Type) error {
	switch typ {
	case TypeDirectory:
		if err := tx.Delete(kvstore.NamespaceDir, dirEntryKey(ino, ".")); err != nil {
			return err
		}
		if err := tx.Delete(kvstore.NamespaceDir, dirEntryKey(ino, "..")); err != nil {
			return err
		}
	case TypeFile:
		if err := fileClearDataLocked(tx, ino); err != nil {
			return err
		}
	case TypeSymlink:
		if err := tx.Delete(kvstore.NamespaceSymlink, symlinkKey(ino)); err != nil {
			return err
		}
	}
	if err := tx.Delete(kvstore.NamespaceStat, statKey(ino)); err != nil {
		return err
	}
	return deleteRecord(tx, ino)
}

func sortedUnique(inos []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(inos))
	out := make([]uint64, 0, len(inos))
	for _, ino := range inos {
		if _, ok := seen[ino]; ok {
			continue
		}
		seen[ino] = struct{}{}
		out = append(out, ino)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
