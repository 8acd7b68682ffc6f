// Package encryptedfs is a POSIX-ish filesystem facade backed by an
// encrypted, transactional KV store. Every call normalizes its arguments,
// resolves the path via the internal resolver, checks permissions against
// the effective uid/gid, and issues the minimal set of inode-manager calls
// under a single transaction where possible.
//
// Grounded on gcsfuse's fs.FileSystem (fs/fs.go): a struct bundling the
// backing store, the inode manager, and a handle table, exposing one
// method per syscall-shaped operation, generalized from "kernel-facing
// fuseops.FileSystem" to "in-process library API".
package encryptedfs

import (
	"fmt"
	"sync"

	"github.com/matrixai/go-encryptedfs/internal/block"
	"github.com/matrixai/go-encryptedfs/internal/fdtable"
	"github.com/matrixai/go-encryptedfs/internal/inode"
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
	"github.com/matrixai/go-encryptedfs/internal/xlog"
	"github.com/matrixai/go-encryptedfs/internal/xmetrics"
	"github.com/matrixai/go-encryptedfs/internal/xtime"
)

// DefaultBlockSize is used when Options.BlockSize is left zero.
const DefaultBlockSize = 4096

// DefaultRootMode is the permission/type bits the root directory is
// created with the first time a database is opened.
const DefaultRootMode = 0o755

// Options configures New.
type Options struct {
	// DBPath is the bbolt file backing the filesystem's metadata and data.
	DBPath string
	// MasterKey is the at-rest encryption key; see internal/block.
	MasterKey []byte
	// BlockSize is the file block size in bytes. Defaults to
	// DefaultBlockSize.
	BlockSize int
	// KDFIterations overrides internal/block's default PBKDF2 iteration
	// count; zero keeps the default.
	KDFIterations int
	// Umask is applied to the mode of every newly created inode.
	Umask uint32
	// Logger receives structured diagnostics; defaults to xlog.Default().
	Logger *xlog.Logger
	// Metrics receives operation counters/histograms; defaults to
	// xmetrics.New(), a set bound to its own private registry.
	Metrics *xmetrics.Metrics
	// Clock supplies inode timestamps; defaults to the wall clock.
	Clock xtime.Clock
}

// EFS is a handle onto one encrypted filesystem database.
type EFS struct {
	store *kvstore.Store
	mgr   *inode.Manager
	fds   *fdtable.Table
	res   *resolverFacade

	umask   uint32
	log     *xlog.Logger
	metrics *xmetrics.Metrics

	mu       sync.Mutex
	uid, gid uint32

	cwd       *cwd
	parent    *EFS // non-nil for a chroot()'d instance
	chrootIno *uint64
	mu2       sync.Mutex
	childFS   []*EFS
}

// New opens (or initializes) a filesystem at opts.DBPath.
func New(opts Options) (*EFS, error) {
	if opts.DBPath == "" {
		return nil, fmt.Errorf("encryptedfs: DBPath is required")
	}
	if len(opts.MasterKey) == 0 {
		return nil, fmt.Errorf("encryptedfs: MasterKey is required")
	}
	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}

	var codec *block.Codec
	if opts.KDFIterations > 0 {
		codec = block.NewWithIterations(opts.MasterKey, blockSize, opts.KDFIterations)
	} else {
		codec = block.New(opts.MasterKey, blockSize)
	}

	store, err := kvstore.Open(opts.DBPath, codec)
	if err != nil {
		return nil, fmt.Errorf("encryptedfs: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = xtime.Real()
	}

	mgr, err := inode.New(inode.Config{Store: store, BlockSize: blockSize, Clock: clock}, DefaultRootMode, 0, 0)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("encryptedfs: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = xlog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = xmetrics.New()
	}

	fds := fdtable.New(mgr)
	root := mgr.RootIno()

	efs := &EFS{
		store:   store,
		mgr:     mgr,
		fds:     fds,
		res:     newResolverFacade(mgr),
		umask:   opts.Umask,
		log:     logger,
		metrics: metrics,
		cwd:     &cwd{ino: root, pathStack: nil},
	}
	mgr.Ref(root)
	return efs, nil
}

// Close releases the underlying database. Any chroot()'d instances
// derived from this EFS are closed first.
func (e *EFS) Close() error {
	e.mu2.Lock()
	children := e.childFS
	e.childFS = nil
	e.mu2.Unlock()

	for _, c := range children {
		_ = c.Close()
	}

	if e.parent != nil {
		return nil // chroot'd instances share the parent's store
	}
	if err := e.log.Close(); err != nil {
		return err
	}
	return e.store.Close()
}

// SetOwner fixes the effective uid/gid subsequent calls are checked
// against. uid 0 bypasses all permission checks.
func (e *EFS) SetOwner(uid, gid uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uid, e.gid = uid, gid
}

func (e *EFS) owner() (uid, gid uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uid, e.gid
}

// cwd is the current-working-directory object: it holds the cwd's inode
// and the path stack accumulated to reach it.
type cwd struct {
	mu        sync.Mutex
	ino       uint64
	pathStack []string
}

func (c *cwd) get() (uint64, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ino, append([]string(nil), c.pathStack...)
}

func (c *cwd) set(ino uint64, stack []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ino = ino
	c.pathStack = stack
}

// Chdir verifies path resolves to a directory the caller may X_OK into,
// then refs the new inode and unrefs the old one under one transaction.
func (e *EFS) Chdir(path string) error {
	uid, gid := e.owner()
	oldIno, _ := e.cwd.get()

	var newIno uint64
	var newStack []string
	err := e.mgr.WithTransaction(func(tx *kvstore.Txn) error {
		nav, err := e.res.navigate(tx, e.rootIno(), oldIno, path, true, uid, gid)
		if err != nil {
			return err
		}
		if nav.Target == nil {
			return xerrors.New("chdir", path, xerrors.ErrNotExist)
		}
		st, err := e.mgr.StatGet(tx, *nav.Target)
		if err != nil {
			return err
		}
		if !isDirMode(st.Mode) {
			return xerrors.New("chdir", path, xerrors.ErrNotDir)
		}
		if err := checkAccess(st, uid, gid, accessX); err != nil {
			return xerrors.New("chdir", path, err)
		}
		newIno = *nav.Target
		newStack = nav.PathStack
		e.mgr.Ref(newIno)
		return e.mgr.Unref(tx, oldIno, 1)
	}, oldIno)
	if err != nil {
		return err
	}
	e.cwd.set(newIno, newStack)
	return nil
}

// Getcwd returns the absolute path of the current working directory.
func (e *EFS) Getcwd() string {
	_, stack := e.cwd.get()
	if len(stack) == 0 {
		return "/"
	}
	out := ""
	for _, seg := range stack {
		out += "/" + seg
	}
	return out
}

func (e *EFS) rootIno() uint64 {
	if e.chrootIno != nil {
		return *e.chrootIno
	}
	return e.mgr.RootIno()
}
