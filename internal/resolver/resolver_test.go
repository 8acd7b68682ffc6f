package resolver

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixai/go-encryptedfs/internal/block"
	"github.com/matrixai/go-encryptedfs/internal/inode"
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
	"github.com/matrixai/go-encryptedfs/internal/xtime"
)

func newTestFixture(t *testing.T) (*inode.Manager, *Resolver) {
	t.Helper()
	codec := block.NewWithIterations(bytes.Repeat([]byte{0x33}, 32), 4096, 4)
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "test.db"), codec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mgr, err := inode.New(inode.Config{Store: store, BlockSize: 4096, Clock: xtime.NewSimulated()}, 0755, 0, 0)
	require.NoError(t, err)
	return mgr, New(mgr)
}

func TestNavigateRootPath(t *testing.T) {
	mgr, r := newTestFixture(t)
	root := mgr.RootIno()

	var nav Navigated
	err := mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		var err error
		nav, err = r.Navigate(tx, root, root, "/", true, nil)
		return err
	}, root)
	require.NoError(t, err)
	require.NotNil(t, nav.Target)
	require.Equal(t, root, *nav.Target)
	require.Equal(t, root, nav.Dir)
}

func TestNavigateNestedDirectory(t *testing.T) {
	mgr, r := newTestFixture(t)
	root := mgr.RootIno()

	aIno, err := mgr.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := mgr.DirCreate(tx, newIno, inode.Attr{Mode: 0755}, &root); err != nil {
			return err
		}
		return mgr.DirSetEntry(tx, root, "a", newIno)
	}, root)
	require.NoError(t, err)

	bIno, err := mgr.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := mgr.FileCreate(tx, newIno, inode.Attr{Mode: 0644}, []byte("hi")); err != nil {
			return err
		}
		return mgr.DirSetEntry(tx, aIno, "b.txt", newIno)
	}, aIno)
	require.NoError(t, err)

	var nav Navigated
	err = mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		var err error
		nav, err = r.Navigate(tx, root, root, "/a/b.txt", true, nil)
		return err
	}, root, aIno, bIno)
	require.NoError(t, err)
	require.NotNil(t, nav.Target)
	require.Equal(t, bIno, *nav.Target)
	require.Equal(t, aIno, nav.Dir)
	require.Equal(t, []string{"a", "b.txt"}, nav.PathStack)
}

func TestNavigateMissingTerminalSegment(t *testing.T) {
	mgr, r := newTestFixture(t)
	root := mgr.RootIno()

	var nav Navigated
	err := mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		var err error
		nav, err = r.Navigate(tx, root, root, "/missing", true, nil)
		return err
	}, root)
	require.NoError(t, err)
	require.Nil(t, nav.Target)
	require.Equal(t, "missing", nav.Name)
	require.Equal(t, root, nav.Dir)
}

func TestNavigateFollowsSymlink(t *testing.T) {
	mgr, r := newTestFixture(t)
	root := mgr.RootIno()

	targetIno, err := mgr.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := mgr.FileCreate(tx, newIno, inode.Attr{Mode: 0644}, []byte("data")); err != nil {
			return err
		}
		return mgr.DirSetEntry(tx, root, "target.txt", newIno)
	}, root)
	require.NoError(t, err)

	_, err = mgr.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := mgr.SymlinkCreate(tx, newIno, inode.Attr{Mode: 0777}, "target.txt"); err != nil {
			return err
		}
		return mgr.DirSetEntry(tx, root, "link", newIno)
	}, root)
	require.NoError(t, err)

	var nav Navigated
	err = mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		var err error
		nav, err = r.Navigate(tx, root, root, "/link", true, nil)
		return err
	}, root, targetIno)
	require.NoError(t, err)
	require.NotNil(t, nav.Target)
	require.Equal(t, targetIno, *nav.Target)
}

func TestNavigateDetectsSymlinkLoop(t *testing.T) {
	mgr, r := newTestFixture(t)
	root := mgr.RootIno()

	_, err := mgr.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := mgr.SymlinkCreate(tx, newIno, inode.Attr{Mode: 0777}, "loop"); err != nil {
			return err
		}
		return mgr.DirSetEntry(tx, root, "loop", newIno)
	}, root)
	require.NoError(t, err)

	err = mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		_, err := r.Navigate(tx, root, root, "/loop", true, nil)
		return err
	}, root)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.ErrLoop))
}

func TestNavigateDotDotGoesToParent(t *testing.T) {
	mgr, r := newTestFixture(t)
	root := mgr.RootIno()

	aIno, err := mgr.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := mgr.DirCreate(tx, newIno, inode.Attr{Mode: 0755}, &root); err != nil {
			return err
		}
		return mgr.DirSetEntry(tx, root, "a", newIno)
	}, root)
	require.NoError(t, err)

	var nav Navigated
	err = mgr.WithReadTransaction(func(tx *kvstore.Txn) error {
		var err error
		nav, err = r.Navigate(tx, root, aIno, "..", true, nil)
		return err
	}, root, aIno)
	require.NoError(t, err)
	require.NotNil(t, nav.Target)
	require.Equal(t, root, *nav.Target)
}
