package inode

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixai/go-encryptedfs/internal/block"
	"github.com/matrixai/go-encryptedfs/internal/kvstore"
	"github.com/matrixai/go-encryptedfs/internal/xtime"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	codec := block.NewWithIterations(bytes.Repeat([]byte{0x11}, 32), 4096, 4)
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "test.db"), codec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m, err := New(Config{Store: store, BlockSize: 4096, Clock: xtime.NewSimulated()}, 0755, 0, 0)
	require.NoError(t, err)
	return m
}

func TestNewCreatesRootDirectory(t *testing.T) {
	m := newTestManager(t)
	root := m.RootIno()
	require.NotZero(t, root)

	err := m.WithReadTransaction(func(tx *kvstore.Txn) error {
		st, err := m.StatGet(tx, root)
		require.NoError(t, err)
		require.EqualValues(t, 2, st.Nlink)

		self, err := m.DirGetEntry(tx, root, ".")
		require.NoError(t, err)
		require.Equal(t, root, *self)

		parent, err := m.DirGetEntry(tx, root, "..")
		require.NoError(t, err)
		require.Equal(t, root, *parent)
		return nil
	}, root)
	require.NoError(t, err)
}

func TestReopenRestoresSameRoot(t *testing.T) {
	codec := block.NewWithIterations(bytes.Repeat([]byte{0x22}, 32), 4096, 4)
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	store1, err := kvstore.Open(path, codec)
	require.NoError(t, err)
	m1, err := New(Config{Store: store1, BlockSize: 4096, Clock: xtime.NewSimulated()}, 0755, 0, 0)
	require.NoError(t, err)
	root1 := m1.RootIno()
	require.NoError(t, store1.Close())

	store2, err := kvstore.Open(path, codec)
	require.NoError(t, err)
	defer store2.Close()
	m2, err := New(Config{Store: store2, BlockSize: 4096, Clock: xtime.NewSimulated()}, 0755, 0, 0)
	require.NoError(t, err)

	require.Equal(t, root1, m2.RootIno())
}

func TestMkdirLinksIntoParentAndBumpsNlink(t *testing.T) {
	m := newTestManager(t)
	root := m.RootIno()

	childIno, err := m.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := m.DirCreate(tx, newIno, Attr{Mode: 0755}, &root); err != nil {
			return err
		}
		return m.DirSetEntry(tx, root, "child", newIno)
	}, root)
	require.NoError(t, err)

	err = m.WithReadTransaction(func(tx *kvstore.Txn) error {
		rootSt, err := m.StatGet(tx, root)
		require.NoError(t, err)
		require.EqualValues(t, 3, rootSt.Nlink) // 2 + 1 subdirectory

		got, err := m.DirGetEntry(tx, root, "child")
		require.NoError(t, err)
		require.Equal(t, childIno, *got)

		parent, err := m.DirGetEntry(tx, childIno, "..")
		require.NoError(t, err)
		require.Equal(t, root, *parent)
		return nil
	}, root, childIno)
	require.NoError(t, err)
}

func TestFileCreateWriteReadRoundTrip(t *testing.T) {
	m := newTestManager(t)
	root := m.RootIno()

	data := bytes.Repeat([]byte("abcd"), 3000) // spans several 4096-byte blocks

	fileIno, err := m.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := m.FileCreate(tx, newIno, Attr{Mode: 0644}, data); err != nil {
			return err
		}
		return m.DirSetEntry(tx, root, "big.txt", newIno)
	}, root)
	require.NoError(t, err)

	var got []byte
	err = m.WithReadTransaction(func(tx *kvstore.Txn) error {
		st, err := m.StatGet(tx, fileIno)
		require.NoError(t, err)
		require.EqualValues(t, len(data), st.Size)

		return m.FileGetBlocks(tx, fileIno, 0, nil, func(block uint64, d []byte) error {
			got = append(got, d...)
			return nil
		})
	}, fileIno)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFileSetBlocksRejectsGap(t *testing.T) {
	m := newTestManager(t)
	root := m.RootIno()

	fileIno, err := m.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		return m.FileCreate(tx, newIno, Attr{Mode: 0644}, nil)
	}, root)
	require.NoError(t, err)

	err = m.WithTransaction(func(tx *kvstore.Txn) error {
		return m.FileSetBlocks(tx, fileIno, []byte("hi"), 5)
	}, fileIno)
	require.Error(t, err)
}

func TestFileClearDataResetsSizeAndBlocks(t *testing.T) {
	m := newTestManager(t)
	root := m.RootIno()

	fileIno, err := m.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		return m.FileCreate(tx, newIno, Attr{Mode: 0644}, []byte("hello world"))
	}, root)
	require.NoError(t, err)

	err = m.WithTransaction(func(tx *kvstore.Txn) error {
		return m.FileClearData(tx, fileIno)
	}, fileIno)
	require.NoError(t, err)

	err = m.WithReadTransaction(func(tx *kvstore.Txn) error {
		st, err := m.StatGet(tx, fileIno)
		require.NoError(t, err)
		require.Zero(t, st.Size)
		require.Zero(t, st.Blocks)
		return nil
	}, fileIno)
	require.NoError(t, err)
}

func TestSymlinkCreateAndGetLink(t *testing.T) {
	m := newTestManager(t)
	root := m.RootIno()

	symIno, err := m.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := m.SymlinkCreate(tx, newIno, Attr{Mode: 0777}, "../target"); err != nil {
			return err
		}
		return m.DirSetEntry(tx, root, "link", newIno)
	}, root)
	require.NoError(t, err)

	err = m.WithReadTransaction(func(tx *kvstore.Txn) error {
		target, err := m.SymlinkGetLink(tx, symIno)
		require.NoError(t, err)
		require.Equal(t, "../target", target)
		return nil
	}, symIno)
	require.NoError(t, err)
}

func TestDirUnsetEntryDestroysUnreferencedChild(t *testing.T) {
	m := newTestManager(t)
	root := m.RootIno()

	fileIno, err := m.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := m.FileCreate(tx, newIno, Attr{Mode: 0644}, []byte("x")); err != nil {
			return err
		}
		return m.DirSetEntry(tx, root, "f", newIno)
	}, root)
	require.NoError(t, err)

	err = m.WithTransaction(func(tx *kvstore.Txn) error {
		return m.DirUnsetEntry(tx, root, "f")
	}, root, fileIno)
	require.NoError(t, err)

	err = m.WithReadTransaction(func(tx *kvstore.Txn) error {
		_, err := m.StatGet(tx, fileIno)
		return err
	}, fileIno)
	require.Error(t, err) // destroyed: stat record gone
}

func TestDirUnsetEntryDefersDestroyWhileReferenced(t *testing.T) {
	m := newTestManager(t)
	root := m.RootIno()

	fileIno, err := m.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := m.FileCreate(tx, newIno, Attr{Mode: 0644}, []byte("x")); err != nil {
			return err
		}
		return m.DirSetEntry(tx, root, "f", newIno)
	}, root)
	require.NoError(t, err)

	m.Ref(fileIno)

	err = m.WithTransaction(func(tx *kvstore.Txn) error {
		return m.DirUnsetEntry(tx, root, "f")
	}, root, fileIno)
	require.NoError(t, err)

	// Still alive: gc-marked but referenced.
	err = m.WithReadTransaction(func(tx *kvstore.Txn) error {
		_, err := m.StatGet(tx, fileIno)
		return err
	}, fileIno)
	require.NoError(t, err)

	err = m.WithTransaction(func(tx *kvstore.Txn) error {
		return m.Unref(tx, fileIno, 1)
	}, fileIno)
	require.NoError(t, err)

	err = m.WithReadTransaction(func(tx *kvstore.Txn) error {
		_, err := m.StatGet(tx, fileIno)
		return err
	}, fileIno)
	require.Error(t, err)
}

func TestDirResetEntryRenamesWithinDirectory(t *testing.T) {
	m := newTestManager(t)
	root := m.RootIno()

	childIno, err := m.WithNewInodeTransaction(func(tx *kvstore.Txn, newIno uint64) error {
		if err := m.FileCreate(tx, newIno, Attr{Mode: 0644}, nil); err != nil {
			return err
		}
		return m.DirSetEntry(tx, root, "old", newIno)
	}, root)
	require.NoError(t, err)

	err = m.WithTransaction(func(tx *kvstore.Txn) error {
		return m.DirResetEntry(tx, root, "old", "new")
	}, root)
	require.NoError(t, err)

	err = m.WithReadTransaction(func(tx *kvstore.Txn) error {
		gone, err := m.DirGetEntry(tx, root, "old")
		require.NoError(t, err)
		require.Nil(t, gone)

		got, err := m.DirGetEntry(tx, root, "new")
		require.NoError(t, err)
		require.Equal(t, childIno, *got)
		return nil
	}, root)
	require.NoError(t, err)
}
