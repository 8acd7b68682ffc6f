package kvstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixai/go-encryptedfs/internal/block"
	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	codec := block.NewWithIterations(bytes.Repeat([]byte{0x7a}, 32), 4096, 4)
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), codec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	err := s.Update(func(txn *Txn) error {
		return txn.Put(NamespaceStat, []byte("1"), []byte("hello"))
	})
	require.NoError(t, err)

	var got []byte
	err = s.View(func(txn *Txn) error {
		var err error
		got, err = txn.Get(NamespaceStat, []byte("1"))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestGetMissingKeyIsNotExist(t *testing.T) {
	s := openTestStore(t)

	err := s.View(func(txn *Txn) error {
		_, err := txn.Get(NamespaceStat, []byte("missing"))
		return err
	})
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.ErrNotExist))
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	err := s.Update(func(txn *Txn) error {
		return txn.Delete(NamespaceStat, []byte("never-existed"))
	})
	require.NoError(t, err)
}

func TestForEachRespectsPrefixAndOrder(t *testing.T) {
	s := openTestStore(t)

	err := s.Update(func(txn *Txn) error {
		for _, k := range []string{"dir/1/a", "dir/1/b", "dir/2/a", "other"} {
			if err := txn.Put(NamespaceDir, []byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var keys []string
	err = s.View(func(txn *Txn) error {
		return txn.ForEach(NamespaceDir, []byte("dir/1/"), func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, []string{"dir/1/a", "dir/1/b"}, keys)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := openTestStore(t)

	sentinel := xerrors.New("test", "x", xerrors.ErrInvalid)
	err := s.Update(func(txn *Txn) error {
		if err := txn.Put(NamespaceStat, []byte("rolled-back"), []byte("x")); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	err = s.View(func(txn *Txn) error {
		_, err := txn.Get(NamespaceStat, []byte("rolled-back"))
		return err
	})
	require.True(t, xerrors.Is(err, xerrors.ErrNotExist))
}

func TestOnSuccessAndOnFailureHooks(t *testing.T) {
	s := openTestStore(t)

	var successRan, failureRan bool
	err := s.Update(func(txn *Txn) error {
		txn.OnSuccess(func() { successRan = true })
		txn.OnFailure(func() { failureRan = true })
		return nil
	})
	require.NoError(t, err)
	require.True(t, successRan)
	require.False(t, failureRan)

	successRan, failureRan = false, false
	boom := xerrors.New("test", "y", xerrors.ErrInvalid)
	err = s.Update(func(txn *Txn) error {
		txn.OnSuccess(func() { successRan = true })
		txn.OnFailure(func() { failureRan = true })
		return boom
	})
	require.Error(t, err)
	require.False(t, successRan)
	require.True(t, failureRan)
}
