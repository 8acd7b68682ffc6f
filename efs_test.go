package encryptedfs

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

func newTestEFS(t *testing.T) *EFS {
	t.Helper()
	efs, err := New(Options{
		DBPath:        filepath.Join(t.TempDir(), "test.db"),
		MasterKey:     bytes.Repeat([]byte{0x42}, 32),
		KDFIterations: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = efs.Close() })
	return efs
}

func TestMkdirAndReaddir(t *testing.T) {
	efs := newTestEFS(t)

	require.NoError(t, efs.Mkdir("/a", MkdirOptions{Mode: 0o755}))
	require.NoError(t, efs.Mkdir("/a/b", MkdirOptions{Mode: 0o755}))

	entries, err := efs.Readdir("/a")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["."])
	require.True(t, names[".."])
	require.True(t, names["b"])
}

func TestMkdirRecursiveAdoptsExisting(t *testing.T) {
	efs := newTestEFS(t)

	require.NoError(t, efs.Mkdir("/x/y/z", MkdirOptions{Mode: 0o755, Recursive: true}))
	// Re-running recursively over the same path must adopt, not fail.
	require.NoError(t, efs.Mkdir("/x/y/z", MkdirOptions{Mode: 0o755, Recursive: true}))

	st, err := efs.Stat("/x/y/z")
	require.NoError(t, err)
	require.True(t, isDirMode(st.Mode))
}

func TestMkdirNonRecursiveRejectsExisting(t *testing.T) {
	efs := newTestEFS(t)

	require.NoError(t, efs.Mkdir("/dup", MkdirOptions{Mode: 0o755}))
	err := efs.Mkdir("/dup", MkdirOptions{Mode: 0o755})
	require.ErrorIs(t, err, xerrors.ErrExist)
}

func TestMkdirConcurrentRaceConvergesOnOneWinner(t *testing.T) {
	efs := newTestEFS(t)
	require.NoError(t, efs.Mkdir("/parent", MkdirOptions{Mode: 0o755}))

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = efs.Mkdir("/parent/child", MkdirOptions{Mode: 0o755, Recursive: true})
		}(i)
	}
	wg.Wait()
	for _, err := range results {
		require.NoError(t, err)
	}

	entries, err := efs.Readdir("/parent")
	require.NoError(t, err)
	count := 0
	for _, e := range entries {
		if e.Name == "child" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	efs := newTestEFS(t)

	fd, err := efs.Open("/file.txt", "w", 0o644)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("hello world "), 1000)
	n, err := efs.Write(fd, data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, efs.Close(fd))

	fd2, err := efs.Open("/file.txt", "r", 0)
	require.NoError(t, err)
	defer efs.Close(fd2)

	buf := make([]byte, len(data))
	n, err = efs.Read(fd2, buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, buf)
}

func TestWriteAcrossBlockBoundary(t *testing.T) {
	efs := newTestEFS(t)

	fd, err := efs.Open("/blocks.bin", "w", 0o644)
	require.NoError(t, err)
	defer efs.Close(fd)

	// DefaultBlockSize is 4096; straddle the boundary deliberately.
	payload := bytes.Repeat([]byte{0xAB}, DefaultBlockSize+10)
	_, err = efs.Write(fd, payload, DefaultBlockSize-5)
	require.NoError(t, err)

	st, err := efs.Fstat(fd)
	require.NoError(t, err)
	require.EqualValues(t, DefaultBlockSize-5+len(payload), st.Size)

	buf := make([]byte, len(payload))
	n, err := efs.Read(fd, buf, DefaultBlockSize-5)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestTruncateShrinkThenReadPastOldSize(t *testing.T) {
	efs := newTestEFS(t)

	fd, err := efs.Open("/shrink.bin", "w", 0o644)
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0x01}, 8192)
	_, err = efs.Write(fd, data, 0)
	require.NoError(t, err)
	require.NoError(t, efs.Close(fd))

	require.NoError(t, efs.Truncate("/shrink.bin", 100))

	st, err := efs.Stat("/shrink.bin")
	require.NoError(t, err)
	require.EqualValues(t, 100, st.Size)

	fd2, err := efs.Open("/shrink.bin", "r", 0)
	require.NoError(t, err)
	defer efs.Close(fd2)

	buf := make([]byte, 4096)
	n, err := efs.Read(fd2, buf, 0)
	require.NoError(t, err)
	require.Equal(t, 100, n)
}

func TestSymlinkLoopDetected(t *testing.T) {
	efs := newTestEFS(t)

	require.NoError(t, efs.Symlink("/b", "/a"))
	require.NoError(t, efs.Symlink("/a", "/b"))

	_, err := efs.Stat("/a")
	require.ErrorIs(t, err, xerrors.ErrLoop)
}

func TestSymlinkReadlink(t *testing.T) {
	efs := newTestEFS(t)

	require.NoError(t, efs.Mkdir("/target", MkdirOptions{Mode: 0o755}))
	require.NoError(t, efs.Symlink("/target", "/link"))

	got, err := efs.Readlink("/link")
	require.NoError(t, err)
	require.Equal(t, "/target", got)

	st, err := efs.Stat("/link")
	require.NoError(t, err)
	require.True(t, isDirMode(st.Mode))

	lst, err := efs.Lstat("/link")
	require.NoError(t, err)
	require.True(t, isLinkMode(lst.Mode))
}

func TestRenameReplacesExistingFile(t *testing.T) {
	efs := newTestEFS(t)

	fd1, err := efs.Open("/old.txt", "w", 0o644)
	require.NoError(t, err)
	_, err = efs.Write(fd1, []byte("old"), 0)
	require.NoError(t, err)
	require.NoError(t, efs.Close(fd1))

	fd2, err := efs.Open("/new.txt", "w", 0o644)
	require.NoError(t, err)
	_, err = efs.Write(fd2, []byte("new"), 0)
	require.NoError(t, err)
	require.NoError(t, efs.Close(fd2))

	require.NoError(t, efs.Rename("/old.txt", "/new.txt"))
	require.False(t, efs.Exists("/old.txt"))

	fd3, err := efs.Open("/new.txt", "r", 0)
	require.NoError(t, err)
	defer efs.Close(fd3)
	buf := make([]byte, 3)
	n, err := efs.Read(fd3, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "old", string(buf[:n]))
}

func TestRenameRejectsMovingDirectoryIntoOwnDescendant(t *testing.T) {
	efs := newTestEFS(t)

	require.NoError(t, efs.Mkdir("/p", MkdirOptions{Mode: 0o755}))
	require.NoError(t, efs.Mkdir("/p/child", MkdirOptions{Mode: 0o755}))

	err := efs.Rename("/p", "/p/child/moved")
	require.Error(t, err)
}

func TestPermissionDeniedOnWriteWithoutAccess(t *testing.T) {
	efs := newTestEFS(t)

	require.NoError(t, efs.Mkdir("/restricted", MkdirOptions{Mode: 0o700}))
	efs.SetOwner(0, 0)
	require.NoError(t, efs.Chown("/restricted", 0, 0))

	efs.SetOwner(2000, 2000)
	_, err := efs.Open("/restricted/file", "w", 0o644)
	require.ErrorIs(t, err, xerrors.ErrAccess)
}

func TestUnlinkRemovesFileEntry(t *testing.T) {
	efs := newTestEFS(t)

	fd, err := efs.Open("/gone.txt", "w", 0o644)
	require.NoError(t, err)
	require.NoError(t, efs.Close(fd))

	require.NoError(t, efs.Unlink("/gone.txt"))
	require.False(t, efs.Exists("/gone.txt"))
}

func TestRmdirRecursiveRemovesTree(t *testing.T) {
	efs := newTestEFS(t)

	require.NoError(t, efs.Mkdir("/tree/a/b", MkdirOptions{Mode: 0o755, Recursive: true}))
	fd, err := efs.Open("/tree/a/file.txt", "w", 0o644)
	require.NoError(t, err)
	require.NoError(t, efs.Close(fd))

	require.NoError(t, efs.Rmdir("/tree", RmdirOptions{Recursive: true}))
	require.False(t, efs.Exists("/tree"))
}

func TestFsckReportsClean(t *testing.T) {
	efs := newTestEFS(t)

	require.NoError(t, efs.Mkdir("/a/b", MkdirOptions{Mode: 0o755, Recursive: true}))
	fd, err := efs.Open("/a/file.txt", "w", 0o644)
	require.NoError(t, err)
	_, err = efs.Write(fd, []byte("data"), 0)
	require.NoError(t, err)
	require.NoError(t, efs.Close(fd))

	report, err := efs.Fsck()
	require.NoError(t, err)
	require.True(t, report.Clean())
	require.GreaterOrEqual(t, report.TotalInodes, 3)
}

func TestCopyFileDuplicatesContents(t *testing.T) {
	efs := newTestEFS(t)

	fd, err := efs.Open("/src.txt", "w", 0o644)
	require.NoError(t, err)
	_, err = efs.Write(fd, []byte("copy me"), 0)
	require.NoError(t, err)
	require.NoError(t, efs.Close(fd))

	require.NoError(t, efs.CopyFile("/src.txt", "/dst.txt", 0o644))

	fd2, err := efs.Open("/dst.txt", "r", 0)
	require.NoError(t, err)
	defer efs.Close(fd2)
	buf := make([]byte, 7)
	n, err := efs.Read(fd2, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "copy me", string(buf[:n]))
}

func TestMkdtempCreatesUniqueDirectories(t *testing.T) {
	efs := newTestEFS(t)
	require.NoError(t, efs.Mkdir("/tmp", MkdirOptions{Mode: 0o755}))

	p1, err := efs.Mkdtemp("/tmp")
	require.NoError(t, err)
	p2, err := efs.Mkdtemp("/tmp")
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)

	st, err := efs.Stat(p1)
	require.NoError(t, err)
	require.True(t, isDirMode(st.Mode))
}

func TestChrootIsolatesRootView(t *testing.T) {
	efs := newTestEFS(t)

	require.NoError(t, efs.Mkdir("/jail", MkdirOptions{Mode: 0o755}))
	require.NoError(t, efs.Mkdir("/jail/inner", MkdirOptions{Mode: 0o755}))

	jailed, err := efs.Chroot("/jail")
	require.NoError(t, err)
	defer jailed.Close()

	entries, err := jailed.Readdir("/")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["inner"])
	require.False(t, names["jail"])
}

func TestReadWriteAppendFileRoundTrip(t *testing.T) {
	efs := newTestEFS(t)

	require.NoError(t, efs.WriteFile("/whole.txt", []byte("hello"), 0o644))
	got, err := efs.ReadFile("/whole.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	require.NoError(t, efs.AppendFile("/whole.txt", []byte(" world"), 0o644))
	got, err = efs.ReadFile("/whole.txt")
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))

	// WriteFile truncates any prior contents rather than appending.
	require.NoError(t, efs.WriteFile("/whole.txt", []byte("bye"), 0o644))
	got, err = efs.ReadFile("/whole.txt")
	require.NoError(t, err)
	require.Equal(t, "bye", string(got))
}

func TestFsyncAndFdatasyncValidateDescriptor(t *testing.T) {
	efs := newTestEFS(t)

	fd, err := efs.Open("/synced.txt", "w", 0o644)
	require.NoError(t, err)
	_, err = efs.Write(fd, []byte("data"), 0)
	require.NoError(t, err)

	require.NoError(t, efs.Fsync(fd))
	require.NoError(t, efs.Fdatasync(fd))
	require.NoError(t, efs.Close(fd))

	require.ErrorIs(t, efs.Fsync(fd), xerrors.ErrBadFd)
	require.ErrorIs(t, efs.Fdatasync(fd), xerrors.ErrBadFd)
}

func TestWriteInteriorOfBlockPreservesTrailingBytes(t *testing.T) {
	efs := newTestEFS(t)

	fd, err := efs.Open("/interior.bin", "w", 0o644)
	require.NoError(t, err)
	defer efs.Close(fd)

	// 20 bytes of data, well within a single block's size.
	original := bytes.Repeat([]byte{0xAA}, 20)
	_, err = efs.Write(fd, original, 0)
	require.NoError(t, err)

	// Overwrite 2 bytes in the interior of the first block, short of its
	// end and short of the file's last block.
	_, err = efs.Write(fd, []byte{0xFF, 0xFF}, 2)
	require.NoError(t, err)

	st, err := efs.Fstat(fd)
	require.NoError(t, err)
	require.EqualValues(t, len(original), st.Size)

	buf := make([]byte, len(original))
	n, err := efs.Read(fd, buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(original), n)

	want := append([]byte(nil), original...)
	want[2], want[3] = 0xFF, 0xFF
	require.Equal(t, want, buf)
}

func TestRmdirRecursiveOnMissingPathSucceeds(t *testing.T) {
	efs := newTestEFS(t)
	require.NoError(t, efs.Rmdir("/never/existed", RmdirOptions{Recursive: true}))
}

func TestOpenSynchronousFlagAliases(t *testing.T) {
	efs := newTestEFS(t)
	require.NoError(t, efs.WriteFile("/rs.txt", []byte("data"), 0o644))

	fd, err := efs.Open("/rs.txt", "rs", 0)
	require.NoError(t, err)
	require.NoError(t, efs.Close(fd))

	fd2, err := efs.Open("/rs.txt", "rs+", 0)
	require.NoError(t, err)
	require.NoError(t, efs.Close(fd2))
}

func TestOpenInvalidFlagStringIsTaggedEINVAL(t *testing.T) {
	efs := newTestEFS(t)
	_, err := efs.Open("/x.txt", "bogus", 0o644)
	require.ErrorIs(t, err, xerrors.ErrInvalid)
}

func TestDotAndDotDotNavigation(t *testing.T) {
	efs := newTestEFS(t)
	require.NoError(t, efs.Mkdir("/p/c", MkdirOptions{Mode: 0o755, Recursive: true}))

	// "." resolves to the directory itself, not its parent.
	st, err := efs.Stat("/p/c/.")
	require.NoError(t, err)
	require.True(t, isDirMode(st.Mode))

	// ".." from the child resolves to the parent.
	parentSt, err := efs.Stat("/p/c/..")
	require.NoError(t, err)
	childParentRealpath, err := efs.Realpath("/p/c/..")
	require.NoError(t, err)
	require.Equal(t, "/p", childParentRealpath)
	require.True(t, isDirMode(parentSt.Mode))
}
