package ext2fs

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTouchThenCat(t *testing.T) {
	fs := mountFixture(t)

	ino, err := fs.CreateFile(RootInode, "/hello.txt")
	require.NoError(t, err)
	seedFileContent(t, fs, ino, []byte("hello world"))

	data, err := fs.ReadFile(ino)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestRemoveThenRecreateRecyclesInode(t *testing.T) {
	fs := mountFixture(t)

	ino, err := fs.CreateFile(RootInode, "/a")
	require.NoError(t, err)
	require.NoError(t, fs.DeleteFile(RootInode, "/a"))

	ino2, err := fs.CreateFile(RootInode, "/b")
	require.NoError(t, err)
	require.Equal(t, ino, ino2, "freeing an inode should make it the next one allocated")
}

func TestMkdirCdPwdRmdir(t *testing.T) {
	fs := mountFixture(t)

	require.NoError(t, fs.MakeDirectory(RootInode, "/sub"))

	subIno, err := fs.Resolve(RootInode, "/sub")
	require.NoError(t, err)

	subInode, err := fs.Stat(subIno)
	require.NoError(t, err)
	require.True(t, subInode.IsDirectory())

	parentIno, err := fs.Resolve(subIno, "..")
	require.NoError(t, err)
	require.Equal(t, RootInode, parentIno)

	require.NoError(t, fs.RemoveDirectory(RootInode, "/sub"))

	_, err = fs.Resolve(RootInode, "/sub")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRmdirFailsWhenNotEmpty(t *testing.T) {
	fs := mountFixture(t)

	require.NoError(t, fs.MakeDirectory(RootInode, "/sub"))
	subIno, err := fs.Resolve(RootInode, "/sub")
	require.NoError(t, err)

	_, err = fs.CreateFile(subIno, "file")
	require.NoError(t, err)

	err = fs.RemoveDirectory(RootInode, "/sub")
	require.ErrorIs(t, err, ErrNotEmpty)
}

func TestManyEntriesForceIndirectGrowthAndListOrder(t *testing.T) {
	fs := mountFixture(t)

	// Each name is 207 bytes, so every entry takes align4(8+207) == 216
	// bytes: the root's first block holds 4 of them after "." and "..", and
	// every block added later holds 4 as well. Free direct slots are used
	// before the single-indirect pointer, so the 12 direct blocks hold 48
	// entries and 80 guarantees overflow into the single-indirect pointer.
	const count = 80
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("file%02d-%s", i, strings.Repeat("x", 200))
		names = append(names, name)
		_, err := fs.CreateFile(RootInode, "/"+name)
		require.NoError(t, err)
	}

	root, err := fs.Stat(RootInode)
	require.NoError(t, err)
	require.NotZero(t, root.Block[12], "80 entries of 216 bytes in a 1024-byte-block root should have forced growth into the single-indirect pointer")

	entries, err := fs.Readdir(RootInode)
	require.NoError(t, err)

	var got []string
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		got = append(got, e.Name)
	}
	require.Equal(t, names, got, "directory listing order should match creation order")
}

func TestLargeFileSpillsIntoSingleIndirect(t *testing.T) {
	fs := mountFixture(t)

	ino, err := fs.CreateFile(RootInode, "/big")
	require.NoError(t, err)

	// 13 full blocks plus 5 bytes: more than the 12 direct pointers can hold,
	// forcing at least the single-indirect block into use, and exercising a
	// partially-filled final block.
	blockSize := fs.sb.BlockSize()
	data := make([]byte, 13*blockSize+5)
	for i := range data {
		data[i] = byte(i % 251)
	}

	seedFileContent(t, fs, ino, data)

	readBack, err := fs.ReadFile(ino)
	require.NoError(t, err)
	require.Equal(t, data, readBack)

	inode, err := fs.Stat(ino)
	require.NoError(t, err)
	require.NotZero(t, inode.Block[12], "a file spanning 13 blocks must use the single-indirect pointer")
}

func TestRenameAcrossDirectoriesFixesUpParentLink(t *testing.T) {
	fs := mountFixture(t)

	require.NoError(t, fs.MakeDirectory(RootInode, "/src"))
	require.NoError(t, fs.MakeDirectory(RootInode, "/dst"))

	srcIno, err := fs.Resolve(RootInode, "/src")
	require.NoError(t, err)
	dstIno, err := fs.Resolve(RootInode, "/dst")
	require.NoError(t, err)

	require.NoError(t, fs.MakeDirectory(srcIno, "moved"))

	rootBefore, err := fs.Stat(RootInode)
	require.NoError(t, err)

	require.NoError(t, fs.Rename(RootInode, "/src/moved", "/dst/moved"))

	movedIno, err := fs.Resolve(dstIno, "moved")
	require.NoError(t, err)

	parentOfMoved, err := fs.Resolve(movedIno, "..")
	require.NoError(t, err)
	require.Equal(t, dstIno, parentOfMoved)

	srcAfter, err := fs.Stat(srcIno)
	require.NoError(t, err)
	require.Equal(t, uint16(2), srcAfter.LinksCount, "src should have lost the link from moved's \"..\"")

	dstAfter, err := fs.Stat(dstIno)
	require.NoError(t, err)
	require.Equal(t, uint16(3), dstAfter.LinksCount, "dst should have gained the link from moved's \"..\"")

	rootAfter, err := fs.Stat(RootInode)
	require.NoError(t, err)
	require.Equal(t, rootBefore.LinksCount, rootAfter.LinksCount, "root's own link count is untouched by an unrelated rename")
}

func TestCreateFileRejectsDuplicateName(t *testing.T) {
	fs := mountFixture(t)

	_, err := fs.CreateFile(RootInode, "/dup")
	require.NoError(t, err)

	_, err = fs.CreateFile(RootInode, "/dup")
	require.ErrorIs(t, err, ErrExists)
}

func TestDeleteFileRefusesDirectory(t *testing.T) {
	fs := mountFixture(t)

	require.NoError(t, fs.MakeDirectory(RootInode, "/adir"))
	err := fs.DeleteFile(RootInode, "/adir")
	require.ErrorIs(t, err, ErrIsDirectory)
}
