package ext2fs

import (
	"os"
	"testing"
)

// silentTestLogger discards everything; scenario tests exercise paths that
// legitimately log warnings (recycled inodes, rollbacks) and shouldn't spam
// test output.
type silentTestLogger struct{}

func (silentTestLogger) Debugf(string, ...interface{}) {}
func (silentTestLogger) Errorf(string, ...interface{}) {}
func (silentTestLogger) Infof(string, ...interface{})  {}
func (silentTestLogger) Printf(string, ...interface{}) {}
func (silentTestLogger) Warnf(string, ...interface{})  {}
func (silentTestLogger) IsInfoEnabled() bool           { return false }
func (silentTestLogger) IsDebugEnabled() bool          { return false }

// buildFixture writes a minimal, internally consistent one-group ext2 image
// to a temp file and returns its path: a 1024-byte block size, a root
// directory with "." and ".." already laid out, and plenty of untouched
// free blocks and inodes for the test to allocate from.
func buildFixture(t *testing.T) string {
	t.Helper()

	const (
		blockSize      = 1024
		totalBlocks    = 4096
		inodesPerGroup = 256
	)

	inodeTableBlocks := divideUp(int64(inodesPerGroup)*int64(legacyInodeSize), int64(blockSize))
	blockBitmapBlock := int64(3)
	inodeBitmapBlock := int64(4)
	inodeTableBlock := int64(5)
	rootDataBlock := inodeTableBlock + inodeTableBlocks
	reservedBlocks := rootDataBlock + 1

	sb := &Superblock{
		TotalInodes:    inodesPerGroup,
		TotalBlocks:    totalBlocks,
		FreeBlocks:     totalBlocks - uint32(reservedBlocks),
		FreeInodes:     inodesPerGroup - 2,
		FirstDataBlock: 1,
		BlocksPerGroup: totalBlocks,
		FragsPerGroup:  totalBlocks,
		InodesPerGroup: inodesPerGroup,
		Magic:          Signature,
		RevLevel:       GoodOldRev,
	}

	gd := &GroupDescriptor{
		BlockBitmap: uint32(blockBitmapBlock),
		InodeBitmap: uint32(inodeBitmapBlock),
		InodeTable:  uint32(inodeTableBlock),
		FreeBlocks:  uint16(sb.FreeBlocks),
		FreeInodes:  uint16(sb.FreeInodes),
		UsedDirs:    1,
	}

	imgPath := t.TempDir() + "/fixture.img"
	f, err := os.Create(imgPath)
	if err != nil {
		t.Fatalf("creating fixture image: %v", err)
	}
	if err := f.Truncate(int64(totalBlocks) * blockSize); err != nil {
		t.Fatalf("truncating fixture image: %v", err)
	}

	bio := openBlockIO(f, blockSize, totalBlocks)

	if err := flushSuperblock(bio, sb); err != nil {
		t.Fatalf("writing fixture superblock: %v", err)
	}
	if err := flushGroupDescriptor(bio, sb, 0, gd); err != nil {
		t.Fatalf("writing fixture group descriptor: %v", err)
	}

	blockBitmap := make([]byte, blockSize)
	for i := 0; i < int(reservedBlocks); i++ {
		bitmapSet(blockBitmap, i)
	}
	if err := bio.WriteBlock(blockBitmapBlock, blockBitmap); err != nil {
		t.Fatalf("writing fixture block bitmap: %v", err)
	}

	inodeBitmap := make([]byte, blockSize)
	bitmapSet(inodeBitmap, 0) // inode 1
	bitmapSet(inodeBitmap, 1) // inode 2 (root)
	if err := bio.WriteBlock(inodeBitmapBlock, inodeBitmap); err != nil {
		t.Fatalf("writing fixture inode bitmap: %v", err)
	}

	zero := make([]byte, blockSize)
	for i := int64(0); i < inodeTableBlocks; i++ {
		if err := bio.WriteBlock(inodeTableBlock+i, zero); err != nil {
			t.Fatalf("zeroing fixture inode table: %v", err)
		}
	}

	fs := &FileSystem{sb: sb, gdt: []*GroupDescriptor{gd}, bio: bio}
	store := &InodeStore{fs: fs}

	root := &Inode{
		Mode:       InodeTypeDirectory | DefaultDirPermissions,
		LinksCount: 2,
		SizeLow:    blockSize,
		Sectors:    blockSize / SectorSize,
	}
	root.Block[0] = uint32(rootDataBlock)
	if err := store.Write(RootInode, root); err != nil {
		t.Fatalf("writing fixture root inode: %v", err)
	}

	rootBlock := make([]byte, blockSize)
	writeDirEntry(rootBlock, 0, RootInode, 12, 1, FileTypeDir, ".")
	writeDirEntry(rootBlock, 12, RootInode, blockSize-12, 2, FileTypeDir, "..")
	if err := bio.WriteBlock(rootDataBlock, rootBlock); err != nil {
		t.Fatalf("writing fixture root directory block: %v", err)
	}

	if err := bio.Close(); err != nil {
		t.Fatalf("closing fixture image: %v", err)
	}

	return imgPath
}

// seedFileContent writes data into inodeNum's block pointer tree directly,
// bypassing the public API: this engine has no regular-file write path, so
// tests that exercise ReadFile against pre-existing content have to plant it
// the way an image compiler would, one block at a time through the same
// allocator and linker the directory-growth path uses.
func seedFileContent(t *testing.T, fs *FileSystem, inodeNum int, data []byte) {
	t.Helper()

	inode, err := fs.inodes.Read(inodeNum)
	if err != nil {
		t.Fatalf("reading inode %d: %v", inodeNum, err)
	}

	blockSize := fs.sb.BlockSize()
	for off := 0; off < len(data); off += blockSize {
		end := off + blockSize
		if end > len(data) {
			end = len(data)
		}

		block, err := fs.alloc.Allocate(inodeNum)
		if err != nil {
			t.Fatalf("allocating data block: %v", err)
		}
		if block == 0 {
			t.Fatalf("fixture image ran out of free blocks seeding %d bytes", len(data))
		}

		buf := make([]byte, blockSize)
		copy(buf, data[off:end])
		if err := fs.bio.WriteBlock(block, buf); err != nil {
			t.Fatalf("writing data block: %v", err)
		}

		linked, err := fs.walker.LinkBlock(inode, block)
		if err != nil {
			t.Fatalf("linking data block: %v", err)
		}
		if !linked {
			t.Fatalf("fixture image's pointer tree ran out of room seeding %d bytes", len(data))
		}
	}

	inode.SizeLow = uint32(len(data))
	inode.Sectors = uint32(divideUp(int64(len(data)), SectorSize))
	if err := fs.inodes.Write(inodeNum, inode); err != nil {
		t.Fatalf("writing seeded inode %d: %v", inodeNum, err)
	}
}

func mountFixture(t *testing.T) *FileSystem {
	t.Helper()
	fs, err := Mount(buildFixture(t), silentTestLogger{})
	if err != nil {
		t.Fatalf("mounting fixture image: %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs
}
