package ext2fs

import "testing"

// allocDataBlock allocates a fresh data block and fills it with a
// recognizable byte so tests can check it round-trips through Enumerate.
func allocDataBlock(t *testing.T, fs *FileSystem, fill byte) int64 {
	t.Helper()
	b, err := fs.alloc.Allocate(RootInode)
	if err != nil {
		t.Fatalf("allocating data block: %v", err)
	}
	if b == 0 {
		t.Fatalf("allocator reports no space in a fresh fixture")
	}
	buf := make([]byte, fs.sb.BlockSize())
	for i := range buf {
		buf[i] = fill
	}
	if err := fs.bio.WriteBlock(b, buf); err != nil {
		t.Fatalf("writing data block %d: %v", b, err)
	}
	return b
}

func TestEnumerateWalksDoubleIndirectChain(t *testing.T) {
	fs := mountFixture(t)
	w := fs.walker

	data1 := allocDataBlock(t, fs, 0xAA)
	data2 := allocDataBlock(t, fs, 0xBB)

	l2, err := fs.alloc.Allocate(RootInode)
	if err != nil || l2 == 0 {
		t.Fatalf("allocating level-2 pointer block: %v", err)
	}
	if err := w.writePointers(l2, []uint32{uint32(data1), uint32(data2)}); err != nil {
		t.Fatalf("writing level-2 pointers: %v", err)
	}

	l1, err := fs.alloc.Allocate(RootInode)
	if err != nil || l1 == 0 {
		t.Fatalf("allocating level-1 pointer block: %v", err)
	}
	if err := w.writePointers(l1, []uint32{uint32(l2)}); err != nil {
		t.Fatalf("writing level-1 pointers: %v", err)
	}

	inode := &Inode{Mode: InodeTypeRegularFile}
	inode.Block[13] = uint32(l1)

	var visited []int64
	if err := w.Enumerate(inode, func(b int64) bool {
		visited = append(visited, b)
		return false
	}); err != nil {
		t.Fatalf("Enumerate: %v", err)
	}

	if len(visited) != 2 || visited[0] != data1 || visited[1] != data2 {
		t.Fatalf("Enumerate visited %v, want [%d %d]", visited, data1, data2)
	}
}

func TestFreeAllReleasesTripleIndirectChain(t *testing.T) {
	fs := mountFixture(t)
	w := fs.walker

	data := allocDataBlock(t, fs, 0xCC)
	l3, err := fs.alloc.Allocate(RootInode)
	if err != nil || l3 == 0 {
		t.Fatalf("allocating level-3 pointer block: %v", err)
	}
	if err := w.writePointers(l3, []uint32{uint32(data)}); err != nil {
		t.Fatalf("writing level-3 pointers: %v", err)
	}

	l2, err := fs.alloc.Allocate(RootInode)
	if err != nil || l2 == 0 {
		t.Fatalf("allocating level-2 pointer block: %v", err)
	}
	if err := w.writePointers(l2, []uint32{uint32(l3)}); err != nil {
		t.Fatalf("writing level-2 pointers: %v", err)
	}

	l1, err := fs.alloc.Allocate(RootInode)
	if err != nil || l1 == 0 {
		t.Fatalf("allocating level-1 pointer block: %v", err)
	}
	if err := w.writePointers(l1, []uint32{uint32(l2)}); err != nil {
		t.Fatalf("writing level-1 pointers: %v", err)
	}

	inode := &Inode{Mode: InodeTypeRegularFile}
	inode.Block[14] = uint32(l1)

	freeBefore := fs.sb.FreeBlocks
	if err := w.FreeAll(fs.alloc, inode); err != nil {
		t.Fatalf("FreeAll: %v", err)
	}

	if fs.sb.FreeBlocks != freeBefore+4 {
		t.Fatalf("FreeAll freed %d blocks, want 4 (data + 3 pointer levels)", fs.sb.FreeBlocks-freeBefore)
	}

	// The data block's bit should now be reusable.
	reused, err := fs.alloc.Allocate(RootInode)
	if err != nil {
		t.Fatalf("reallocating after FreeAll: %v", err)
	}
	if reused == 0 {
		t.Fatalf("no block available after FreeAll supposedly freed 4")
	}
}
