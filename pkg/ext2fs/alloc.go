package ext2fs

import "fmt"

// BlockAllocator allocates and frees data blocks with locality preference:
// prefer the group that owns the requesting inode, so a file's metadata and
// data cluster together. Grounded on ext.(*Compiler).mapDBtoBlockAddr for the
// group/offset <-> absolute block number math, adapted from a one-shot
// compile-time layout into a live, one-bit-at-a-time allocator.
type BlockAllocator struct {
	fs *FileSystem
}

func (a *BlockAllocator) readBlockBitmap(group int) ([]byte, error) {
	gd := a.fs.gdt[group]
	return a.fs.bio.ReadBlock(int64(gd.BlockBitmap))
}

func (a *BlockAllocator) writeBlockBitmap(group int, bitmap []byte) error {
	gd := a.fs.gdt[group]
	return a.fs.bio.WriteBlock(int64(gd.BlockBitmap), bitmap)
}

func (a *BlockAllocator) allocateInGroup(g int) (int64, error) {

	sb := a.fs.sb
	gd := a.fs.gdt[g]
	if gd.FreeBlocks == 0 {
		return 0, nil
	}

	bitmap, err := a.readBlockBitmap(g)
	if err != nil {
		return 0, err
	}

	bit := bitmapFindClear(bitmap, int(sb.BlocksPerGroup))
	if bit < 0 {
		return 0, nil
	}

	bitmapSet(bitmap, bit)
	if err := a.writeBlockBitmap(g, bitmap); err != nil {
		return 0, err
	}

	sb.FreeBlocks--
	gd.FreeBlocks--

	if err := flushSuperblock(a.fs.bio, sb); err != nil {
		return 0, err
	}
	if err := flushGroupDescriptor(a.fs.bio, sb, g, gd); err != nil {
		return 0, err
	}

	return int64(g)*int64(sb.BlocksPerGroup) + int64(sb.FirstDataBlock) + int64(bit), nil
}

// Allocate returns a fresh data block number, preferring hintInode's own
// group before falling back to a scan of every group in order. Returns 0 if
// every group is full.
func (a *BlockAllocator) Allocate(hintInode int) (int64, error) {

	sb := a.fs.sb
	preferred := (hintInode - 1) / int(sb.InodesPerGroup)

	if bno, err := a.allocateInGroup(preferred); err != nil {
		return 0, err
	} else if bno != 0 {
		return bno, nil
	}

	for g := 0; g < sb.GroupCount(); g++ {
		if g == preferred {
			continue
		}
		bno, err := a.allocateInGroup(g)
		if err != nil {
			return 0, err
		}
		if bno != 0 {
			return bno, nil
		}
	}

	return 0, nil
}

// Free releases a previously allocated data block.
func (a *BlockAllocator) Free(block int64) error {

	sb := a.fs.sb
	if block < int64(sb.FirstDataBlock) || block >= int64(sb.TotalBlocks) {
		return fmt.Errorf("%w: block %d", ErrOutOfRange, block)
	}

	rel := block - int64(sb.FirstDataBlock)
	group := int(rel / int64(sb.BlocksPerGroup))
	bit := int(rel % int64(sb.BlocksPerGroup))

	bitmap, err := a.readBlockBitmap(group)
	if err != nil {
		return err
	}

	if !bitmapTest(bitmap, bit) {
		a.fs.log.Warnf("block %d already free", block)
		return nil
	}

	bitmapClear(bitmap, bit)
	if err := a.writeBlockBitmap(group, bitmap); err != nil {
		return err
	}

	gd := a.fs.gdt[group]
	sb.FreeBlocks++
	gd.FreeBlocks++

	if err := flushSuperblock(a.fs.bio, sb); err != nil {
		return err
	}
	return flushGroupDescriptor(a.fs.bio, sb, group, gd)
}
