package ext2fs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// InodeStore locates, reads, writes, allocates and frees inodes. Grounded on
// vdecompiler.(*IO).ResolveInode for the locate/read path and
// ext.(*Compiler).writeInodeBitmap for the allocation bitmap layout -- but
// unlike the compiler (which only ever builds a bitmap once, up front) this
// store allocates and frees one bit at a time against a live image.
type InodeStore struct {
	fs *FileSystem
}

// locate returns the byte offset of inode n's on-disk record and the group
// it belongs to.
func (s *InodeStore) locate(n int) (group int, offset int64, err error) {

	sb := s.fs.sb
	if n < firstInode || n > int(sb.TotalInodes) {
		return 0, 0, fmt.Errorf("%w: inode %d", ErrOutOfRange, n)
	}

	group = (n - 1) / int(sb.InodesPerGroup)
	within := (n - 1) % int(sb.InodesPerGroup)

	gd := s.fs.gdt[group]
	offset = int64(gd.InodeTable)*int64(sb.BlockSize()) + int64(within)*int64(sb.InodeSize())

	return group, offset, nil
}

// Read decodes the first 128 bytes of inode n's record. Fields beyond byte
// 128 (meaningful only for larger inode sizes) are left untouched.
func (s *InodeStore) Read(n int) (*Inode, error) {

	_, offset, err := s.locate(n)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 128)
	if err := s.fs.bio.ReadAt(offset, raw); err != nil {
		return nil, fmt.Errorf("reading inode %d: %w", n, err)
	}

	inode := new(Inode)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, inode); err != nil {
		return nil, fmt.Errorf("decoding inode %d: %w", n, err)
	}

	return inode, nil
}

// Write encodes the first 128 bytes of inode n's record back to disk.
func (s *InodeStore) Write(n int, inode *Inode) error {

	_, offset, err := s.locate(n)
	if err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, inode); err != nil {
		return err
	}

	if err := s.fs.bio.WriteAt(offset, buf.Bytes()); err != nil {
		return fmt.Errorf("writing inode %d: %w", n, err)
	}

	return nil
}

// readInodeBitmap re-reads a group's inode bitmap from disk: bitmaps are
// never cached across operations.
func (s *InodeStore) readInodeBitmap(group int) ([]byte, error) {
	gd := s.fs.gdt[group]
	return s.fs.bio.ReadBlock(int64(gd.InodeBitmap))
}

func (s *InodeStore) writeInodeBitmap(group int, bitmap []byte) error {
	gd := s.fs.gdt[group]
	return s.fs.bio.WriteBlock(int64(gd.InodeBitmap), bitmap)
}

// Allocate finds the first free inode (scanning groups in order, skipping
// groups with no free inodes, lowest clear bit within a group), marks it
// used, and returns its 1-based inode number. Returns 0 if the superblock
// claims free inodes exist but none can actually be found (a consistency
// warning, not a hard error).
func (s *InodeStore) Allocate() (int, error) {

	sb := s.fs.sb
	groups := sb.GroupCount()
	ipg := int(sb.InodesPerGroup)

	for g := 0; g < groups; g++ {
		gd := s.fs.gdt[g]
		if gd.FreeInodes == 0 {
			continue
		}

		bitmap, err := s.readInodeBitmap(g)
		if err != nil {
			return 0, err
		}

		bit := bitmapFindClear(bitmap, ipg)
		if bit < 0 {
			continue
		}

		bitmapSet(bitmap, bit)
		if err := s.writeInodeBitmap(g, bitmap); err != nil {
			return 0, err
		}

		sb.FreeInodes--
		gd.FreeInodes--

		if err := flushSuperblock(s.fs.bio, sb); err != nil {
			return 0, err
		}
		if err := flushGroupDescriptor(s.fs.bio, sb, g, gd); err != nil {
			return 0, err
		}

		return g*ipg + bit + 1, nil
	}

	if sb.FreeInodes > 0 {
		s.fs.log.Warnf("superblock reports %d free inodes but no group bitmap yielded one", sb.FreeInodes)
	}

	return 0, nil
}

// Free clears n's bitmap bit and restores both counters. Clearing an
// already-clear bit is a soft failure: it's logged and treated as success,
// since the end state the caller wants (bit clear) already holds.
func (s *InodeStore) Free(n int) error {

	sb := s.fs.sb
	if n < firstInode || n > int(sb.TotalInodes) {
		return fmt.Errorf("%w: inode %d", ErrOutOfRange, n)
	}

	group := (n - 1) / int(sb.InodesPerGroup)
	within := (n - 1) % int(sb.InodesPerGroup)

	bitmap, err := s.readInodeBitmap(group)
	if err != nil {
		return err
	}

	if !bitmapTest(bitmap, within) {
		s.fs.log.Warnf("inode %d already free", n)
		return nil
	}

	bitmapClear(bitmap, within)
	if err := s.writeInodeBitmap(group, bitmap); err != nil {
		return err
	}

	gd := s.fs.gdt[group]
	sb.FreeInodes++
	gd.FreeInodes++

	if err := flushSuperblock(s.fs.bio, sb); err != nil {
		return err
	}
	return flushGroupDescriptor(s.fs.bio, sb, group, gd)
}
