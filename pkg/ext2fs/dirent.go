package ext2fs

import (
	"encoding/binary"
	"fmt"
)

// DirectoryEditor reads and mutates directory-entry bytes inside a
// directory's data blocks. It never touches the directory inode's own
// size/sectors fields except on growth, and it never frees data blocks on
// removal -- a directory only ever shrinks back to empty tombstoned slots,
// matching vdecompiler.(*IO).Readdir's read side and
// ext.(*Compiler).generateDirectoryData / calculateDirectoryBlocks on the
// write side, generalized from "lay the whole directory out once" to
// "search, split and grow one entry at a time" against a live image.
type DirectoryEditor struct {
	fs *FileSystem
}

// parseDirEntry decodes the entry header (and name) at buf[offset:].
func parseDirEntry(buf []byte, offset int) (inode int, recLen int, nameLen int, fileType int, name string, err error) {
	if offset+dentryHeaderSize > len(buf) {
		return 0, 0, 0, 0, "", fmt.Errorf("%w: dir entry header at %d overruns block", ErrCorrupt, offset)
	}

	inode = int(binary.LittleEndian.Uint32(buf[offset:]))
	recLen = int(binary.LittleEndian.Uint16(buf[offset+4:]))
	nameLen = int(buf[offset+6])
	fileType = int(buf[offset+7])

	if recLen == 0 {
		return 0, 0, 0, 0, "", fmt.Errorf("%w: dir entry at %d has rec_len 0", ErrCorrupt, offset)
	}
	if offset+dentryHeaderSize+nameLen > len(buf) {
		return 0, 0, 0, 0, "", fmt.Errorf("%w: dir entry name at %d overruns block", ErrCorrupt, offset)
	}

	name = string(buf[offset+dentryHeaderSize : offset+dentryHeaderSize+nameLen])
	return inode, recLen, nameLen, fileType, name, nil
}

// writeDirEntry encodes an entry header+name at buf[offset:], zeroing the
// unused tail of its rec_len so a later split sees clean padding.
func writeDirEntry(buf []byte, offset, inode, recLen, nameLen, fileType int, name string) {
	binary.LittleEndian.PutUint32(buf[offset:], uint32(inode))
	binary.LittleEndian.PutUint16(buf[offset+4:], uint16(recLen))
	buf[offset+6] = byte(nameLen)
	buf[offset+7] = byte(fileType)
	copy(buf[offset+dentryHeaderSize:], name)
	for i := offset + dentryHeaderSize + len(name); i < offset+recLen; i++ {
		buf[i] = 0
	}
}

// Search looks up name among dirInode's entries and returns its inode
// number, or 0 with no error if not found.
func (d *DirectoryEditor) Search(dirInode *Inode, name string) (int, error) {

	found := 0
	var walkErr error

	err := d.fs.walker.Enumerate(dirInode, func(blockNo int64) bool {
		buf, err := d.fs.bio.ReadBlock(blockNo)
		if err != nil {
			walkErr = err
			return true
		}

		offset := 0
		for offset < len(buf) {
			ino, recLen, _, _, ename, perr := parseDirEntry(buf, offset)
			if perr != nil {
				walkErr = perr
				return true
			}
			if ino != 0 && ename == name {
				found = ino
				return true
			}
			offset += recLen
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	return found, walkErr
}

// IsEmpty reports whether dirInode contains no entry besides "." and "..".
func (d *DirectoryEditor) IsEmpty(dirInode *Inode) (bool, error) {

	empty := true
	var walkErr error

	err := d.fs.walker.Enumerate(dirInode, func(blockNo int64) bool {
		buf, err := d.fs.bio.ReadBlock(blockNo)
		if err != nil {
			walkErr = err
			return true
		}

		offset := 0
		for offset < len(buf) {
			ino, recLen, _, _, ename, perr := parseDirEntry(buf, offset)
			if perr != nil {
				walkErr = perr
				return true
			}
			if ino != 0 && ename != "." && ename != ".." {
				empty = false
				return true
			}
			offset += recLen
		}
		return false
	})
	if err != nil {
		return false, err
	}
	return empty, walkErr
}

// InitDirBlock lays "." and ".." into a freshly allocated, otherwise empty
// directory block: "." spans exactly 12 bytes (the minimum aligned slot for
// a 1-byte name), ".." absorbs the rest of the block.
func (d *DirectoryEditor) InitDirBlock(buf []byte, selfInode, parentInode int) {
	blockSize := len(buf)
	writeDirEntry(buf, 0, selfInode, 12, 1, FileTypeDir, ".")
	writeDirEntry(buf, 12, parentInode, blockSize-12, 2, FileTypeDir, "..")
}

// AddEntry inserts name -> childInode into dirInode's entry list, splitting
// a block with enough slack (Phase A) before growing the directory with a
// fresh block (Phase B). dirInode is read fresh and, if Phase B fires,
// written back with its updated size/sector count; dirInodeNum identifies
// it for both.
func (d *DirectoryEditor) AddEntry(dirInodeNum int, childInode int, name string, fileType uint8) error {

	if len(name) == 0 || len(name) > 255 {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	dirInode, err := d.fs.inodes.Read(dirInodeNum)
	if err != nil {
		return err
	}

	need := align4(dentryHeaderSize + len(name))

	done, err := d.splitIntoSlack(dirInode, need, childInode, name, fileType)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	return d.growAndLink(dirInodeNum, dirInode, childInode, name, fileType)
}

// splitIntoSlack is Phase A: scan every directory block for its final entry
// and, if that entry's real occupancy leaves at least need bytes of slack
// in its rec_len, shrink it and place the new entry in the freed tail.
func (d *DirectoryEditor) splitIntoSlack(dirInode *Inode, need, childInode int, name string, fileType uint8) (bool, error) {

	done := false
	var walkErr error

	err := d.fs.walker.Enumerate(dirInode, func(blockNo int64) bool {
		buf, err := d.fs.bio.ReadBlock(blockNo)
		if err != nil {
			walkErr = err
			return true
		}

		lastOffset := -1
		offset := 0
		for offset < len(buf) {
			_, recLen, _, _, _, perr := parseDirEntry(buf, offset)
			if perr != nil {
				walkErr = perr
				return true
			}
			lastOffset = offset
			offset += recLen
		}
		if lastOffset < 0 {
			return false
		}

		lastIno, lastRecLen, lastNameLen, lastType, lastName, perr := parseDirEntry(buf, lastOffset)
		if perr != nil {
			walkErr = perr
			return true
		}

		real := align4(dentryHeaderSize + lastNameLen)
		if lastRecLen-real < need {
			return false
		}

		writeDirEntry(buf, lastOffset, lastIno, real, lastNameLen, lastType, lastName)
		newOffset := lastOffset + real
		writeDirEntry(buf, newOffset, childInode, lastRecLen-real, len(name), int(fileType), name)

		if err := d.fs.bio.WriteBlock(blockNo, buf); err != nil {
			walkErr = err
			return true
		}
		done = true
		return true
	})
	if err != nil {
		return false, err
	}
	return done, walkErr
}

// growAndLink is Phase B: allocate a fresh block containing a single entry
// spanning the whole block, then link it into the inode's pointer tree in
// order of preference -- a free direct slot, then the single-indirect
// block, then the double-indirect tree. Failure at every level rolls the
// allocated data block back and reports ErrNoSpace.
func (d *DirectoryEditor) growAndLink(dirInodeNum int, dirInode *Inode, childInode int, name string, fileType uint8) error {

	blockSize := d.fs.sb.BlockSize()

	newBlock, err := d.fs.alloc.Allocate(dirInodeNum)
	if err != nil {
		return err
	}
	if newBlock == 0 {
		return ErrNoSpace
	}

	content := make([]byte, blockSize)
	writeDirEntry(content, 0, childInode, blockSize, len(name), int(fileType), name)
	if err := d.fs.bio.WriteBlock(newBlock, content); err != nil {
		return err
	}

	linked, err := d.fs.walker.LinkBlock(dirInode, newBlock)
	if err != nil {
		return err
	}
	if !linked {
		if ferr := d.fs.alloc.Free(newBlock); ferr != nil {
			d.fs.log.Warnf("rollback: freeing orphaned block %d: %v", newBlock, ferr)
		}
		return ErrNoSpace
	}

	dirInode.SizeLow += uint32(blockSize)
	dirInode.Sectors += uint32(blockSize / SectorSize)

	return d.fs.inodes.Write(dirInodeNum, dirInode)
}

// RemoveEntry deletes name from dirInode. An entry with a predecessor in
// its block has its rec_len folded into that predecessor's; the first
// entry in a block is tombstoned in place (inode set to 0, rec_len kept)
// since it has nowhere to fold into. Data blocks are never freed here --
// only RemoveDirectory/unlink at the filesystem layer decides whether the
// directory itself goes away.
func (d *DirectoryEditor) RemoveEntry(dirInode *Inode, name string) error {

	found := false
	var walkErr error

	err := d.fs.walker.Enumerate(dirInode, func(blockNo int64) bool {
		buf, err := d.fs.bio.ReadBlock(blockNo)
		if err != nil {
			walkErr = err
			return true
		}

		offset := 0
		prevOffset := -1
		for offset < len(buf) {
			ino, recLen, _, _, ename, perr := parseDirEntry(buf, offset)
			if perr != nil {
				walkErr = perr
				return true
			}

			if ino != 0 && ename == name {
				if prevOffset >= 0 {
					pIno, pRecLen, pNameLen, pType, pName, perr := parseDirEntry(buf, prevOffset)
					if perr != nil {
						walkErr = perr
						return true
					}
					writeDirEntry(buf, prevOffset, pIno, pRecLen+recLen, pNameLen, pType, pName)
				} else {
					writeDirEntry(buf, offset, 0, recLen, 0, 0, "")
				}
				if err := d.fs.bio.WriteBlock(blockNo, buf); err != nil {
					walkErr = err
					return true
				}
				found = true
				return true
			}

			prevOffset = offset
			offset += recLen
		}
		return false
	})
	if err != nil {
		return err
	}
	if walkErr != nil {
		return walkErr
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// RetargetEntry changes the inode number an existing entry points to,
// leaving its name, rec_len and file type untouched. Used to fix up a
// moved directory's ".." entry after it has been relinked under a new
// parent.
func (d *DirectoryEditor) RetargetEntry(dirInode *Inode, name string, newInode int) error {

	found := false
	var walkErr error

	err := d.fs.walker.Enumerate(dirInode, func(blockNo int64) bool {
		buf, err := d.fs.bio.ReadBlock(blockNo)
		if err != nil {
			walkErr = err
			return true
		}

		offset := 0
		for offset < len(buf) {
			ino, recLen, nameLen, fileType, ename, perr := parseDirEntry(buf, offset)
			if perr != nil {
				walkErr = perr
				return true
			}
			if ino != 0 && ename == name {
				writeDirEntry(buf, offset, newInode, recLen, nameLen, fileType, ename)
				if err := d.fs.bio.WriteBlock(blockNo, buf); err != nil {
					walkErr = err
					return true
				}
				found = true
				return true
			}
			offset += recLen
		}
		return false
	})
	if err != nil {
		return err
	}
	if walkErr != nil {
		return walkErr
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// RenameEntry overwrites an existing entry's name in place, keeping its
// inode, file type and rec_len untouched. It fails with ErrNameTooLong
// rather than ever growing or relocating the entry. A move into another
// directory is handled at the filesystem layer by adding the entry to the
// new parent and then removing it from the old one.
func (d *DirectoryEditor) RenameEntry(dirInode *Inode, oldName, newName string) error {

	if len(newName) == 0 || len(newName) > 255 {
		return fmt.Errorf("%w: %q", ErrInvalidName, newName)
	}

	need := align4(dentryHeaderSize + len(newName))
	found := false
	var walkErr error

	err := d.fs.walker.Enumerate(dirInode, func(blockNo int64) bool {
		buf, err := d.fs.bio.ReadBlock(blockNo)
		if err != nil {
			walkErr = err
			return true
		}

		offset := 0
		for offset < len(buf) {
			ino, recLen, _, fileType, ename, perr := parseDirEntry(buf, offset)
			if perr != nil {
				walkErr = perr
				return true
			}

			if ino != 0 && ename == oldName {
				if need > recLen {
					walkErr = ErrNameTooLong
					return true
				}
				writeDirEntry(buf, offset, ino, recLen, len(newName), fileType, newName)
				if err := d.fs.bio.WriteBlock(blockNo, buf); err != nil {
					walkErr = err
					return true
				}
				found = true
				return true
			}
			offset += recLen
		}
		return false
	})
	if err != nil {
		return err
	}
	if walkErr != nil {
		return walkErr
	}
	if !found {
		return ErrNotFound
	}
	return nil
}
