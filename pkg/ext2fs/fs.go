package ext2fs

import (
	"fmt"
	"os"
	"time"

	"github.com/L33tSh4rk/EXT2-FileSystem/pkg/elog"
)

// FileSystem is the façade every driver command goes through: it owns the
// backing image handle and wires together the lower components (BlockIO,
// InodeStore, BlockAllocator, IndirectWalker, DirectoryEditor,
// PathResolver, FileReader) into the create/delete/move operations the
// shell needs. Grounded on vdecompiler.(*IO), which plays the same
// aggregating role for the read-only decompiler, generalized here to also
// write.
type FileSystem struct {
	bio *BlockIO
	sb  *Superblock
	gdt []*GroupDescriptor

	inodes *InodeStore
	alloc  *BlockAllocator
	walker *IndirectWalker
	dirent *DirectoryEditor
	path   *PathResolver
	reader *FileReader

	log elog.Logger
}

// Mount opens imgPath read/write and loads its superblock and group
// descriptor table. No host mount(2) is ever involved -- every later
// operation reads and writes the image's bytes directly.
func Mount(imgPath string, log elog.Logger) (*FileSystem, error) {

	f, err := os.OpenFile(imgPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}

	bio := openBlockIO(f, SuperblockSize, 0)

	sb, err := loadSuperblock(bio)
	if err != nil {
		f.Close()
		return nil, err
	}
	bio.setGeometry(sb.BlockSize(), int64(sb.TotalBlocks))

	gdt, err := loadGroupDescriptors(bio, sb)
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := validateBitmapCounts(bio, sb, gdt); err != nil {
		f.Close()
		return nil, err
	}

	fs := &FileSystem{bio: bio, sb: sb, gdt: gdt, log: log}
	fs.inodes = &InodeStore{fs: fs}
	fs.alloc = &BlockAllocator{fs: fs}
	fs.walker = &IndirectWalker{fs: fs}
	fs.dirent = &DirectoryEditor{fs: fs}
	fs.path = &PathResolver{fs: fs}
	fs.reader = &FileReader{fs: fs}

	return fs, nil
}

// Close releases the backing image handle.
func (fs *FileSystem) Close() error {
	return fs.bio.Close()
}

// Superblock exposes the mounted image's decoded superblock for read-only
// inspection (the `print superblock` driver command).
func (fs *FileSystem) Superblock() *Superblock {
	return fs.sb
}

// GroupDescriptors exposes the decoded group descriptor table for read-only
// inspection (the `print groups` driver command).
func (fs *FileSystem) GroupDescriptors() []*GroupDescriptor {
	return fs.gdt
}

// Stat reads the inode numbered n. Used by the shell's `print inode <n>`,
// `attr`, `info`, `ls` and `cd` commands.
func (fs *FileSystem) Stat(n int) (*Inode, error) {
	return fs.inodes.Read(n)
}

// Resolve walks path from startInode (RootInode for an absolute path) to
// the inode it names.
func (fs *FileSystem) Resolve(startInode int, path string) (int, error) {
	return fs.path.Resolve(startInode, path)
}

// ReadFile returns a regular file's full content.
func (fs *FileSystem) ReadFile(inodeNum int) ([]byte, error) {
	return fs.reader.ReadFile(inodeNum)
}

// Readdir returns every non-tombstoned entry of the directory named by
// dirInodeNum, in on-disk order. That is creation order as long as no entry
// has been removed: a removal can leave slack at the end of an earlier
// block, which a later entry then fills.
func (fs *FileSystem) Readdir(dirInodeNum int) ([]DirEntry, error) {

	inode, err := fs.inodes.Read(dirInodeNum)
	if err != nil {
		return nil, err
	}
	if !inode.IsDirectory() {
		return nil, ErrNotDirectory
	}

	var entries []DirEntry
	var walkErr error

	err = fs.walker.Enumerate(inode, func(blockNo int64) bool {
		buf, err := fs.bio.ReadBlock(blockNo)
		if err != nil {
			walkErr = err
			return true
		}
		offset := 0
		for offset < len(buf) {
			ino, recLen, _, fileType, name, perr := parseDirEntry(buf, offset)
			if perr != nil {
				walkErr = perr
				return true
			}
			if ino != 0 {
				entries = append(entries, DirEntry{Inode: ino, Name: name, Type: fileType})
			}
			offset += recLen
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, walkErr
	}

	return entries, nil
}

// DirEntry is a decoded directory entry returned by Readdir.
type DirEntry struct {
	Inode int
	Name  string
	Type  int
}

func now() uint32 {
	return uint32(time.Now().Unix())
}

// CreateFile creates an empty regular file at path (resolved from
// startInode) and returns its inode number. ErrExists if an entry of that
// name is already present in the parent directory.
func (fs *FileSystem) CreateFile(startInode int, path string) (int, error) {

	parentNum, name, err := fs.path.ResolveParent(startInode, path)
	if err != nil {
		return 0, err
	}
	parent, err := fs.inodes.Read(parentNum)
	if err != nil {
		return 0, err
	}
	if !parent.IsDirectory() {
		return 0, ErrNotDirectory
	}

	if existing, err := fs.dirent.Search(parent, name); err != nil {
		return 0, err
	} else if existing != 0 {
		return 0, ErrExists
	}

	newInodeNum, err := fs.inodes.Allocate()
	if err != nil {
		return 0, err
	}
	if newInodeNum == 0 {
		return 0, ErrNoSpace
	}

	rb := newRollback(fs)
	rb.add(func() error { return fs.inodes.Free(newInodeNum) })

	t := now()
	inode := &Inode{
		Mode:       InodeTypeRegularFile | DefaultFilePermissions,
		LinksCount: 1,
		AccessTime: t,
		CreateTime: t,
		ModifyTime: t,
	}
	if err := fs.inodes.Write(newInodeNum, inode); err != nil {
		rb.run()
		return 0, err
	}

	if err := fs.dirent.AddEntry(parentNum, newInodeNum, name, FileTypeRegular); err != nil {
		rb.run()
		return 0, err
	}
	rb.commit()

	return newInodeNum, fs.touchTimes(parentNum, false)
}

// Touch updates an existing regular file's access and modify times, or
// creates it if absent -- matching the coreutils `touch` semantics this
// driver command is named after.
func (fs *FileSystem) Touch(startInode int, path string) (int, error) {

	parentNum, name, err := fs.path.ResolveParent(startInode, path)
	if err != nil {
		return 0, err
	}
	parent, err := fs.inodes.Read(parentNum)
	if err != nil {
		return 0, err
	}

	existing, err := fs.dirent.Search(parent, name)
	if err != nil {
		return 0, err
	}
	if existing == 0 {
		return fs.CreateFile(startInode, path)
	}

	inode, err := fs.inodes.Read(existing)
	if err != nil {
		return 0, err
	}
	if !inode.IsRegularFile() {
		return 0, ErrIsDirectory
	}
	t := now()
	inode.AccessTime = t
	inode.ModifyTime = t
	if err := fs.inodes.Write(existing, inode); err != nil {
		return 0, err
	}

	return existing, nil
}

// DeleteFile removes a regular file: unlinks its directory entry, decrements
// its link count, and -- once that count reaches zero -- frees its data
// blocks and inode, stamping DeleteTime and rewriting the now-zeroed inode
// record before the bitmap bit is cleared.
func (fs *FileSystem) DeleteFile(startInode int, path string) error {

	parentNum, name, err := fs.path.ResolveParent(startInode, path)
	if err != nil {
		return err
	}
	parent, err := fs.inodes.Read(parentNum)
	if err != nil {
		return err
	}

	childNum, err := fs.dirent.Search(parent, name)
	if err != nil {
		return err
	}
	if childNum == 0 {
		return ErrNotFound
	}

	child, err := fs.inodes.Read(childNum)
	if err != nil {
		return err
	}
	if child.IsDirectory() {
		return ErrIsDirectory
	}

	if err := fs.dirent.RemoveEntry(parent, name); err != nil {
		return err
	}

	child.LinksCount--
	if child.LinksCount == 0 {
		if err := fs.walker.FreeAll(fs.alloc, child); err != nil {
			return err
		}
		dtime := now()
		*child = Inode{DeleteTime: dtime}
		if err := fs.inodes.Write(childNum, child); err != nil {
			return err
		}
		if err := fs.inodes.Free(childNum); err != nil {
			return err
		}
	} else {
		if err := fs.inodes.Write(childNum, child); err != nil {
			return err
		}
	}

	return fs.touchTimes(parentNum, false)
}

// MakeDirectory creates an empty directory at path, wired with "." and
// ".." entries and linked into its parent.
func (fs *FileSystem) MakeDirectory(startInode int, path string) error {

	parentNum, name, err := fs.path.ResolveParent(startInode, path)
	if err != nil {
		return err
	}
	parent, err := fs.inodes.Read(parentNum)
	if err != nil {
		return err
	}
	if !parent.IsDirectory() {
		return ErrNotDirectory
	}

	if existing, err := fs.dirent.Search(parent, name); err != nil {
		return err
	} else if existing != 0 {
		return ErrExists
	}

	newInodeNum, err := fs.inodes.Allocate()
	if err != nil {
		return err
	}
	if newInodeNum == 0 {
		return ErrNoSpace
	}
	rb := newRollback(fs)
	rb.add(func() error { return fs.inodes.Free(newInodeNum) })

	dataBlock, err := fs.alloc.Allocate(newInodeNum)
	if err != nil {
		rb.run()
		return err
	}
	if dataBlock == 0 {
		rb.run()
		return ErrNoSpace
	}
	rb.add(func() error { return fs.alloc.Free(dataBlock) })

	content := make([]byte, fs.sb.BlockSize())
	fs.dirent.InitDirBlock(content, newInodeNum, parentNum)
	if err := fs.bio.WriteBlock(dataBlock, content); err != nil {
		rb.run()
		return err
	}

	t := now()
	inode := &Inode{
		Mode:       InodeTypeDirectory | DefaultDirPermissions,
		LinksCount: 2,
		AccessTime: t,
		CreateTime: t,
		ModifyTime: t,
		SizeLow:    uint32(fs.sb.BlockSize()),
		Sectors:    uint32(fs.sb.BlockSize() / SectorSize),
	}
	inode.Block[0] = uint32(dataBlock)
	if err := fs.inodes.Write(newInodeNum, inode); err != nil {
		rb.run()
		return err
	}

	if err := fs.dirent.AddEntry(parentNum, newInodeNum, name, FileTypeDir); err != nil {
		rb.run()
		return err
	}
	rb.commit()

	// AddEntry may have grown the parent and written it back; re-read it so
	// the link-count update below does not overwrite that growth.
	parent, err = fs.inodes.Read(parentNum)
	if err != nil {
		return err
	}
	parent.LinksCount++
	if err := fs.inodes.Write(parentNum, parent); err != nil {
		return err
	}

	return fs.touchTimes(parentNum, false)
}

// RemoveDirectory deletes an empty, non-root directory: unlinks its entry,
// frees its data blocks, stamps DeleteTime and rewrites the now-zeroed
// inode before freeing it, then drops the parent's link from the removed
// directory's "..".
func (fs *FileSystem) RemoveDirectory(startInode int, path string) error {

	parentNum, name, err := fs.path.ResolveParent(startInode, path)
	if err != nil {
		return err
	}
	parent, err := fs.inodes.Read(parentNum)
	if err != nil {
		return err
	}

	childNum, err := fs.dirent.Search(parent, name)
	if err != nil {
		return err
	}
	if childNum == 0 {
		return ErrNotFound
	}

	child, err := fs.inodes.Read(childNum)
	if err != nil {
		return err
	}
	if !child.IsDirectory() {
		return ErrNotDirectory
	}

	empty, err := fs.dirent.IsEmpty(child)
	if err != nil {
		return err
	}
	if !empty {
		return ErrNotEmpty
	}

	if err := fs.dirent.RemoveEntry(parent, name); err != nil {
		return err
	}

	if err := fs.walker.FreeAll(fs.alloc, child); err != nil {
		return err
	}
	dtime := now()
	*child = Inode{DeleteTime: dtime}
	if err := fs.inodes.Write(childNum, child); err != nil {
		return err
	}
	if err := fs.inodes.Free(childNum); err != nil {
		return err
	}

	parent.LinksCount--
	if err := fs.inodes.Write(parentNum, parent); err != nil {
		return err
	}

	return fs.touchTimes(parentNum, false)
}

// Rename moves or renames the entry at oldPath to newPath. Both paths are
// resolved from startInode. A rename within the same parent directory is an
// in-place entry rewrite; a rename across parents removes the entry from
// the old parent and adds it to the new one, fixing up the moved
// directory's ".." entry and both parents' link counts when the moved
// entry is itself a directory.
func (fs *FileSystem) Rename(startInode int, oldPath, newPath string) error {

	oldParentNum, oldName, err := fs.path.ResolveParent(startInode, oldPath)
	if err != nil {
		return err
	}
	newParentNum, newName, err := fs.path.ResolveParent(startInode, newPath)
	if err != nil {
		return err
	}

	oldParent, err := fs.inodes.Read(oldParentNum)
	if err != nil {
		return err
	}

	childNum, err := fs.dirent.Search(oldParent, oldName)
	if err != nil {
		return err
	}
	if childNum == 0 {
		return ErrNotFound
	}

	if oldParentNum == newParentNum {
		if oldName == newName {
			return nil
		}
		if existing, err := fs.dirent.Search(oldParent, newName); err != nil {
			return err
		} else if existing != 0 {
			return ErrExists
		}
		return fs.dirent.RenameEntry(oldParent, oldName, newName)
	}

	newParent, err := fs.inodes.Read(newParentNum)
	if err != nil {
		return err
	}
	if !newParent.IsDirectory() {
		return ErrNotDirectory
	}
	if existing, err := fs.dirent.Search(newParent, newName); err != nil {
		return err
	} else if existing != 0 {
		return ErrExists
	}

	child, err := fs.inodes.Read(childNum)
	if err != nil {
		return err
	}
	fileType := FileTypeRegular
	switch {
	case child.IsDirectory():
		fileType = FileTypeDir
	case child.IsSymlink():
		fileType = FileTypeSymlink
	}

	if err := fs.dirent.AddEntry(newParentNum, childNum, newName, uint8(fileType)); err != nil {
		return err
	}
	// AddEntry may have grown the new parent and written it back.
	newParent, err = fs.inodes.Read(newParentNum)
	if err != nil {
		return err
	}
	if err := fs.dirent.RemoveEntry(oldParent, oldName); err != nil {
		if rerr := fs.dirent.RemoveEntry(newParent, newName); rerr != nil {
			fs.log.Warnf("rollback: removing duplicate entry %q: %v", newName, rerr)
		}
		return err
	}

	if child.IsDirectory() {
		if err := fs.dirent.RetargetEntry(child, "..", newParentNum); err != nil {
			return err
		}
		oldParent.LinksCount--
		newParent.LinksCount++
		if err := fs.inodes.Write(oldParentNum, oldParent); err != nil {
			return err
		}
		if err := fs.inodes.Write(newParentNum, newParent); err != nil {
			return err
		}
	}

	return nil
}

// touchTimes stamps a directory's modify (and, if dirAlso, access) time to
// now after one of its entries changes.
func (fs *FileSystem) touchTimes(inodeNum int, dirAlso bool) error {
	inode, err := fs.inodes.Read(inodeNum)
	if err != nil {
		return err
	}
	t := now()
	inode.ModifyTime = t
	if dirAlso {
		inode.AccessTime = t
	}
	return fs.inodes.Write(inodeNum, inode)
}
