package ext2fs

import "fmt"

// FileReader exposes whole-file reads over a regular file's inode. It is a
// thin, type-checked front for IndirectWalker.ReadAll -- kept as its own
// component because cat and cp both need "read the whole file" without
// reaching past the FileSystem façade into the block-pointer machinery.
type FileReader struct {
	fs *FileSystem
}

// ReadFile returns the full content of the regular file named by inodeNum.
func (r *FileReader) ReadFile(inodeNum int) ([]byte, error) {

	inode, err := r.fs.inodes.Read(inodeNum)
	if err != nil {
		return nil, err
	}
	if !inode.IsRegularFile() {
		return nil, fmt.Errorf("%w: inode %d", ErrIsDirectory, inodeNum)
	}

	return r.fs.walker.ReadAll(inode)
}
