package ext2fs

import "errors"

// Sentinel errors checkable with errors.Is, covering the taxonomy of format,
// range, resource-exhaustion and policy errors the façade can return.
var (
	ErrBadMagic     = errors.New("ext2fs: bad superblock signature")
	ErrCorrupt      = errors.New("ext2fs: inconsistent on-disk structure")
	ErrOutOfRange   = errors.New("ext2fs: block or inode number out of range")
	ErrShortIO      = errors.New("ext2fs: short read or write")
	ErrNoSpace      = errors.New("ext2fs: no space left on device")
	ErrNotFound     = errors.New("ext2fs: no such file or directory")
	ErrExists       = errors.New("ext2fs: file already exists")
	ErrNotDirectory = errors.New("ext2fs: not a directory")
	ErrIsDirectory  = errors.New("ext2fs: is a directory")
	ErrNotEmpty     = errors.New("ext2fs: directory not empty")
	ErrNameTooLong  = errors.New("ext2fs: name too long")
	ErrInvalidName  = errors.New("ext2fs: invalid name")
)
