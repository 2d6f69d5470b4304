package ext2fs

import "strings"

// PathResolver walks a slash-separated path from a starting inode down to
// the inode it names, one DirectoryEditor.Search call per component.
// Grounded on vdecompiler.(*IO).ResolvePath, which performs the same
// component-at-a-time walk against a read-only image.
type PathResolver struct {
	fs *FileSystem
}

// Resolve walks path starting at startInode (RootInode for an absolute
// path, the current directory's inode for a relative one) and returns the
// inode number it names.
func (r *PathResolver) Resolve(startInode int, path string) (int, error) {

	if path == "/" || path == "" {
		return RootInode, nil
	}

	current := startInode
	if strings.HasPrefix(path, "/") {
		current = RootInode
	}

	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}

		inode, err := r.fs.inodes.Read(current)
		if err != nil {
			return 0, err
		}
		if !inode.IsDirectory() {
			return 0, ErrNotDirectory
		}

		next, err := r.fs.dirent.Search(inode, part)
		if err != nil {
			return 0, err
		}
		if next == 0 {
			return 0, ErrNotFound
		}
		current = next
	}

	return current, nil
}

// ResolveParent resolves all but the final component of path and returns
// the parent directory's inode number together with the final component's
// name, for operations (create, remove, rename) that need to edit the
// parent's entry list rather than just look something up.
func (r *PathResolver) ResolveParent(startInode int, path string) (parentInode int, name string, err error) {

	trimmed := strings.TrimSuffix(path, "/")
	if trimmed == "" {
		return 0, "", ErrInvalidName
	}

	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return startInode, trimmed, nil
	}

	dir := trimmed[:idx]
	name = trimmed[idx+1:]
	if name == "" {
		return 0, "", ErrInvalidName
	}

	if dir == "" {
		return RootInode, name, nil
	}

	parentInode, err = r.Resolve(startInode, dir)
	if err != nil {
		return 0, "", err
	}
	return parentInode, name, nil
}
