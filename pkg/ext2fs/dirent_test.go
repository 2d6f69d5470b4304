package ext2fs

import "testing"

func TestAddEntryThenSearch(t *testing.T) {
	fs := mountFixture(t)

	ino, err := fs.inodes.Allocate()
	if err != nil || ino == 0 {
		t.Fatalf("allocating inode: %v", err)
	}
	if err := fs.dirent.AddEntry(RootInode, ino, "greeting", FileTypeRegular); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	root, err := fs.inodes.Read(RootInode)
	if err != nil {
		t.Fatalf("reading root: %v", err)
	}

	found, err := fs.dirent.Search(root, "greeting")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if found != ino {
		t.Fatalf("Search returned inode %d, want %d", found, ino)
	}
}

func TestRemoveEntryTombstonesFirstEntry(t *testing.T) {
	fs := mountFixture(t)

	ino, _ := fs.inodes.Allocate()
	if err := fs.dirent.AddEntry(RootInode, ino, "onlychild", FileTypeRegular); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	root, _ := fs.inodes.Read(RootInode)
	// "." is always the first entry in a freshly-initialized directory block,
	// so removing it exercises the tombstone path (no predecessor to fold into).
	if err := fs.dirent.RemoveEntry(root, "."); err != nil {
		t.Fatalf("RemoveEntry(\".\"): %v", err)
	}

	found, err := fs.dirent.Search(root, ".")
	if err != nil {
		t.Fatalf("Search after tombstoning: %v", err)
	}
	if found != 0 {
		t.Fatalf("Search found tombstoned entry %q still resolving to inode %d", ".", found)
	}

	// The sibling entry that came after it must still be reachable.
	found, err = fs.dirent.Search(root, "onlychild")
	if err != nil {
		t.Fatalf("Search for surviving sibling: %v", err)
	}
	if found != ino {
		t.Fatalf("Search for surviving sibling returned %d, want %d", found, ino)
	}
}

func TestRenameEntryInPlace(t *testing.T) {
	fs := mountFixture(t)

	ino, _ := fs.inodes.Allocate()
	if err := fs.dirent.AddEntry(RootInode, ino, "before", FileTypeRegular); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	root, _ := fs.inodes.Read(RootInode)
	if err := fs.dirent.RenameEntry(root, "before", "after"); err != nil {
		t.Fatalf("RenameEntry: %v", err)
	}

	if found, _ := fs.dirent.Search(root, "before"); found != 0 {
		t.Fatalf("old name %q still resolves after rename", "before")
	}
	if found, _ := fs.dirent.Search(root, "after"); found != ino {
		t.Fatalf("new name %q does not resolve to the renamed inode", "after")
	}
}

func TestRenameEntryRejectsNameTooLongForSlot(t *testing.T) {
	fs := mountFixture(t)

	ino, _ := fs.inodes.Allocate()
	if err := fs.dirent.AddEntry(RootInode, ino, "x", FileTypeRegular); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	// Adding a second entry splits "x" down to its tight real size (12
	// bytes), since a freshly-added entry otherwise absorbs all of a
	// block's remaining slack.
	ino2, _ := fs.inodes.Allocate()
	if err := fs.dirent.AddEntry(RootInode, ino2, "y", FileTypeRegular); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	root, _ := fs.inodes.Read(RootInode)
	longName := "this-name-is-far-too-long-to-fit-in-the-slot-x-left-behind"
	err := fs.dirent.RenameEntry(root, "x", longName)
	if err == nil {
		t.Fatalf("RenameEntry into an oversized name unexpectedly succeeded")
	}
}
