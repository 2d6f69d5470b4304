package ext2fs

import "testing"

func TestInodeStoreAllocateThenFree(t *testing.T) {
	fs := mountFixture(t)

	n, err := fs.inodes.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if n == 0 {
		t.Fatalf("Allocate returned 0 on a fixture with free inodes")
	}

	freeBefore := fs.sb.FreeInodes
	if err := fs.inodes.Free(n); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if fs.sb.FreeInodes != freeBefore+1 {
		t.Fatalf("FreeInodes = %d after Free, want %d", fs.sb.FreeInodes, freeBefore+1)
	}

	n2, err := fs.inodes.Allocate()
	if err != nil {
		t.Fatalf("Allocate after Free: %v", err)
	}
	if n2 != n {
		t.Fatalf("Allocate after Free returned %d, want the just-freed %d", n2, n)
	}
}

func TestInodeStoreReadWriteRoundTrip(t *testing.T) {
	fs := mountFixture(t)

	n, err := fs.inodes.Allocate()
	if err != nil || n == 0 {
		t.Fatalf("Allocate: %v", err)
	}

	in := &Inode{Mode: InodeTypeRegularFile | 0600, UID: 42, GID: 7, LinksCount: 1}
	if err := fs.inodes.Write(n, in); err != nil {
		t.Fatalf("Write: %v", err)
	}

	back, err := fs.inodes.Read(n)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if back.UID != 42 || back.GID != 7 || back.Mode != in.Mode {
		t.Fatalf("Read after Write returned %+v, want uid=42 gid=7 mode=%#o", back, in.Mode)
	}
}

func TestInodeStoreLocateRejectsOutOfRange(t *testing.T) {
	fs := mountFixture(t)

	if _, _, err := fs.inodes.locate(0); err == nil {
		t.Fatalf("locate(0) should fail: inode numbers are 1-based")
	}
	if _, _, err := fs.inodes.locate(int(fs.sb.TotalInodes) + 1); err == nil {
		t.Fatalf("locate() beyond total_inodes should fail")
	}
}
