package ext2fs

import (
	"fmt"
	"io"
	"os"
)

// BlockIO is positioned read/write of fixed-size blocks against a backing
// image file. It knows nothing about superblocks, inodes or directories --
// just "block n is B bytes starting at n*B".
type BlockIO struct {
	img        *os.File
	blockSize  int
	blockCount int64
}

// openBlockIO wraps an already-open file handle. blockCount is used only to
// bound ReadBlock/WriteBlock with OutOfRange; callers update it after the
// superblock has been decoded.
func openBlockIO(f *os.File, blockSize int, blockCount int64) *BlockIO {
	return &BlockIO{img: f, blockSize: blockSize, blockCount: blockCount}
}

func (b *BlockIO) setGeometry(blockSize int, blockCount int64) {
	b.blockSize = blockSize
	b.blockCount = blockCount
}

// ReadBlock reads exactly BlockSize bytes from block number n.
func (b *BlockIO) ReadBlock(n int64) ([]byte, error) {
	if n < 0 || (b.blockCount > 0 && n >= b.blockCount) {
		return nil, fmt.Errorf("%w: block %d", ErrOutOfRange, n)
	}

	_, err := b.img.Seek(n*int64(b.blockSize), io.SeekStart)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, b.blockSize)
	k, err := io.ReadFull(b.img, buf)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, fmt.Errorf("%w: read %d of %d bytes from block %d", ErrShortIO, k, b.blockSize, n)
		}
		return nil, err
	}

	return buf, nil
}

// WriteBlock writes exactly BlockSize bytes to block number n. Writing block
// 0 is refused -- it guards against clobbering the boot area, which the
// superblock itself (at byte offset 1024) never needs to touch.
func (b *BlockIO) WriteBlock(n int64, data []byte) error {
	if n == 0 {
		return fmt.Errorf("%w: refusing to write block 0 (boot area)", ErrOutOfRange)
	}
	if n < 0 || (b.blockCount > 0 && n >= b.blockCount) {
		return fmt.Errorf("%w: block %d", ErrOutOfRange, n)
	}
	if len(data) != b.blockSize {
		return fmt.Errorf("%w: write of %d bytes to block %d, want %d", ErrShortIO, len(data), n, b.blockSize)
	}

	_, err := b.img.Seek(n*int64(b.blockSize), io.SeekStart)
	if err != nil {
		return err
	}

	k, err := b.img.Write(data)
	if err != nil {
		return err
	}
	if k != b.blockSize {
		return fmt.Errorf("%w: wrote %d of %d bytes to block %d", ErrShortIO, k, b.blockSize, n)
	}

	return nil
}

// ReadAt reads raw bytes at an arbitrary byte offset, bypassing block
// alignment. Used for the superblock, which lives at a fixed byte offset
// rather than a block boundary.
func (b *BlockIO) ReadAt(off int64, p []byte) error {
	_, err := b.img.Seek(off, io.SeekStart)
	if err != nil {
		return err
	}
	_, err = io.ReadFull(b.img, p)
	return err
}

// WriteAt writes raw bytes at an arbitrary byte offset.
func (b *BlockIO) WriteAt(off int64, p []byte) error {
	_, err := b.img.Seek(off, io.SeekStart)
	if err != nil {
		return err
	}
	k, err := b.img.Write(p)
	if err != nil {
		return err
	}
	if k != len(p) {
		return fmt.Errorf("%w: wrote %d of %d bytes at offset %d", ErrShortIO, k, len(p), off)
	}
	return nil
}

// Close closes the backing image.
func (b *BlockIO) Close() error {
	return b.img.Close()
}
