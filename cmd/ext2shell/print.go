package main

import (
	"fmt"

	"github.com/L33tSh4rk/EXT2-FileSystem/pkg/ext2fs"
)

// printSuperblock dumps the fields a reader needs to sanity-check a mounted
// image.
func printSuperblock(sb *ext2fs.Superblock) {
	table := [][]string{
		{"", ""},
		{"block size", printableSize(int64(sb.BlockSize())).String()},
		{"inode size", fmt.Sprintf("%d", sb.InodeSize())},
		{"total blocks", fmt.Sprintf("%d", sb.TotalBlocks)},
		{"free blocks", fmt.Sprintf("%d", sb.FreeBlocks)},
		{"total inodes", fmt.Sprintf("%d", sb.TotalInodes)},
		{"free inodes", fmt.Sprintf("%d", sb.FreeInodes)},
		{"blocks per group", fmt.Sprintf("%d", sb.BlocksPerGroup)},
		{"inodes per group", fmt.Sprintf("%d", sb.InodesPerGroup)},
		{"group count", fmt.Sprintf("%d", sb.GroupCount())},
		{"revision", fmt.Sprintf("%d", sb.RevLevel)},
		{"volume uuid", sb.VolumeUUID().String()},
	}
	plainTable(table)
}

func printGroups(gdt []*ext2fs.GroupDescriptor) {
	table := [][]string{{"", "", "", "", "", ""}}
	for i, gd := range gdt {
		table = append(table, []string{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("%d", gd.BlockBitmap),
			fmt.Sprintf("%d", gd.InodeBitmap),
			fmt.Sprintf("%d", gd.InodeTable),
			fmt.Sprintf("%d", gd.FreeBlocks),
			fmt.Sprintf("%d", gd.FreeInodes),
		})
	}
	plainTable(table)
}

func printInode(n int, inode *ext2fs.Inode) {
	table := [][]string{
		{"", ""},
		{"inode", fmt.Sprintf("%d", n)},
		{"mode", inode.PermissionsString()},
		{"uid/gid", fmt.Sprintf("%d/%d", inode.UID, inode.GID)},
		{"links", fmt.Sprintf("%d", inode.LinksCount)},
		{"size", printableSize(inode.Size()).String()},
		{"blocks", fmt.Sprintf("%v", inode.Block)},
	}
	plainTable(table)
}
