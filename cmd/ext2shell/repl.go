package main

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/L33tSh4rk/EXT2-FileSystem/pkg/ext2fs"
)

type shell struct {
	fs      *ext2fs.FileSystem
	cwdIno  int
	cwdPath string
}

func runShell(imgPath string) error {

	fs, err := ext2fs.Mount(imgPath, log)
	if err != nil {
		return fmt.Errorf("mounting %s: %w", imgPath, err)
	}
	defer fs.Close()

	sh := &shell{fs: fs, cwdIno: ext2fs.RootInode, cwdPath: "/"}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Printf("ext2shell: %s mounted, type `help` for commands\n", imgPath)

	for {
		fmt.Printf("%s> ", sh.cwdPath)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		args := strings.Fields(line)
		cmd := args[0]
		args = args[1:]

		if cmd == "exit" || cmd == "quit" {
			break
		}

		if err := sh.dispatch(cmd, args); err != nil {
			log.Errorf("%v", err)
		}
	}

	return scanner.Err()
}

// resolve turns a user-supplied path argument into an inode number,
// relative to the shell's current directory unless it starts with "/".
func (sh *shell) resolve(p string) (int, error) {
	return sh.fs.Resolve(sh.cwdIno, p)
}

func (sh *shell) dispatch(cmd string, args []string) error {
	switch cmd {
	case "ls":
		return sh.cmdLS(args)
	case "cd":
		return sh.cmdCD(args)
	case "pwd":
		fmt.Println(sh.cwdPath)
		return nil
	case "cat":
		return sh.cmdCat(args)
	case "attr":
		return sh.cmdAttr(args)
	case "info":
		return sh.cmdInfo(args)
	case "touch":
		return sh.cmdTouch(args)
	case "rm":
		return sh.cmdRM(args)
	case "mkdir":
		return sh.cmdMkdir(args)
	case "rmdir":
		return sh.cmdRmdir(args)
	case "rename":
		return sh.cmdRename(args)
	case "cp":
		return sh.cmdCP(args)
	case "print":
		return sh.cmdPrint(args)
	case "help":
		printHelp()
		return nil
	default:
		return fmt.Errorf("unknown command %q (try `help`)", cmd)
	}
}

func printHelp() {
	lines := []string{
		"ls [path]                 list a directory's entries",
		"cd <path>                 change the current directory",
		"pwd                       print the current directory",
		"cat <path>                print a regular file's content",
		"attr <path>               print an entry's permissions, owner, size",
		"info <path>               print an entry's inode number and type",
		"touch <path>              create an empty file, or refresh its times",
		"rm <path>                 delete a regular file",
		"mkdir <path>              create a directory",
		"rmdir <path>              remove an empty directory",
		"rename <old> <new>        rename or move an entry",
		"cp <path> <host-path>     copy a regular file out of the image to the host",
		"print superblock          dump the mounted superblock",
		"print groups              dump the block group descriptor table",
		"print inode <n>           dump inode n's fields",
		"exit, quit                leave the shell",
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}

func (sh *shell) cmdLS(args []string) error {
	target := sh.cwdIno
	if len(args) > 0 {
		n, err := sh.resolve(args[0])
		if err != nil {
			return err
		}
		target = n
	}

	entries, err := sh.fs.Readdir(target)
	if err != nil {
		return err
	}

	table := [][]string{{"", "", "", "", ""}}
	for _, e := range entries {
		child, err := sh.fs.Stat(e.Inode)
		if err != nil {
			return err
		}
		table = append(table, []string{
			child.PermissionsString(),
			fmt.Sprintf("%d", child.LinksCount),
			printableSize(child.Size()).String(),
			e.Name,
		})
	}
	plainTable(table)
	return nil
}

func (sh *shell) cmdCD(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: cd <path>")
	}

	n, err := sh.resolve(args[0])
	if err != nil {
		return err
	}
	inode, err := sh.fs.Stat(n)
	if err != nil {
		return err
	}
	if !inode.IsDirectory() {
		return fmt.Errorf("%s: not a directory", args[0])
	}

	sh.cwdIno = n
	if strings.HasPrefix(args[0], "/") {
		sh.cwdPath = path.Clean(args[0])
	} else {
		sh.cwdPath = path.Clean(path.Join(sh.cwdPath, args[0]))
	}
	if sh.cwdPath == "" {
		sh.cwdPath = "/"
	}
	return nil
}

func (sh *shell) cmdCat(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: cat <path>")
	}
	n, err := sh.resolve(args[0])
	if err != nil {
		return err
	}
	data, err := sh.fs.ReadFile(n)
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

func (sh *shell) cmdAttr(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: attr <path>")
	}
	n, err := sh.resolve(args[0])
	if err != nil {
		return err
	}
	inode, err := sh.fs.Stat(n)
	if err != nil {
		return err
	}
	fmt.Printf("%s %d %d %s %s\n",
		inode.PermissionsString(), inode.UID, inode.GID,
		printableSize(inode.Size()).String(),
		time.Unix(int64(inode.ModifyTime), 0))
	return nil
}

func (sh *shell) cmdInfo(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: info <path>")
	}
	n, err := sh.resolve(args[0])
	if err != nil {
		return err
	}
	inode, err := sh.fs.Stat(n)
	if err != nil {
		return err
	}
	kind := "file"
	switch {
	case inode.IsDirectory():
		kind = "directory"
	case inode.IsSymlink():
		kind = "symlink"
	}
	fmt.Printf("inode %d, %s, links %d\n", n, kind, inode.LinksCount)
	return nil
}

func (sh *shell) cmdTouch(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: touch <path>")
	}
	_, err := sh.fs.Touch(sh.cwdIno, args[0])
	return err
}

func (sh *shell) cmdRM(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: rm <path>")
	}
	return sh.fs.DeleteFile(sh.cwdIno, args[0])
}

func (sh *shell) cmdMkdir(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: mkdir <path>")
	}
	return sh.fs.MakeDirectory(sh.cwdIno, args[0])
}

func (sh *shell) cmdRmdir(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: rmdir <path>")
	}
	return sh.fs.RemoveDirectory(sh.cwdIno, args[0])
}

// cmdRename takes its old/new names as whatever the whitespace-split
// argument vector handed it: a name containing a space can't be expressed
// this way, matching the ambiguity the rest of this shell's line parsing
// carries everywhere else.
func (sh *shell) cmdRename(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: rename <old> <new>")
	}
	return sh.fs.Rename(sh.cwdIno, args[0], args[1])
}

// cmdCP copies a regular file out of the image to the host: the engine has
// no regular-file write path, so this is copy-out only (source path in the
// image, absolute destination path on the host).
func (sh *shell) cmdCP(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: cp <path> <host-path>")
	}

	n, err := sh.resolve(args[0])
	if err != nil {
		return err
	}
	data, err := sh.fs.ReadFile(n)
	if err != nil {
		return err
	}

	return os.WriteFile(args[1], data, 0644)
}

func (sh *shell) cmdPrint(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: print superblock|groups|inode <n>")
	}

	switch args[0] {
	case "superblock":
		printSuperblock(sh.fs.Superblock())
		return nil
	case "groups":
		printGroups(sh.fs.GroupDescriptors())
		return nil
	case "inode":
		if len(args) < 2 {
			return fmt.Errorf("usage: print inode <n>")
		}
		var n int
		if _, err := fmt.Sscanf(args[1], "%d", &n); err != nil {
			return fmt.Errorf("bad inode number %q", args[1])
		}
		inode, err := sh.fs.Stat(n)
		if err != nil {
			return err
		}
		printInode(n, inode)
		return nil
	default:
		return fmt.Errorf("usage: print superblock|groups|inode <n>")
	}
}
