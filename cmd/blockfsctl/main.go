package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/bbanerjeerichards/blockfs"
	"github.com/bbanerjeerichards/blockfs/dir"
)

func main() {
	app := cli.App{
		Name:  "blockfsctl",
		Usage: "Format and manipulate blockfs disk images",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create and format a fresh disk image",
				Action:    formatImage,
				ArgsUsage: "IMAGE",
			},
			{
				Name:      "ls",
				Usage:     "List the entries of a directory",
				Action:    listDirectory,
				ArgsUsage: "IMAGE [PATH]",
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents to stdout",
				Action:    catFile,
				ArgsUsage: "IMAGE PATH",
			},
			{
				Name:      "put",
				Usage:     "Create or replace a file from stdin",
				Action:    putFile,
				ArgsUsage: "IMAGE PARENT_PATH NAME",
			},
			{
				Name:      "rm",
				Usage:     "Remove a directory entry",
				Action:    removeEntry,
				ArgsUsage: "IMAGE PARENT_PATH NAME",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func formatImage(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return cli.Exit("format requires an IMAGE path", 1)
	}

	disk, err := blockfs.FormatAndMount(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return disk.Unmount()
}

func listDirectory(ctx *cli.Context) error {
	path := ctx.Args().Get(0)
	target := ctx.Args().Get(1)
	if path == "" {
		return cli.Exit("ls requires an IMAGE path", 1)
	}

	disk, err := blockfs.Mount(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer disk.Unmount()

	inodeNumber, err := disk.Resolve(strings.TrimPrefix(target, "/"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	payload, err := disk.ReadAll(inodeNumber)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	pos := 0
	for pos < len(payload) {
		entry, next, err := dir.ReadNextEntry(payload, pos)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Fprintf(ctx.App.Writer, "%d\t%s\n", entry.InodeNumber, entry.Name)
		pos = next
	}
	return nil
}

func catFile(ctx *cli.Context) error {
	path := ctx.Args().Get(0)
	target := ctx.Args().Get(1)
	if path == "" || target == "" {
		return cli.Exit("cat requires an IMAGE and a PATH", 1)
	}

	disk, err := blockfs.Mount(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer disk.Unmount()

	inodeNumber, err := disk.Resolve(strings.TrimPrefix(target, "/"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	data, err := disk.ReadAll(inodeNumber)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	_, err = ctx.App.Writer.Write(data)
	return err
}

func putFile(ctx *cli.Context) error {
	path := ctx.Args().Get(0)
	parent := ctx.Args().Get(1)
	name := ctx.Args().Get(2)
	if path == "" || name == "" {
		return cli.Exit("put requires an IMAGE, a PARENT_PATH and a NAME", 1)
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	disk, err := blockfs.Mount(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer disk.Unmount()

	parentPath := strings.TrimPrefix(parent, "/")
	fullPath := name
	if parentPath != "" {
		fullPath = parentPath + "/" + name
	}

	inodeNumber, err := disk.Resolve(fullPath)
	if err != nil {
		inodeNumber, err = disk.CreateFile(parentPath, name, false)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}

	if err := disk.WriteFile(inodeNumber, data); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func removeEntry(ctx *cli.Context) error {
	path := ctx.Args().Get(0)
	parent := ctx.Args().Get(1)
	name := ctx.Args().Get(2)
	if path == "" || name == "" {
		return cli.Exit("rm requires an IMAGE, a PARENT_PATH and a NAME", 1)
	}

	disk, err := blockfs.Mount(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer disk.Unmount()

	_, err = disk.RemoveEntry(strings.TrimPrefix(parent, "/"), name)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}
