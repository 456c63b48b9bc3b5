package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wicos64/persistentfs/internal/blockdev"
	"github.com/wicos64/persistentfs/internal/buffercache"
	"github.com/wicos64/persistentfs/internal/config"
	"github.com/wicos64/persistentfs/internal/directory"
	"github.com/wicos64/persistentfs/internal/freemap"
	"github.com/wicos64/persistentfs/internal/inode"
)

func fsckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fsck",
		Short: "Walk every reachable inode and report integrity errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runFsck(cfg)
		},
	}
}

func runFsck(cfg config.Config) error {
	dev, err := blockdev.Open(cfg.DevicePath)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Close()

	alloc, err := freemap.Open(dev)
	if err != nil {
		return fmt.Errorf("open free map: %w", err)
	}

	cache := buffercache.New(dev)
	defer cache.Close()

	eng := inode.NewEngine(dev, cache, alloc)
	fs := &directory.FS{Eng: eng, RootSector: freemap.RootDirSector}

	root, err := fs.Root()
	if err != nil {
		return fmt.Errorf("open root inode: %w", err)
	}
	defer eng.Close(root)

	visited := map[uint32]bool{freemap.RootDirSector: true}
	files, dirs, errCount := 0, 1, 0
	walk(eng, root, "/", visited, &files, &dirs, &errCount)

	fmt.Printf("fsck: %d directories, %d files, %d errors, %d sectors free\n",
		dirs, files, errCount, alloc.FreeSectors())
	if errCount > 0 {
		return fmt.Errorf("fsck: %d integrity errors found", errCount)
	}
	return nil
}

func walk(eng *inode.Engine, dir *inode.Inode, path string, visited map[uint32]bool, files, dirs, errCount *int) {
	var cur directory.Cursor
	for {
		name, ok, err := directory.Readdir(eng, dir, &cur)
		if err != nil {
			fmt.Printf("%s: readdir error: %v\n", path, err)
			*errCount++
			return
		}
		if !ok {
			return
		}

		sector, found, err := directory.Lookup(eng, dir, name)
		if err != nil || !found {
			fmt.Printf("%s/%s: lookup inconsistent with readdir\n", path, name)
			*errCount++
			continue
		}
		if visited[sector] {
			fmt.Printf("%s/%s: cycle or duplicate reference to sector %d\n", path, name, sector)
			*errCount++
			continue
		}
		visited[sector] = true

		child, err := eng.Open(sector)
		if err != nil {
			fmt.Printf("%s/%s: open failed: %v\n", path, name, err)
			*errCount++
			continue
		}

		if child.Stat().IsDir {
			*dirs++
			walk(eng, child, path+"/"+name, visited, files, dirs, errCount)
		} else {
			*files++
		}
		eng.Close(child)
	}
}
