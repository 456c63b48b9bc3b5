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

func mkfsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkfs",
		Short: "Format a new device image and lay down an empty root directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runMkfs(cfg)
		},
	}
}

func runMkfs(cfg config.Config) error {
	dev, err := blockdev.Format(cfg.DevicePath, cfg.DeviceSectors)
	if err != nil {
		return fmt.Errorf("format device: %w", err)
	}
	defer dev.Close()

	alloc, err := freemap.Format(dev)
	if err != nil {
		return fmt.Errorf("format free map: %w", err)
	}

	cache := buffercache.New(dev)
	defer cache.Close()

	eng := inode.NewEngine(dev, cache, alloc)
	if err := eng.Create(freemap.RootDirSector, 0, true); err != nil {
		return fmt.Errorf("create root inode: %w", err)
	}

	fs := &directory.FS{Eng: eng, RootSector: freemap.RootDirSector}
	root, err := fs.Root()
	if err != nil {
		return fmt.Errorf("open root inode: %w", err)
	}
	defer eng.Close(root)

	if err := directory.InitSelfEntries(eng, root, freemap.RootDirSector, freemap.RootDirSector); err != nil {
		return fmt.Errorf("write root '.'/'..' entries: %w", err)
	}

	if err := cache.FlushAll(); err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}

	fmt.Printf("formatted %s: %d sectors, %d free\n", cfg.DevicePath, dev.Size(), alloc.FreeSectors())
	return nil
}
