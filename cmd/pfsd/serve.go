package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wicos64/persistentfs/internal/blockdev"
	"github.com/wicos64/persistentfs/internal/buffercache"
	"github.com/wicos64/persistentfs/internal/config"
	"github.com/wicos64/persistentfs/internal/directory"
	"github.com/wicos64/persistentfs/internal/fslog"
	"github.com/wicos64/persistentfs/internal/freemap"
	"github.com/wicos64/persistentfs/internal/fsserver"
	"github.com/wicos64/persistentfs/internal/inode"
	"github.com/wicos64/persistentfs/internal/version"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open a device image and serve it over the PFS1 protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	log := fslog.New(fslog.Options{Path: cfg.LogPath, Level: cfg.LogLevel})
	log.Info("starting pfsd", "version", version.Get().String(), "device", cfg.DevicePath)

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

	srv := fsserver.New(log, eng, fs)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", cfg.ListenAddr, err)
	}
	httpSrv := &http.Server{Handler: srv.HTTPHandler()}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-srv.Done():
			log.Info("received halt, shutting down")
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	})

	return g.Wait()
}
