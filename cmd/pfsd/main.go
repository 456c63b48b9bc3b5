// Command pfsd serves the persistent filesystem (internal/blockdev,
// internal/buffercache, internal/inode, internal/directory, internal/fsproc)
// over the PFS1 wire protocol (internal/fsserver).
//
// Grounded on the teacher's cmd/wicos64-server, restructured around
// cobra subcommands (serve/mkfs/fsck/version) the way gcsfuse's cmd
// package layers flags over Viper-bound configuration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wicos64/persistentfs/internal/config"
	"github.com/wicos64/persistentfs/internal/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pfsd",
		Short: "Serve a persistent filesystem image over the PFS1 protocol",
	}

	if err := config.BindFlags(root.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cobra.OnInitialize(func() {
		viper.AutomaticEnv()
	})

	root.AddCommand(serveCmd())
	root.AddCommand(mkfsCmd())
	root.AddCommand(fsckCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version.Get().String())
			return nil
		},
	}
}
