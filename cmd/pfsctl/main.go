// Command pfsctl is a wire-protocol client for pfsd: it issues PFS1
// requests over HTTP and prints the results.
//
// Grounded on the teacher's cmd/w64tool: a flag-selected target URL,
// one subcommand per operation, each building a request with the wire
// codec and decoding the response the same way.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wicos64/persistentfs/internal/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pfsctl:", err)
		os.Exit(1)
	}
}

var targetURL string

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pfsctl",
		Short: "Talk to a pfsd server over the PFS1 wire protocol",
	}
	root.PersistentFlags().StringVar(&targetURL, "url", "http://127.0.0.1:8851/pfs1", "pfsd PFS1 endpoint")

	root.AddCommand(versionCmd())
	root.AddCommand(mkdirCmd())
	root.AddCommand(createCmd())
	root.AddCommand(rmCmd())
	root.AddCommand(catCmd())
	root.AddCommand(writeCmd())
	root.AddCommand(lsCmd())
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
