package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information injected via ldflags at build time.
var (
	version = "0.1.0"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type serveOptions struct {
	configPath string
	host       string
	port       int
	dev        bool
}

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}

	root := &cobra.Command{
		Use:           "staffgate-api",
		Short:         "Employee self-registration service for Telegram mini-apps",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "/etc/staffgate/api.yaml", "Path to config file")
	addServeFlags(root, opts)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	addServeFlags(serve, opts)

	root.AddCommand(serve, newHashPasswordCmd(), newVersionCmd())
	return root
}

func addServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVar(&opts.host, "host", "", "Server host (overrides config)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Server port (overrides config)")
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "Development mode (decisions are logged instead of sent)")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "staffgate-api version %s (commit: %s)\n", version, commit)
		},
	}
}
