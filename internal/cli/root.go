// Package cli implements the rentsync client command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	TenantID   string
	ServerURL  string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the sync client.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncclient",
		Short: "Offline-first rentsync client",
		Long: `Queue record changes locally and synchronize them with a rentsync server.

Changes are stored in the local durable store first and pushed when the
server is reachable; the server resolves conflicts by record version.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVarP(&opts.TenantID, "tenant", "t", "", "tenant to operate on (overrides sync.tenant_id)")
	cmd.PersistentFlags().StringVar(&opts.ServerURL, "server", "", "server base URL (overrides sync.server_url)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPullCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewEnableCommand(opts, true))
	cmd.AddCommand(NewEnableCommand(opts, false))
	cmd.AddCommand(NewDiscardCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
