package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Parley CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parley",
		Short: "Parley - presence-aware point-to-point messaging",
		Long: `Parley is a terminal messaging client that talks to a STOMP
pub/sub broker over WebSocket, with a REST directory for contacts,
presence, and conversation history.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewConnectCmd())

	return cmd
}
