// Package commands implements the didi CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "didi",
		Short: "didi - Discord bot with APOD, Gemini chat and community cogs",
		Long: `didi is a Discord bot built from cogs: a daily NASA Astronomy Picture
of the Day, Gemini conversations, random nekos, member restriction and
custom profiles.

Examples:
  didi setup
  didi serve
  didi chat "what is a pulsar?"
  didi schedule list`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newChatCmd(),
		newConfigCmd(),
		newScheduleCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
