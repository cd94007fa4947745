package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "futurefeed",
		Short: "Preset-driven social feed backend",
		Long: `futurefeed serves feeds composed from user presets: weighted rules over
topics, post sources and authors, topped up with a random selection of
everything else.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default $XDG_CONFIG_HOME/futurefeed/config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newComposeCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "futurefeed %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
