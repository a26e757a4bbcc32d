package main

import (
	"github.com/spf13/cobra"
)

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot assembles the conductr command tree.
func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "conductr",
		Short: "conductr supervises a stack of local service processes",
		Long: "conductr starts services in dependency tiers, watches their health,\n" +
			"restarts crashed children within an exponential-backoff budget and\n" +
			"hot-reloads them when watched files change.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "conductr.toml", "path to the TOML config file")

	root.AddCommand(newUpCmd(gf))
	root.AddCommand(newStartCmd(gf))
	root.AddCommand(newStopCmd(gf))
	root.AddCommand(newRestartCmd(gf))
	root.AddCommand(newStatusCmd(gf))
	root.AddCommand(newInitCmd(gf))
	return root
}
