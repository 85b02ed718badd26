package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "apod-server",
	Short:        "Astronomy Picture of the Day service",
	Long:         "apod-server serves enriched Astronomy Picture of the Day metadata as JSON.",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(cacheCmd)
}
