package main

import (
	"github.com/johann/apod/cmd/client/cache"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "apod",
	Short:        "Astronomy Picture of the Day client",
	Long:         "apod fetches Astronomy Picture of the Day entries from an apod-server.",
	SilenceUsage: true,
}

var outputJSON bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print raw JSON")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(rangeCmd)
	rootCmd.AddCommand(randomCmd)
	rootCmd.AddCommand(nasaCmd)
	rootCmd.AddCommand(cache.Cmd)
}
