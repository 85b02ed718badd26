package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var nasaCmd = &cobra.Command{
	Use:   "nasa",
	Short: "Show the official NASA API entry with Chinese translation",
	Args:  cobra.NoArgs,
	RunE:  runNASA,
}

var (
	nasaDate   string
	nasaThumbs bool
)

func init() {
	nasaCmd.Flags().StringVar(&nasaDate, "date", "", "Date in YYYY-MM-DD format (default today)")
	nasaCmd.Flags().BoolVar(&nasaThumbs, "thumbs", false, "Include video thumbnails")
}

func runNASA(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	doc, err := c.NASA(ctx, nasaDate, nasaThumbs)
	if err != nil {
		return err
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	fmt.Printf("%v  %v\n", doc["date"], doc["title"])
	if en, ok := doc["title_en"]; ok {
		fmt.Printf("  (%v)\n", en)
	}
	if u, ok := doc["url"]; ok {
		fmt.Printf("  URL: %v\n", u)
	}
	if exp, ok := doc["explanation"]; ok {
		fmt.Println()
		fmt.Println(exp)
	}
	return nil
}
