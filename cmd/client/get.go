package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/johann/apod/internal/apod"
	"github.com/johann/apod/internal/client"
	"github.com/johann/apod/internal/config"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the picture of one day",
	Long:  "Show the Astronomy Picture of the Day for --date, or for today.",
	Args:  cobra.NoArgs,
	RunE:  runGet,
}

var rangeCmd = &cobra.Command{
	Use:   "range",
	Short: "List the pictures of a date range",
	Args:  cobra.NoArgs,
	RunE:  runRange,
}

var randomCmd = &cobra.Command{
	Use:   "random",
	Short: "Show randomly chosen pictures",
	Args:  cobra.NoArgs,
	RunE:  runRandom,
}

var (
	getDate        string
	getThumbs      bool
	getConceptTags bool
	rangeStart     string
	rangeEnd       string
	randomCount    int
)

func init() {
	getCmd.Flags().StringVar(&getDate, "date", "", "Date in YYYY-MM-DD format (default today)")
	getCmd.Flags().BoolVar(&getConceptTags, "concept-tags", false, "Include concept tags")

	rangeCmd.Flags().StringVar(&rangeStart, "start", "", "First date in YYYY-MM-DD format")
	rangeCmd.Flags().StringVar(&rangeEnd, "end", "", "Last date in YYYY-MM-DD format (default today)")
	rangeCmd.MarkFlagRequired("start")

	randomCmd.Flags().IntVar(&randomCount, "count", 1, "Number of pictures (1-100)")

	for _, cmd := range []*cobra.Command{getCmd, rangeCmd, randomCmd} {
		cmd.Flags().BoolVar(&getThumbs, "thumbs", false, "Include video thumbnails")
	}
}

func newClient() (*client.Client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return client.New(cfg)
}

func runGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	entry, err := c.Get(ctx, client.Query{Date: getDate, Thumbs: getThumbs, ConceptTags: getConceptTags})
	if err != nil {
		return err
	}
	return printEntries(*entry)
}

func runRange(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	entries, err := c.Range(ctx, client.Query{StartDate: rangeStart, EndDate: rangeEnd, Thumbs: getThumbs})
	if err != nil {
		return err
	}
	return printEntries(entries...)
}

func runRandom(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	entries, err := c.Random(ctx, client.Query{Count: randomCount, Thumbs: getThumbs})
	if err != nil {
		return err
	}
	return printEntries(entries...)
}

func printEntries(entries ...apod.Entry) error {
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if len(entries) == 1 {
			return enc.Encode(entries[0])
		}
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No pictures found")
		return nil
	}

	for i, e := range entries {
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("%s  %s\n", e.Date, e.Title)
		fmt.Printf("  Media:     %s\n", e.MediaType)
		if e.URL != "" {
			fmt.Printf("  URL:       %s\n", e.URL)
		}
		if e.HDURL != "" && e.HDURL != e.URL {
			fmt.Printf("  HD URL:    %s\n", e.HDURL)
		}
		if e.ThumbnailURL != "" {
			fmt.Printf("  Thumbnail: %s\n", e.ThumbnailURL)
		}
		if e.Copyright != "" {
			fmt.Printf("  Credit:    %s\n", e.Copyright)
		}
		if e.Concepts != nil {
			fmt.Printf("  Concepts:  %v\n", e.Concepts)
		}
		if len(entries) == 1 && e.Explanation != "" {
			fmt.Println()
			fmt.Println(e.Explanation)
		}
	}
	return nil
}
