package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/johann/apod/internal/client"
	"github.com/johann/apod/internal/config"
	"github.com/spf13/cobra"
)

// Cmd is the cache command
var Cmd = &cobra.Command{
	Use:   "cache",
	Short: "Administer the server cache",
	Long:  "Inspect or purge the server cache. Requires a token, see 'apod login --token'.",
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server cache statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop cached entries on the server",
	Args:  cobra.NoArgs,
	RunE:  runPurge,
}

var purgePages bool

func init() {
	purgeCmd.Flags().BoolVar(&purgePages, "pages", false, "Also delete archived pages")

	Cmd.AddCommand(statsCmd)
	Cmd.AddCommand(purgeCmd)
}

func newClient() (*client.Client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("no token configured. Run 'apod login <server-url> --token <token>'")
	}
	return client.New(cfg)
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := c.CacheStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get cache stats: %w", err)
	}

	fmt.Printf("Entries:        %d (%d in memory)\n", st.Entries, st.MemoryEntries)
	fmt.Printf("Translations:   %d\n", st.Translations)
	fmt.Printf("Pages:          %d (%d bytes)\n", st.Pages, st.PageBytes)
	fmt.Printf("Archived in S3: %d\n", st.ArchivedToS3)
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.PurgeCache(ctx, purgePages); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}

	fmt.Println("Cache purged")
	return nil
}
