package main

import (
	"context"
	"fmt"
	"time"

	"github.com/johann/apod/internal/config"
	"github.com/johann/apod/internal/logging"
	"github.com/johann/apod/internal/storage"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the cache database",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE:  runCacheStats,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all cached entries and translations",
	RunE:  runCachePurge,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cached data older than the retention period",
	RunE:  runCachePrune,
}

var (
	purgePages bool
	pruneDays  int
)

func init() {
	cachePurgeCmd.Flags().BoolVar(&purgePages, "pages", false, "Also delete archived pages")
	cachePruneCmd.Flags().IntVar(&pruneDays, "days", 0, "Retention in days (default from config)")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	cacheCmd.AddCommand(cachePruneCmd)
}

func openStorage() (*storage.Storage, *config.ServerConfig, error) {
	cfg, err := config.LoadServer()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.New(cfg, logger.Sugar().Named("storage"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache (config: %s): %w", configPath(), err)
	}
	return store, cfg, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Stats(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Driver:        %s\n", cfg.CacheDriver)
	fmt.Printf("Entries:       %d\n", st.Entries)
	fmt.Printf("Translations:  %d\n", st.Translations)
	fmt.Printf("Pages:         %d (%s)\n", st.Pages, formatSize(st.PageBytes))
	if cfg.S3Bucket != "" {
		fmt.Printf("Archived (S3): %d in %s\n", st.ArchivedToS3, cfg.S3Bucket)
	}
	return nil
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	store, _, err := openStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Purge(context.Background(), purgePages); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}

	if purgePages {
		fmt.Println("Cache and archived pages purged")
	} else {
		fmt.Println("Cache purged, archived pages kept")
	}
	return nil
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	days := cfg.RetentionDays
	if pruneDays > 0 {
		days = pruneDays
	}
	if days <= 0 {
		return fmt.Errorf("retention is disabled, pass --days")
	}

	res, err := store.Prune(context.Background(), time.Now().AddDate(0, 0, -days))
	if err != nil {
		return fmt.Errorf("failed to prune cache: %w", err)
	}

	fmt.Printf("Removed %d entries, %d translations and %d pages older than %d days\n",
		res.Entries, res.Translations, res.Pages, days)
	return nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
