package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	apodweb "github.com/johann/apod"
	"github.com/johann/apod/internal/config"
	"github.com/johann/apod/internal/logging"
	"github.com/johann/apod/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the APOD server",
	Long:  "Start the APOD HTTP API. The listen port follows $PORT and falls back to 5000.",
	RunE:  runServe,
}

var (
	serveListenAddr  string
	serveWorkers     int
	serveMetricsPort int
	serveDebug       bool
)

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "Listen address (default from $PORT, config or :5000)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Concurrent upstream fetches (default from $WORKERS, config or 4)")
	serveCmd.Flags().IntVar(&serveMetricsPort, "metrics-port", 0, "Port for Prometheus metrics (disabled if 0)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if serveListenAddr != "" {
		cfg.ListenAddr = serveListenAddr
	}
	if serveWorkers > 0 {
		cfg.Workers = serveWorkers
	}
	if serveDebug {
		cfg.Debug = true
	}
	// Environment variable for metrics port
	if v := os.Getenv("APOD_METRICS_PORT"); v != "" && serveMetricsPort == 0 {
		if port, err := strconv.Atoi(v); err == nil {
			serveMetricsPort = port
		}
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	web, err := fs.Sub(apodweb.Web, "web")
	if err != nil {
		return fmt.Errorf("failed to load web assets: %w", err)
	}

	srv, err := server.New(cfg, server.Options{
		MetricsPort: serveMetricsPort,
		Web:         web,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	log.Infow("starting server",
		"addr", cfg.ListenAddr,
		"workers", cfg.Workers,
		"cache_driver", cfg.CacheDriver,
		"s3_archive", cfg.S3Bucket != "",
		"translate", cfg.TranslateEnabled)
	if serveMetricsPort > 0 {
		log.Infow("prometheus metrics enabled", "addr", fmt.Sprintf(":%d", serveMetricsPort))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}

func configPath() string {
	dir, _ := config.Dir()
	return dir + "/server.json"
}
