package main

import (
	"context"
	"fmt"
	"time"

	"github.com/johann/apod/internal/client"
	"github.com/johann/apod/internal/config"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login [server-url]",
	Short: "Login to an apod server",
	Long:  "Save the server URL. A token is only needed for cache administration.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var loginToken string

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "Authentication token for cache administration")
}

func runLogin(cmd *cobra.Command, args []string) error {
	serverURL := args[0]

	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ServerURL = serverURL
	if loginToken != "" {
		cfg.Token = loginToken
	}

	if err := config.SaveClient(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	if loginToken != "" {
		fmt.Printf("Logged in to %s with authentication token\n", serverURL)
	} else {
		fmt.Printf("Logged in to %s (read-only, no token provided)\n", serverURL)
	}

	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Health(ctx); err != nil {
		fmt.Printf("Warning: server is not reachable: %v\n", err)
	}

	return nil
}
