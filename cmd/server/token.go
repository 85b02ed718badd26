package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/johann/apod/internal/config"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the cache administration token",
	Long: `The token guards /api/cache. Clients send it as a bearer token,
see 'apod login <server-url> --token <token>'.`,
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the token, generating one if none is set",
	Args:  cobra.NoArgs,
	RunE:  runTokenShow,
}

var tokenRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the token with a new one",
	Long:  "Replace the token. A running server keeps the old token until it is restarted.",
	Args:  cobra.NoArgs,
	RunE:  runTokenRotate,
}

func init() {
	tokenCmd.AddCommand(tokenShowCmd)
	tokenCmd.AddCommand(tokenRotateCmd)
}

func runTokenShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerFile()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Token == "" {
		if err := setToken(cfg); err != nil {
			return err
		}
		fmt.Println("Generated new token:")
	}

	fmt.Println(cfg.Token)
	if os.Getenv("APOD_TOKEN") != "" {
		fmt.Println("Note: APOD_TOKEN is set and overrides this token")
	}
	return nil
}

func runTokenRotate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerFile()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := setToken(cfg); err != nil {
		return err
	}

	fmt.Println(cfg.Token)
	fmt.Println("Restart apod-server to apply it")
	return nil
}

func setToken(cfg *config.ServerConfig) error {
	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	cfg.Token = token

	if err := config.SaveServer(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
