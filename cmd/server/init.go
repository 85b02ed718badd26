package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/johann/apod/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize server configuration",
	Long:  "Interactive wizard to configure the server settings.",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("apod-server configuration wizard")
	fmt.Println("================================")
	fmt.Println()

	// Load the saved config, environment overrides are not persisted
	cfg, err := config.LoadServerFile()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Server Configuration
	fmt.Println("Server Configuration")
	fmt.Println("--------------------")

	cfg.ListenAddr = prompt(reader, "HTTP Listen Address", cfg.ListenAddr, ":5000")
	cfg.Workers = promptInt(reader, "Workers (concurrent upstream fetches)", cfg.Workers, 4)
	cfg.RateLimitPerHour = promptInt(reader, "Requests per hour per client (0 disables)", cfg.RateLimitPerHour, 1000)

	fmt.Println()

	// Cache Configuration
	fmt.Println("Cache Configuration")
	fmt.Println("-------------------")

	cfg.CacheDriver = prompt(reader, "Cache driver (sqlite or mysql)", cfg.CacheDriver, "sqlite")
	if cfg.CacheDriver == "mysql" {
		cfg.CacheDSN = prompt(reader, "MySQL DSN", cfg.CacheDSN, "apod:apod@tcp(localhost:3306)/apod")
	} else {
		cfg.DBPath = prompt(reader, "Database Path", cfg.DBPath, "")
	}
	cfg.RetentionDays = promptInt(reader, "Retention Days", cfg.RetentionDays, 90)

	fmt.Println()

	// S3 Configuration
	fmt.Println("S3 Page Archive")
	fmt.Println("---------------")

	if promptYesNo(reader, "Archive raw APOD pages in S3?", cfg.S3Bucket != "") {
		cfg.S3Endpoint = prompt(reader, "S3 Endpoint URL", cfg.S3Endpoint, "http://localhost:9000")
		cfg.S3Bucket = prompt(reader, "S3 Bucket Name", cfg.S3Bucket, "apod-pages")
		cfg.S3AccessKey = prompt(reader, "S3 Access Key", cfg.S3AccessKey, "")
		cfg.S3SecretKey = promptSecret(reader, "S3 Secret Key", cfg.S3SecretKey)
		cfg.S3Region = prompt(reader, "S3 Region", cfg.S3Region, "us-east-1")
	} else {
		cfg.S3Bucket = ""
	}

	fmt.Println()

	// Upstream services
	fmt.Println("Upstream Services")
	fmt.Println("-----------------")

	cfg.NASAAPIKey = promptSecret(reader, "NASA API Key (for /api/apod)", cfg.NASAAPIKey)
	cfg.TranslateEnabled = promptYesNo(reader, "Translate NASA API titles to Chinese?", cfg.TranslateEnabled)
	if cfg.TranslateEnabled {
		cfg.TranslateURL = prompt(reader, "LibreTranslate URL", cfg.TranslateURL, "https://libretranslate.de/translate")
	}

	fmt.Println()

	// Token
	fmt.Println("Authentication")
	fmt.Println("--------------")

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		fmt.Printf("Generated new token: %s\n", token)
	} else {
		if promptYesNo(reader, "Regenerate authentication token?", false) {
			token, err := generateToken()
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			cfg.Token = token
			fmt.Printf("New token: %s\n", token)
		} else {
			fmt.Printf("Keeping existing token: %s\n", cfg.Token)
		}
	}

	fmt.Println()

	// Save configuration
	if err := config.SaveServer(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println("Configuration saved!")
	fmt.Printf("Config file: %s\n", configPath())
	fmt.Println()
	fmt.Println("Start the server with:")
	fmt.Println("  apod-server serve")

	return nil
}

func prompt(reader *bufio.Reader, label, current, defaultVal string) string {
	displayDefault := current
	if displayDefault == "" {
		displayDefault = defaultVal
	}

	if displayDefault != "" {
		fmt.Printf("%s [%s]: ", label, displayDefault)
	} else {
		fmt.Printf("%s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		if current != "" {
			return current
		}
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, label string, current, defaultVal int) int {
	s := prompt(reader, label, strconv.Itoa(current), strconv.Itoa(defaultVal))
	n, err := strconv.Atoi(s)
	if err != nil {
		fmt.Printf("Not a number, keeping %d\n", current)
		return current
	}
	return n
}

func promptSecret(reader *bufio.Reader, label, current string) string {
	if current != "" {
		fmt.Printf("%s [****hidden****]: ", label)
	} else {
		fmt.Printf("%s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return current
	}
	return input
}

func promptYesNo(reader *bufio.Reader, label string, defaultVal bool) bool {
	defaultStr := "y/N"
	if defaultVal {
		defaultStr = "Y/n"
	}

	fmt.Printf("%s [%s]: ", label, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "y" || input == "yes"
}
