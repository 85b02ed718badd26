package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// configDir resolves the directory once. A failure is remembered and
// returned by every later call.
var configDir = sync.OnceValues(func() (string, error) {
	return resolveDir(os.Getenv)
})

// ClientConfig holds client-side configuration
type ClientConfig struct {
	ServerURL string `json:"server_url"`
	Token     string `json:"token,omitempty"`
}

// ServerConfig holds server-side configuration
type ServerConfig struct {
	Token            string `json:"token,omitempty"`
	ListenAddr       string `json:"listen_addr"`
	Workers          int    `json:"workers"`
	RateLimitPerHour int    `json:"rate_limit_per_hour"`
	RetentionDays    int    `json:"retention_days"`
	Debug            bool   `json:"debug"`
	TracingEnabled   bool   `json:"tracing_enabled"`

	// Client address resolution. Forwarding headers are ignored unless the
	// peer is a trusted proxy or a trusted platform header is named.
	TrustedProxies  []string `json:"trusted_proxies,omitempty"`
	TrustedPlatform string   `json:"trusted_platform,omitempty"`

	// Cache configuration
	CacheDriver string `json:"cache_driver"`
	CacheDSN    string `json:"cache_dsn,omitempty"`
	DBPath      string `json:"db_path"`
	LRUSize     int    `json:"lru_size"`

	// Upstream services
	APODBaseURL            string `json:"apod_base_url"`
	NASAAPIURL             string `json:"nasa_api_url"`
	NASAAPIKey             string `json:"nasa_api_key,omitempty"`
	TranslateEnabled       bool   `json:"translate_enabled"`
	TranslateURL           string `json:"translate_url"`
	GoogleTranslateURL     string `json:"google_translate_url"`
	ConceptsURL            string `json:"concepts_url"`
	ConceptsKeyFile        string `json:"concepts_key_file"`
	UpstreamTimeoutSeconds int    `json:"upstream_timeout_seconds"`
	UpstreamRetries        int    `json:"upstream_retries"`

	// S3 page archive, disabled when S3Bucket is empty
	S3Endpoint  string `json:"s3_endpoint"`
	S3Bucket    string `json:"s3_bucket"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`
	S3Region    string `json:"s3_region"`
}

// Dir returns the configuration directory path, creating it if needed
func Dir() (string, error) {
	return configDir()
}

func resolveDir(getenv func(string) string) (string, error) {
	dir := getenv("APOD_CONFIG_DIR")
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(base, "apod")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// LoadClient loads the client configuration
func LoadClient() (*ClientConfig, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "config.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ClientConfig{}, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if v := os.Getenv("APOD_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	return &cfg, nil
}

// SaveClient saves the client configuration
func SaveClient(cfg *ClientConfig) error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, "config.json")
	return os.WriteFile(path, data, 0600)
}

// LoadServer loads the server configuration
// Environment variables take precedence over config file
func LoadServer() (*ServerConfig, error) {
	cfg, err := LoadServerFile()
	if err != nil {
		return nil, err
	}

	ApplyEnv(cfg, os.Getenv)
	cfg.normalize()
	return cfg, nil
}

// LoadServerFile loads server.json over the defaults without environment
// overrides. Use it for configs that are written back with SaveServer.
func LoadServerFile() (*ServerConfig, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "server.json")
	data, err := os.ReadFile(path)

	var cfg *ServerConfig
	if os.IsNotExist(err) {
		cfg = DefaultServerConfig()
	} else if err != nil {
		return nil, err
	} else {
		cfg = DefaultServerConfig()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with values from the environment. PORT is applied
// before APOD_LISTEN_ADDR so an explicit address wins.
func ApplyEnv(cfg *ServerConfig, getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v := getenv("APOD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("WEB_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := getenv("APOD_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := getenv("APOD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("APOD_CACHE_DRIVER"); v != "" {
		cfg.CacheDriver = v
	}
	if v := getenv("APOD_CACHE_DSN"); v != "" {
		cfg.CacheDSN = v
	}
	if v := getenv("APOD_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.RetentionDays = days
		}
	}
	if v := getenv("APOD_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerHour = n
		}
	}
	if v := getenv("APOD_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, p)
			}
		}
	}
	if v := getenv("APOD_TRUSTED_PLATFORM"); v != "" {
		cfg.TrustedPlatform = v
	}
	if v := getenv("APOD_DEBUG"); v != "" {
		cfg.Debug = strings.EqualFold(v, "true") || v == "1"
	}
	if v := getenv("NASA_API_KEY"); v != "" {
		cfg.NASAAPIKey = v
	}
	if v := getenv("TRANSLATE_URL"); v != "" {
		cfg.TranslateURL = v
	}
	if v := getenv("TRANSLATE_ENABLED"); v != "" {
		cfg.TranslateEnabled = strings.ToLower(v) == "true"
	}
	if v := getenv("APOD_S3_ENDPOINT"); v != "" {
		cfg.S3Endpoint = v
	}
	if v := getenv("APOD_S3_BUCKET"); v != "" {
		cfg.S3Bucket = v
	}
	if v := getenv("APOD_S3_ACCESS_KEY"); v != "" {
		cfg.S3AccessKey = v
	}
	if v := getenv("APOD_S3_SECRET_KEY"); v != "" {
		cfg.S3SecretKey = v
	}
	if v := getenv("APOD_S3_REGION"); v != "" {
		cfg.S3Region = v
	}
}

func (c *ServerConfig) normalize() {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":5000"
	}
	if c.CacheDriver == "" {
		c.CacheDriver = "sqlite"
	}
	if c.UpstreamTimeoutSeconds <= 0 {
		c.UpstreamTimeoutSeconds = 15
	}
}

// UpstreamTimeout returns the per-request timeout for upstream calls
func (c *ServerConfig) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSeconds) * time.Second
}

// ConceptsKey reads the concept tagging API key. An empty key without error
// means concept tagging is disabled.
func (c *ServerConfig) ConceptsKey() (string, error) {
	if c.ConceptsKeyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.ConceptsKeyFile)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveServer saves the server configuration
func SaveServer(cfg *ServerConfig) error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, "server.json")
	return os.WriteFile(path, data, 0600)
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	dir, _ := Dir()
	return &ServerConfig{
		ListenAddr:             ":5000",
		Workers:                4,
		RateLimitPerHour:       1000,
		RetentionDays:          90,
		CacheDriver:            "sqlite",
		DBPath:                 filepath.Join(dir, "apod.db"),
		LRUSize:                512,
		APODBaseURL:            "https://apod.nasa.gov/apod/",
		NASAAPIURL:             "https://api.nasa.gov/planetary/apod",
		TranslateEnabled:       true,
		TranslateURL:           "https://libretranslate.de/translate",
		GoogleTranslateURL:     "https://translate.googleapis.com/translate_a/single",
		ConceptsURL:            "http://access.alchemyapi.com/calls/text/TextGetRankedConcepts",
		ConceptsKeyFile:        "alchemy_api.key",
		UpstreamTimeoutSeconds: 15,
		UpstreamRetries:        2,
		S3Region:               "us-east-1",
	}
}
