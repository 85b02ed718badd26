package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "apod-config")
	if err != nil {
		panic(err)
	}
	os.Setenv("APOD_CONFIG_DIR", dir)
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestApplyEnv_PortFallback(t *testing.T) {
	cfg := DefaultServerConfig()
	ApplyEnv(cfg, envMap(nil))
	cfg.normalize()
	assert.Equal(t, ":5000", cfg.ListenAddr)

	cfg = DefaultServerConfig()
	ApplyEnv(cfg, envMap(map[string]string{"PORT": "8081"}))
	assert.Equal(t, ":8081", cfg.ListenAddr)
}

func TestApplyEnv_ListenAddrWinsOverPort(t *testing.T) {
	cfg := DefaultServerConfig()
	ApplyEnv(cfg, envMap(map[string]string{
		"PORT":             "8081",
		"APOD_LISTEN_ADDR": "127.0.0.1:9000",
	}))
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
}

func TestApplyEnv_Workers(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want int
	}{
		{name: "default", env: nil, want: 4},
		{name: "web concurrency", env: map[string]string{"WEB_CONCURRENCY": "2"}, want: 2},
		{name: "workers wins", env: map[string]string{"WEB_CONCURRENCY": "2", "WORKERS": "6"}, want: 6},
		{name: "clamped", env: map[string]string{"WORKERS": "0"}, want: 1},
		{name: "garbage ignored", env: map[string]string{"WORKERS": "many"}, want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			ApplyEnv(cfg, envMap(tt.env))
			cfg.normalize()
			assert.Equal(t, tt.want, cfg.Workers)
		})
	}
}

func TestApplyEnv_TranslateEnabled(t *testing.T) {
	cfg := DefaultServerConfig()
	ApplyEnv(cfg, envMap(map[string]string{"TRANSLATE_ENABLED": "TRUE"}))
	assert.True(t, cfg.TranslateEnabled)

	ApplyEnv(cfg, envMap(map[string]string{"TRANSLATE_ENABLED": "yes"}))
	assert.False(t, cfg.TranslateEnabled)
}

func TestConceptsKey(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.ConceptsKeyFile = filepath.Join(t.TempDir(), "missing.key")
	key, err := cfg.ConceptsKey()
	require.NoError(t, err)
	assert.Empty(t, key)

	path := filepath.Join(t.TempDir(), "alchemy_api.key")
	require.NoError(t, os.WriteFile(path, []byte("secret\n"), 0600))
	cfg.ConceptsKeyFile = path
	key, err = cfg.ConceptsKey()
	require.NoError(t, err)
	assert.Equal(t, "secret", key)
}

func TestSaveLoadServer(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("WORKERS", "")
	t.Setenv("WEB_CONCURRENCY", "")

	cfg := DefaultServerConfig()
	cfg.Token = "abc"
	cfg.Workers = 2
	require.NoError(t, SaveServer(cfg))

	loaded, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "abc", loaded.Token)
	assert.Equal(t, 2, loaded.Workers)
	assert.Equal(t, ":5000", loaded.ListenAddr)
}

func TestLoadServerFile_IgnoresEnv(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.NASAAPIKey = "file-key"
	require.NoError(t, SaveServer(cfg))

	t.Setenv("PORT", "8080")
	t.Setenv("NASA_API_KEY", "env-key")
	t.Setenv("APOD_TRUSTED_PROXIES", "10.0.0.1")

	raw, err := LoadServerFile()
	require.NoError(t, err)
	assert.Equal(t, "file-key", raw.NASAAPIKey)
	assert.Equal(t, ":5000", raw.ListenAddr)
	assert.Empty(t, raw.TrustedProxies)

	// saving what was loaded does not persist the environment
	raw.Token = "rotated"
	require.NoError(t, SaveServer(raw))

	dir, err := Dir()
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "server.json"))
	require.NoError(t, err)
	var saved ServerConfig
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "file-key", saved.NASAAPIKey)
	assert.Equal(t, ":5000", saved.ListenAddr)
	assert.Equal(t, "rotated", saved.Token)

	merged, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "env-key", merged.NASAAPIKey)
	assert.Equal(t, ":8080", merged.ListenAddr)
	assert.Equal(t, []string{"10.0.0.1"}, merged.TrustedProxies)
}

func TestResolveDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "apod")
	got, err := resolveDir(envMap(map[string]string{"APOD_CONFIG_DIR": dir}))
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.DirExists(t, dir)
}

func TestResolveDir_ErrorIsKept(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))
	env := envMap(map[string]string{"APOD_CONFIG_DIR": filepath.Join(file, "apod")})

	dir := sync.OnceValues(func() (string, error) { return resolveDir(env) })
	_, err := dir()
	require.Error(t, err)

	got, err := dir()
	assert.Error(t, err)
	assert.Empty(t, got)
}

func TestApplyEnv_TrustedProxies(t *testing.T) {
	cfg := DefaultServerConfig()
	ApplyEnv(cfg, envMap(map[string]string{
		"APOD_TRUSTED_PROXIES":  " 10.0.0.0/8, ,192.168.1.1 ",
		"APOD_TRUSTED_PLATFORM": "cloudflare",
	}))
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.TrustedProxies)
	assert.Equal(t, "cloudflare", cfg.TrustedPlatform)
}
