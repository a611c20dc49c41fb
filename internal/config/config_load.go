package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Endpoint:      "http://localhost:8000",
			Model:         "qwen3-32b",
			MaxTokens:     2000,
			ContextWindow: 32768,
			Temperature:   0.7,
			TimeoutSec:    120,
		},
		Premium: PremiumConfig{
			APIBase:    "https://api.openai.com",
			Model:      "gpt-4o",
			MaxTokens:  2000,
			TimeoutSec: 120,
		},
		Embeddings: EmbeddingsConfig{
			Endpoint: "http://localhost:8000",
			Model:    "bge-m3",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "~/.animara/memory.db",
		},
		Workspace: WorkspaceConfig{
			Path:        "~/.animara/workspace",
			CacheTTLSec: 60,
			MaxFileKB:   64,
		},
		Identity: IdentityConfig{
			OwnerID:         "owner",
			DefaultCallerID: "owner",
		},
		Session: SessionConfig{
			MaxMessages:        20,
			TimeoutSec:         1800,
			FlushThreshold:     28000,
			PruneAfterMessages: 3,
			PruneToolMaxChars:  200,
		},
		Search: SearchConfig{
			VectorWeight: 0.7,
			BM25Weight:   0.3,
			TopK:         5,
		},
		Budget: BudgetConfig{
			ReserveTokens:     512,
			MinResponseTokens: 256,
		},
		Loop: LoopConfig{
			MaxToolIterations: 5,
			ToolTimeoutSec:    30,
			MaxToolOutput:     8000,
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8788,
		},
		Maintenance: MaintenanceConfig{
			Cron: "*/5 * * * *",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("ANIMARA_PREMIUM_API_KEY", &c.Premium.APIKey)
	envStr("ANIMARA_PG_DSN", &c.Store.PostgresDSN)
	envStr("ANIMARA_BRAVE_API_KEY", &c.Tools.BraveAPIKey)
	envStr("ANIMARA_YOUGILE_API_KEY", &c.Tools.Yougile.APIKey)
	envStr("ANIMARA_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("ANIMARA_TSNET_AUTH_KEY", &c.HTTP.Tailscale.AuthKey)

	envStr("ANIMARA_LLM_ENDPOINT", &c.LLM.Endpoint)
	envStr("ANIMARA_LLM_MODEL", &c.LLM.Model)
	envStr("ANIMARA_PREMIUM_MODEL", &c.Premium.Model)
	envStr("ANIMARA_WORKSPACE", &c.Workspace.Path)
	envStr("ANIMARA_OWNER_ID", &c.Identity.OwnerID)
	envStr("ANIMARA_HOST", &c.HTTP.Host)
	if v := os.Getenv("ANIMARA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.HTTP.Port = port
		}
	}

	envStr("ANIMARA_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("ANIMARA_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	if v := os.Getenv("ANIMARA_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}

	// A store DSN implies the postgres driver.
	if c.Store.PostgresDSN != "" {
		c.Store.Driver = "postgres"
	}
	// A bot token implies the channel is wanted.
	if c.Telegram.Token != "" {
		c.Telegram.Enabled = true
	}
}

// Save writes the config to disk without secrets.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// StorePath returns the expanded sqlite store path.
func (c *Config) StorePath() string {
	return ExpandHome(c.Store.Path)
}

// WorkspaceDir returns the expanded workspace path.
func (c *Config) WorkspaceDir() string {
	return ExpandHome(c.Workspace.Path)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
