package config

import (
	"time"
)

// Config is the root configuration for the Animara proxy.
type Config struct {
	LLM         LLMConfig         `json:"llm"`
	Premium     PremiumConfig     `json:"premium"`
	Embeddings  EmbeddingsConfig  `json:"embeddings"`
	Store       StoreConfig       `json:"store,omitempty"`
	Workspace   WorkspaceConfig   `json:"workspace"`
	Identity    IdentityConfig    `json:"identity"`
	Session     SessionConfig     `json:"session"`
	Search      SearchConfig      `json:"search"`
	Budget      BudgetConfig      `json:"budget"`
	Loop        LoopConfig        `json:"loop"`
	HTTP        HTTPConfig        `json:"http"`
	MCP         MCPConfig         `json:"mcp,omitempty"`
	Tools       ToolsConfig       `json:"tools,omitempty"`
	Telegram    TelegramConfig    `json:"telegram,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

// LLMConfig configures the local chat-completions backend.
type LLMConfig struct {
	Endpoint      string  `json:"endpoint"`       // e.g. http://localhost:8000
	Model         string  `json:"model"`          // served model name
	MaxTokens     int     `json:"max_tokens"`     // default response cap (R)
	ContextWindow int     `json:"context_window"` // C
	Temperature   float64 `json:"temperature"`
	TimeoutSec    int     `json:"timeout_sec"`
}

// PremiumConfig configures the external high-capability backend ("god mode").
// APIKey is NEVER read from config.json — only from env ANIMARA_PREMIUM_API_KEY.
type PremiumConfig struct {
	APIBase    string `json:"api_base,omitempty"` // default https://api.openai.com
	Model      string `json:"model"`
	MaxTokens  int    `json:"max_tokens"`
	TimeoutSec int    `json:"timeout_sec"`
	APIKey     string `json:"-"`
}

// EmbeddingsConfig configures the embeddings endpoint used for memory search.
type EmbeddingsConfig struct {
	Endpoint string `json:"endpoint"` // OpenAI-compatible /v1/embeddings base
	Model    string `json:"model"`
}

// StoreConfig selects the memory/conversation record store.
// PostgresDSN comes from env ANIMARA_PG_DSN only.
type StoreConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "postgres"
	Path        string `json:"path,omitempty"`   // sqlite file path
	PostgresDSN string `json:"-"`
}

// WorkspaceConfig configures the persona/memory markdown directory.
type WorkspaceConfig struct {
	Path        string `json:"path"`
	CacheTTLSec int    `json:"cache_ttl_sec,omitempty"` // default 60
	Watch       bool   `json:"watch,omitempty"`         // fsnotify invalidation
	MaxFileKB   int    `json:"max_file_kb,omitempty"`   // per-file read cap
}

// IdentityConfig names the privileged owner and the fallback caller.
type IdentityConfig struct {
	OwnerID         string `json:"owner_id"`
	DefaultCallerID string `json:"default_caller_id"`
}

// SessionConfig bounds the per-caller session ring.
type SessionConfig struct {
	MaxMessages        int `json:"max_messages"`         // M
	TimeoutSec         int `json:"timeout_sec"`          // T_idle
	FlushThreshold     int `json:"flush_threshold"`      // T_flush tokens
	PruneAfterMessages int `json:"prune_after_messages"` // N assistant msgs
	PruneToolMaxChars  int `json:"prune_tool_max_chars"`
}

// SearchConfig tunes hybrid retrieval fusion.
type SearchConfig struct {
	VectorWeight float64 `json:"vector_weight"`
	BM25Weight   float64 `json:"bm25_weight"`
	TopK         int     `json:"top_k"`
}

// BudgetConfig tunes context-window accounting.
type BudgetConfig struct {
	ReserveTokens     int `json:"reserve_tokens"`      // S
	MinResponseTokens int `json:"min_response_tokens"` // floor for replies
}

// LoopConfig bounds the tool loop.
type LoopConfig struct {
	MaxToolIterations int `json:"max_tool_iterations"` // I_max
	ToolTimeoutSec    int `json:"tool_timeout_sec"`
	MaxToolOutput     int `json:"max_tool_output,omitempty"` // L_out chars
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	Host      string          `json:"host"`
	Port      int             `json:"port"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener.
// Auth key from env ANIMARA_TSNET_AUTH_KEY only.
type TailscaleConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	StateDir string `json:"state_dir,omitempty"`
	AuthKey  string `json:"-"`
}

// MCPConfig holds named MCP server descriptors.
type MCPConfig struct {
	Servers map[string]*MCPServerConfig `json:"servers,omitempty"`
}

// MCPServerConfig describes one MCP server connection.
type MCPServerConfig struct {
	Transport  string            `json:"transport,omitempty"` // "stdio" (default), "sse", "http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	ToolPrefix string            `json:"tool_prefix,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"`
}

// IsEnabled reports whether the server should be connected (default true).
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ToolsConfig configures builtin tool backends.
// BraveAPIKey from env ANIMARA_BRAVE_API_KEY, YougileAPIKey from
// env ANIMARA_YOUGILE_API_KEY.
type ToolsConfig struct {
	BraveEndpoint   string        `json:"brave_endpoint,omitempty"`
	BraveAPIKey     string        `json:"-"`
	Yougile         YougileConfig `json:"yougile,omitempty"`
	BrowserFallback bool          `json:"browser_fallback,omitempty"` // go-rod rendered web_fetch
}

// YougileConfig points at the task-board HTTP API.
type YougileConfig struct {
	Endpoint  string `json:"endpoint,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	ColumnID  string `json:"column_id,omitempty"`
	APIKey    string `json:"-"`
}

// TelegramConfig configures the optional bot client (animara bot).
// Token from env ANIMARA_TELEGRAM_TOKEN only.
type TelegramConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	ProxyURL    string `json:"proxy_url,omitempty"` // the running proxy, default from http config
	OwnerChatID int64  `json:"owner_chat_id,omitempty"`
	Token       string `json:"-"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// MaintenanceConfig schedules the background sweep (cron expression).
type MaintenanceConfig struct {
	Cron string `json:"cron,omitempty"` // e.g. "*/5 * * * *"
}

// SessionTimeout returns T_idle as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutSec) * time.Second
}

// ToolTimeout returns the per-tool-call timeout as a duration.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Loop.ToolTimeoutSec) * time.Second
}

// WorkspaceTTL returns the workspace cache TTL as a duration.
func (c *Config) WorkspaceTTL() time.Duration {
	return time.Duration(c.Workspace.CacheTTLSec) * time.Second
}
