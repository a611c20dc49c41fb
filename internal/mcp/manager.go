// Package mcp connects configured MCP servers and bridges their tools into
// the tool registry. Startup degrades gracefully: a combined connect is
// attempted first, and on failure each server is probed individually so one
// broken server never takes the rest down.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/animara-ai/animara/internal/config"
	"github.com/animara-ai/animara/internal/tools"
)

const (
	connectTimeout      = 20 * time.Second
	healthCheckInterval = 60 * time.Second
	healthPingTimeout   = 10 * time.Second
)

type serverState struct {
	name      string
	transport string
	client    *mcpclient.Client
	toolNames []string
	connected atomic.Bool
	cancel    context.CancelFunc

	mu      sync.Mutex
	lastErr string
}

// connector dials one server and returns its registered tool names.
// Swappable in tests.
type connector func(ctx context.Context, m *Manager, name string, cfg *config.MCPServerConfig) (*serverState, error)

// Manager owns the configured MCP server connections.
type Manager struct {
	registry *tools.Registry
	configs  map[string]*config.MCPServerConfig
	connect  connector

	mu      sync.RWMutex
	servers map[string]*serverState
	failed  map[string]string // name -> last error, servers dropped at startup
}

// NewManager creates a manager over the configured servers.
func NewManager(registry *tools.Registry, cfg config.MCPConfig) *Manager {
	return &Manager{
		registry: registry,
		configs:  cfg.Servers,
		connect:  connectServer,
		servers:  make(map[string]*serverState),
		failed:   make(map[string]string),
	}
}

// Start connects all enabled servers. The first pass connects them together;
// if any fail, each failed server is probed once more individually and then
// dropped from the active set. Start never returns an error for individual
// server failures — the healthy subset keeps working.
func (m *Manager) Start(ctx context.Context) {
	enabled := make(map[string]*config.MCPServerConfig)
	for name, sc := range m.configs {
		if sc != nil && sc.IsEnabled() {
			enabled[name] = sc
		}
	}
	if len(enabled) == 0 {
		return
	}

	var failedMu sync.Mutex
	firstFailed := make(map[string]*config.MCPServerConfig)

	g, gctx := errgroup.WithContext(ctx)
	for name, sc := range enabled {
		g.Go(func() error {
			if err := m.startServer(gctx, name, sc); err != nil {
				failedMu.Lock()
				firstFailed[name] = sc
				failedMu.Unlock()
				slog.Warn("mcp.server.connect_failed", "server", name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Second chance, one by one. Whatever still fails stays out.
	for name, sc := range firstFailed {
		if err := m.startServer(ctx, name, sc); err != nil {
			m.mu.Lock()
			m.failed[name] = err.Error()
			m.mu.Unlock()
			slog.Error("mcp.server.dropped", "server", name, "error", err)
		} else {
			slog.Info("mcp.server.recovered_on_probe", "server", name)
		}
	}

	healthy, failed := m.Counts()
	slog.Info("mcp.started", "healthy", healthy, "failed", failed)
}

func (m *Manager) startServer(ctx context.Context, name string, sc *config.MCPServerConfig) error {
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	ss, err := m.connect(cctx, m, name, sc)
	if err != nil {
		return err
	}

	hctx, hcancel := context.WithCancel(context.Background())
	ss.cancel = hcancel
	go m.healthLoop(hctx, ss)

	m.mu.Lock()
	m.servers[name] = ss
	delete(m.failed, name)
	m.mu.Unlock()

	slog.Info("mcp.server.connected", "server", name, "transport", ss.transport, "tools", len(ss.toolNames))
	return nil
}

// connectServer dials, handshakes, discovers tools and registers them under
// the configured prefix.
func connectServer(ctx context.Context, m *Manager, name string, sc *config.MCPServerConfig) (*serverState, error) {
	transportType := sc.Transport
	if transportType == "" {
		transportType = "stdio"
	}

	client, err := createClient(transportType, sc)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	if transportType != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "animara", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("list tools: %w", err)
	}

	ss := &serverState{name: name, transport: transportType, client: client}
	ss.connected.Store(true)

	timeout := time.Duration(sc.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	for _, remote := range listed.Tools {
		bridged := bridgeTool(name, sc.ToolPrefix, remote, client, timeout, &ss.connected)
		if m.registry.Has(bridged.Name) {
			slog.Warn("mcp.tool.name_collision", "server", name, "tool", bridged.Name, "action", "skipped")
			continue
		}
		m.registry.Register(bridged)
		ss.toolNames = append(ss.toolNames, bridged.Name)
	}
	return ss, nil
}

func createClient(transportType string, sc *config.MCPServerConfig) (*mcpclient.Client, error) {
	switch transportType {
	case "stdio":
		return mcpclient.NewStdioMCPClient(sc.Command, envSlice(sc.Env), sc.Args...)
	case "sse":
		var opts []transport.ClientOption
		if len(sc.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(sc.Headers))
		}
		return mcpclient.NewSSEMCPClient(sc.URL, opts...)
	case "http", "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(sc.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(sc.Headers))
		}
		return mcpclient.NewStreamableHttpClient(sc.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport: %q", transportType)
	}
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	s := make([]string, 0, len(env))
	for k, v := range env {
		s = append(s, k+"="+v)
	}
	return s
}

// healthLoop pings the server periodically and flips the connected flag.
func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A hung server must not stall the loop on one ping.
			pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
			err := ss.client.Ping(pingCtx)
			cancel()
			if err != nil {
				ss.connected.Store(false)
				ss.mu.Lock()
				ss.lastErr = err.Error()
				ss.mu.Unlock()
				slog.Warn("mcp.server.health_failed", "server", ss.name, "error", err)
			} else {
				ss.connected.Store(true)
				ss.mu.Lock()
				ss.lastErr = ""
				ss.mu.Unlock()
			}
		}
	}
}

// Counts reports healthy and failed server counts for the health endpoint.
// A server that connected but later lost its ping counts as failed.
func (m *Manager) Counts() (healthy, failed int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ss := range m.servers {
		if ss.connected.Load() {
			healthy++
		} else {
			failed++
		}
	}
	failed += len(m.failed)
	return healthy, failed
}

// ToolNames returns the registered bridged tool names across all servers.
func (m *Manager) ToolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, ss := range m.servers {
		names = append(names, ss.toolNames...)
	}
	return names
}

// Stop closes all server connections and removes their tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			_ = ss.client.Close()
		}
		for _, toolName := range ss.toolNames {
			m.registry.Unregister(toolName)
		}
		slog.Debug("mcp.server.stopped", "server", name, "tools", len(ss.toolNames))
	}
	m.servers = make(map[string]*serverState)
}
