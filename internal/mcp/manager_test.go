package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/animara-ai/animara/internal/config"
	"github.com/animara-ai/animara/internal/tools"
)

func boolPtr(b bool) *bool { return &b }

func fakeConnector(failing map[string]int) connector {
	return func(_ context.Context, m *Manager, name string, _ *config.MCPServerConfig) (*serverState, error) {
		if n, ok := failing[name]; ok && n > 0 {
			failing[name] = n - 1
			return nil, errors.New("connection refused")
		}
		toolName := name + "_ping"
		m.registry.Register(&tools.Tool{
			Name:    toolName,
			Handler: func(context.Context, map[string]interface{}) (string, error) { return "pong", nil },
		})
		ss := &serverState{name: name, transport: "stdio", toolNames: []string{toolName}}
		ss.connected.Store(true)
		return ss, nil
	}
}

func newTestManager(servers map[string]*config.MCPServerConfig, failing map[string]int) *Manager {
	m := NewManager(tools.NewRegistry(time.Second, 1000), config.MCPConfig{Servers: servers})
	m.connect = fakeConnector(failing)
	return m
}

func TestStart_AllHealthy(t *testing.T) {
	m := newTestManager(map[string]*config.MCPServerConfig{
		"fs":  {},
		"git": {},
	}, nil)
	m.Start(context.Background())
	defer m.Stop()

	healthy, failed := m.Counts()
	if healthy != 2 || failed != 0 {
		t.Errorf("counts = (%d, %d), want (2, 0)", healthy, failed)
	}
	if !m.registry.Has("fs_ping") || !m.registry.Has("git_ping") {
		t.Error("bridged tools not registered")
	}
}

func TestStart_DropsBrokenServerKeepsRest(t *testing.T) {
	m := newTestManager(map[string]*config.MCPServerConfig{
		"good": {},
		"bad":  {},
	}, map[string]int{"bad": 10})
	m.Start(context.Background())
	defer m.Stop()

	healthy, failed := m.Counts()
	if healthy != 1 || failed != 1 {
		t.Errorf("counts = (%d, %d), want (1, 1)", healthy, failed)
	}
	if !m.registry.Has("good_ping") {
		t.Error("healthy server's tools missing")
	}
	if m.registry.Has("bad_ping") {
		t.Error("failed server leaked tools")
	}
}

func TestStart_IndividualProbeRecovers(t *testing.T) {
	// Fails once (combined attempt), then succeeds on the per-server probe.
	m := newTestManager(map[string]*config.MCPServerConfig{
		"flaky": {},
	}, map[string]int{"flaky": 1})
	m.Start(context.Background())
	defer m.Stop()

	healthy, failed := m.Counts()
	if healthy != 1 || failed != 0 {
		t.Errorf("counts = (%d, %d), want (1, 0)", healthy, failed)
	}
}

func TestStart_SkipsDisabled(t *testing.T) {
	m := newTestManager(map[string]*config.MCPServerConfig{
		"off": {Enabled: boolPtr(false)},
	}, nil)
	m.Start(context.Background())
	defer m.Stop()

	if healthy, failed := m.Counts(); healthy != 0 || failed != 0 {
		t.Errorf("disabled server counted: (%d, %d)", healthy, failed)
	}
}

func TestStop_UnregistersTools(t *testing.T) {
	m := newTestManager(map[string]*config.MCPServerConfig{"fs": {}}, nil)
	m.Start(context.Background())
	m.Stop()

	if m.registry.Has("fs_ping") {
		t.Error("tools survive Stop")
	}
	if healthy, _ := m.Counts(); healthy != 0 {
		t.Error("servers survive Stop")
	}
}

func TestBridgeName(t *testing.T) {
	if got := bridgeName("fs", "", "read"); got != "fs_read" {
		t.Errorf("default prefix: %q", got)
	}
	if got := bridgeName("fs", "disk_", "read"); got != "disk_read" {
		t.Errorf("explicit prefix: %q", got)
	}
}
