// Package httpapi is the OpenAI-style HTTP surface of the proxy: chat
// completions, session and workspace management, direct tool invocation,
// search, health, god-mode admin and the live event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/animara-ai/animara/internal/agent"
	"github.com/animara-ai/animara/internal/config"
	"github.com/animara-ai/animara/internal/mcp"
	"github.com/animara-ai/animara/internal/providers"
	"github.com/animara-ai/animara/internal/retrieval"
	"github.com/animara-ai/animara/internal/sessions"
	"github.com/animara-ai/animara/internal/tools"
	"github.com/animara-ai/animara/internal/workspace"
)

// Server owns the HTTP listener and routes.
type Server struct {
	cfg       *config.Config
	orch      *agent.Orchestrator
	sessions  *sessions.Manager
	workspace *workspace.Loader
	retriever *retrieval.Retriever
	registry  *tools.Registry
	mcp       *mcp.Manager
	local     *providers.LocalProvider
	premium   *providers.PremiumProvider
	version   string

	ready      atomic.Bool
	mux        *http.ServeMux
	httpServer *http.Server
}

// Deps wires the server.
type Deps struct {
	Config    *config.Config
	Orch      *agent.Orchestrator
	Sessions  *sessions.Manager
	Workspace *workspace.Loader
	Retriever *retrieval.Retriever
	Registry  *tools.Registry
	MCP       *mcp.Manager
	Local     *providers.LocalProvider
	Premium   *providers.PremiumProvider
	Version   string
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:       d.Config,
		orch:      d.Orch,
		sessions:  d.Sessions,
		workspace: d.Workspace,
		retriever: d.Retriever,
		registry:  d.Registry,
		mcp:       d.MCP,
		local:     d.Local,
		premium:   d.Premium,
		version:   d.Version,
	}
}

// SetReady flips the 503 gate once startup composition finishes.
func (s *Server) SetReady() { s.ready.Store(true) }

// BuildMux registers every route. Cached so extra listeners (tsnet) can
// share the handler.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/chat/completions", s.guard(s.handleChatCompletions))
	mux.HandleFunc("GET /v1/models", s.guard(s.handleModels))
	mux.HandleFunc("GET /v1/events", s.guard(s.handleEvents))

	mux.HandleFunc("GET /session/{caller}", s.guard(s.handleSessionGet))
	mux.HandleFunc("POST /session/{caller}/end", s.guard(s.handleSessionEnd))
	mux.HandleFunc("POST /session/{caller}/flush", s.guard(s.handleSessionFlush))

	mux.HandleFunc("GET /workspace", s.guard(s.handleWorkspaceGet))
	mux.HandleFunc("POST /workspace/write", s.guard(s.handleWorkspaceWrite))

	mux.HandleFunc("GET /tools", s.guard(s.handleToolsList))
	mux.HandleFunc("POST /tools/{name}", s.guard(s.handleToolInvoke))

	mux.HandleFunc("POST /bm25/rebuild", s.guard(s.handleRebuild))
	mux.HandleFunc("GET /search", s.guard(s.handleSearch))

	mux.HandleFunc("GET /godmode", s.guard(s.handleGodmodeGet))
	mux.HandleFunc("POST /godmode/model", s.guard(s.handleGodmodeModel))
	mux.HandleFunc("POST /godmode/refresh", s.guard(s.handleGodmodeRefresh))

	s.mux = mux
	return mux
}

// guard rejects requests with 503 until initialization completes and logs
// each request.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "initializing")
			return
		}
		start := time.Now()
		next(w, r)
		slog.Debug("http.request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	}
}

// Start serves until ctx is cancelled. An extra listener (e.g. tsnet) may be
// passed in; nil entries are skipped.
func (s *Server) Start(ctx context.Context, extra ...net.Listener) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.HTTP.Host, s.cfg.HTTP.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	for _, ln := range extra {
		if ln == nil {
			continue
		}
		go func(ln net.Listener) {
			if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
				slog.Error("http.extra_listener.failed", "error", err)
			}
		}(ln)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("http.listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http.encode_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	if len(msg) > 500 {
		msg = msg[:500]
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
