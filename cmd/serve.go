package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"
	"tailscale.com/tsnet"

	"github.com/animara-ai/animara/internal/agent"
	"github.com/animara-ai/animara/internal/channels/telegram"
	"github.com/animara-ai/animara/internal/config"
	"github.com/animara-ai/animara/internal/embeddings"
	"github.com/animara-ai/animara/internal/facts"
	"github.com/animara-ai/animara/internal/httpapi"
	"github.com/animara-ai/animara/internal/index"
	"github.com/animara-ai/animara/internal/mcp"
	"github.com/animara-ai/animara/internal/providers"
	"github.com/animara-ai/animara/internal/retrieval"
	"github.com/animara-ai/animara/internal/router"
	"github.com/animara-ai/animara/internal/sessions"
	"github.com/animara-ai/animara/internal/store"
	"github.com/animara-ai/animara/internal/store/pg"
	"github.com/animara-ai/animara/internal/store/sqlite"
	"github.com/animara-ai/animara/internal/tools"
	"github.com/animara-ai/animara/internal/trace"
	"github.com/animara-ai/animara/internal/workspace"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy (also the default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config.load_failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if _, statErr := os.Stat(config.ExpandHome(cfgPath)); os.IsNotExist(statErr) {
		slog.Info("config.not_found", "path", cfgPath, "hint", "running on defaults; run `animara onboard` to create one")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTrace, err := trace.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("trace.setup_failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTrace(shutdownCtx)
	}()

	core, err := buildCore(ctx, cfg)
	if err != nil {
		slog.Error("startup.failed", "error", err)
		os.Exit(1)
	}
	defer core.close()

	server := httpapi.NewServer(httpapi.Deps{
		Config:    cfg,
		Orch:      core.orch,
		Sessions:  core.sessions,
		Workspace: core.workspace,
		Retriever: core.retriever,
		Registry:  core.registry,
		MCP:       core.mcp,
		Local:     core.local,
		Premium:   core.premium,
		Version:   Version,
	})

	// The server answers 503 until the lexical index is warm.
	go func() {
		rebuildCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		docs, err := core.retriever.RebuildIndex(rebuildCtx)
		if err != nil {
			slog.Warn("index.rebuild_failed", "error", err)
		} else {
			slog.Info("index.ready", "docs", docs)
		}
		server.SetReady()
	}()

	go runMaintenance(ctx, cfg.Maintenance.Cron, core)

	if cfg.Telegram.Enabled {
		if cfg.Telegram.ProxyURL == "" {
			cfg.Telegram.ProxyURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.HTTP.Port)
		}
		bot, botErr := telegram.New(cfg.Telegram)
		if botErr != nil {
			slog.Warn("telegram.disabled", "error", botErr)
		} else if botErr = bot.Start(ctx); botErr != nil {
			slog.Warn("telegram.start_failed", "error", botErr)
		} else {
			defer bot.Stop()
		}
	}

	tsListener, tsClose := tailscaleListener(cfg)
	if tsClose != nil {
		defer tsClose()
	}

	slog.Info("animara.starting",
		"version", Version,
		"model", cfg.LLM.Model,
		"store", cfg.Store.Driver,
		"tools", len(core.registry.Names()),
		"premium", core.premium.Available(),
	)

	if err := server.Start(ctx, tsListener); err != nil {
		slog.Error("server.failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

// core holds everything the proxy composes at startup.
type core struct {
	store     store.VectorStore
	sessions  *sessions.Manager
	workspace *workspace.Loader
	retriever *retrieval.Retriever
	registry  *tools.Registry
	mcp       *mcp.Manager
	local     *providers.LocalProvider
	premium   *providers.PremiumProvider
	orch      *agent.Orchestrator
}

func buildCore(ctx context.Context, cfg *config.Config) (*core, error) {
	vs, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	emb := embeddings.New(cfg.Embeddings.Endpoint, cfg.Embeddings.Model)
	retriever := retrieval.New(vs, index.New(), emb, cfg.Identity.OwnerID, retrieval.Options{
		VectorWeight: cfg.Search.VectorWeight,
		BM25Weight:   cfg.Search.BM25Weight,
		TopK:         cfg.Search.TopK,
	})

	sess := sessions.NewManager(sessions.Config{
		MaxMessages:        cfg.Session.MaxMessages,
		PruneAfterMessages: cfg.Session.PruneAfterMessages,
		PruneToolMaxChars:  cfg.Session.PruneToolMaxChars,
		FlushThreshold:     cfg.Session.FlushThreshold,
		Timeout:            cfg.SessionTimeout(),
	})

	if seeded, seedErr := workspace.Seed(cfg.WorkspaceDir()); seedErr != nil {
		slog.Warn("workspace.seed_failed", "error", seedErr)
	} else if len(seeded) > 0 {
		slog.Info("workspace.seeded", "files", seeded)
	}
	ws := workspace.New(cfg.WorkspaceDir(), cfg.WorkspaceTTL(), cfg.Workspace.MaxFileKB)
	if cfg.Workspace.Watch {
		if err := ws.Watch(); err != nil {
			slog.Warn("workspace.watch_failed", "error", err)
		}
	}

	registry := tools.NewRegistry(cfg.ToolTimeout(), cfg.Loop.MaxToolOutput)
	registerBuiltins(registry, cfg, retriever)

	mcpMgr := mcp.NewManager(registry, cfg.MCP)
	mcpMgr.Start(ctx)

	local := providers.NewLocalProvider(cfg.LLM.Endpoint, cfg.LLM.Model,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second)
	premium := providers.NewPremiumProvider(cfg.Premium.APIBase, cfg.Premium.APIKey,
		cfg.Premium.Model, time.Duration(cfg.Premium.TimeoutSec)*time.Second)

	orch := agent.New(agent.Deps{
		Config:    cfg,
		Sessions:  sess,
		Workspace: ws,
		Retriever: retriever,
		Registry:  registry,
		Local:     local,
		Premium:   premium,
		Router:    router.New(),
		Facts:     facts.NewPersister(vs, emb),
		Store:     vs,
		Embedder:  emb,
	})

	return &core{
		store:     vs,
		sessions:  sess,
		workspace: ws,
		retriever: retriever,
		registry:  registry,
		mcp:       mcpMgr,
		local:     local,
		premium:   premium,
		orch:      orch,
	}, nil
}

func (c *core) close() {
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.orch.Close(closeCtx); err != nil {
		slog.Warn("shutdown.background_drain_failed", "error", err)
	}
	c.mcp.Stop()
	c.workspace.Close()
	if err := c.store.Close(); err != nil {
		slog.Warn("shutdown.store_close_failed", "error", err)
	}
}

func openStore(cfg *config.Config) (store.VectorStore, error) {
	if cfg.Store.Driver == "postgres" {
		if cfg.Store.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres store selected but ANIMARA_PG_DSN is not set")
		}
		return pg.Open(cfg.Store.PostgresDSN)
	}
	return sqlite.Open(cfg.StorePath())
}

// registerBuiltins wires the built-in tool set. Tools whose backend has no
// credentials stay unregistered so the model never sees them.
func registerBuiltins(registry *tools.Registry, cfg *config.Config, retriever *retrieval.Retriever) {
	registry.Register(tools.NewTimeTool())
	registry.Register(tools.NewSystemCheckTool())
	registry.Register(tools.NewWebFetchTool(tools.NewWebFetcher(cfg.Tools.BrowserFallback)))
	registry.Register(tools.NewMemorySearchTool(memorySearch(retriever)))

	if cfg.Tools.BraveAPIKey != "" {
		registry.Register(tools.NewWebSearchTool(
			tools.NewWebSearcher(cfg.Tools.BraveEndpoint, cfg.Tools.BraveAPIKey)))
	} else {
		slog.Info("tools.web_search.disabled", "reason", "no ANIMARA_BRAVE_API_KEY")
	}

	yg := tools.NewYougileClient(cfg.Tools.Yougile)
	if yg.Enabled() {
		for _, t := range tools.YougileTools(yg) {
			registry.Register(t)
		}
	} else {
		slog.Info("tools.yougile.disabled", "reason", "no ANIMARA_YOUGILE_API_KEY")
	}
}

// memorySearch adapts the retriever to the memory_search tool.
func memorySearch(retriever *retrieval.Retriever) tools.MemorySearchFunc {
	return func(ctx context.Context, callerID, query string) (string, error) {
		results, err := retriever.Search(ctx, query, callerID)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return fmt.Sprintf("По запросу «%s» в памяти ничего не нашлось.", query), nil
		}
		var b strings.Builder
		b.WriteString("Нашёл в памяти:\n")
		for _, r := range results {
			b.WriteString("- ")
			b.WriteString(r)
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}

// runMaintenance sweeps expired sessions and refreshes the lexical index on
// the configured cron schedule.
func runMaintenance(ctx context.Context, cronExpr string, core *core) {
	if cronExpr == "" {
		return
	}
	gron := gronx.New()
	if !gron.IsValid(cronExpr) {
		slog.Warn("maintenance.invalid_cron", "expr", cronExpr)
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gron.IsDue(cronExpr, now)
			if err != nil || !due {
				continue
			}
			if swept := core.orch.Sweep(); swept > 0 {
				slog.Info("maintenance.sessions_swept", "count", swept)
			}
			rebuildCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
			if docs, err := core.retriever.RebuildIndex(rebuildCtx); err != nil {
				slog.Warn("maintenance.rebuild_failed", "error", err)
			} else {
				slog.Debug("maintenance.index_rebuilt", "docs", docs)
			}
			cancel()
		}
	}
}

// tailscaleListener brings up the optional tsnet listener sharing the main
// mux. Returns a nil listener when Tailscale is disabled.
func tailscaleListener(cfg *config.Config) (net.Listener, func()) {
	ts := cfg.HTTP.Tailscale
	if !ts.Enabled {
		return nil, nil
	}

	hostname := ts.Hostname
	if hostname == "" {
		hostname = "animara"
	}
	srv := &tsnet.Server{
		Hostname: hostname,
		AuthKey:  ts.AuthKey,
		Dir:      config.ExpandHome(ts.StateDir),
	}
	ln, err := srv.Listen("tcp", fmt.Sprintf(":%d", cfg.HTTP.Port))
	if err != nil {
		slog.Warn("tailscale.listen_failed", "error", err)
		srv.Close()
		return nil, nil
	}
	slog.Info("tailscale.listening", "hostname", hostname, "port", cfg.HTTP.Port)
	return ln, func() { srv.Close() }
}
