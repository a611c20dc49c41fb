package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/animara-ai/animara/internal/config"
	"github.com/animara-ai/animara/internal/providers"
	"github.com/animara-ai/animara/internal/store/pg"
	"github.com/animara-ai/animara/internal/store/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("animara doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(config.ExpandHome(cfgPath)); err != nil {
		fmt.Println(" (NOT FOUND — defaults in effect)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Store
	fmt.Println()
	fmt.Println("  Store:")
	fmt.Printf("    %-12s %s\n", "Driver:", cfg.Store.Driver)
	if cfg.Store.Driver == "postgres" {
		if cfg.Store.PostgresDSN == "" {
			fmt.Printf("    %-12s ANIMARA_PG_DSN not set\n", "Status:")
		} else if s, openErr := pg.Open(cfg.Store.PostgresDSN); openErr != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", openErr)
		} else {
			s.Close()
			fmt.Printf("    %-12s OK (migrations applied)\n", "Status:")
		}
	} else {
		if s, openErr := sqlite.Open(cfg.StorePath()); openErr != nil {
			fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", openErr)
		} else {
			s.Close()
			fmt.Printf("    %-12s OK (%s)\n", "Status:", cfg.StorePath())
		}
	}

	// Local LLM
	fmt.Println()
	fmt.Println("  Local LLM:")
	fmt.Printf("    %-12s %s\n", "Endpoint:", cfg.LLM.Endpoint)
	fmt.Printf("    %-12s %s\n", "Model:", cfg.LLM.Model)
	local := providers.NewLocalProvider(cfg.LLM.Endpoint, cfg.LLM.Model, 5*time.Second)
	if _, probeErr := local.ListModels(ctx); probeErr != nil {
		fmt.Printf("    %-12s UNREACHABLE (%s)\n", "Status:", probeErr)
	} else {
		fmt.Printf("    %-12s OK\n", "Status:")
	}

	// Premium
	fmt.Println()
	fmt.Println("  Premium:")
	if cfg.Premium.APIKey == "" {
		fmt.Printf("    %-12s disabled (ANIMARA_PREMIUM_API_KEY not set)\n", "Status:")
	} else {
		premium := providers.NewPremiumProvider(cfg.Premium.APIBase, cfg.Premium.APIKey,
			cfg.Premium.Model, 10*time.Second)
		if pingErr := premium.Ping(ctx); pingErr != nil {
			fmt.Printf("    %-12s PING FAILED (%s)\n", "Status:", pingErr)
		} else {
			fmt.Printf("    %-12s OK (%s)\n", "Status:", cfg.Premium.Model)
		}
	}

	// Workspace
	fmt.Println()
	fmt.Println("  Workspace:")
	fmt.Printf("    %-12s %s", "Path:", cfg.WorkspaceDir())
	if _, statErr := os.Stat(cfg.WorkspaceDir()); statErr != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	// Optional tool backends
	fmt.Println()
	fmt.Println("  Tool backends:")
	fmt.Printf("    %-12s %s\n", "web_search:", envStatus(cfg.Tools.BraveAPIKey, "ANIMARA_BRAVE_API_KEY"))
	fmt.Printf("    %-12s %s\n", "yougile:", envStatus(cfg.Tools.Yougile.APIKey, "ANIMARA_YOUGILE_API_KEY"))
	fmt.Printf("    %-12s %s\n", "telegram:", envStatus(cfg.Telegram.Token, "ANIMARA_TELEGRAM_TOKEN"))
	fmt.Printf("    %-12s %d configured\n", "mcp:", len(cfg.MCP.Servers))
}

func envStatus(value, envName string) string {
	if value == "" {
		return fmt.Sprintf("disabled (%s not set)", envName)
	}
	return "enabled"
}
