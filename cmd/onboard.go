package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/animara-ai/animara/internal/config"
	"github.com/animara-ai/animara/internal/workspace"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfgPath := resolveConfigPath()
	cfg := config.Default()

	llmEndpoint := cfg.LLM.Endpoint
	llmModel := cfg.LLM.Model
	embModel := cfg.Embeddings.Model
	workspaceDir := cfg.Workspace.Path
	ownerID := cfg.Identity.OwnerID
	port := strconv.Itoa(cfg.HTTP.Port)
	driver := "sqlite"
	enableTelegram := false

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Local LLM endpoint").
				Description("OpenAI-compatible server, e.g. vLLM or llama.cpp").
				Value(&llmEndpoint),
			huh.NewInput().
				Title("Chat model name").
				Value(&llmModel),
			huh.NewInput().
				Title("Embedding model name").
				Value(&embModel),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Workspace directory").
				Description("Persona and memory markdown files live here").
				Value(&workspaceDir),
			huh.NewInput().
				Title("Owner ID").
				Description("The privileged caller: full persona, god mode, lexical search").
				Value(&ownerID),
			huh.NewInput().
				Title("HTTP port").
				Validate(func(s string) error {
					if _, err := strconv.Atoi(s); err != nil {
						return fmt.Errorf("not a number")
					}
					return nil
				}).
				Value(&port),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Memory store").
				Options(
					huh.NewOption("SQLite (single file, default)", "sqlite"),
					huh.NewOption("PostgreSQL (DSN from ANIMARA_PG_DSN)", "postgres"),
				).
				Value(&driver),
			huh.NewConfirm().
				Title("Enable the Telegram bot?").
				Description("Token comes from ANIMARA_TELEGRAM_TOKEN").
				Value(&enableTelegram),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "onboard cancelled:", err)
		os.Exit(1)
	}

	cfg.LLM.Endpoint = llmEndpoint
	cfg.LLM.Model = llmModel
	cfg.Embeddings.Endpoint = llmEndpoint
	cfg.Embeddings.Model = embModel
	cfg.Workspace.Path = workspaceDir
	cfg.Identity.OwnerID = ownerID
	cfg.Identity.DefaultCallerID = ownerID
	cfg.HTTP.Port, _ = strconv.Atoi(port)
	cfg.Store.Driver = driver
	cfg.Telegram.Enabled = enableTelegram

	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "write config:", err)
		os.Exit(1)
	}
	seeded, err := workspace.Seed(config.ExpandHome(workspaceDir))
	if err != nil {
		fmt.Fprintln(os.Stderr, "create workspace:", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("Config written to %s\n", cfgPath)
	if len(seeded) > 0 {
		fmt.Printf("Workspace seeded: %v\n", seeded)
	}
	fmt.Println()
	fmt.Println("Secrets are read from the environment only:")
	fmt.Println("  ANIMARA_PREMIUM_API_KEY   premium backend (god mode)")
	fmt.Println("  ANIMARA_BRAVE_API_KEY     web_search tool")
	fmt.Println("  ANIMARA_YOUGILE_API_KEY   task-board tools")
	if enableTelegram {
		fmt.Println("  ANIMARA_TELEGRAM_TOKEN    telegram bot")
	}
	if driver == "postgres" {
		fmt.Println("  ANIMARA_PG_DSN            postgres connection string")
	}
	fmt.Println()
	fmt.Println("Start the proxy with:  animara")
}
