package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/animara-ai/animara/internal/channels/telegram"
	"github.com/animara-ai/animara/internal/config"
)

// botCmd runs the Telegram bot against an already-running proxy. Useful
// when the bot lives on a different host than the proxy; `animara serve`
// starts the bot in-process when telegram is enabled in config.
func botCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot against a running proxy",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				slog.Error("config.load_failed", "error", err)
				os.Exit(1)
			}
			if cfg.Telegram.ProxyURL == "" {
				cfg.Telegram.ProxyURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.HTTP.Port)
			}

			bot, err := telegram.New(cfg.Telegram)
			if err != nil {
				slog.Error("telegram.create_failed", "error", err)
				os.Exit(1)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram.start_failed", "error", err)
				os.Exit(1)
			}
			slog.Info("bot.running", "proxy", cfg.Telegram.ProxyURL)

			<-ctx.Done()
			bot.Stop()
		},
	}
}
