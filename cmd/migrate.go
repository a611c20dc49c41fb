package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/animara-ai/animara/internal/config"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store migrations and exit",
		Long: `Opens the configured store, which applies any pending embedded
migrations, then exits. Running the proxy does the same on startup; this
command exists for deploy pipelines that migrate before rollout.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintln(os.Stderr, "load config:", err)
				os.Exit(1)
			}
			s, err := openStore(cfg)
			if err != nil {
				fmt.Fprintln(os.Stderr, "migrate:", err)
				os.Exit(1)
			}
			s.Close()
			fmt.Printf("store up to date (%s)\n", cfg.Store.Driver)
		},
	}
}
