package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/modelchat/internal/app"
	"github.com/wuwenbin0122/modelchat/internal/utils"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables and indexes for the configured backends",
	Long: `Create the conversation schema for STORE_BACKEND and, when USAGE_DRIVER is set,
the usage ledger table. Running it twice is harmless.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := utils.LoadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if overridesPath != "" {
		cfg.Chat.CatalogOverrides = overridesPath
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	deps, err := app.Open(cmd.Context(), cfg, logger, true)
	if err != nil {
		return err
	}
	defer deps.Close(cmd.Context())

	ledger := "disabled"
	if deps.Ledger != nil {
		ledger = cfg.Usage.Driver
	}
	logger.Info("migration complete", zap.String("store", cfg.Store.Backend), zap.String("usage", ledger))
	fmt.Fprintf(cmd.OutOrStdout(), "migrated store=%s usage=%s\n", cfg.Store.Backend, ledger)
	return nil
}
