package main

import (
	"fmt"
	"strings"

	"github.com/lgulliver/upturn/internal/app"
	"github.com/lgulliver/upturn/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "upturn",
		Short: "Download images and render them upside down",
		Long: strings.TrimSpace(`
upturn downloads an image into a flat blob folder and decodes it for display,
subsampled to a target width and rotated 180 degrees.
Configuration comes from the environment; flags override the paths.
`),
		SilenceUsage: true,
	}

	root.PersistentFlags().String("images", "", "Blob folder (overrides STORAGE_LOCAL_PATH)")
	root.PersistentFlags().String("db", "", "SQLite ledger path (overrides DB_PATH)")

	root.AddCommand(newFetchCmd(), newShowCmd(), newListCmd(), newStatsCmd(), newVerifyCmd(), newKeygenCmd())
	return root
}

// openApp loads configuration, applies flag overrides and wires the pipeline
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	if images, _ := cmd.Flags().GetString("images"); images != "" {
		cfg.Storage.LocalPath = images
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = db
	}

	a, err := app.New(cfg, prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}

func closeApp(cmd *cobra.Command, a *app.App) {
	if err := a.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "close: %v\n", err)
	}
}
