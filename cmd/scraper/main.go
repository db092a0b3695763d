package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mehran282/off-board-v1/config"
	"github.com/mehran282/off-board-v1/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "scraper",
	Short: "kaufDA flyer and offer ingestion",
	Long:  "Crawls kaufDA listing, retailer and brochure pages, reconciles the extracted records into the database and keeps a ledger of every run.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// initStore opens the configured database.
func initStore(ctx context.Context) (store.DB, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
