package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mehran282/off-board-v1/ledger"
	"github.com/mehran282/off-board-v1/models"
	"github.com/mehran282/off-board-v1/store"
)

const defaultReapAge = 6 * time.Hour

// -- status --

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest ingestion run",
	Long:  "Prints the most recently started ledger entry as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		db, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck
		if err := db.Migrate(ctx); err != nil {
			return eris.Wrap(err, "status")
		}

		entry, err := ledger.Latest(ctx, db)
		if errors.Is(err, store.ErrNotFound) {
			zap.L().Info("no runs recorded yet, start one with 'scraper run'")
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "status")
		}
		return writeStatus(os.Stdout, entry)
	},
}

// statusView is the printed form of a ledger entry. Errors and metadata are
// stored as JSON text and printed as embedded JSON.
type statusView struct {
	models.ScrapingLog
	Errors   json.RawMessage `json:"errors,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func writeStatus(w io.Writer, entry models.ScrapingLog) error {
	view := statusView{ScrapingLog: entry}
	if entry.Errors != nil && json.Valid([]byte(*entry.Errors)) {
		view.Errors = json.RawMessage(*entry.Errors)
	}
	if entry.Metadata != nil && json.Valid([]byte(*entry.Metadata)) {
		view.Metadata = json.RawMessage(*entry.Metadata)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

// -- runs --

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Maintain the run ledger",
}

var runsReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Mark abandoned runs as failed",
	Long:  "Marks ledger entries still running after --older-than as failed. Runs are never reaped implicitly.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return eris.New("runs reap: --older-than must be positive")
		}

		db, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck
		if err := db.Migrate(ctx); err != nil {
			return eris.Wrap(err, "runs reap")
		}

		n, err := ledger.Reap(ctx, db, olderThan)
		if err != nil {
			return eris.Wrap(err, "runs reap")
		}
		fmt.Fprintf(os.Stdout, "reaped %d run(s)\n", n)
		return nil
	},
}

func init() {
	runsReapCmd.Flags().Duration("older-than", defaultReapAge, "minimum age of a running entry before it is reaped")

	runsCmd.AddCommand(runsReapCmd)
	rootCmd.AddCommand(statusCmd, runsCmd)
}
