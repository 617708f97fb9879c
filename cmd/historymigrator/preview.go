package main

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/walletkit/history-migrator/pkg/builder"
	"github.com/walletkit/history-migrator/pkg/data/sqlite/legacyhistory"
	"github.com/walletkit/history-migrator/pkg/migration"
	"github.com/walletkit/history-migrator/pkg/types/history"
	"github.com/walletkit/history-migrator/pkg/utils"
)

// preview migrates one account without persisting anything and prints the
// resulting records as JSON.
func preview(c *cli.Context) error {
	sugar, err := utils.NewSugaredLogger(c.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	store, err := legacyhistory.Open(c.String("legacy-db"), true, sugar)
	if err != nil {
		return fmt.Errorf("failed to open legacy store: %w", err)
	}
	defer store.Close()

	bcfg := buildBuilderConfig(c)
	bc, err := builder.New(c.Context, bcfg.URL,
		builder.WithMethod(bcfg.Method),
		builder.WithCallTimeout(bcfg.CallTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create builder client: %w", err)
	}
	defer bc.Close()

	// no persister: MigrateAccount never persists
	m := migration.New(sugar, store, bc, nil)
	txs, err := m.MigrateAccount(c.Context, c.String("account"))
	if err != nil {
		return err
	}
	return writePreview(c.App.Writer, sugar, txs, m.Stats())
}

func writePreview(w io.Writer, log *zap.SugaredLogger, txs []history.AccountHistoryTx, stats migration.Stats) error {
	if err := writeRecords(w, txs); err != nil {
		return err
	}
	log.Infow("preview finished",
		"read", stats.Read,
		"skipped", stats.Skipped,
		"migrated", stats.Migrated,
		"failed", stats.Failed,
		"duplicates", stats.Duplicates,
	)
	return nil
}
