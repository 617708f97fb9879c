package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/walletkit/history-migrator/pkg/types/history"
	"github.com/walletkit/history-migrator/pkg/utils"
)

// show prints what the current store holds for one account, for checking a
// run after the fact.
func show(c *cli.Context) error {
	sugar, err := utils.NewSugaredLogger(c.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sinkCfg, err := buildSinkConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build sink config: %w", err)
	}

	snk, err := openSink(c.Context, sinkCfg, sugar)
	if err != nil {
		return fmt.Errorf("failed to open %s sink: %w", sinkCfg.Kind, err)
	}
	defer snk.close()

	account := c.String("account")
	txs, err := snk.lister.ListByAccount(c.Context, account)
	if err != nil {
		return fmt.Errorf("failed to list pending history of %s: %w", account, err)
	}
	sugar.Infow("pending history read", "account", account, "records", len(txs))
	return writeRecords(c.App.Writer, txs)
}

func writeRecords(w io.Writer, txs []history.AccountHistoryTx) error {
	if txs == nil {
		txs = []history.AccountHistoryTx{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(txs); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	return nil
}
