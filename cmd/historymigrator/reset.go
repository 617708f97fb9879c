package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/walletkit/history-migrator/pkg/utils"
)

func reset(c *cli.Context) error {
	ctx := context.Background()
	sugar, err := utils.NewSugaredLogger(c.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	generation := c.String("generation")
	if generation == "" {
		return fmt.Errorf("generation is required")
	}

	sinkCfg, err := buildSinkConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build sink config: %w", err)
	}

	snk, err := openSink(ctx, sinkCfg, sugar)
	if err != nil {
		return fmt.Errorf("failed to open %s sink: %w", sinkCfg.Kind, err)
	}
	defer snk.close()

	if err := snk.marker.Clear(ctx, generation); err != nil {
		return fmt.Errorf("failed to clear run marker: %w", err)
	}

	sugar.Infof("run marker cleared for generation %q", generation)
	return nil
}
