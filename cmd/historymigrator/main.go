package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "historymigrator",
		Usage: "Migrate legacy (V4) pending transaction history into the current (V5) store",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Migrate every pending record of the legacy store once",
				Flags:  runFlags(),
				Action: run,
			},
			{
				Name:   "reset",
				Usage:  "Clear the run marker of a legacy store generation",
				Flags:  resetFlags(),
				Action: reset,
			},
			{
				Name:   "preview",
				Usage:  "Migrate one account without persisting and print the result",
				Flags:  previewFlags(),
				Action: preview,
			},
			{
				Name:   "show",
				Usage:  "Print the migrated pending history of one account from the current store",
				Flags:  showFlags(),
				Action: show,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
