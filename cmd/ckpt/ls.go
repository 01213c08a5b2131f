package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/checkpoint/internal/persist"
)

func lsCmd() *cli.Command {
	return &cli.Command{
		Name:  "ls",
		Usage: "List checkpoints in the store, ordered by training step",
		Flags: append(commonStoreFlags(), loggingFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyStoreConfig(c, LoadConfig())

			store, err := openStore(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open store: %v", err), 1)
			}
			keys, err := store.List(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: list checkpoints: %v", err), 1)
			}
			if len(keys) == 0 {
				fmt.Println("(no checkpoints)")
				return nil
			}
			for _, key := range keys {
				step, _ := persist.Step(key)
				fmt.Printf("%10d  %s\n", step, key)
			}
			return nil
		},
	}
}
