package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/checkpoint/internal/persist"
	"github.com/samcharles93/checkpoint/internal/safetensors"
)

func pushCmd() *cli.Command {
	var (
		filePath string
		step     int64
	)

	return &cli.Command{
		Name:  "push",
		Usage: "Save a local .safetensors file into the store under its training step",
		Flags: append(append(commonStoreFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to .safetensors file",
				Destination: &filePath,
				Required:    true,
			},
			&cli.Int64Flag{
				Name:        "step",
				Aliases:     []string{"s"},
				Usage:       "training step (derived from the filename when omitted)",
				Value:       -1,
				Destination: &step,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyStoreConfig(c, LoadConfig())
			log := newLog()

			if step < 0 {
				parsed, ok := persist.Step(filepath.Base(filePath))
				if !ok {
					return cli.Exit("error: --step is required when the filename is not <step>"+persist.Ext, 1)
				}
				step = int64(parsed)
			}

			sf, err := safetensors.Open(filePath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open checkpoint: %v", err), 1)
			}
			defer func() { _ = sf.Close() }()
			m, err := sf.Mapping()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: decode tensors: %v", err), 1)
			}

			store, err := openStore(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open store: %v", err), 1)
			}
			if err := store.Save(ctx, m, int(step)); err != nil {
				return cli.Exit(fmt.Sprintf("error: save checkpoint: %v", err), 1)
			}
			log.Info("checkpoint saved", "key", persist.Key(int(step)), "tensors", m.Len())
			return nil
		},
	}
}
