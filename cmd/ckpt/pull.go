package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/checkpoint/internal/persist"
	"github.com/samcharles93/checkpoint/internal/safetensors"
)

func pullCmd() *cli.Command {
	var (
		key     string
		outPath string
		verify  bool
	)

	return &cli.Command{
		Name:  "pull",
		Usage: "Fetch a checkpoint from the store and write it to a local file",
		Flags: append(append(commonStoreFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "key",
				Aliases:     []string{"k"},
				Usage:       "checkpoint key, e.g. 2500.safetensors",
				Destination: &key,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path (defaults to the key)",
				Destination: &outPath,
			},
			&cli.BoolFlag{
				Name:        "verify",
				Usage:       "rebuild a model skeleton from the weights to verify the checkpoint",
				Destination: &verify,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyStoreConfig(c, LoadConfig())
			log := newLog()

			store, err := openStore(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open store: %v", err), 1)
			}

			if verify {
				t, err := persist.LoadModel(ctx, store, key, "cpu")
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: verify checkpoint: %v", err), 1)
				}
				log.Info("checkpoint verified",
					"key", key,
					"n_layers", t.Config.NLayers,
					"d_model", t.Config.DModel,
				)
			}

			m, err := store.Load(ctx, key)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load checkpoint: %v", err), 1)
			}
			data, err := safetensors.Encode(m)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: encode checkpoint: %v", err), 1)
			}

			if outPath == "" {
				outPath = key
			}
			if _, err := os.Stat(outPath); err == nil {
				return cli.Exit(fmt.Sprintf("error: %s already exists", outPath), 1)
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return cli.Exit(fmt.Sprintf("error: write checkpoint: %v", err), 1)
			}
			log.Info("checkpoint written", "path", outPath, "bytes", len(data))
			return nil
		},
	}
}
