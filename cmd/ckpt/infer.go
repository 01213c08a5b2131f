package main

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/checkpoint/internal/infer"
	"github.com/samcharles93/checkpoint/internal/persist"
	"github.com/samcharles93/checkpoint/internal/safetensors"
	"github.com/samcharles93/checkpoint/internal/weights"
)

func inferCmd() *cli.Command {
	var (
		filePath string
		key      string
		nCtx     int64
		jsonOut  bool
	)

	return &cli.Command{
		Name:  "infer",
		Usage: "Infer the structural config of a checkpoint from its weight shapes",
		Flags: append(append(commonStoreFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to a local .safetensors file (bypasses the store)",
				Destination: &filePath,
			},
			&cli.StringFlag{
				Name:        "key",
				Aliases:     []string{"k"},
				Usage:       "checkpoint key in the store, e.g. 2500.safetensors",
				Destination: &key,
			},
			&cli.Int64Flag{
				Name:        "n-ctx",
				Usage:       "context length override (not recoverable from weight shapes)",
				Value:       int64(infer.DefaultNCtx),
				Destination: &nCtx,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "emit the config as JSON",
				Destination: &jsonOut,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyStoreConfig(c, LoadConfig())
			log := newLog()

			if (filePath == "") == (key == "") {
				return cli.Exit("error: exactly one of --file or --key is required", 1)
			}

			var (
				m   *weights.Map
				err error
			)
			if filePath != "" {
				var sf *safetensors.File
				sf, err = safetensors.Open(filePath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: open checkpoint: %v", err), 1)
				}
				defer func() { _ = sf.Close() }()
				m, err = sf.Mapping()
			} else {
				var store persist.Store
				store, err = openStore(ctx)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: open store: %v", err), 1)
				}
				m, err = store.Load(ctx, key)
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load checkpoint: %v", err), 1)
			}

			if !c.IsSet("n-ctx") {
				log.Warn("n_ctx is not recoverable from weight shapes, using default", "n_ctx", infer.DefaultNCtx)
			}
			cfg, err := infer.FromWeights(m, infer.WithNCtx(int(nCtx)))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: infer config: %v", err), 1)
			}

			if jsonOut {
				out, err := json.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			printConfig(cfg)
			return nil
		},
	}
}
