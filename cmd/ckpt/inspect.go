package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/checkpoint/internal/infer"
	"github.com/samcharles93/checkpoint/internal/persist"
	"github.com/samcharles93/checkpoint/internal/safetensors"
)

func inspectCmd() *cli.Command {
	var (
		filePath     string
		showConfig   bool
		tensorLimit  int
		tensorFilter string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of a .safetensors checkpoint file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to .safetensors file",
				Destination: &filePath,
				Required:    true,
			},
			&cli.BoolFlag{Name: "config", Usage: "infer and show the structural config", Destination: &showConfig},
			&cli.IntFlag{Name: "tensors-limit", Usage: "limit tensor listing (0 = no limit)", Value: 50, Destination: &tensorLimit},
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &tensorFilter},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			stat, err := os.Stat(filePath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat checkpoint %q: %v", filePath, err), 1)
			}
			if stat.IsDir() || !strings.HasSuffix(strings.ToLower(filePath), persist.Ext) {
				return cli.Exit("error: ckpt inspect only supports .safetensors files", 1)
			}

			sf, err := safetensors.Open(filePath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open checkpoint: %v", err), 1)
			}
			defer func() { _ = sf.Close() }()

			fmt.Printf("Checkpoint: %s (%s)\n", filepath.Base(filePath), formatBytes(uint64(stat.Size())))

			infos := sf.Infos()
			printTensorSummary(infos)
			printTensorIndex(infos, tensorFilter, tensorLimit)

			if showConfig {
				m, err := sf.Mapping()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: decode tensors: %v", err), 1)
				}
				cfg, err := infer.FromWeights(m)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: infer config: %v", err), 1)
				}
				printConfig(cfg)
			}

			return nil
		},
	}
}

func printTensorSummary(infos []safetensors.Info) {
	section("Tensor Summary")
	rowInt("tensors", len(infos))

	dtypeCounts := map[string]int{}
	dtypeBytes := map[string]uint64{}
	var total uint64
	for _, info := range infos {
		name := info.DType.String()
		dtypeCounts[name]++
		dtypeBytes[name] += uint64(info.ByteSize)
		total += uint64(info.ByteSize)
	}
	row("data_size", formatBytes(total))
	for _, name := range []string{"F32", "F16", "BF16"} {
		if n, ok := dtypeCounts[name]; ok {
			row("dtype_"+strings.ToLower(name), fmt.Sprintf("%d (%s)", n, formatBytes(dtypeBytes[name])))
		}
	}
}

func printTensorIndex(infos []safetensors.Info, filter string, limit int) {
	section("Tensor Index")
	printed := 0
	for _, info := range infos {
		if filter != "" && !strings.Contains(info.Name, filter) {
			continue
		}
		fmt.Printf("%s  dtype=%s shape=%s size=%s\n",
			info.Name, info.DType, formatShape(info.Shape), formatBytes(uint64(info.ByteSize)))
		printed++
		if limit > 0 && printed >= limit {
			break
		}
	}
	if limit > 0 && printed < len(infos) {
		fmt.Printf("... (%d shown of %d)\n", printed, len(infos))
	}
}

func printConfig(cfg infer.Config) {
	section("Inferred Config")
	rowInt("d_vocab", cfg.DVocab)
	rowInt("d_model", cfg.DModel)
	rowInt("n_ctx", cfg.NCtx)
	rowInt("d_head", cfg.DHead)
	rowInt("n_head", cfg.NHead)
	rowInt("d_mlp", cfg.DMLP)
	rowInt("n_layers", cfg.NLayers)
}

func section(title string) {
	line := strings.Repeat("-", len(title)+8)
	fmt.Printf("\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(label, value string) {
	if value == "" {
		return
	}
	fmt.Printf("%-16s %s\n", label+":", value)
}

func rowInt(label string, v int) {
	if v == 0 {
		return
	}
	row(label, fmt.Sprintf("%d", v))
}

func formatShape(shape []int) string {
	if len(shape) == 0 {
		return "[]"
	}
	parts := make([]string, len(shape))
	for i, v := range shape {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
		tb = 1024 * gb
	)
	switch {
	case b >= tb:
		return fmt.Sprintf("%.2f TiB", float64(b)/float64(tb))
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
