package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/weftml/weft/internal/encoder"
	"github.com/weftml/weft/internal/export"
	"github.com/weftml/weft/internal/logger"
	"github.com/weftml/weft/pkg/vecf"
)

func embedCmd() *cli.Command {
	var (
		filePath string
		format   string
		outPath  string
	)

	return &cli.Command{
		Name:      "embed",
		Usage:     "Encode inputs into pooled embedding vectors",
		ArgsUsage: "[text ...]",
		Flags: append(append(commonModelFlags(), poolingFlags()...),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "read inputs from a file, one per line",
				Destination: &filePath,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (table, jsonl, vecf, arrow)",
				Value:       "table",
				Destination: &format,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path (required for vecf and arrow)",
				Destination: &outPath,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()
			applyModelConfig(c, cfg)
			applyPoolingConfig(c, cfg)

			pooling, err := encoder.ParsePooling(poolMode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			texts, err := collectInputs(c.Args().Slice(), filePath, os.Stdin)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read inputs: %v", err), 1)
			}
			if len(texts) == 0 {
				return cli.Exit("error: no inputs (pass arguments, --file or pipe stdin)", 1)
			}

			enc, err := loadEncoder(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = enc.Close() }()

			if format == "vecf" {
				return embedVecf(ctx, enc, texts, pooling, outPath)
			}

			out, closeOut, err := openOutput(outPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer closeOut()

			var w rowWriter
			switch format {
			case "", "table":
				w = export.NewTableWriter(out)
			case "jsonl":
				w = export.NewJSONLWriter(out)
			case "arrow":
				if outPath == "" {
					return cli.Exit("error: --format arrow requires --out", 1)
				}
				w, err = export.NewArrowWriter(out, enc.Dim())
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			default:
				return cli.Exit(fmt.Sprintf("error: unsupported format %q (want table, jsonl, vecf or arrow)", format), 1)
			}

			for i, text := range texts {
				res, err := enc.EncodeText(ctx, text)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: encode input %d: %v", i, err), 1)
				}
				vec, err := encoder.Pool(res, pooling)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: pool input %d: %v", i, err), 1)
				}
				if normalize {
					encoder.Normalize(vec)
				}
				row := export.Row{Index: i, Text: text, Tokens: len(res.Tokens), Embedding: vec}
				if err := w.Append(row); err != nil {
					return cli.Exit(fmt.Sprintf("error: write output: %v", err), 1)
				}
				log.Debug("embedded input", "index", i, "tokens", len(res.Tokens), "tps", res.Stats.TokensPerSecond)
			}
			if err := w.Close(); err != nil {
				return cli.Exit(fmt.Sprintf("error: finalize output: %v", err), 1)
			}
			return nil
		},
	}
}

type rowWriter interface {
	Append(export.Row) error
	Close() error
}

func embedVecf(ctx context.Context, enc *encoder.Encoder, texts []string, pooling encoder.Pooling, outPath string) error {
	if outPath == "" {
		return cli.Exit("error: --format vecf requires --out", 1)
	}

	modelName := strings.TrimSpace(modelID)
	if modelName == "" {
		modelName = filepath.Base(enc.Path())
	}
	w, err := vecf.Create(outPath, vecf.Metadata{
		Model:      modelName,
		Dim:        enc.Dim(),
		Pooling:    string(pooling),
		Normalized: normalize,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: create %s: %v", outPath, err), 1)
	}

	for i, text := range texts {
		res, err := enc.EncodeText(ctx, text)
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: encode input %d: %v", i, err), 1)
		}
		vec, err := encoder.Pool(res, pooling)
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: pool input %d: %v", i, err), 1)
		}
		if normalize {
			encoder.Normalize(vec)
		}
		if err := w.Append(vec); err != nil {
			return cli.Exit(fmt.Sprintf("error: write vector %d: %v", i, err), 1)
		}
		w.AppendText(text)
	}
	if err := w.Close(); err != nil {
		return cli.Exit(fmt.Sprintf("error: finalize %s: %v", outPath, err), 1)
	}
	return nil
}

// collectInputs gathers texts from positional args, then --file, then a
// piped stdin, in that order of preference.
func collectInputs(args []string, filePath string, stdin io.Reader) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if filePath != "" {
		f, err := os.Open(filePath)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		return readLines(f)
	}
	if !stdinIsTTY() {
		return readLines(stdin)
	}
	return nil, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
