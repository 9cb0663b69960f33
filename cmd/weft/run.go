package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/weftml/weft/internal/encoder"
	"github.com/weftml/weft/internal/logger"
)

// defaultInputText is encoded when run is given no positional argument.
const defaultInputText = "Example input for AI task"

func runCmd() *cli.Command {
	var interactive bool

	return &cli.Command{
		Name:      "run",
		Usage:     "Run a forward pass over input text and print the hidden state shape",
		ArgsUsage: "[text]",
		Flags: append(commonModelFlags(),
			&cli.BoolFlag{
				Name:        "interactive",
				Aliases:     []string{"i"},
				Usage:       "read inputs interactively (type /exit to quit)",
				Destination: &interactive,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(c, LoadConfig())

			enc, err := loadEncoder(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = enc.Close() }()

			if interactive {
				fmt.Fprintln(os.Stderr, "Interactive mode. Type /exit to quit.")
				for {
					line, err := readInteractiveLine("> ")
					if err != nil {
						if err == io.EOF {
							return nil
						}
						return cli.Exit(fmt.Sprintf("error: read input: %v", err), 1)
					}
					trimmed := strings.TrimSpace(line)
					if trimmed == "/exit" {
						return nil
					}
					if trimmed == "" {
						continue
					}
					if err := runPipeline(ctx, os.Stdout, enc, line); err != nil {
						fmt.Fprintf(os.Stderr, "error: %v\n", err)
					}
				}
			}

			text := defaultInputText
			if args := c.Args().Slice(); len(args) > 0 {
				text = strings.Join(args, " ")
			}
			log.Debug("encoding input", "chars", len(text))
			if err := runPipeline(ctx, os.Stdout, enc, text); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return nil
		},
	}
}

type textEncoder interface {
	EncodeText(ctx context.Context, text string) (*encoder.Encoding, error)
}

// runPipeline encodes one input and prints the shape report. Nothing is
// printed when the forward pass fails.
func runPipeline(ctx context.Context, w io.Writer, enc textEncoder, text string) error {
	out, err := enc.EncodeText(ctx, text)
	if err != nil {
		return fmt.Errorf("encode %q: %w", text, err)
	}
	fmt.Fprintf(w, "Input: %s\n", text)
	fmt.Fprintf(w, "Model output shape: (1, %d, %d)\n", len(out.Hidden), out.Dim)
	fmt.Fprintln(w, "Processing complete!")
	return nil
}
