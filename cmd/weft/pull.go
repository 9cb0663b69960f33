package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/weftml/weft/internal/hub"
	"github.com/weftml/weft/internal/logger"
)

func pullCmd() *cli.Command {
	var (
		endpoint string
		token    string
	)

	return &cli.Command{
		Name:      "pull",
		Usage:     "Download a model from the HuggingFace hub",
		ArgsUsage: "ORG/NAME",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "directory to download into",
				Destination: &modelsPath,
			},
			&cli.StringFlag{
				Name:        "endpoint",
				Usage:       "hub endpoint override",
				Destination: &endpoint,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "hub access token (defaults to HF_TOKEN)",
				Destination: &token,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(c, LoadConfig())

			id := c.Args().First()
			if id == "" {
				return cli.Exit("error: model id is required (weft pull ORG/NAME)", 1)
			}

			dest := resolveModelsDir()
			log.Info("pulling model", "model", id, "dest", dest)
			dir, err := hub.Pull(ctx, id, dest, hub.PullOptions{
				Endpoint: endpoint,
				Token:    token,
				Logger:   log,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: pull %s: %v", id, err), 1)
			}
			fmt.Printf("Pulled %s to %s\n", id, dir)
			return nil
		},
	}
}
