package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/weftml/weft/internal/api"
	"github.com/weftml/weft/internal/encoder"
	"github.com/weftml/weft/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the embeddings REST API",
		Flags: append(append(commonModelFlags(), poolingFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()
			applyServeConfig(c, cfg, &addr)
			applyPoolingConfig(c, cfg)

			pooling, err := encoder.ParsePooling(poolMode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			provider := api.NewCachedEngineProvider(api.EngineProviderConfig{
				DefaultModel: modelID,
				ModelsPath:   resolveModelsDir(),
				Options:      encoderOptions(ctx),
			})
			defer provider.Close()

			service := api.NewEmbeddingService(provider, pooling, normalize)
			server := api.NewServer(service)

			e := echo.New()
			e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
				Generator: uuid.NewString,
			}))
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "pooling", string(pooling), "normalize", normalize)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
