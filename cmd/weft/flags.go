package main

import "github.com/urfave/cli/v3"

var (
	modelID    string
	modelsPath string
	maxContext int64
	poolMode   string
	normalize  bool
	truncate   bool
	cacheDType string
	logLevel   string
	logFormat  string
	debug      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "model id, checkpoint directory or .gguf file",
			Destination: &modelID,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing managed models",
			Destination: &modelsPath,
		},
		&cli.Int64Flag{
			Name:        "max-context",
			Aliases:     []string{"max-ctx", "ctx", "c"},
			Usage:       "max sequence length (0 = model default)",
			Destination: &maxContext,
		},
		&cli.StringFlag{
			Name:        "cache-dtype",
			Aliases:     []string{"cache_dtype"},
			Usage:       "KV cache data type (f32, f16)",
			Value:       "f32",
			Destination: &cacheDType,
		},
		&cli.BoolFlag{
			Name:        "truncate",
			Usage:       "clip inputs longer than the model context instead of erroring",
			Destination: &truncate,
		},
	}
}

func poolingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "pool",
			Usage:       "pooling strategy (mean, cls, last)",
			Value:       "mean",
			Destination: &poolMode,
		},
		&cli.BoolFlag{
			Name:        "normalize",
			Aliases:     []string{"norm"},
			Usage:       "L2-normalize pooled vectors",
			Destination: &normalize,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
