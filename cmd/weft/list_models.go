package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/weftml/weft/internal/hub"
	"github.com/weftml/weft/internal/logger"
)

func listModelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "list-models",
		Aliases: []string{"ls", "models"},
		Usage:   "List available models",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "directory containing managed models",
				Destination: &modelsPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, LoadConfig())

			dir := resolveModelsDir()
			names, err := hub.List(dir)
			if err != nil {
				if os.IsNotExist(err) {
					log.Info("no models found", "path", dir)
					return nil
				}
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(names) == 0 {
				log.Info("no models found", "path", dir)
				return nil
			}

			fmt.Printf("Models in %s:\n\n", dir)
			for _, name := range names {
				size, ok := modelSize(filepath.Join(dir, name))
				if ok {
					fmt.Printf("  %-40s %8s\n", name, formatModelSize(size))
				} else {
					fmt.Printf("  %s\n", name)
				}
			}
			fmt.Printf("\n%d model(s) found\n", len(names))
			return nil
		},
	}
}

// modelSize totals the regular files under a checkpoint path. GGUF
// entries are single files, HF checkpoints are directories.
func modelSize(path string) (int64, bool) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	if !st.IsDir() {
		return st.Size(), true
	}
	var total int64
	ents, err := os.ReadDir(path)
	if err != nil {
		return 0, false
	}
	for _, e := range ents {
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		total += info.Size()
	}
	return total, true
}

func formatModelSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
