package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/weftml/weft/internal/encoder"
	"github.com/weftml/weft/internal/hub"
	"github.com/weftml/weft/internal/logger"
	"github.com/weftml/weft/internal/model"
)

const envWeftModelsDir = "WEFT_MODELS_DIR"

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = isTTY

// resolveModelsDir decides the managed models directory: flag, then env,
// then the user cache dir.
func resolveModelsDir() string {
	if dir := strings.TrimSpace(modelsPath); dir != "" {
		return dir
	}
	if dir := strings.TrimSpace(os.Getenv(envWeftModelsDir)); dir != "" {
		return dir
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(cache, "weft", "models")
}

// resolveModel turns the --model flag (or an interactive selection) into
// a concrete checkpoint path.
func resolveModel(stdin io.Reader, stderr io.Writer) (hub.Resolved, error) {
	id := strings.TrimSpace(modelID)
	modelsDir := resolveModelsDir()

	if id == "" {
		names, err := hub.List(modelsDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return hub.Resolved{}, err
		}
		switch len(names) {
		case 0:
			return hub.Resolved{}, fmt.Errorf("no model specified and none found in %s (use --model or weft pull)", modelsDir)
		case 1:
			id = names[0]
			_, _ = fmt.Fprintf(stderr, "using model %s\n", id)
		default:
			if !stdinIsTTY() {
				return hub.Resolved{}, fmt.Errorf("multiple models found in %s but stdin is not interactive; set --model", modelsDir)
			}
			id, err = selectModelInteractively(modelsDir, names, stdin, stderr)
			if err != nil {
				return hub.Resolved{}, err
			}
		}
	}

	return hub.Resolve(id, modelsDir)
}

func selectModelInteractively(modelsDir string, names []string, stdin io.Reader, stderr io.Writer) (string, error) {
	_, _ = fmt.Fprintf(stderr, "select a model from %s\n", modelsDir)
	for i, name := range names {
		_, _ = fmt.Fprintf(stderr, "%d. %s\n", i+1, name)
	}

	reader := bufio.NewReader(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "enter selection [1-%d]: ", len(names))
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no selection provided on stdin; set --model")
			}
			continue
		}

		idx, convErr := strconv.Atoi(line)
		if convErr != nil || idx < 1 || idx > len(names) {
			_, _ = fmt.Fprintf(stderr, "invalid selection %q\n", line)
			if errors.Is(err, io.EOF) {
				return "", errors.New("invalid selection provided on stdin; set --model")
			}
			continue
		}
		return names[idx-1], nil
	}
}

// loadEncoder resolves the model and loads it with the shared model flags.
func loadEncoder(ctx context.Context) (*encoder.Encoder, error) {
	resolved, err := resolveModel(os.Stdin, os.Stderr)
	if err != nil {
		return nil, err
	}
	return encoder.Load(resolved.Path, encoderOptions(ctx))
}

func encoderOptions(ctx context.Context) encoder.Options {
	return encoder.Options{
		MaxContext: int(maxContext),
		CacheType:  model.CacheType(cacheDType),
		Truncate:   truncate,
		Logger:     logger.FromContext(ctx),
	}
}

func trimTrailingNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '\r' {
		s = s[:len(s)-1]
	}
	return s
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
