package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/weftml/weft/internal/logger"
)

const defaultEndpoint = "https://huggingface.co"

// PullOptions tune a download.
type PullOptions struct {
	// Endpoint overrides the hub base URL, mainly for tests.
	Endpoint string
	// Token is sent as a bearer credential when set. Falls back to the
	// HF_TOKEN environment variable.
	Token string
	// Client overrides the HTTP client. Nil means a client with a long
	// overall timeout suited to multi-gigabyte shards.
	Client *http.Client
	// Logger receives per-file progress. Nil means the default logger.
	Logger logger.Logger
}

func (o PullOptions) endpoint() string {
	if o.Endpoint != "" {
		return strings.TrimRight(o.Endpoint, "/")
	}
	return defaultEndpoint
}

func (o PullOptions) token() string {
	if o.Token != "" {
		return o.Token
	}
	return os.Getenv("HF_TOKEN")
}

func (o PullOptions) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return &http.Client{Timeout: 2 * time.Hour}
}

func (o PullOptions) logger() logger.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logger.Default()
}

// Pull downloads the checkpoint ORG/NAME into destDir: config.json,
// tokenizer artifacts and the safetensors weights (single file or every
// shard the index names). Files already present with the expected size
// are skipped. Returns the checkpoint directory.
func Pull(ctx context.Context, id, destDir string, opts PullOptions) (string, error) {
	id = strings.TrimSpace(id)
	if !strings.Contains(id, "/") {
		return "", fmt.Errorf("pull needs a hub id of the form ORG/NAME, got %q", id)
	}
	log := opts.logger()

	dir := filepath.Join(destDir, strings.ReplaceAll(id, "/", "--"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	required := []string{"config.json", "tokenizer.json"}
	optional := []string{"tokenizer_config.json"}

	for _, name := range required {
		if err := fetchFile(ctx, opts, id, dir, name); err != nil {
			return "", err
		}
		log.Info("pulled", "model", id, "file", name)
	}
	for _, name := range optional {
		if err := fetchFile(ctx, opts, id, dir, name); err != nil {
			log.Debug("optional file unavailable", "model", id, "file", name, "error", err)
		}
	}

	// Sharded checkpoints carry an index naming each shard; single-file
	// checkpoints just have model.safetensors.
	const indexName = "model.safetensors.index.json"
	if err := fetchFile(ctx, opts, id, dir, indexName); err == nil {
		shards, err := indexShards(filepath.Join(dir, indexName))
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", indexName, err)
		}
		for _, shard := range shards {
			if err := fetchFile(ctx, opts, id, dir, shard); err != nil {
				return "", err
			}
			log.Info("pulled", "model", id, "file", shard)
		}
		return dir, nil
	}

	if err := fetchFile(ctx, opts, id, dir, "model.safetensors"); err != nil {
		return "", err
	}
	log.Info("pulled", "model", id, "file", "model.safetensors")
	return dir, nil
}

func indexShards(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var idx struct {
		WeightMap map[string]string `json:"weight_map"`
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var shards []string
	for _, shard := range idx.WeightMap {
		if !seen[shard] {
			seen[shard] = true
			shards = append(shards, shard)
		}
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("empty weight_map")
	}
	return shards, nil
}

// fetchFile downloads one file, writing through a .part rename so a
// cancelled pull never leaves a truncated artifact behind.
func fetchFile(ctx context.Context, opts PullOptions, id, dir, name string) error {
	dest := filepath.Join(dir, name)
	url := fmt.Sprintf("%s/%s/resolve/main/%s", opts.endpoint(), id, name)
	client := opts.client()

	if st, err := os.Stat(dest); err == nil && st.Size() > 0 {
		if size, err := remoteSize(ctx, client, opts, url); err == nil && size == st.Size() {
			return nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if tok := opts.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: %s returned %s", name, url, resp.Status)
	}

	tmp, err := os.CreateTemp(dir, name+".part*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func remoteSize(ctx context.Context, client *http.Client, opts PullOptions, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	if tok := opts.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s", resp.Status)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("no content length")
	}
	return resp.ContentLength, nil
}
