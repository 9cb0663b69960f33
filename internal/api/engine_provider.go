package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/weftml/weft/internal/encoder"
	"github.com/weftml/weft/internal/hub"
	"github.com/weftml/weft/internal/metrics"
)

// Engine is the slice of the encoder the HTTP layer needs. It exists so
// handlers can be tested against a fake without loading real weights.
type Engine interface {
	EncodeText(ctx context.Context, text string) (*encoder.Encoding, error)
	Dim() int
	Arch() string
}

// EngineProvider hands out an engine for a model ID. WithEngine holds the
// engine for the duration of fn; implementations may serialize callers.
type EngineProvider interface {
	WithEngine(ctx context.Context, modelID string, fn func(Engine) error) error
	ListModels() ([]string, error)
}

type EngineProviderConfig struct {
	// DefaultModel is used when a request omits the model field.
	DefaultModel string
	// ModelsPath overrides the managed models directory. Empty falls back
	// to WEFT_MODELS_DIR, then ~/.cache/weft/models.
	ModelsPath string
	Options    encoder.Options
}

type loadedEngine struct {
	mu  sync.Mutex
	enc *encoder.Encoder
}

// CachedEngineProvider loads encoders on first use and keeps them resident.
// Concurrent requests for the same model share one load; requests against a
// loaded model serialize on its mutex because the forward pass reuses
// per-engine scratch buffers.
type CachedEngineProvider struct {
	cfg  EngineProviderConfig
	load func(path string, opts encoder.Options) (*encoder.Encoder, error)

	mu      sync.Mutex
	engines map[string]*loadedEngine
	loaded  int
}

func NewCachedEngineProvider(cfg EngineProviderConfig) *CachedEngineProvider {
	return &CachedEngineProvider{
		cfg:     cfg,
		load:    encoder.Load,
		engines: make(map[string]*loadedEngine),
	}
}

func (p *CachedEngineProvider) modelsDir() string {
	if p.cfg.ModelsPath != "" {
		return p.cfg.ModelsPath
	}
	if dir := os.Getenv("WEFT_MODELS_DIR"); dir != "" {
		return dir
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(cache, "weft", "models")
}

// dropEntry removes a model's cache slot so the next request retries the
// load. Failures are never cached.
func (p *CachedEngineProvider) dropEntry(modelID string) {
	p.mu.Lock()
	delete(p.engines, modelID)
	p.mu.Unlock()
}

func (p *CachedEngineProvider) WithEngine(ctx context.Context, modelID string, fn func(Engine) error) error {
	if modelID == "" {
		modelID = p.cfg.DefaultModel
	}
	if modelID == "" {
		return newInvalidRequest("no model specified and no default model configured")
	}

	p.mu.Lock()
	entry, ok := p.engines[modelID]
	if !ok {
		entry = &loadedEngine{}
		p.engines[modelID] = entry
	}
	p.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.enc == nil {
		resolved, err := hub.Resolve(modelID, p.modelsDir())
		if err != nil {
			p.dropEntry(modelID)
			return fmt.Errorf("%w: %v", ErrModelNotFound, err)
		}
		enc, err := p.load(resolved.Path, p.cfg.Options)
		if err != nil {
			p.dropEntry(modelID)
			return err
		}
		entry.enc = enc
		metrics.LoadedModels.Inc()
		p.mu.Lock()
		p.loaded++
		p.mu.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(entry.enc)
}

// LoadedCount reports how many engines are currently resident.
func (p *CachedEngineProvider) LoadedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

func (p *CachedEngineProvider) DefaultModel() string {
	return p.cfg.DefaultModel
}

func (p *CachedEngineProvider) ListModels() ([]string, error) {
	return hub.List(p.modelsDir())
}

// Close releases every loaded engine.
func (p *CachedEngineProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, entry := range p.engines {
		entry.mu.Lock()
		if entry.enc != nil {
			_ = entry.enc.Close()
			metrics.LoadedModels.Dec()
			p.loaded--
		}
		entry.mu.Unlock()
		delete(p.engines, id)
	}
}
