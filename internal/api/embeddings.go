package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weftml/weft/internal/encoder"
	"github.com/weftml/weft/internal/metrics"
)

type Server struct {
	service *EmbeddingService
	started time.Time
}

func NewServer(service *EmbeddingService) *Server {
	return &Server{
		service: service,
		started: time.Now(),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/embeddings", s.handleEmbeddings)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) handleEmbeddings(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "embedding service not configured", "", "")
	}
	start := time.Now()

	req, err := decodeJSON[EmbeddingsRequest](c.Request().Body)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("error").Inc()
		return writeBadRequest(c, "invalid request body: "+err.Error())
	}

	resp, err := s.service.CreateEmbeddings(c.Request().Context(), req)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("error").Inc()
		switch {
		case errors.Is(err, ErrInvalidRequest):
			return writeBadRequest(c, err.Error())
		case errors.Is(err, ErrModelNotFound):
			return writeNotFound(c, err.Error())
		default:
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
		}
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues("ok").Inc()
	metrics.RequestDuration.Observe(time.Since(start).Seconds())
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListModels(c *echo.Context) error {
	var ids []string
	if s.service != nil && s.service.provider != nil {
		discovered, err := s.service.provider.ListModels()
		if err != nil {
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
		}
		ids = discovered
	}

	data := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		data = append(data, ModelInfo{ID: id, Object: "model"})
	}
	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: data})
}

func (s *Server) handleHealth(c *echo.Context) error {
	health := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.service != nil {
		if p, ok := s.service.provider.(interface{ LoadedCount() int }); ok {
			health.LoadedModels = p.LoadedCount()
		}
	}
	return c.JSON(http.StatusOK, health)
}

// EmbeddingService turns embedding requests into pooled vectors. Pooling
// and normalization defaults come from server configuration; a request may
// override both.
type EmbeddingService struct {
	provider  EngineProvider
	pooling   encoder.Pooling
	normalize bool
}

func NewEmbeddingService(provider EngineProvider, pooling encoder.Pooling, normalize bool) *EmbeddingService {
	if pooling == "" {
		pooling = encoder.PoolMean
	}
	return &EmbeddingService{
		provider:  provider,
		pooling:   pooling,
		normalize: normalize,
	}
}

func (s *EmbeddingService) CreateEmbeddings(ctx context.Context, req EmbeddingsRequest) (*EmbeddingsResponse, error) {
	inputs, err := normalizeInput(req.Input)
	if err != nil {
		return nil, err
	}

	pooling := s.pooling
	if req.Pooling != "" {
		pooling, err = encoder.ParsePooling(req.Pooling)
		if err != nil {
			return nil, newInvalidRequest(err.Error())
		}
	}
	normalize := s.normalize
	if req.Normalize != nil {
		normalize = *req.Normalize
	}

	resp := &EmbeddingsResponse{
		Object: "list",
		Data:   make([]Embedding, 0, len(inputs)),
		Model:  req.Model,
	}
	if resp.Model == "" {
		if p, ok := s.provider.(interface{ DefaultModel() string }); ok {
			resp.Model = p.DefaultModel()
		}
	}

	err = s.provider.WithEngine(ctx, req.Model, func(eng Engine) error {
		for i, text := range inputs {
			enc, err := eng.EncodeText(ctx, text)
			if err != nil {
				return err
			}
			vec, err := encoder.Pool(enc, pooling)
			if err != nil {
				return err
			}
			if normalize {
				encoder.Normalize(vec)
			}

			metrics.EmbeddingTokensTotal.Add(float64(len(enc.Tokens)))
			metrics.TokenizeDuration.Observe(enc.Stats.TokenizeDuration.Seconds())
			metrics.ForwardDuration.Observe(enc.Stats.ForwardDuration.Seconds())

			resp.Data = append(resp.Data, Embedding{
				Object:    "embedding",
				Index:     i,
				Embedding: vec,
			})
			resp.Usage.PromptTokens += len(enc.Tokens)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.TotalTokens = resp.Usage.PromptTokens
	return resp, nil
}
