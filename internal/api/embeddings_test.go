package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/weftml/weft/internal/encoder"
)

type testEngine struct {
	dim int
	err error
}

func (e testEngine) EncodeText(ctx context.Context, text string) (*encoder.Encoding, error) {
	if e.err != nil {
		return nil, e.err
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		tokens = []string{text}
	}
	enc := &encoder.Encoding{
		Tokens: make([]int, len(tokens)),
		Hidden: make([][]float32, len(tokens)),
		Dim:    e.dim,
	}
	for i := range tokens {
		enc.Tokens[i] = i
		row := make([]float32, e.dim)
		for j := range row {
			row[j] = float32(i + j + 1)
		}
		enc.Hidden[i] = row
	}
	enc.Stats.TokenizeDuration = time.Millisecond
	enc.Stats.ForwardDuration = time.Millisecond
	return enc, nil
}

func (e testEngine) Dim() int     { return e.dim }
func (e testEngine) Arch() string { return "test" }

type testProvider struct {
	engine Engine
	models []string
	err    error
}

func (p testProvider) WithEngine(ctx context.Context, modelID string, fn func(Engine) error) error {
	if p.err != nil {
		return p.err
	}
	return fn(p.engine)
}

func (p testProvider) ListModels() ([]string, error) { return p.models, nil }
func (p testProvider) DefaultModel() string          { return "tiny" }

func newTestEcho(provider EngineProvider) *echo.Echo {
	service := NewEmbeddingService(provider, encoder.PoolMean, false)
	server := NewServer(service)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestEmbeddingsSingleString(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: testEngine{dim: 4}})
	rec := doJSON(t, e, http.MethodPost, "/v1/embeddings", `{"input":"one two three"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp EmbeddingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Object != "list" {
		t.Fatalf("object: got %q", resp.Object)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("expected 1 embedding, got %d", len(resp.Data))
	}
	if got := len(resp.Data[0].Embedding); got != 4 {
		t.Fatalf("dim: got %d", got)
	}
	if resp.Usage.PromptTokens != 3 || resp.Usage.TotalTokens != 3 {
		t.Fatalf("usage: got %+v", resp.Usage)
	}
	if resp.Model != "tiny" {
		t.Fatalf("expected default model in response, got %q", resp.Model)
	}
	// Mean over rows [1 2 3 4], [2 3 4 5], [3 4 5 6].
	if resp.Data[0].Embedding[0] != 2 {
		t.Fatalf("mean pooling: got %v", resp.Data[0].Embedding)
	}
}

func TestEmbeddingsBatch(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: testEngine{dim: 2}})
	rec := doJSON(t, e, http.MethodPost, "/v1/embeddings", `{"input":["a","b c"],"model":"m"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp EmbeddingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(resp.Data))
	}
	for i, d := range resp.Data {
		if d.Index != i {
			t.Fatalf("index %d: got %d", i, d.Index)
		}
		if d.Object != "embedding" {
			t.Fatalf("object: got %q", d.Object)
		}
	}
	if resp.Model != "m" {
		t.Fatalf("model: got %q", resp.Model)
	}
	if resp.Usage.PromptTokens != 3 {
		t.Fatalf("usage: got %+v", resp.Usage)
	}
}

func TestEmbeddingsNormalize(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: testEngine{dim: 3}})
	rec := doJSON(t, e, http.MethodPost, "/v1/embeddings", `{"input":"x","normalize":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp EmbeddingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var sum float64
	for _, v := range resp.Data[0].Embedding {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %v", sum)
	}
}

func TestEmbeddingsValidation(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: testEngine{dim: 2}})
	cases := []struct {
		name string
		body string
	}{
		{"missing input", `{"model":"m"}`},
		{"numeric input", `{"input":42}`},
		{"empty array", `{"input":[]}`},
		{"mixed array", `{"input":["a",1]}`},
		{"bad pooling", `{"input":"a","pooling":"max"}`},
		{"malformed json", `{"input":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, "/v1/embeddings", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
			}
			var env errorEnvelope
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if env.Error.Type != "invalid_request_error" {
				t.Fatalf("error type: got %q", env.Error.Type)
			}
		})
	}
}

func TestEmbeddingsUnknownModel(t *testing.T) {
	t.Parallel()

	provider := testProvider{err: fmt.Errorf("%w: no such model", ErrModelNotFound)}
	e := newTestEcho(provider)
	rec := doJSON(t, e, http.MethodPost, "/v1/embeddings", `{"input":"a","model":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestEmbeddingsEngineFailure(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: testEngine{dim: 2, err: errors.New("boom")}})
	rec := doJSON(t, e, http.MethodPost, "/v1/embeddings", `{"input":"a"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: testEngine{dim: 2}, models: []string{"alpha", "beta"}})
	rec := doJSON(t, e, http.MethodGet, "/v1/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var list ModelList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(list.Data) != 2 || list.Data[0].ID != "alpha" || list.Data[1].Object != "model" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: testEngine{dim: 2}})
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("status field: got %q", health.Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: testEngine{dim: 2}})
	rec := doJSON(t, e, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "weft_") {
		t.Fatalf("expected weft collectors in metrics output")
	}
}
