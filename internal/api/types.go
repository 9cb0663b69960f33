package api

// Request and response shapes for the HTTP API. The embeddings surface
// follows the common /v1/embeddings wire format so existing clients work
// unmodified; pooling and normalize are extensions and may be omitted.

// EmbeddingsRequest is the body of POST /v1/embeddings. Input accepts
// either a single string or an array of strings.
type EmbeddingsRequest struct {
	Model     string `json:"model"`
	Input     any    `json:"input"`
	Pooling   string `json:"pooling,omitempty"`
	Normalize *bool  `json:"normalize,omitempty"`
}

type Embedding struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type EmbeddingsResponse struct {
	Object string      `json:"object"`
	Data   []Embedding `json:"data"`
	Model  string      `json:"model"`
	Usage  Usage       `json:"usage"`
}

type ModelInfo struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	LoadedModels int    `json:"loaded_models"`
}

type responseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error responseError `json:"error"`
}
