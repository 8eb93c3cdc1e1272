package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

// Embedder turns text into fixed-dimension vectors. Production uses the
// OpenAI-compatible HTTP embedder; tests use MockEmbedder.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

// HttpEmbedder talks to any OpenAI-compatible /embeddings endpoint
// (OpenAI, Jina, Ollama behind its v1 shim).
type HttpEmbedder struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	client    *http.Client
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *embeddingError `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// modelDimensions covers the models the platform is known to run against.
// Unknown models fall back to EMBEDDING_DIMENSION.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"jina-embeddings-v3":     1024,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
}

func NewHttpEmbedderFromEnv() (*HttpEmbedder, error) {
	baseURL := utils.EnvString("EMBEDDING_BASE_URL", "")
	if baseURL == "" {
		return nil, errors.New("EMBEDDING_BASE_URL is not set")
	}
	model := utils.EnvString("EMBEDDING_MODEL", "nomic-embed-text")

	dimension := utils.EnvInt("EMBEDDING_DIMENSION", 768)
	if d, ok := modelDimensions[model]; ok {
		dimension = d
	}

	return &HttpEmbedder{
		apiKey:    utils.EnvString("EMBEDDING_API_KEY", "none"),
		model:     model,
		baseURL:   baseURL,
		dimension: dimension,
		client: &http.Client{
			Timeout: time.Duration(utils.EnvInt("EMBEDDING_TIMEOUT_SECONDS", 60)) * time.Second,
		},
	}, nil
}

func (e *HttpEmbedder) Dimension() int    { return e.dimension }
func (e *HttpEmbedder) ModelName() string { return e.model }

const maxEmbedBatch = 100

func (e *HttpEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var all [][]float32
	for i := 0; i < len(texts); i += maxEmbedBatch {
		end := i + maxEmbedBatch
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, vectors...)
	}
	return all, nil
}

func (e *HttpEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, utils.Truncate(string(body), 200))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("embedding response parse failed (body: %s): %w", utils.Truncate(string(body), 200), err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embedding API error: %s", parsed.Error.Message)
	}

	vectors := make([][]float32, len(texts))
	for _, data := range parsed.Data {
		if data.Index >= 0 && data.Index < len(vectors) {
			vectors[data.Index] = data.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedding API returned no vector for input %d", i)
		}
	}
	return vectors, nil
}

// MockEmbedder produces deterministic vectors from rune values, enough for
// tests to assert pipeline and storage behavior without a model server.
type MockEmbedder struct {
	dimension int

	// Fail forces every call to error; ReturnZero forces all-zero vectors.
	Fail       bool
	ReturnZero bool

	// Calls counts EmbedTexts invocations, including failed ones.
	Calls int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.Calls++
	if e.Fail {
		return nil, errors.New("mock embedder forced failure")
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = make([]float32, e.dimension)
		if e.ReturnZero {
			continue
		}
		for j, r := range text {
			if j >= e.dimension {
				break
			}
			vectors[i][j] = float32(r) / 1000.0
		}
	}
	return vectors, nil
}

func (e *MockEmbedder) Dimension() int    { return e.dimension }
func (e *MockEmbedder) ModelName() string { return "mock" }
