package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/draftbay/corpus/internal/domain"
	"github.com/draftbay/corpus/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

// embeddingResponse mirrors the OpenAI-compatible API embedding response.
type embeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingItem `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingItem struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

func newTestClient(baseURL string, dims int, retryBase time.Duration) *Client {
	return New(&Config{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Model:      "test-model",
		Dimensions: dims,
		Provider:   "test",
		RetryBase:  retryBase,
		Logger:     zap.NewNop(),
	})
}

func TestClient_EmbedBatch_RestoresOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		// Answer in reverse order; the client must realign by Index.
		resp := embeddingResponse{Object: "list", Model: "test-model"}
		resp.Data = []embeddingItem{
			{Object: "embedding", Embedding: []float32{0.9, 0.9}, Index: 2},
			{Object: "embedding", Embedding: []float32{0.5, 0.5}, Index: 1},
			{Object: "embedding", Embedding: []float32{0.1, 0.1}, Index: 0},
		}
		resp.Usage.PromptTokens = 30
		resp.Usage.TotalTokens = 30

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := newTestClient(server.URL, 2, 0)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	wantFirst := []float32{0.1, 0.5, 0.9}
	for i, want := range wantFirst {
		if vecs[i][0] != want {
			t.Errorf("vecs[%d][0] = %f, expected %f", i, vecs[i][0], want)
		}
	}
}

func TestClient_EmbedBatch_Empty(t *testing.T) {
	c := newTestClient("http://unused", 2, 0)

	vecs, err := c.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil vectors for empty input, got %v", vecs)
	}
}

func TestClient_EmbedBatch_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := embeddingResponse{Object: "list", Model: "test-model"}
		resp.Data = []embeddingItem{
			{Object: "embedding", Embedding: []float32{0.1, 0.2}, Index: 0},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := newTestClient(server.URL, 2, time.Millisecond)

	_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error for count mismatch")
	}
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Errorf("error should wrap ErrEmbeddingProviderError, got %v", err)
	}
}

func TestClient_EmbedBatch_RetriesTransient(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"detail":"backend overloaded"}`))
			return
		}
		resp := embeddingResponse{Object: "list", Model: "test-model"}
		resp.Data = []embeddingItem{
			{Object: "embedding", Embedding: []float32{0.1, 0.2}, Index: 0},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := newTestClient(server.URL, 2, time.Millisecond)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("EmbedBatch failed after retry: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vecs))
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("expected 2 requests (one retry), got %d", got)
	}
}

func TestClient_EmbedBatch_NoRetryOnClientError(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "input too long",
				"type":    "invalid_request_error",
			},
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL, 2, time.Millisecond)

	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("expected a single request for a permanent error, got %d", got)
	}
}

func TestClient_EmbedBatch_DimMismatchIsPermanent(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		resp := embeddingResponse{Object: "list", Model: "test-model"}
		resp.Data = []embeddingItem{
			{Object: "embedding", Embedding: []float32{0.1, 0.2, 0.3}, Index: 0},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := newTestClient(server.URL, 2, time.Millisecond)

	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("dimension mismatch must not be retried, got %d requests", got)
	}
}

func TestClient_EmbedOne(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := embeddingResponse{Object: "list", Model: "test-model"}
		resp.Data = []embeddingItem{
			{Object: "embedding", Embedding: []float32{0.25, 0.75}, Index: 0},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := newTestClient(server.URL, 2, 0)

	vec, err := c.EmbedOne(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedOne failed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.25 {
		t.Fatalf("unexpected vector: %v", vec)
	}
}
