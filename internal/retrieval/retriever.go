// Package retrieval answers "what do this owner's documents say about X":
// embed the query, search the vector index under the owner filter, return
// scored chunks.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/draftbay/corpus/internal/domain"
)

// DefaultLimit is the number of chunks returned when the caller passes none.
const DefaultLimit = 5

// Embedder embeds the query text.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs the owner-filtered KNN search.
type Searcher interface {
	Search(ctx context.Context, vector []float32, ownerID string, limit int) ([]domain.SearchHit, error)
}

// Service wires the embedder and the index into one retrieval call.
type Service struct {
	embedder Embedder
	index    Searcher
	timeout  time.Duration
	logger   *zap.Logger
}

// New builds a retrieval service. timeout bounds one whole retrieval,
// embedding included; zero means 10 seconds.
func New(embedder Embedder, index Searcher, timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{embedder: embedder, index: index, timeout: timeout, logger: logger}
}

// Retrieve returns up to limit chunks of ownerID's documents ranked by
// similarity to query. No query or owner means no search.
func (s *Service) Retrieve(ctx context.Context, query, ownerID string, limit int) ([]domain.ScoredChunk, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vector, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.index.Search(ctx, vector, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	chunks := make([]domain.ScoredChunk, len(hits))
	for i, hit := range hits {
		chunks[i] = domain.ScoredChunk{
			Content:    hit.Content,
			DocumentID: hit.DocumentID,
			Score:      hit.Score,
		}
	}
	s.logger.Debug("retrieval done",
		zap.String("owner_id", ownerID),
		zap.Int("hits", len(chunks)))
	return chunks, nil
}
