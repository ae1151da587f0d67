// Package domain holds the core types shared across the ingestion and
// retrieval pipeline.
package domain

import "time"

// Status is a document's position in its ingestion lifecycle.
// Transitions are monotonic: processing may move to completed or failed,
// terminal states never regress.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is one uploaded source file.
type Document struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Status      Status    `json:"status"`
	StorageURL  string    `json:"storage_url,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chunk is one contiguous, trimmed slice of a document's extracted text.
// Indices are zero-based and gapless within a document.
type Chunk struct {
	DocumentID string
	Index      int
	Content    string
	Length     int
}

// Point is the unit of storage in the vector index: a fresh id, the chunk's
// embedding and a payload that always carries the owner for filtering.
type Point struct {
	ID         string
	Vector     []float32
	DocumentID string
	ChunkIndex int
	Content    string
	OwnerID    string
}

// SearchHit is one raw result from the vector index, ordered by descending
// similarity.
type SearchHit struct {
	ID         string
	Score      float64
	DocumentID string
	OwnerID    string
	ChunkIndex int
	Content    string
}

// ScoredChunk is a retrieval result handed to callers of the retrieval
// service.
type ScoredChunk struct {
	Content    string  `json:"text"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}
