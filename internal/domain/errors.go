package domain

import "errors"

var (
	// ErrDocumentNotFound signals a missing document row.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrVectorDimMismatch signals a vector dimension mismatch. It marks a
	// deployment defect, never a transient failure, and must not be retried.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)
