package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/draftbay/corpus/internal/domain"
)

// InsertDocument creates a new document row. Timestamps come from the
// database clock.
func (s *Store) InsertDocument(ctx context.Context, doc *domain.Document) error {
	const q = `
		INSERT INTO documents (id, owner_id, title, status, storage_url, size_bytes, content_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		doc.ID, doc.OwnerID, doc.Title, doc.Status, doc.StorageURL, doc.SizeBytes, doc.ContentType)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument fetches one document owned by ownerID.
func (s *Store) GetDocument(ctx context.Context, id, ownerID string) (*domain.Document, error) {
	const q = `
		SELECT id, owner_id, title, status, storage_url, size_bytes, content_type, created_at, updated_at
		FROM documents
		WHERE id = $1 AND owner_id = $2`

	var doc domain.Document
	err := s.pool.QueryRow(ctx, q, id, ownerID).Scan(
		&doc.ID, &doc.OwnerID, &doc.Title, &doc.Status, &doc.StorageURL,
		&doc.SizeBytes, &doc.ContentType, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns all documents of an owner, newest first.
func (s *Store) ListDocuments(ctx context.Context, ownerID string) ([]domain.Document, error) {
	const q = `
		SELECT id, owner_id, title, status, storage_url, size_bytes, content_type, created_at, updated_at
		FROM documents
		WHERE owner_id = $1
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []domain.Document{}
	for rows.Next() {
		var doc domain.Document
		if err := rows.Scan(
			&doc.ID, &doc.OwnerID, &doc.Title, &doc.Status, &doc.StorageURL,
			&doc.SizeBytes, &doc.ContentType, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// CompleteDocument moves a document to completed and records its storage URL.
// Terminal states never regress: the guard makes repeated or late calls
// no-ops instead of overwrites.
func (s *Store) CompleteDocument(ctx context.Context, id, storageURL string) error {
	const q = `
		UPDATE documents
		SET status = 'completed', storage_url = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`

	if _, err := s.pool.Exec(ctx, q, id, storageURL); err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	return nil
}

// FailDocument moves a document to failed. Like CompleteDocument, terminal
// states stay put.
func (s *Store) FailDocument(ctx context.Context, id string) error {
	const q = `
		UPDATE documents
		SET status = 'failed', updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`

	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("fail document: %w", err)
	}
	return nil
}

// DeleteDocument removes a document owned by ownerID; chunk rows go with it
// via ON DELETE CASCADE.
func (s *Store) DeleteDocument(ctx context.Context, id, ownerID string) error {
	const q = `DELETE FROM documents WHERE id = $1 AND owner_id = $2`

	tag, err := s.pool.Exec(ctx, q, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// MarkStaleProcessing fails every document still in processing whose last
// update predates cutoff. It returns how many rows were swept, so a worker
// crash never strands a document in processing forever.
func (s *Store) MarkStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
		UPDATE documents
		SET status = 'failed', updated_at = now()
		WHERE status = 'processing' AND updated_at < $1`

	tag, err := s.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stale processing: %w", err)
	}
	return tag.RowsAffected(), nil
}
