package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/draftbay/corpus/internal/domain"
)

// DefaultChunkBatchSize bounds how many chunk rows ride one pgx batch.
const DefaultChunkBatchSize = 500

// InsertChunks stores chunk rows in pipelined batches of
// DefaultChunkBatchSize. Re-ingesting a document upserts in place, so a
// retried ingestion does not trip over rows from a previous attempt.
func (s *Store) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	const q = `
		INSERT INTO document_chunks (document_id, chunk_index, content, length)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, chunk_index)
		DO UPDATE SET content = EXCLUDED.content, length = EXCLUDED.length`

	for start := 0; start < len(chunks); start += DefaultChunkBatchSize {
		end := min(start+DefaultChunkBatchSize, len(chunks))

		batch := &pgx.Batch{}
		for _, c := range chunks[start:end] {
			batch.Queue(q, c.DocumentID, c.Index, c.Content, c.Length)
		}

		results := s.pool.SendBatch(ctx, batch)
		for i := start; i < end; i++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("insert chunk %d of document %s: %w",
					chunks[i].Index, chunks[i].DocumentID, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("close chunk batch: %w", err)
		}
	}
	return nil
}

// CountChunks returns how many chunk rows a document has.
func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	const q = `SELECT count(*) FROM document_chunks WHERE document_id = $1`

	var n int
	if err := s.pool.QueryRow(ctx, q, documentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}
