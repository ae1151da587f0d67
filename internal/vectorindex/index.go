package vectorindex

import (
	"context"
	"strconv"
)

// EnsureCollection creates the FT index for the collection if it does not
// exist yet. The schema carries the HNSW vector field plus tag fields on
// document_id and owner_id so deletes and searches can filter server-side.
// Calling it against an existing index is a no-op.
func (c *Client) EnsureCollection(ctx context.Context) error {
	args := []string{
		c.collection,
		"ON", "HASH",
		"PREFIX", "1", c.collection + ":",
		"SCHEMA",
		"vector", "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(c.dimensions),
		"DISTANCE_METRIC", "COSINE",
		"document_id", "TAG",
		"owner_id", "TAG",
		"chunk_index", "NUMERIC",
	}

	cmd := c.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := c.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return &Error{Op: OpCreateIndex, Err: err}
	}
	return nil
}
