package vectorindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/draftbay/corpus/internal/domain"
)

// DefaultSearchLimit is the number of hits returned when the caller passes no
// explicit limit.
const DefaultSearchLimit = 5

// Search runs an owner-filtered KNN query and returns hits ordered by
// descending similarity. The owner filter is part of the query itself, so
// points of other owners never leave the server.
func (c *Client) Search(ctx context.Context, vector []float32, ownerID string, limit int) ([]domain.SearchHit, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if len(vector) != c.dimensions {
		return nil, fmt.Errorf("query vector has %d dimensions, index expects %d: %w",
			len(vector), c.dimensions, domain.ErrVectorDimMismatch)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	queryStr := fmt.Sprintf("(@owner_id:{%s})=>[KNN %d @vector $BLOB]", escapeTag(ownerID), limit)

	cmd := c.b().Arbitrary("FT.SEARCH").Args(
		c.collection, queryStr,
		"RETURN", "5", "document_id", "owner_id", "chunk_index", "content", "__vector_score",
		"PARAMS", "2", "BLOB", vectorToBytes(vector),
		"DIALECT", "2",
	).Build()

	raw, err := c.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "no such index") || isRedisErr(err, "unknown index name") {
			return nil, ErrIndexNotFound
		}
		return nil, &Error{Op: OpSearch, Err: err}
	}

	return c.parseHits(raw), nil
}

func (c *Client) parseHits(raw []rueidis.RedisMessage) []domain.SearchHit {
	if len(raw) == 0 {
		return nil
	}

	total, err := raw[0].AsInt64()
	if err != nil || total == 0 {
		return nil
	}

	hits := make([]domain.SearchHit, 0, total)
	// 2-stride: [total, key1, fields1, key2, fields2, ...]
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}

		fieldMsgs, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		fields := parseFieldPairs(fieldMsgs)

		hit := domain.SearchHit{
			ID:         strings.TrimPrefix(key, c.collection+":"),
			DocumentID: fields["document_id"],
			OwnerID:    fields["owner_id"],
			Content:    fields["content"],
		}
		if idx, err := strconv.Atoi(fields["chunk_index"]); err == nil {
			hit.ChunkIndex = idx
		}
		if s, err := strconv.ParseFloat(fields["__vector_score"], 64); err == nil {
			hit.Score = max(0, 1.0-s) // cosine distance → similarity, clamped to [0,1]
		}

		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	return hits
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
