package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/draftbay/corpus/internal/domain"
)

const (
	// DefaultUpsertBatchSize bounds how many HSETs ride one DoMulti round-trip.
	DefaultUpsertBatchSize = 50

	// deletePageSize bounds how many keys one delete scan page collects.
	deletePageSize = 512
)

// Upsert writes points in batches of DefaultUpsertBatchSize. Every vector is
// validated against the configured dimension before the first write, so a bad
// batch leaves the index untouched. Each batch round-trip is checked before
// the next one starts.
func (c *Client) Upsert(ctx context.Context, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}

	for i := range points {
		if len(points[i].Vector) != c.dimensions {
			return fmt.Errorf("point %d has %d dimensions, index expects %d: %w",
				i, len(points[i].Vector), c.dimensions, domain.ErrVectorDimMismatch)
		}
	}

	for start := 0; start < len(points); start += DefaultUpsertBatchSize {
		end := min(start+DefaultUpsertBatchSize, len(points))
		if err := c.upsertBatch(ctx, points[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) upsertBatch(ctx context.Context, points []domain.Point) error {
	cmds := make([]rueidis.Completed, len(points))
	for i, p := range points {
		cmds[i] = c.b().Hset().Key(c.key(p.ID)).FieldValue().
			FieldValue("vector", vectorToBytes(p.Vector)).
			FieldValue("document_id", p.DocumentID).
			FieldValue("owner_id", p.OwnerID).
			FieldValue("chunk_index", strconv.Itoa(p.ChunkIndex)).
			FieldValue("content", p.Content).
			Build()
	}

	results := c.client.DoMulti(ctx, cmds...)
	for i, res := range results {
		if err := res.Error(); err != nil {
			return &Error{Op: OpHSet, Err: fmt.Errorf("point %s: %w", points[i].ID, err)}
		}
	}
	return nil
}

// DeleteByDocument removes every point belonging to the document. It pages
// through the index with NOCONTENT searches and deletes the returned keys
// until none remain, returning how many points were removed.
func (c *Client) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	query := fmt.Sprintf("@document_id:{%s}", escapeTag(documentID))

	deleted := 0
	for {
		keys, err := c.searchKeys(ctx, query)
		if err != nil {
			return deleted, err
		}
		if len(keys) == 0 {
			return deleted, nil
		}

		cmd := c.b().Del().Key(keys...).Build()
		n, err := c.do(ctx, cmd).AsInt64()
		if err != nil {
			return deleted, &Error{Op: OpDel, Err: err}
		}
		deleted += int(n)

		if len(keys) < deletePageSize {
			return deleted, nil
		}
	}
}

// searchKeys runs a NOCONTENT FT.SEARCH and returns the matching hash keys.
func (c *Client) searchKeys(ctx context.Context, query string) ([]string, error) {
	cmd := c.b().Arbitrary("FT.SEARCH").Args(
		c.collection, query,
		"NOCONTENT",
		"LIMIT", "0", strconv.Itoa(deletePageSize),
		"DIALECT", "2",
	).Build()

	raw, err := c.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "no such index") || isRedisErr(err, "unknown index name") {
			return nil, ErrIndexNotFound
		}
		return nil, &Error{Op: OpSearch, Err: err}
	}
	if len(raw) == 0 {
		return nil, nil
	}

	// NOCONTENT layout: [total, key1, key2, ...]
	keys := make([]string, 0, len(raw)-1)
	for i := 1; i < len(raw); i++ {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// escapeTag escapes RediSearch TAG query special characters.
func escapeTag(value string) string {
	return tagEscaper.Replace(value)
}

var tagEscaper = strings.NewReplacer(
	",", "\\,",
	".", "\\.",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	" ", "\\ ",
)
