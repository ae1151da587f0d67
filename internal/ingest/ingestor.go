// Package ingest runs the background pipeline that turns an uploaded file
// into indexed, searchable chunks: extract text, archive the original,
// chunk, embed, upsert vectors, persist chunk rows, then flip the document
// to completed. Any step failing flips it to failed instead; terminal states
// never regress.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/draftbay/corpus/internal/chunker"
	"github.com/draftbay/corpus/internal/domain"
	"github.com/draftbay/corpus/internal/extract"
	"github.com/draftbay/corpus/internal/metrics"
)

// ErrQueueFull is returned by Enqueue when the work queue has no room. The
// caller decides whether to surface backpressure or retry.
var ErrQueueFull = errors.New("ingest queue full")

// DocumentStore is the slice of the storage layer ingestion needs.
type DocumentStore interface {
	CompleteDocument(ctx context.Context, id, storageURL string) error
	FailDocument(ctx context.Context, id string) error
	InsertChunks(ctx context.Context, chunks []domain.Chunk) error
	MarkStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}

// Embedder turns chunk texts into vectors, order-preserving.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex receives the embedded points.
type VectorIndex interface {
	Upsert(ctx context.Context, points []domain.Point) error
}

// BlobStore archives the original upload. Optional; a nil BlobStore skips
// archiving.
type BlobStore interface {
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Job carries one uploaded document through the pipeline.
type Job struct {
	DocumentID  string
	OwnerID     string
	Filename    string
	ContentType string
	Data        []byte
}

// Config tunes the ingestion workers.
type Config struct {
	Workers   int
	QueueSize int
	MaxChars  int
	Overlap   int
	// StaleAfter is how long a document may sit in processing before the
	// sweep force-fails it. Zero disables the sweep.
	StaleAfter    time.Duration
	SweepInterval time.Duration
	// JobTimeout bounds one document's trip through the pipeline.
	JobTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.MaxChars <= 0 {
		c.MaxChars = chunker.DefaultMaxChars
	}
	if c.Overlap <= 0 {
		c.Overlap = chunker.DefaultOverlap
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
}

// Ingestor owns the work queue and worker pool.
type Ingestor struct {
	store    DocumentStore
	embedder Embedder
	index    VectorIndex
	blobs    BlobStore
	cfg      Config
	jobs     chan Job
	logger   *zap.Logger
}

// New builds an Ingestor. blobs may be nil when no archive bucket is
// configured.
func New(store DocumentStore, embedder Embedder, index VectorIndex, blobs BlobStore, cfg Config, logger *zap.Logger) *Ingestor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		store:    store,
		embedder: embedder,
		index:    index,
		blobs:    blobs,
		cfg:      cfg,
		jobs:     make(chan Job, cfg.QueueSize),
		logger:   logger,
	}
}

// Enqueue hands a job to the worker pool without blocking the caller.
func (i *Ingestor) Enqueue(job Job) error {
	select {
	case i.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run starts the workers and the stale-processing sweep, blocking until ctx
// is cancelled. Jobs already picked up run to completion under their own
// timeout.
func (i *Ingestor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for w := 0; w < i.cfg.Workers; w++ {
		g.Go(func() error {
			return i.worker(ctx)
		})
	}
	if i.cfg.StaleAfter > 0 {
		g.Go(func() error {
			return i.sweep(ctx)
		})
	}

	return g.Wait()
}

func (i *Ingestor) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-i.jobs:
			i.Process(ctx, job)
		}
	}
}

// Process runs one job through the pipeline and records the outcome. The
// status write on failure uses a detached context so cancellation mid-job
// still leaves the document in a terminal state.
func (i *Ingestor) Process(ctx context.Context, job Job) {
	log := i.logger.With(
		zap.String("document_id", job.DocumentID),
		zap.String("owner_id", job.OwnerID),
	)

	ctx, cancel := context.WithTimeout(ctx, i.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	err := i.run(ctx, job, log)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error("document ingestion failed", zap.Error(err))
		metrics.IngestDocumentsTotal.WithLabelValues("failed").Inc()

		failCtx, failCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer failCancel()
		if ferr := i.store.FailDocument(failCtx, job.DocumentID); ferr != nil {
			log.Error("failed to mark document failed", zap.Error(ferr))
		}
		return
	}

	log.Info("document ingested", zap.Duration("took", time.Since(start)))
	metrics.IngestDocumentsTotal.WithLabelValues("completed").Inc()
}

func (i *Ingestor) run(ctx context.Context, job Job, log *zap.Logger) error {
	text, err := extract.Text(job.Data, job.ContentType)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}

	storageURL := i.storeBlob(ctx, job, log)

	chunks := chunker.Split(text, i.cfg.MaxChars, i.cfg.Overlap)
	if len(chunks) > 0 {
		if err := i.indexChunks(ctx, job, chunks); err != nil {
			return err
		}
		metrics.IngestChunksTotal.Add(float64(len(chunks)))
	} else {
		log.Warn("document produced no chunks")
	}

	if err := i.store.CompleteDocument(ctx, job.DocumentID, storageURL); err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	return nil
}

// indexChunks embeds all chunks in one batch and writes vectors before rows.
// Embedding is all-or-nothing: a single failed text fails the document, so
// the index never holds a partial document.
func (i *Ingestor) indexChunks(ctx context.Context, job Job, chunks []string) error {
	vectors, err := i.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks: %w",
			len(vectors), len(chunks), domain.ErrEmbeddingProviderError)
	}

	points := make([]domain.Point, len(chunks))
	rows := make([]domain.Chunk, len(chunks))
	for idx, content := range chunks {
		points[idx] = domain.Point{
			ID:         uuid.NewString(),
			Vector:     vectors[idx],
			DocumentID: job.DocumentID,
			ChunkIndex: idx,
			Content:    content,
			OwnerID:    job.OwnerID,
		}
		rows[idx] = domain.Chunk{
			DocumentID: job.DocumentID,
			Index:      idx,
			Content:    content,
			Length:     len(content),
		}
	}

	if err := i.index.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	if err := i.store.InsertChunks(ctx, rows); err != nil {
		return fmt.Errorf("insert chunk rows: %w", err)
	}
	return nil
}

// storeBlob archives the original upload. Failures are logged and swallowed:
// the archive is a convenience, not part of the searchable state.
func (i *Ingestor) storeBlob(ctx context.Context, job Job, log *zap.Logger) string {
	if i.blobs == nil {
		return ""
	}

	key := job.DocumentID + "/" + job.Filename
	url, err := i.blobs.Store(ctx, key, job.Data, job.ContentType)
	if err != nil {
		log.Warn("blob archive failed, continuing without storage url", zap.Error(err))
		return ""
	}
	return url
}

// sweep periodically force-fails documents stuck in processing longer than
// StaleAfter, covering worker crashes and lost jobs.
func (i *Ingestor) sweep(ctx context.Context) error {
	ticker := time.NewTicker(i.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-i.cfg.StaleAfter)
			n, err := i.store.MarkStaleProcessing(ctx, cutoff)
			if err != nil {
				i.logger.Error("stale processing sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				i.logger.Warn("swept stale processing documents", zap.Int64("count", n))
				metrics.IngestStaleSweptTotal.Add(float64(n))
			}
		}
	}
}
