package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/draftbay/corpus/internal/chunker"
	"github.com/draftbay/corpus/internal/domain"
)

// --- fakes ---

type fakeStore struct {
	mu        sync.Mutex
	completed map[string]string
	failed    map[string]bool
	chunks    []domain.Chunk
	swept     int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		completed: make(map[string]string),
		failed:    make(map[string]bool),
	}
}

func (s *fakeStore) CompleteDocument(_ context.Context, id, storageURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed[id] {
		return nil // terminal states never regress
	}
	s.completed[id] = storageURL
	return nil
}

func (s *fakeStore) FailDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.completed[id]; ok {
		return nil
	}
	s.failed[id] = true
	return nil
}

func (s *fakeStore) InsertChunks(_ context.Context, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *fakeStore) MarkStaleProcessing(_ context.Context, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swept++
	return 0, nil
}

// fakeEmbedder derives each vector from its input text, so tests can verify
// vectors stay aligned with their chunks.
type fakeEmbedder struct {
	err   error
	calls int
}

func embedText(text string) []float32 {
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{sum, float32(len(text))}
}

func (e *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

type fakeIndex struct {
	mu     sync.Mutex
	points []domain.Point
	err    error
}

func (f *fakeIndex) Upsert(_ context.Context, points []domain.Point) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, points...)
	return nil
}

type fakeBlob struct {
	err  error
	keys []string
}

func (f *fakeBlob) Store(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://bucket.s3.us-east-1.amazonaws.com/" + key, nil
}

func newTestIngestor(store *fakeStore, emb *fakeEmbedder, idx *fakeIndex, blobs BlobStore) *Ingestor {
	return New(store, emb, idx, blobs, Config{}, zap.NewNop())
}

// --- tests ---

func TestProcess_EndToEnd(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}
	blobs := &fakeBlob{}

	ing := newTestIngestor(store, emb, idx, blobs)

	text := strings.Repeat("z", 4500)
	job := Job{
		DocumentID:  "doc-1",
		OwnerID:     "alice",
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Data:        []byte(text),
	}
	ing.Process(context.Background(), job)

	url, ok := store.completed["doc-1"]
	if !ok {
		t.Fatal("document was not completed")
	}
	if url != "https://bucket.s3.us-east-1.amazonaws.com/doc-1/notes.txt" {
		t.Errorf("unexpected storage url %q", url)
	}

	if len(idx.points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(idx.points))
	}
	if len(store.chunks) != 3 {
		t.Fatalf("expected 3 chunk rows, got %d", len(store.chunks))
	}

	wantChunks := chunker.Split(text, chunker.DefaultMaxChars, chunker.DefaultOverlap)
	for i, p := range idx.points {
		if p.ChunkIndex != i {
			t.Errorf("point %d has chunk index %d", i, p.ChunkIndex)
		}
		if p.OwnerID != "alice" {
			t.Errorf("point %d is missing the owner", i)
		}
		if p.DocumentID != "doc-1" {
			t.Errorf("point %d has document %q", i, p.DocumentID)
		}
		if len(p.Content) > chunker.DefaultMaxChars {
			t.Errorf("point %d content exceeds max chars: %d", i, len(p.Content))
		}
		// The vector must belong to this chunk's text, not a reordered one.
		want := embedText(wantChunks[i])
		if p.Vector[0] != want[0] || p.Vector[1] != want[1] {
			t.Errorf("point %d vector does not match its chunk text", i)
		}
		if p.ID == "" {
			t.Errorf("point %d has no id", i)
		}
	}
	for i, c := range store.chunks {
		if c.Index != i || c.DocumentID != "doc-1" {
			t.Errorf("chunk row %d: index=%d document=%q", i, c.Index, c.DocumentID)
		}
		if c.Length != len(c.Content) {
			t.Errorf("chunk row %d length mismatch", i)
		}
	}
}

func TestProcess_EmbedFailureFailsDocument(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{err: errors.New("provider down")}
	idx := &fakeIndex{}

	ing := newTestIngestor(store, emb, idx, nil)
	ing.Process(context.Background(), Job{
		DocumentID:  "doc-1",
		OwnerID:     "alice",
		ContentType: "text/plain",
		Data:        []byte("some text to embed"),
	})

	if !store.failed["doc-1"] {
		t.Fatal("document should be failed")
	}
	if _, ok := store.completed["doc-1"]; ok {
		t.Error("failed document must not also complete")
	}
	if len(idx.points) != 0 {
		t.Error("no vectors may be written when embedding fails")
	}
	if len(store.chunks) != 0 {
		t.Error("no chunk rows may be written when embedding fails")
	}
}

func TestProcess_ExtractFailureFailsDocument(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{}

	ing := newTestIngestor(store, emb, &fakeIndex{}, nil)
	ing.Process(context.Background(), Job{
		DocumentID:  "doc-1",
		OwnerID:     "alice",
		ContentType: "text/plain",
		Data:        []byte{0xff, 0xfe},
	})

	if !store.failed["doc-1"] {
		t.Fatal("document should be failed")
	}
	if emb.calls != 0 {
		t.Error("embedder must not be called when extraction fails")
	}
}

func TestProcess_BlobFailureIsTolerated(t *testing.T) {
	store := newFakeStore()
	blobs := &fakeBlob{err: errors.New("bucket unreachable")}

	ing := newTestIngestor(store, &fakeEmbedder{}, &fakeIndex{}, blobs)
	ing.Process(context.Background(), Job{
		DocumentID:  "doc-1",
		OwnerID:     "alice",
		ContentType: "text/plain",
		Data:        []byte("archive me"),
	})

	url, ok := store.completed["doc-1"]
	if !ok {
		t.Fatal("blob failure must not fail the document")
	}
	if url != "" {
		t.Errorf("storage url should stay empty, got %q", url)
	}
}

func TestProcess_NoBlobStore(t *testing.T) {
	store := newFakeStore()

	ing := newTestIngestor(store, &fakeEmbedder{}, &fakeIndex{}, nil)
	ing.Process(context.Background(), Job{
		DocumentID:  "doc-1",
		OwnerID:     "alice",
		ContentType: "text/plain",
		Data:        []byte("no bucket configured"),
	})

	if url, ok := store.completed["doc-1"]; !ok || url != "" {
		t.Fatalf("expected completion with empty url, got ok=%v url=%q", ok, url)
	}
}

func TestProcess_EmptyDocumentCompletes(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}

	ing := newTestIngestor(store, emb, idx, nil)
	ing.Process(context.Background(), Job{
		DocumentID:  "doc-1",
		OwnerID:     "alice",
		ContentType: "text/plain",
		Data:        []byte("   \n\t  "),
	})

	if _, ok := store.completed["doc-1"]; !ok {
		t.Fatal("empty document should still complete")
	}
	if emb.calls != 0 {
		t.Error("embedder must not be called for an empty document")
	}
	if len(idx.points) != 0 {
		t.Error("no points expected for an empty document")
	}
}

func TestProcess_UpsertFailureFailsDocument(t *testing.T) {
	store := newFakeStore()
	idx := &fakeIndex{err: errors.New("index down")}

	ing := newTestIngestor(store, &fakeEmbedder{}, idx, nil)
	ing.Process(context.Background(), Job{
		DocumentID:  "doc-1",
		OwnerID:     "alice",
		ContentType: "text/plain",
		Data:        []byte("some text"),
	})

	if !store.failed["doc-1"] {
		t.Fatal("document should be failed")
	}
	if len(store.chunks) != 0 {
		t.Error("chunk rows must not be written when the vector upsert fails")
	}
}

func TestEnqueue_QueueFull(t *testing.T) {
	ing := New(newFakeStore(), &fakeEmbedder{}, &fakeIndex{}, nil,
		Config{QueueSize: 1}, zap.NewNop())

	if err := ing.Enqueue(Job{DocumentID: "doc-1"}); err != nil {
		t.Fatalf("first enqueue should fit: %v", err)
	}
	if err := ing.Enqueue(Job{DocumentID: "doc-2"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestRun_DrainsQueue(t *testing.T) {
	store := newFakeStore()
	ing := newTestIngestor(store, &fakeEmbedder{}, &fakeIndex{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx) }()

	if err := ing.Enqueue(Job{
		DocumentID:  "doc-1",
		OwnerID:     "alice",
		ContentType: "text/plain",
		Data:        []byte("queued document"),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		_, ok := store.completed["doc-1"]
		store.mu.Unlock()
		if ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job was not processed in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRun_SweepRuns(t *testing.T) {
	store := newFakeStore()
	ing := New(store, &fakeEmbedder{}, &fakeIndex{}, nil, Config{
		StaleAfter:    time.Minute,
		SweepInterval: 10 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		swept := store.swept
		store.mu.Unlock()
		if swept > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweep never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}
