// Package rest exposes the document ingestion and retrieval API over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/draftbay/corpus/internal/domain"
	"github.com/draftbay/corpus/internal/ingest"
	"github.com/draftbay/corpus/internal/metrics"
)

// DefaultMaxUploadBytes caps one upload at 50 MB.
const DefaultMaxUploadBytes = 50 << 20

// DocumentStore is the slice of the storage layer the API needs.
type DocumentStore interface {
	InsertDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, id, ownerID string) (*domain.Document, error)
	ListDocuments(ctx context.Context, ownerID string) ([]domain.Document, error)
	DeleteDocument(ctx context.Context, id, ownerID string) error
}

// Enqueuer hands uploads to the background ingestion pipeline.
type Enqueuer interface {
	Enqueue(job ingest.Job) error
}

// VectorDeleter removes a document's points from the vector index.
type VectorDeleter interface {
	DeleteByDocument(ctx context.Context, documentID string) (int, error)
}

// BlobDeleter removes the archived original. Nil when no bucket is configured.
type BlobDeleter interface {
	Delete(ctx context.Context, rawURL string) error
}

// Retriever answers similarity queries over an owner's documents.
type Retriever interface {
	Retrieve(ctx context.Context, query, ownerID string, limit int) ([]domain.ScoredChunk, error)
}

// Pinger reports backend connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds API settings.
type Config struct {
	MaxUploadBytes int64
	APIKeys        []string
}

// Server holds the API dependencies.
type Server struct {
	store     DocumentStore
	ingestor  Enqueuer
	vectors   VectorDeleter
	blobs     BlobDeleter
	retriever Retriever
	pinger    Pinger
	cfg       Config
	logger    *zap.Logger
}

// NewServer creates the HTTP API server. blobs and pinger may be nil.
func NewServer(
	store DocumentStore,
	ingestor Enqueuer,
	vectors VectorDeleter,
	blobs BlobDeleter,
	retriever Retriever,
	pinger Pinger,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:     store,
		ingestor:  ingestor,
		vectors:   vectors,
		blobs:     blobs,
		retriever: retriever,
		pinger:    pinger,
		cfg:       cfg,
		logger:    logger,
	}
}

// Routes assembles the chi router with the full middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(s.cfg.APIKeys))
	r.Use(metrics.Middleware())

	r.Get("/health", s.healthCheck)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/documents/upload", s.uploadDocument)
		r.Get("/documents", s.listDocuments)
		r.Get("/documents/{id}", s.getDocument)
		r.Delete("/documents", s.deleteDocument)
		r.Post("/retrieve", s.retrieve)
	})

	return r
}

// uploadDocument handles POST /api/documents/upload?filename=. The body is
// the raw file; ingestion happens in the background and the response carries
// the new document in processing state.
func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "X-Owner-ID header is required")
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "filename query parameter is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "file exceeds the upload size limit")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "file is empty")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	doc := &domain.Document{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		Title:       filename,
		Status:      domain.StatusProcessing,
		SizeBytes:   int64(len(data)),
		ContentType: contentType,
	}
	if err := s.store.InsertDocument(r.Context(), doc); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	err = s.ingestor.Enqueue(ingest.Job{
		DocumentID:  doc.ID,
		OwnerID:     owner,
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		// Roll the row back so a rejected upload does not linger in processing.
		if derr := s.store.DeleteDocument(r.Context(), doc.ID, owner); derr != nil {
			s.logger.Error("failed to roll back rejected upload", zap.Error(derr))
		}
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     doc.ID,
		"status": string(doc.Status),
	})
}

// listDocuments handles GET /api/documents, newest first.
func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "X-Owner-ID header is required")
		return
	}

	docs, err := s.store.ListDocuments(r.Context(), owner)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// getDocument handles GET /api/documents/{id}.
func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "X-Owner-ID header is required")
		return
	}

	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// deleteDocument handles DELETE /api/documents?id=. Vectors go first, then
// the blob, then the rows; the row delete is the authoritative one, the
// others are logged and skipped on failure so a flaky index cannot block
// deletion.
func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "X-Owner-ID header is required")
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "id query parameter is required")
		return
	}

	doc, err := s.store.GetDocument(r.Context(), id, owner)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	if n, err := s.vectors.DeleteByDocument(r.Context(), id); err != nil {
		s.logger.Warn("vector delete failed, continuing",
			zap.String("document_id", id), zap.Error(err))
	} else if n > 0 {
		s.logger.Info("vectors deleted", zap.String("document_id", id), zap.Int("points", n))
	}

	if doc.StorageURL != "" && s.blobs != nil {
		if err := s.blobs.Delete(r.Context(), doc.StorageURL); err != nil {
			s.logger.Warn("blob delete failed, continuing",
				zap.String("document_id", id), zap.Error(err))
		}
	}

	if err := s.store.DeleteDocument(r.Context(), id, owner); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type retrieveRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// retrieve handles POST /api/retrieve.
func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "X-Owner-ID header is required")
		return
	}

	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "query is required")
		return
	}

	chunks, err := s.retriever.Retrieve(r.Context(), req.Query, owner, req.Limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

// healthCheck handles GET /health.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, codeDocumentNotFound, domain.ErrDocumentNotFound.Error())
	case errors.Is(err, domain.ErrVectorDimMismatch):
		writeError(w, http.StatusBadRequest, codeVectorDimMismatch, domain.ErrVectorDimMismatch.Error())
	case errors.Is(err, domain.ErrEmbeddingProviderError):
		s.logger.Warn("embedding provider error", zap.Error(err))
		writeError(w, http.StatusBadGateway, codeEmbeddingProviderError, domain.ErrEmbeddingProviderError.Error())
	case errors.Is(err, ingest.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, codeQueueFull, ingest.ErrQueueFull.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, codeInternalError, "request timed out")
	default:
		s.logger.Error("internal error",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
