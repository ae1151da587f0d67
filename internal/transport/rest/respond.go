package rest

import (
	"encoding/json"
	"net/http"
)

// Machine-readable error codes carried in every error response.
const (
	codeBadRequest             = "bad_request"
	codeValidationFailed       = "validation_failed"
	codeUnauthorized           = "unauthorized"
	codeDocumentNotFound       = "document_not_found"
	codeVectorDimMismatch      = "vector_dim_mismatch"
	codeEmbeddingProviderError = "embedding_provider_error"
	codeQueueFull              = "queue_full"
	codeInternalError          = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
