package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/kyleking/sqlrag/internal/catalog"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/pipeline"
	"github.com/kyleking/sqlrag/internal/repair"
)

type sqlRequest struct {
	Question string `json:"question"`
	Template string `json:"template,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

func handleSQL(backend Backend, w http.ResponseWriter, r *http.Request) {
	var req sqlRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a JSON object with a question", false, nil)
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "question is required", false, nil)
		return
	}

	if req.TopK < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "top_k must not be negative", false, nil)
		return
	}

	answer, err := backend.AskWithRetry(r.Context(), req.Question, pipeline.AskOptions{Template: req.Template, TopK: req.TopK})
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

func handleRefresh(backend Backend, w http.ResponseWriter, r *http.Request) {
	res, err := backend.Refresh(r.Context())
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type catalogResponse struct {
	CatalogHash string          `json:"catalog_hash"`
	Source      string          `json:"source"`
	LoadedAt    time.Time       `json:"loaded_at"`
	Provider    string          `json:"provider"`
	Model       string          `json:"model"`
	Templates   []string        `json:"templates"`
	Tables      []catalog.Table `json:"tables"`
}

func handleCatalog(backend Backend, w http.ResponseWriter, r *http.Request) {
	snap := backend.Snapshot()
	if snap == nil {
		writeFailure(r.Context(), w, backend.Ready())
		return
	}

	writeJSON(w, http.StatusOK, catalogResponse{
		CatalogHash: snap.Hash(),
		Source:      snap.Source,
		LoadedAt:    snap.LoadedAt,
		Provider:    snap.Index.Metadata().Provider,
		Model:       backend.Model(),
		Templates:   backend.Templates(),
		Tables:      snap.Catalog.Tables(),
	})
}

// writeFailure maps pipeline errors onto status codes. Rejections carry the
// attempt trail in the error context.
func writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	var rejection *repair.Rejection
	if errors.As(err, &rejection) {
		writeError(ctx, w, http.StatusUnprocessableEntity, "REJECTED", rejection.Error(), false, map[string]any{
			"question": rejection.Question,
			"last_sql": rejection.LastSQL,
			"attempts": rejection.Attempts,
			"trail":    rejection.Trail,
		})
		return
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		writeError(ctx, w, http.StatusGatewayTimeout, "TIMEOUT", err.Error(), true, nil)
		return
	}

	if stderrors.Is(err, context.Canceled) {
		writeError(ctx, w, 499, "CANCELLED", err.Error(), false, nil)
		return
	}

	status, code := statusFor(errors.GetType(err))

	var extra map[string]any

	var structured *errors.Error
	if errors.As(err, &structured) {
		extra = map[string]any{}
		for k, v := range structured.Details {
			extra[k] = v
		}

		if len(structured.Suggestions) > 0 {
			extra["suggestions"] = structured.Suggestions
		}
	}

	writeError(ctx, w, status, code, err.Error(), errors.IsRetryable(err), extra)
}

func statusFor(t errors.ErrorType) (int, string) {
	switch t {
	case errors.ErrTypeValidation:
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.ErrTypeEmptyCatalog:
		return http.StatusServiceUnavailable, "EMPTY_CATALOG"
	case errors.ErrTypeContextOverflow:
		return http.StatusUnprocessableEntity, "CONTEXT_OVERFLOW"
	case errors.ErrTypeGenerationEmpty:
		return http.StatusUnprocessableEntity, "GENERATION_EMPTY"
	case errors.ErrTypeEmbeddingService:
		return http.StatusBadGateway, "EMBEDDING_UNAVAILABLE"
	case errors.ErrTypeGenerationService:
		return http.StatusBadGateway, "GENERATION_UNAVAILABLE"
	case errors.ErrTypeNetwork:
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"
	case errors.ErrTypeDatabase:
		return http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
