// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pdiddy/claim-engine/internal/pipeline"
	"github.com/pdiddy/claim-engine/pkg/types"
)

type extractRequest struct {
	Text           string `json:"text"`
	ProjectID      *int64 `json:"project_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type extractResponse struct {
	ProjectID              int64                  `json:"project_id"`
	BatchID                string                 `json:"batch_id"`
	ExtractionResult       types.ExtractionResult `json:"extraction_result"`
	ClaimsCreated          int                    `json:"claims_created"`
	ReferencesCreated      int                    `json:"references_created"`
	ReferencesDeduplicated int                    `json:"references_deduplicated"`
	Claims                 []types.Claim          `json:"claims"`
	References             []types.Reference      `json:"references"`
	Anomalies              types.Anomalies        `json:"anomalies"`
	Replayed               bool                   `json:"replayed"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (s *Server) handleExtractText(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.ProjectID == nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", "project_id is required")
		return
	}

	s.logger.Debug("extract request",
		zap.Int64("project_id", *req.ProjectID),
		zap.Int("text_bytes", len(req.Text)),
		zap.Bool("idempotent", req.IdempotencyKey != ""),
	)
	res, err := s.runner.Run(r.Context(), pipeline.Request{
		ProjectID:      *req.ProjectID,
		Text:           req.Text,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newExtractResponse(res))
}

func newExtractResponse(res pipeline.Result) extractResponse {
	out := extractResponse{
		ProjectID:              res.ProjectID,
		BatchID:                res.BatchID,
		ExtractionResult:       res.Extraction,
		ClaimsCreated:          res.ClaimsCreated,
		ReferencesCreated:      res.ReferencesCreated,
		ReferencesDeduplicated: res.ReferencesDeduplicated,
		Claims:                 res.Claims,
		References:             res.References,
		Anomalies:              res.Anomalies,
		Replayed:               res.Replayed,
	}
	if out.ExtractionResult.Claims == nil {
		out.ExtractionResult.Claims = []types.ClaimDraft{}
	}
	if out.ExtractionResult.References == nil {
		out.ExtractionResult.References = []types.ReferenceDraft{}
	}
	if out.Claims == nil {
		out.Claims = []types.Claim{}
	}
	if out.References == nil {
		out.References = []types.Reference{}
	}
	return out
}

// respondPipelineError maps an error kind to its HTTP status. ErrNotFound
// is checked before ErrInvalidInput because an unknown project carries both.
func (s *Server) respondPipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, types.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, "invalid input", err.Error())
	case errors.Is(err, types.ErrModelUnavailable):
		s.respondError(w, http.StatusServiceUnavailable, "model unavailable",
			"start the local model server (LM Studio) and load a model, then retry: "+err.Error())
	case errors.Is(err, types.ErrMalformedExtraction):
		s.respondError(w, http.StatusBadGateway, "malformed extraction",
			"extraction quality issue: the model output did not match the expected shape; retry or use a stronger model: "+err.Error())
	case errors.Is(err, context.Canceled):
		s.logger.Info("extract request canceled", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "canceled", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("extract request timed out", zap.Error(err))
		s.respondError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	case errors.Is(err, types.ErrPersistence):
		s.logger.Error("extraction not stored", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "persistence failure", err.Error())
	default:
		s.logger.Error("extraction failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	model := "unavailable"
	if s.checker != nil && s.checker.Available(r.Context()) {
		model = "available"
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "model": model})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message, detail string) {
	s.respondJSON(w, status, errorResponse{Error: message, Detail: detail})
}
