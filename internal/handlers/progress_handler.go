// -----------------------------------------------------------------------
// Progress Handler - HTTP surface of the durable progress store
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/models"
)

// BatchSubmitter starts a batch job and returns the session id it reports under
type BatchSubmitter interface {
	Submit(ctx context.Context, labels []string) (string, error)
}

// IngestRequest is the body of POST /api/ingest
type IngestRequest struct {
	Labels []string `json:"labels" validate:"required,min=1,max=500,dive,required"`
}

type ProgressHandler struct {
	progressService interfaces.ProgressService
	submitter       BatchSubmitter
	validate        *validator.Validate
	logger          arbor.ILogger
}

// NewProgressHandler creates the handler. submitter may be nil, in which case
// ingest is reported as unavailable.
func NewProgressHandler(progressService interfaces.ProgressService, submitter BatchSubmitter, logger arbor.ILogger) *ProgressHandler {
	return &ProgressHandler{
		progressService: progressService,
		submitter:       submitter,
		validate:        validator.New(),
		logger:          logger,
	}
}

// ListHandler returns every stored record as a discovery candidate
// GET /api/progress
func (h *ProgressHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	candidates, err := h.progressService.ListCandidates(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list progress records")
		WriteError(w, http.StatusInternalServerError, "Failed to list progress records")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": candidates,
	})
}

// ItemHandler dispatches /api/progress/{id} and /api/progress/{id}/status
func (h *ProgressHandler) ItemHandler(w http.ResponseWriter, r *http.Request) {
	segments := PathSegments(r.URL.Path, "/api/progress/")

	switch {
	case len(segments) == 2 && segments[1] == "status":
		h.StatusHandler(w, r, segments[0])
	case len(segments) == 1:
		h.DeleteHandler(w, r, segments[0])
	default:
		WriteError(w, http.StatusNotFound, "Unknown progress endpoint")
	}
}

// StatusHandler returns the record for one session
// GET /api/progress/{id}/status
func (h *ProgressHandler) StatusHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	record, err := h.progressService.Get(r.Context(), sessionID)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		WriteNotFound(w, sessionID)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to read progress record")
		WriteError(w, http.StatusInternalServerError, "Failed to read progress record")
		return
	}

	WriteJSON(w, http.StatusOK, record)
}

// DeleteHandler removes one record
// DELETE /api/progress/{id}
func (h *ProgressHandler) DeleteHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	err := h.progressService.Delete(r.Context(), sessionID)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		WriteNotFound(w, sessionID)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to delete progress record")
		WriteError(w, http.StatusInternalServerError, "Failed to delete progress record")
		return
	}

	WriteSuccess(w, "Progress record deleted")
}

// IngestHandler starts a batch on the job runner
// POST /api/ingest
func (h *ProgressHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if h.submitter == nil {
		WriteError(w, http.StatusServiceUnavailable, "Job runner is not available")
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	for i := range req.Labels {
		req.Labels[i] = strings.TrimSpace(req.Labels[i])
	}
	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, "labels must be 1-500 non-empty strings")
		return
	}

	// the batch outlives the request
	sessionID, err := h.submitter.Submit(context.WithoutCancel(r.Context()), req.Labels)
	if err != nil {
		h.logger.Error().Err(err).Int("labels", len(req.Labels)).Msg("Failed to submit batch")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info().
		Str("session_id", sessionID).
		Int("labels", len(req.Labels)).
		Msg("Batch submitted")

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"session_id": sessionID,
		"status":     string(models.ProgressStatusProcessing),
	})
}
