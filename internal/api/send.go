package api

import (
	"errors"
	"net/http"

	"github.com/foxzi/herald/internal/dispatch"
	"github.com/foxzi/herald/internal/models"
	"github.com/foxzi/herald/internal/transport"
)

// handleSendTemplated handles POST /api/v1/send/templated
func (s *Server) handleSendTemplated(w http.ResponseWriter, r *http.Request) {
	var req dispatch.TemplatedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.To == "" {
		sendError(w, http.StatusBadRequest, "to is required")
		return
	}
	if req.Ref == "" && req.Overrides == nil {
		sendError(w, http.StatusBadRequest, "ref or overrides is required")
		return
	}

	sendResult(w, s.dispatcher.SendTemplated(r.Context(), req))
}

// handleSendTest handles POST /api/v1/send/test
func (s *Server) handleSendTest(w http.ResponseWriter, r *http.Request) {
	var req dispatch.TestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.To == "" {
		sendError(w, http.StatusBadRequest, "to is required")
		return
	}
	if req.Subject == "" && req.Body == "" {
		sendError(w, http.StatusBadRequest, "subject or body is required")
		return
	}

	sendResult(w, s.dispatcher.SendTest(r.Context(), req))
}

// sendResult writes a send outcome. Every outcome is a completed request;
// only sent maps to 200.
func sendResult(w http.ResponseWriter, res transport.Result) {
	status := http.StatusOK
	switch res.Status {
	case models.SendStatusSkipped:
		status = http.StatusAccepted
	case models.SendStatusFailed:
		status = http.StatusUnprocessableEntity
	}
	sendJSON(w, status, res)
}

// handlePreviewAudience handles POST /api/v1/audience/preview
func (s *Server) handlePreviewAudience(w http.ResponseWriter, r *http.Request) {
	var spec models.AudienceSpec
	if err := decodeJSON(w, r, &spec); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	preview, err := s.dispatcher.PreviewAudience(r.Context(), spec)
	if err != nil {
		s.dispatchError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, preview)
}

// dispatchError maps dispatcher errors to HTTP statuses
func (s *Server) dispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrCampaignNotFound):
		sendError(w, http.StatusNotFound, "Campaign not found")
	case errors.Is(err, dispatch.ErrDispatchInProgress):
		sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrInvalidCampaign),
		errors.Is(err, dispatch.ErrInvalidTemplate),
		errors.Is(err, dispatch.ErrInvalidAudience):
		sendError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		sendError(w, http.StatusInternalServerError, "Internal error")
	}
}
