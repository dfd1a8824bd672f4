package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/herald/internal/sandbox"
)

// SandboxServer handles sandbox API endpoints
type SandboxServer struct {
	storage *sandbox.Storage
	logger  *slog.Logger
}

// NewSandboxServer creates a new sandbox server
func NewSandboxServer(storage *sandbox.Storage, logger *slog.Logger) *SandboxServer {
	return &SandboxServer{
		storage: storage,
		logger:  logger,
	}
}

// RegisterRoutes registers sandbox API routes
func (s *SandboxServer) RegisterRoutes(r chi.Router) {
	r.Route("/sandbox", func(r chi.Router) {
		r.Get("/messages", s.handleList)
		r.Get("/messages/{id}", s.handleGet)
		r.Get("/messages/{id}/raw", s.handleGetRaw)
		r.Delete("/messages", s.handleClear)
		r.Delete("/messages/{id}", s.handleDelete)
		r.Get("/stats", s.handleStats)
	})
}

// SandboxMessageResponse represents a captured message in list responses
type SandboxMessageResponse struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"messageId"`
	From           string    `json:"from"`
	To             []string  `json:"to"`
	Subject        string    `json:"subject"`
	SimulatedError string    `json:"simulatedError,omitempty"`
	CapturedAt     time.Time `json:"capturedAt"`
	Size           int       `json:"size"`
}

func captureResponse(c *sandbox.Capture) SandboxMessageResponse {
	return SandboxMessageResponse{
		ID:             c.ID,
		MessageID:      c.MessageID,
		From:           c.From,
		To:             c.To,
		Subject:        c.Subject,
		SimulatedError: c.SimulatedError,
		CapturedAt:     c.CapturedAt,
		Size:           len(c.Data),
	}
}

// handleList handles GET /api/v1/sandbox/messages
func (s *SandboxServer) handleList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := sandbox.ListFilter{
		To:     r.URL.Query().Get("to"),
		Limit:  limit,
		Offset: offset,
	}

	captures, err := s.storage.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list sandbox messages", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list messages")
		return
	}

	items := make([]SandboxMessageResponse, len(captures))
	for i, c := range captures {
		items[i] = captureResponse(c)
	}
	sendJSON(w, http.StatusOK, ListResponse[SandboxMessageResponse]{Items: items, Total: len(items)})
}

// SandboxMessageDetailResponse includes the raw message text
type SandboxMessageDetailResponse struct {
	SandboxMessageResponse
	Raw string `json:"raw"`
}

// handleGet handles GET /api/v1/sandbox/messages/{id}
func (s *SandboxServer) handleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := s.load(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, SandboxMessageDetailResponse{
		SandboxMessageResponse: captureResponse(c),
		Raw:                    string(c.Data),
	})
}

// handleGetRaw handles GET /api/v1/sandbox/messages/{id}/raw
func (s *SandboxServer) handleGetRaw(w http.ResponseWriter, r *http.Request) {
	c, ok := s.load(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+c.ID+".eml\"")
	w.WriteHeader(http.StatusOK)
	w.Write(c.Data)
}

// handleDelete handles DELETE /api/v1/sandbox/messages/{id}
func (s *SandboxServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.storage.Delete(r.Context(), id); err != nil {
		s.logger.Error("failed to delete sandbox message", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClear handles DELETE /api/v1/sandbox/messages. An optional
// older_than duration keeps recent captures.
func (s *SandboxServer) handleClear(w http.ResponseWriter, r *http.Request) {
	var olderThan time.Duration
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			sendError(w, http.StatusBadRequest, "older_than must be a positive duration")
			return
		}
		olderThan = d
	}

	deleted, err := s.storage.Clear(r.Context(), olderThan)
	if err != nil {
		s.logger.Error("failed to clear sandbox", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to clear messages")
		return
	}

	s.logger.Info("sandbox cleared", "deleted", deleted)
	sendJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// handleStats handles GET /api/v1/sandbox/stats
func (s *SandboxServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get sandbox stats", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}
	sendJSON(w, http.StatusOK, stats)
}

func (s *SandboxServer) load(w http.ResponseWriter, r *http.Request) (*sandbox.Capture, bool) {
	id := chi.URLParam(r, "id")

	c, err := s.storage.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get sandbox message", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get message")
		return nil, false
	}
	if c == nil {
		sendError(w, http.StatusNotFound, "Message not found")
		return nil, false
	}
	return c, true
}
