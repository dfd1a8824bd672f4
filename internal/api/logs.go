package api

import (
	"net/http"

	"github.com/foxzi/herald/internal/models"
)

// logFilter builds a send log filter from query parameters
func logFilter(r *http.Request) (models.SendLogFilter, error) {
	q := r.URL.Query()
	filter := models.SendLogFilter{
		Status:        q.Get("status"),
		Category:      q.Get("category"),
		CampaignID:    q.Get("campaign_id"),
		AutomationKey: q.Get("automation_key"),
		To:            q.Get("to"),
	}

	var err error
	if filter.FromDate, err = queryTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.ToDate, err = queryTime(r, "until"); err != nil {
		return filter, err
	}
	return filter, nil
}

// handleLogList handles GET /api/v1/logs
func (s *Server) handleLogList(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilter(r)
	if err != nil {
		sendError(w, http.StatusBadRequest, "from and until must be RFC 3339 timestamps")
		return
	}
	filter.Limit, filter.Offset = pagination(r)

	entries, total, err := s.stores.Logs.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list send logs", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list send logs")
		return
	}
	sendJSON(w, http.StatusOK, ListResponse[models.SendLogEntry]{Items: entries, Total: total})
}

// handleLogStats handles GET /api/v1/logs/stats
func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilter(r)
	if err != nil {
		sendError(w, http.StatusBadRequest, "from and until must be RFC 3339 timestamps")
		return
	}

	stats, err := s.stores.Logs.Stats(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to get send log stats", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get send log stats")
		return
	}
	sendJSON(w, http.StatusOK, stats)
}
