package api

import (
	"net/http"

	"github.com/foxzi/herald/internal/email"
	"github.com/foxzi/herald/internal/models"
)

// handleMailConfigGet handles GET /api/v1/settings/mail
func (s *Server) handleMailConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.stores.Settings.GetMailConfig(r.Context())
	if err != nil {
		s.logger.Error("failed to get mail config", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get mail config")
		return
	}
	sendJSON(w, http.StatusOK, cfg.Redacted())
}

// handleMailConfigUpdate handles PUT /api/v1/settings/mail
func (s *Server) handleMailConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var cfg models.MailConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if cfg.SMTP.Port < 0 || cfg.SMTP.Port > 65535 {
		sendError(w, http.StatusBadRequest, "smtp.port must be between 0 and 65535")
		return
	}
	if cfg.SMTP.From != "" && email.ExtractDomain(cfg.SMTP.From) == "" {
		sendError(w, http.StatusBadRequest, "smtp.from must contain an address")
		return
	}

	if cfg.SMTP.Pass == models.RedactedPassword {
		current, err := s.stores.Settings.GetMailConfig(r.Context())
		if err != nil {
			s.logger.Error("failed to get mail config", "error", err)
			sendError(w, http.StatusInternalServerError, "Failed to get mail config")
			return
		}
		cfg.SMTP.Pass = current.SMTP.Pass
	}

	if err := s.stores.Settings.SaveMailConfig(r.Context(), cfg); err != nil {
		s.logger.Error("failed to save mail config", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to save mail config")
		return
	}

	s.logger.Info("mail config updated", "smtp_host", cfg.SMTP.Host, "complete", cfg.SMTP.Complete())
	sendJSON(w, http.StatusOK, cfg.Redacted())
}
