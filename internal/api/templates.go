package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/herald/internal/models"
	"github.com/foxzi/herald/internal/template"
)

// TemplateRequest is the body of template create and update
type TemplateRequest struct {
	Name          string `json:"name"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	Category      string `json:"category"`
	AutomationKey string `json:"automationKey,omitempty"`
}

// TemplatePreviewRequest is the request for POST /api/v1/templates/{id}/preview
type TemplatePreviewRequest struct {
	Variables map[string]any `json:"variables"`
}

func (req TemplateRequest) template(id string) *models.Template {
	return &models.Template{
		ID:            id,
		Name:          req.Name,
		Subject:       req.Subject,
		Body:          req.Body,
		Category:      req.Category,
		AutomationKey: req.AutomationKey,
	}
}

// handleTemplateList handles GET /api/v1/templates
func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := models.TemplateListFilter{
		Category: r.URL.Query().Get("category"),
		Search:   r.URL.Query().Get("search"),
		Limit:    limit,
		Offset:   offset,
	}

	templates, total, err := s.stores.Templates.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list templates", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}
	sendJSON(w, http.StatusOK, ListResponse[models.Template]{Items: templates, Total: total})
}

// handleTemplateCreate handles POST /api/v1/templates
func (s *Server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t := req.template("")
	if err := s.dispatcher.SaveTemplate(r.Context(), t); err != nil {
		s.dispatchError(w, err)
		return
	}

	s.logger.Info("template created", "id", t.ID, "name", t.Name)
	sendJSON(w, http.StatusCreated, t)
}

// handleTemplateGet handles GET /api/v1/templates/{id}
func (s *Server) handleTemplateGet(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, t)
}

// handleTemplateUpdate handles PUT /api/v1/templates/{id}
func (s *Server) handleTemplateUpdate(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}

	var req TemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t := req.template(existing.ID)
	t.CreatedAt = existing.CreatedAt
	if err := s.dispatcher.SaveTemplate(r.Context(), t); err != nil {
		s.dispatchError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, t)
}

// handleTemplateDelete handles DELETE /api/v1/templates/{id}
func (s *Server) handleTemplateDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.stores.Templates.Delete(r.Context(), id); err != nil {
		s.logger.Error("failed to delete template", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to delete template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTemplatePreview handles POST /api/v1/templates/{id}/preview
func (s *Server) handleTemplatePreview(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}

	var req TemplatePreviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	vars := template.Merge(s.opts.StaticVars, req.Variables)
	sendJSON(w, http.StatusOK, s.engine.RenderMessage(t.Subject, t.Body, "", vars))
}

func (s *Server) loadTemplate(w http.ResponseWriter, r *http.Request) (*models.Template, bool) {
	id := chi.URLParam(r, "id")

	t, err := s.stores.Templates.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get template", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get template")
		return nil, false
	}
	if t == nil {
		sendError(w, http.StatusNotFound, "Template not found")
		return nil, false
	}
	return t, true
}
