package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/herald/internal/models"
	"github.com/foxzi/herald/internal/repository"
)

// CampaignRequest is the body of campaign create and update
type CampaignRequest struct {
	Name     string              `json:"name"`
	Subject  string              `json:"subject"`
	Body     string              `json:"body"`
	Audience models.AudienceSpec `json:"audience"`
}

func (req CampaignRequest) campaign(id string) *models.Campaign {
	return &models.Campaign{
		ID:       id,
		Name:     req.Name,
		Subject:  req.Subject,
		Body:     req.Body,
		Audience: req.Audience,
	}
}

// handleCampaignList handles GET /api/v1/campaigns
func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := models.CampaignListFilter{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	}

	campaigns, total, err := s.stores.Campaigns.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}
	sendJSON(w, http.StatusOK, ListResponse[models.Campaign]{Items: campaigns, Total: total})
}

// handleCampaignCreate handles POST /api/v1/campaigns
func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c := req.campaign("")
	if err := s.dispatcher.SaveCampaign(r.Context(), c); err != nil {
		s.dispatchError(w, err)
		return
	}

	s.logger.Info("campaign created", "id", c.ID, "name", c.Name)
	sendJSON(w, http.StatusCreated, c)
}

// handleCampaignGet handles GET /api/v1/campaigns/{id}
func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.stores.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get campaign", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if c == nil {
		sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	sendJSON(w, http.StatusOK, c)
}

// handleCampaignUpdate handles PUT /api/v1/campaigns/{id}
func (s *Server) handleCampaignUpdate(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c := req.campaign(chi.URLParam(r, "id"))
	if err := s.dispatcher.SaveCampaign(r.Context(), c); err != nil {
		s.dispatchError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, c)
}

// handleCampaignDelete handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleCampaignDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.stores.Campaigns.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrCampaignBusy) {
			sendError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("failed to delete campaign", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to delete campaign")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCampaignSend handles POST /api/v1/campaigns/{id}/send. The dispatch
// runs to completion within the request.
func (s *Server) handleCampaignSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.dispatcher.DispatchCampaign(r.Context(), id)
	if err != nil {
		s.dispatchError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, res)
}
