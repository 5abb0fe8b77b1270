package handlers

import (
	"net/http"

	"github.com/Dosada05/presenza-calcio/models"
	"github.com/Dosada05/presenza-calcio/services"
)

type EventHandler struct {
	eventService services.EventService
}

func NewEventHandler(es services.EventService) *EventHandler {
	return &EventHandler{eventService: es}
}

type submitResponseInput struct {
	PlayerID string                `json:"player_id"`
	Status   models.ResponseStatus `json:"status"`
}

// GetEvent godoc
// @Summary      Get one event
// @Tags         events
// @Produce      json
// @Param        eventID  path  string  true  "event id"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/events/{eventID} [get]
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentPrincipal(w, r)
	if !ok {
		return
	}
	eventID, err := getIDFromURL(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	event, err := h.eventService.GetEvent(r.Context(), actor, eventID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"event": toGatewayEvent(event)}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// SubmitResponse godoc
// @Summary      Answer a convocation
// @Tags         events
// @Accept       json
// @Produce      json
// @Param        eventID  path  string               true  "event id"
// @Param        request  body  submitResponseInput  true  "player and status"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/events/{eventID}/responses [post]
func (h *EventHandler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentPrincipal(w, r)
	if !ok {
		return
	}
	eventID, err := getIDFromURL(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input submitResponseInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	event, err := h.eventService.SubmitResponse(r.Context(), actor, eventID, input.PlayerID, input.Status)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"success": true, "event": toGatewayEvent(event)}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
