package handlers

import (
	"net/http"

	"github.com/Dosada05/presenza-calcio/services"
)

type SessionHandler struct {
	roleService services.RoleService
}

func NewSessionHandler(rs services.RoleService) *SessionHandler {
	return &SessionHandler{roleService: rs}
}

// Start godoc
// @Summary      Register the login of the current user
// @Description  Creates a pending role record on first login and returns the stored record.
// @Tags         session
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /api/session [post]
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentPrincipal(w, r)
	if !ok {
		return
	}

	record, err := h.roleService.UpsertUserRole(r.Context(), actor.Email)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"user_role": record}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
