package handlers

import (
	"net/http"

	"github.com/Dosada05/presenza-calcio/services"
)

type InviteHandler struct {
	inviteService services.InviteService
}

func NewInviteHandler(is services.InviteService) *InviteHandler {
	return &InviteHandler{inviteService: is}
}

type inviteUserInput struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// InviteUser godoc
// @Summary      Invite a user
// @Description  Creates the identity account, or revokes the pending invitation and sends a new one.
// @Tags         invitations
// @Accept       json
// @Produce      json
// @Param        request  body  inviteUserInput  true  "invitee"
// @Success      200  {object}  services.InviteResult
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/invite-user [post]
func (h *InviteHandler) InviteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentPrincipal(w, r)
	if !ok {
		return
	}

	var input inviteUserInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	result, err := h.inviteService.InviteUser(r.Context(), actor, services.InviteInput{
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, result, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
