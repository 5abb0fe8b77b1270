package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Dosada05/presenza-calcio/models"
	"github.com/Dosada05/presenza-calcio/services"
)

// GatewayHandler serves /api/db, the table and action interface used by the web client.
type GatewayHandler struct {
	teamService   services.TeamService
	playerService services.PlayerService
	eventService  services.EventService
	roleService   services.RoleService
}

func NewGatewayHandler(ts services.TeamService, ps services.PlayerService, es services.EventService, rs services.RoleService) *GatewayHandler {
	return &GatewayHandler{
		teamService:   ts,
		playerService: ps,
		eventService:  es,
		roleService:   rs,
	}
}

// gatewayEvent adds the camelCase team id the web client reads.
type gatewayEvent struct {
	*models.Event
	TeamIDAlias string `json:"teamId"`
}

func toGatewayEvent(e *models.Event) gatewayEvent {
	return gatewayEvent{Event: e, TeamIDAlias: e.TeamID}
}

// Query godoc
// @Summary      Read a table
// @Tags         gateway
// @Produce      json
// @Param        table  query  string  true   "teams, players, events or user_roles"
// @Param        email  query  string  false  "filter user_roles by email"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/db [get]
func (h *GatewayHandler) Query(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentPrincipal(w, r)
	if !ok {
		return
	}
	table := r.URL.Query().Get("table")

	var (
		rows any
		err  error
	)
	switch table {
	case "teams":
		rows, err = h.teamService.ListTeams(r.Context(), actor)
	case "players":
		rows, err = h.playerService.ListPlayers(r.Context(), actor, r.URL.Query().Get("team_id"))
	case "events":
		var events []*models.Event
		events, err = h.eventService.ListEvents(r.Context(), actor, r.URL.Query().Get("team_id"))
		if err == nil {
			out := make([]gatewayEvent, len(events))
			for i, e := range events {
				out[i] = toGatewayEvent(e)
			}
			rows = out
		}
	case "user_roles":
		rows, err = h.userRoles(r.Context(), actor, r.URL.Query().Get("email"))
	default:
		badRequestResponse(w, r, errors.New("unknown table "+strings.TrimSpace(table)))
		return
	}
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{table: rows}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// userRoles lists every record, or the zero or one record of email.
func (h *GatewayHandler) userRoles(ctx context.Context, actor models.Principal, email string) ([]*models.UserRole, error) {
	if email == "" {
		return h.roleService.ListRoles(ctx, actor)
	}
	record, err := h.roleService.LookupRole(ctx, actor, email)
	if errors.Is(err, services.ErrUserRoleNotFound) {
		return []*models.UserRole{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []*models.UserRole{record}, nil
}

// Mutate godoc
// @Summary      Run a gateway action
// @Tags         gateway
// @Accept       json
// @Produce      json
// @Param        request  body  gatewayRequest  true  "action envelope"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/db [post]
func (h *GatewayHandler) Mutate(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentPrincipal(w, r)
	if !ok {
		return
	}

	var req gatewayRequest
	if err := readLenientJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	cmd, err := decodeCommand(req)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	response, err := h.execute(r.Context(), actor, cmd)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *GatewayHandler) execute(ctx context.Context, actor models.Principal, cmd gatewayCommand) (jsonResponse, error) {
	ok := jsonResponse{"success": true}
	withEvent := func(e *models.Event, err error) (jsonResponse, error) {
		if err != nil {
			return nil, err
		}
		return jsonResponse{"success": true, "event": toGatewayEvent(e)}, nil
	}

	switch c := cmd.(type) {
	case addTeamCommand:
		_, err := h.teamService.CreateTeam(ctx, actor, teamInput(c.Team))
		return ok, err
	case updateTeamCommand:
		_, err := h.teamService.UpdateTeam(ctx, actor, c.ID, teamInput(c.Team))
		return ok, err
	case deleteTeamCommand:
		return ok, h.teamService.DeleteTeam(ctx, actor, c.ID)

	case addPlayerCommand:
		_, err := h.playerService.CreatePlayer(ctx, actor, playerInput(c.Player))
		return ok, err
	case updatePlayerCommand:
		_, err := h.playerService.UpdatePlayer(ctx, actor, c.ID, playerInput(c.Player))
		return ok, err
	case deletePlayerCommand:
		return ok, h.playerService.DeletePlayer(ctx, actor, c.ID)

	case addEventCommand:
		return withEvent(h.eventService.CreateEvent(ctx, actor, eventInput(c.Event)))
	case updateEventCommand:
		return withEvent(h.eventService.UpdateEvent(ctx, actor, c.ID, eventInput(c.Event), c.ExpectedVersion))
	case deleteEventCommand:
		return ok, h.eventService.DeleteEvent(ctx, actor, c.ID)
	case submitResponseCommand:
		return withEvent(h.eventService.SubmitResponse(ctx, actor, c.EventID, c.PlayerID, c.Status))

	case updateUserRoleCommand:
		_, err := h.roleService.ApproveRole(ctx, actor, c.ID, c.Role)
		return ok, err
	case deleteUserRoleCommand:
		return ok, h.roleService.RevokeRole(ctx, actor, c.ID)
	}
	return nil, fmt.Errorf("unhandled gateway command %T", cmd)
}

func teamInput(p teamPayload) services.TeamInput {
	return services.TeamInput{
		ID:       string(p.ID),
		Name:     p.Name,
		Category: p.Category,
		Color:    p.Color,
		Icon:     p.Icon,
	}
}

func playerInput(p playerPayload) services.PlayerInput {
	return services.PlayerInput{
		ID:     string(p.ID),
		TeamID: p.teamID(),
		Name:   p.Name,
		Role:   p.Role,
		Number: int(p.Number),
		Phone:  p.Phone,
		Email:  p.Email,
	}
}

func eventInput(p eventPayload) services.EventInput {
	return services.EventInput{
		ID:          string(p.ID),
		TeamID:      p.teamID(),
		Type:        p.Type,
		Title:       p.Title,
		Date:        p.Date,
		Time:        p.Time,
		Location:    p.Location,
		Opponent:    p.Opponent,
		Description: p.Description,
		Convocati:   p.convocati(),
		Responses:   p.Responses,
		CreatedAt:   p.CreatedAt,
	}
}
