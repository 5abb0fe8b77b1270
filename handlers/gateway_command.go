package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Dosada05/presenza-calcio/models"
)

// gatewayRequest is the POST envelope of the query gateway.
type gatewayRequest struct {
	Action          string          `json:"action"`
	Table           string          `json:"table,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	ID              looseString     `json:"id,omitempty"`
	ExpectedVersion *int            `json:"expected_version,omitempty"`
}

// gatewayCommand is the closed set of mutations accepted by the gateway.
type gatewayCommand interface {
	gatewayCommand()
}

type addTeamCommand struct{ Team teamPayload }
type updateTeamCommand struct {
	ID   string
	Team teamPayload
}
type deleteTeamCommand struct{ ID string }
type addPlayerCommand struct{ Player playerPayload }
type updatePlayerCommand struct {
	ID     string
	Player playerPayload
}
type deletePlayerCommand struct{ ID string }
type addEventCommand struct{ Event eventPayload }
type updateEventCommand struct {
	ID              string
	Event           eventPayload
	ExpectedVersion *int
}
type deleteEventCommand struct{ ID string }
type updateUserRoleCommand struct {
	ID   string
	Role models.Role
}
type deleteUserRoleCommand struct{ ID string }
type submitResponseCommand struct {
	EventID  string
	PlayerID string
	Status   models.ResponseStatus
}

func (addTeamCommand) gatewayCommand()        {}
func (updateTeamCommand) gatewayCommand()     {}
func (deleteTeamCommand) gatewayCommand()     {}
func (addPlayerCommand) gatewayCommand()      {}
func (updatePlayerCommand) gatewayCommand()   {}
func (deletePlayerCommand) gatewayCommand()   {}
func (addEventCommand) gatewayCommand()       {}
func (updateEventCommand) gatewayCommand()    {}
func (deleteEventCommand) gatewayCommand()    {}
func (updateUserRoleCommand) gatewayCommand() {}
func (deleteUserRoleCommand) gatewayCommand() {}
func (submitResponseCommand) gatewayCommand() {}

// looseString accepts a JSON string or number. Older clients send numeric ids.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = looseString(n.String())
	return nil
}

// looseInt accepts a JSON number or a numeric string, as sent by HTML number inputs.
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*n = 0
		return nil
	}
	raw := strings.Trim(string(b), `"`)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("expected an integer, got %s", b)
	}
	*n = looseInt(v)
	return nil
}

type teamPayload struct {
	ID       looseString `json:"id"`
	Name     string      `json:"name"`
	Category string      `json:"category"`
	Color    string      `json:"color"`
	Icon     string      `json:"icon"`
}

type playerPayload struct {
	ID          looseString `json:"id"`
	TeamID      looseString `json:"teamId"`
	TeamIDSnake looseString `json:"team_id"`
	Name        string      `json:"name"`
	Role        string      `json:"role"`
	Number      looseInt    `json:"number"`
	Phone       string      `json:"phone"`
	Email       string      `json:"email"`
}

func (p playerPayload) teamID() string {
	return firstNonEmpty(string(p.TeamID), string(p.TeamIDSnake))
}

type eventPayload struct {
	ID          looseString      `json:"id"`
	TeamID      looseString      `json:"teamId"`
	TeamIDSnake looseString      `json:"team_id"`
	Type        models.EventType `json:"type"`
	Title       string           `json:"title"`
	Date        string           `json:"date"`
	Time        string           `json:"time"`
	Location    string           `json:"location"`
	Opponent    string           `json:"opponent"`
	Description string           `json:"description"`
	Convocati   []looseString    `json:"convocati"`
	Responses   models.Responses `json:"responses"`
	CreatedBy   string           `json:"createdBy"`
	CreatedAt   *time.Time       `json:"createdAt"`
	Version     *int             `json:"version"`
}

func (p eventPayload) teamID() string {
	return firstNonEmpty(string(p.TeamID), string(p.TeamIDSnake))
}

func (p eventPayload) convocati() []string {
	ids := make([]string, len(p.Convocati))
	for i, id := range p.Convocati {
		ids[i] = string(id)
	}
	return ids
}

type userRolePayload struct {
	Role       models.Role `json:"role"`
	ApprovedBy string      `json:"approved_by"`
	UpdatedAt  string      `json:"updated_at"`
}

type responsePayload struct {
	EventID       looseString           `json:"eventId"`
	EventIDSnake  looseString           `json:"event_id"`
	PlayerID      looseString           `json:"playerId"`
	PlayerIDSnake looseString           `json:"player_id"`
	Status        models.ResponseStatus `json:"status"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// errUnknownAction is returned for actions outside the command set.
type errUnknownAction string

func (e errUnknownAction) Error() string {
	return fmt.Sprintf("unknown action %q", string(e))
}

// decodeCommand turns the envelope into its typed command. Unknown keys inside
// data are ignored.
func decodeCommand(req gatewayRequest) (gatewayCommand, error) {
	id := strings.TrimSpace(string(req.ID))
	needID := func() error {
		if id == "" {
			return fmt.Errorf("action %s requires id", req.Action)
		}
		return nil
	}
	decodeData := func(dst any) error {
		if len(req.Data) == 0 || string(req.Data) == "null" {
			return fmt.Errorf("action %s requires data", req.Action)
		}
		if err := json.Unmarshal(req.Data, dst); err != nil {
			return fmt.Errorf("invalid data for %s: %w", req.Action, err)
		}
		return nil
	}

	switch req.Action {
	case "add_team":
		var p teamPayload
		if err := decodeData(&p); err != nil {
			return nil, err
		}
		return addTeamCommand{Team: p}, nil

	case "update_team":
		var p teamPayload
		if err := needID(); err != nil {
			return nil, err
		}
		if err := decodeData(&p); err != nil {
			return nil, err
		}
		return updateTeamCommand{ID: id, Team: p}, nil

	case "delete_team":
		if err := needID(); err != nil {
			return nil, err
		}
		return deleteTeamCommand{ID: id}, nil

	case "add_player":
		var p playerPayload
		if err := decodeData(&p); err != nil {
			return nil, err
		}
		return addPlayerCommand{Player: p}, nil

	case "update_player":
		var p playerPayload
		if err := needID(); err != nil {
			return nil, err
		}
		if err := decodeData(&p); err != nil {
			return nil, err
		}
		return updatePlayerCommand{ID: id, Player: p}, nil

	case "delete_player":
		if err := needID(); err != nil {
			return nil, err
		}
		return deletePlayerCommand{ID: id}, nil

	case "add_event":
		var p eventPayload
		if err := decodeData(&p); err != nil {
			return nil, err
		}
		return addEventCommand{Event: p}, nil

	case "update_event":
		var p eventPayload
		if err := needID(); err != nil {
			return nil, err
		}
		if err := decodeData(&p); err != nil {
			return nil, err
		}
		expected := req.ExpectedVersion
		if expected == nil {
			expected = p.Version
		}
		return updateEventCommand{ID: id, Event: p, ExpectedVersion: expected}, nil

	case "delete_event":
		if err := needID(); err != nil {
			return nil, err
		}
		return deleteEventCommand{ID: id}, nil

	case "update_user_role":
		var p userRolePayload
		if err := needID(); err != nil {
			return nil, err
		}
		if err := decodeData(&p); err != nil {
			return nil, err
		}
		return updateUserRoleCommand{ID: id, Role: p.Role}, nil

	case "delete_user_role":
		if err := needID(); err != nil {
			return nil, err
		}
		return deleteUserRoleCommand{ID: id}, nil

	case "submit_response":
		var p responsePayload
		if err := decodeData(&p); err != nil {
			return nil, err
		}
		eventID := firstNonEmpty(string(p.EventID), string(p.EventIDSnake), id)
		playerID := firstNonEmpty(string(p.PlayerID), string(p.PlayerIDSnake))
		if eventID == "" || playerID == "" {
			return nil, fmt.Errorf("action %s requires event and player ids", req.Action)
		}
		return submitResponseCommand{EventID: eventID, PlayerID: playerID, Status: p.Status}, nil
	}

	return nil, errUnknownAction(req.Action)
}
