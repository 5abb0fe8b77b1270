package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventTypeMatch    EventType = "match"
	EventTypeTraining EventType = "training"
	EventTypeOther    EventType = "other"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeMatch, EventTypeTraining, EventTypeOther:
		return true
	}
	return false
}

type ResponseStatus string

const (
	ResponseAccepted ResponseStatus = "accepted"
	ResponseDeclined ResponseStatus = "declined"
	ResponsePending  ResponseStatus = "pending"
)

func (s ResponseStatus) Valid() bool {
	switch s {
	case ResponseAccepted, ResponseDeclined, ResponsePending:
		return true
	}
	return false
}

// Response is a single player's answer to a convocation.
type Response struct {
	Status      ResponseStatus `json:"status"`
	RespondedAt time.Time      `json:"respondedAt"`
}

// Responses maps player id to that player's answer. One entry per player.
type Responses map[string]Response

var ErrResponsesNotObject = errors.New("responses must be a JSON object")

// UnmarshalJSON also accepts an empty array, which older clients stored for
// events nobody had answered yet. null leaves r unchanged.
func (r *Responses) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case len(b) > 0 && b[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		if len(items) > 0 {
			return fmt.Errorf("%w: got a non-empty array", ErrResponsesNotObject)
		}
		*r = Responses{}
		return nil
	case len(b) > 0 && b[0] == '{':
		var m map[string]Response
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		*r = m
		return nil
	}
	return fmt.Errorf("%w: got %s", ErrResponsesNotObject, b)
}

// Clone returns an independent copy; a nil receiver yields an empty map.
func (r Responses) Clone() Responses {
	out := make(Responses, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Convocati is the ordered set of player ids called up for an event.
type Convocati []string

var ErrEmptyPlayerID = errors.New("convocati contains an empty player id")

// NewConvocati trims ids and drops duplicates, keeping the first occurrence.
func NewConvocati(ids []string) (Convocati, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make(Convocati, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, ErrEmptyPlayerID
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func (c Convocati) Contains(playerID string) bool {
	for _, id := range c {
		if id == playerID {
			return true
		}
	}
	return false
}

type Event struct {
	ID          string     `json:"id"`
	TeamID      string     `json:"team_id"`
	Type        EventType  `json:"type"`
	Title       string     `json:"title"`
	Date        string     `json:"date"`
	Time        string     `json:"time"`
	Location    string     `json:"location"`
	Opponent    string     `json:"opponent"`
	Description string     `json:"description"`
	Convocati   Convocati  `json:"convocati"`
	Responses   Responses  `json:"responses"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	Version     int        `json:"version"`
}
