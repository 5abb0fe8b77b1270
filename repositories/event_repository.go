package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/presenza-calcio/db"
	"github.com/Dosada05/presenza-calcio/models"
)

var (
	ErrEventNotFound        = errors.New("event not found")
	ErrEventConflict        = errors.New("event id already exists")
	ErrEventVersionConflict = errors.New("event was modified concurrently")
)

type EventRepository interface {
	// Create persists e with version 1.
	Create(ctx context.Context, e *models.Event) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
	// List returns all events, or only those of teamID when it is not empty.
	List(ctx context.Context, teamID string) ([]*models.Event, error)
	// Replace overwrites every mutable column of e. When expectedVersion is not nil
	// the write only succeeds if the stored version still matches.
	Replace(ctx context.Context, e *models.Event, expectedVersion *int) error
	// UpdateResponses writes the responses column if the stored version equals expectedVersion.
	UpdateResponses(ctx context.Context, id string, responses models.Responses, expectedVersion int, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteByTeamID(ctx context.Context, exec db.Querier, teamID string) (int64, error)
}

type eventRow struct {
	ID          string  `json:"id"`
	TeamID      string  `json:"team_id"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Date        string  `json:"date"`
	Time        string  `json:"time"`
	Location    string  `json:"location"`
	Opponent    string  `json:"opponent"`
	Description string  `json:"description"`
	Convocati   string  `json:"convocati"`
	Responses   string  `json:"responses"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   *string `json:"updated_at"`
	Version     int     `json:"version"`
}

func (r eventRow) toModel() (*models.Event, error) {
	convocati := models.Convocati{}
	if r.Convocati != "" && r.Convocati != "null" {
		if err := json.Unmarshal([]byte(r.Convocati), &convocati); err != nil {
			return nil, fmt.Errorf("%w: event %s convocati: %w", db.ErrMalformedResult, r.ID, err)
		}
	}
	responses := models.Responses{}
	if r.Responses != "" && r.Responses != "null" {
		if err := json.Unmarshal([]byte(r.Responses), &responses); err != nil {
			return nil, fmt.Errorf("%w: event %s responses: %w", db.ErrMalformedResult, r.ID, err)
		}
	}
	version := r.Version
	if version == 0 {
		version = 1
	}

	return &models.Event{
		ID:          r.ID,
		TeamID:      r.TeamID,
		Type:        models.EventType(r.Type),
		Title:       r.Title,
		Date:        r.Date,
		Time:        r.Time,
		Location:    r.Location,
		Opponent:    r.Opponent,
		Description: r.Description,
		Convocati:   convocati,
		Responses:   responses,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTimePtr(r.UpdatedAt),
		Version:     version,
	}, nil
}

// encodeEventJSON serializes the two JSON columns. nil values are stored as
// empty containers so reads never have to special-case them.
func encodeEventJSON(convocati models.Convocati, responses models.Responses) (string, string, error) {
	if convocati == nil {
		convocati = models.Convocati{}
	}
	if responses == nil {
		responses = models.Responses{}
	}
	c, err := json.Marshal(convocati)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode convocati: %w", err)
	}
	resp, err := json.Marshal(responses)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode responses: %w", err)
	}
	return string(c), string(resp), nil
}

const eventColumns = `id, team_id, type, title, date, time, location, opponent, description,
	convocati, responses, created_by, created_at, updated_at, version`

type sqlEventRepository struct {
	q db.Querier
}

func NewEventRepository(q db.Querier) EventRepository {
	return &sqlEventRepository{q: q}
}

func (r *sqlEventRepository) Create(ctx context.Context, e *models.Event) error {
	convocati, responses, err := encodeEventJSON(e.Convocati, e.Responses)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (id, team_id, type, title, date, time, location, opponent, description,
			convocati, responses, created_by, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`

	_, err = r.q.Exec(ctx, query,
		e.ID,
		e.TeamID,
		string(e.Type),
		e.Title,
		e.Date,
		e.Time,
		e.Location,
		e.Opponent,
		e.Description,
		convocati,
		responses,
		e.CreatedBy,
		formatTime(e.CreatedAt),
	)
	if err != nil {
		if errors.Is(err, db.ErrConflict) {
			return ErrEventConflict
		}
		return err
	}
	e.Version = 1
	return nil
}

func (r *sqlEventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	events, err := r.list(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEventNotFound
	}
	return events[0], nil
}

func (r *sqlEventRepository) List(ctx context.Context, teamID string) ([]*models.Event, error) {
	if teamID == "" {
		return r.list(ctx, `SELECT `+eventColumns+` FROM events ORDER BY date, time`)
	}
	return r.list(ctx, `SELECT `+eventColumns+` FROM events WHERE team_id = ? ORDER BY date, time`, teamID)
}

func (r *sqlEventRepository) list(ctx context.Context, query string, args ...any) ([]*models.Event, error) {
	var rows []eventRow
	if err := r.q.Query(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	events := make([]*models.Event, 0, len(rows))
	for _, row := range rows {
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func (r *sqlEventRepository) Replace(ctx context.Context, e *models.Event, expectedVersion *int) error {
	convocati, responses, err := encodeEventJSON(e.Convocati, e.Responses)
	if err != nil {
		return err
	}
	updatedAt := time.Now()
	if e.UpdatedAt != nil {
		updatedAt = *e.UpdatedAt
	}

	query := `
		UPDATE events SET
			team_id = ?, type = ?, title = ?, date = ?, time = ?, location = ?,
			opponent = ?, description = ?, convocati = ?, responses = ?,
			updated_at = ?, version = version + 1
		WHERE id = ?`
	args := []any{
		e.TeamID,
		string(e.Type),
		e.Title,
		e.Date,
		e.Time,
		e.Location,
		e.Opponent,
		e.Description,
		convocati,
		responses,
		formatTime(updatedAt),
		e.ID,
	}
	if expectedVersion != nil {
		query += ` AND version = ?`
		args = append(args, *expectedVersion)
	}

	n, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if expectedVersion == nil {
		return ErrEventNotFound
	}
	return r.missOrConflict(ctx, e.ID)
}

func (r *sqlEventRepository) UpdateResponses(ctx context.Context, id string, responses models.Responses, expectedVersion int, updatedAt time.Time) error {
	_, encoded, err := encodeEventJSON(nil, responses)
	if err != nil {
		return err
	}

	query := `
		UPDATE events SET responses = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`

	n, err := r.q.Exec(ctx, query, encoded, formatTime(updatedAt), id, expectedVersion)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return r.missOrConflict(ctx, id)
}

// missOrConflict tells apart a vanished row from a stale version after a conditional write matched nothing.
func (r *sqlEventRepository) missOrConflict(ctx context.Context, id string) error {
	var rows []struct {
		Version int `json:"version"`
	}
	if err := r.q.Query(ctx, &rows, `SELECT version FROM events WHERE id = ?`, id); err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrEventNotFound
	}
	return ErrEventVersionConflict
}

func (r *sqlEventRepository) Delete(ctx context.Context, id string) error {
	n, err := r.q.Exec(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(n, ErrEventNotFound)
}

func (r *sqlEventRepository) DeleteByTeamID(ctx context.Context, exec db.Querier, teamID string) (int64, error) {
	return getExecutor(r.q, exec).Exec(ctx, `DELETE FROM events WHERE team_id = ?`, teamID)
}
