package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/Dosada05/presenza-calcio/live"
	"github.com/Dosada05/presenza-calcio/models"
	"github.com/Dosada05/presenza-calcio/repositories"
	"github.com/google/uuid"
)

// A response write that loses the version race is retried with jittered backoff,
// up to len(convocati)+minSubmitAttempts times.
const (
	minSubmitAttempts = 5
	retryBaseDelay    = 2 * time.Millisecond
	retryMaxDelay     = 50 * time.Millisecond
)

type EventService interface {
	CreateEvent(ctx context.Context, actor models.Principal, input EventInput) (*models.Event, error)
	GetEvent(ctx context.Context, actor models.Principal, id string) (*models.Event, error)
	ListEvents(ctx context.Context, actor models.Principal, teamID string) ([]*models.Event, error)
	// UpdateEvent replaces the event. A nil expectedVersion keeps the last-write-wins behaviour.
	UpdateEvent(ctx context.Context, actor models.Principal, id string, input EventInput, expectedVersion *int) (*models.Event, error)
	SubmitResponse(ctx context.Context, actor models.Principal, eventID, playerID string, status models.ResponseStatus) (*models.Event, error)
	DeleteEvent(ctx context.Context, actor models.Principal, id string) error
}

// EventInput carries the writable fields of an event. Responses is only read by
// UpdateEvent; when it is nil the stored answers are kept.
type EventInput struct {
	ID          string
	TeamID      string
	Type        models.EventType
	Title       string
	Date        string
	Time        string
	Location    string
	Opponent    string
	Description string
	Convocati   []string
	Responses   models.Responses
	CreatedAt   *time.Time
}

// Broadcaster delivers a message to the websocket subscribers of a room.
type Broadcaster interface {
	BroadcastToRoom(roomID string, message any)
}

type eventService struct {
	eventRepo   repositories.EventRepository
	teamRepo    repositories.TeamRepository
	playerRepo  repositories.PlayerRepository
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func NewEventService(
	eventRepo repositories.EventRepository,
	teamRepo repositories.TeamRepository,
	playerRepo repositories.PlayerRepository,
	broadcaster Broadcaster,
	logger *slog.Logger,
) EventService {
	return &eventService{
		eventRepo:   eventRepo,
		teamRepo:    teamRepo,
		playerRepo:  playerRepo,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

// MergeResponse returns a copy of responses with playerID's answer set to status.
// The input map is never modified.
func MergeResponse(responses models.Responses, playerID string, status models.ResponseStatus, at time.Time) models.Responses {
	merged := responses.Clone()
	merged[playerID] = models.Response{Status: status, RespondedAt: at}
	return merged
}

// pruneResponses drops answers of players that are no longer called up.
func pruneResponses(responses models.Responses, convocati models.Convocati) models.Responses {
	pruned := make(models.Responses, len(responses))
	for playerID, r := range responses {
		if convocati.Contains(playerID) {
			pruned[playerID] = r
		}
	}
	return pruned
}

func (s *eventService) CreateEvent(ctx context.Context, actor models.Principal, input EventInput) (*models.Event, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	convocati, err := s.validateInput(ctx, input)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := s.now().UTC()
	if input.CreatedAt != nil && !input.CreatedAt.IsZero() {
		createdAt = input.CreatedAt.UTC()
	}

	event := &models.Event{
		ID:          id,
		TeamID:      input.TeamID,
		Type:        input.Type,
		Title:       strings.TrimSpace(input.Title),
		Date:        input.Date,
		Time:        input.Time,
		Location:    strings.TrimSpace(input.Location),
		Opponent:    strings.TrimSpace(input.Opponent),
		Description: input.Description,
		Convocati:   convocati,
		Responses:   models.Responses{},
		CreatedBy:   actor.Email,
		CreatedAt:   createdAt,
	}

	if err := s.eventRepo.Create(ctx, event); err != nil {
		if errors.Is(err, repositories.ErrEventConflict) {
			return nil, ErrEventConflict
		}
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	s.logger.InfoContext(ctx, "event created",
		slog.String("event_id", event.ID),
		slog.String("team_id", event.TeamID),
		slog.Int("convocati", len(event.Convocati)))
	return event, nil
}

func (s *eventService) GetEvent(ctx context.Context, actor models.Principal, id string) (*models.Event, error) {
	if err := requireApproved(actor); err != nil {
		return nil, err
	}
	return s.getEvent(ctx, id)
}

func (s *eventService) getEvent(ctx context.Context, id string) (*models.Event, error) {
	event, err := s.eventRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return event, nil
}

func (s *eventService) ListEvents(ctx context.Context, actor models.Principal, teamID string) ([]*models.Event, error) {
	if err := requireApproved(actor); err != nil {
		return nil, err
	}
	events, err := s.eventRepo.List(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

func (s *eventService) UpdateEvent(ctx context.Context, actor models.Principal, id string, input EventInput, expectedVersion *int) (*models.Event, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	convocati, err := s.validateInput(ctx, input)
	if err != nil {
		return nil, err
	}

	current, err := s.getEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != nil && current.Version != *expectedVersion {
		return nil, fmt.Errorf("%w: expected version %d, stored version %d", ErrEventVersionConflict, *expectedVersion, current.Version)
	}

	responses := current.Responses
	if input.Responses != nil {
		for playerID, r := range input.Responses {
			if !r.Status.Valid() {
				return nil, validationError("invalid response status %q for player %s", r.Status, playerID)
			}
		}
		responses = input.Responses
	}

	updatedAt := s.now().UTC()
	event := &models.Event{
		ID:          id,
		TeamID:      input.TeamID,
		Type:        input.Type,
		Title:       strings.TrimSpace(input.Title),
		Date:        input.Date,
		Time:        input.Time,
		Location:    strings.TrimSpace(input.Location),
		Opponent:    strings.TrimSpace(input.Opponent),
		Description: input.Description,
		Convocati:   convocati,
		Responses:   pruneResponses(responses, convocati),
		CreatedBy:   current.CreatedBy,
		CreatedAt:   current.CreatedAt,
		UpdatedAt:   &updatedAt,
	}

	if err := s.eventRepo.Replace(ctx, event, expectedVersion); err != nil {
		switch {
		case errors.Is(err, repositories.ErrEventNotFound):
			return nil, ErrEventNotFound
		case errors.Is(err, repositories.ErrEventVersionConflict):
			return nil, ErrEventVersionConflict
		default:
			return nil, fmt.Errorf("failed to update event %s: %w", id, err)
		}
	}

	updated, err := s.getEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(live.MessageEventUpdated, updated.ID, updated)
	return updated, nil
}

func (s *eventService) SubmitResponse(ctx context.Context, actor models.Principal, eventID, playerID string, status models.ResponseStatus) (*models.Event, error) {
	if err := requireApproved(actor); err != nil {
		return nil, err
	}
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, validationError("player_id is required")
	}
	if status != models.ResponseAccepted && status != models.ResponseDeclined {
		return nil, validationError("status must be accepted or declined, got %q", status)
	}
	if !actor.IsStaff() {
		if err := s.checkOwnPlayer(ctx, actor, playerID); err != nil {
			return nil, err
		}
	}

	budget := minSubmitAttempts
	for attempt := 1; attempt <= budget; attempt++ {
		current, err := s.getEvent(ctx, eventID)
		if err != nil {
			return nil, err
		}
		budget = max(budget, len(current.Convocati)+minSubmitAttempts)
		if !current.Convocati.Contains(playerID) {
			return nil, fmt.Errorf("%w: %w: player %s, event %s", ErrValidationFailed, ErrPlayerNotConvocated, playerID, eventID)
		}

		now := s.now().UTC()
		merged := MergeResponse(current.Responses, playerID, status, now)
		err = s.eventRepo.UpdateResponses(ctx, eventID, merged, current.Version, now)
		switch {
		case err == nil:
			current.Responses = merged
			current.Version++
			current.UpdatedAt = &now
			s.logger.InfoContext(ctx, "response recorded",
				slog.String("event_id", eventID),
				slog.String("player_id", playerID),
				slog.String("status", string(status)),
				slog.Int("attempt", attempt))
			s.publish(live.MessageEventUpdated, eventID, current)
			return current, nil
		case errors.Is(err, repositories.ErrEventVersionConflict):
			s.logger.DebugContext(ctx, "response write raced, retrying",
				slog.String("event_id", eventID),
				slog.Int("attempt", attempt))
			if err := waitRetry(ctx, attempt); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrConcurrentUpdate, err)
			}
			continue
		case errors.Is(err, repositories.ErrEventNotFound):
			return nil, ErrEventNotFound
		default:
			return nil, fmt.Errorf("failed to store response for event %s: %w", eventID, err)
		}
	}

	s.logger.WarnContext(ctx, "response retries exhausted",
		slog.String("event_id", eventID),
		slog.String("player_id", playerID),
		slog.Int("attempts", budget))
	return nil, ErrConcurrentUpdate
}

// retryDelay is a jittered delay that grows linearly with attempt up to retryMaxDelay.
func retryDelay(attempt int) time.Duration {
	ceiling := min(retryBaseDelay*time.Duration(attempt), retryMaxDelay)
	return ceiling/2 + rand.N(ceiling/2+1)
}

func waitRetry(ctx context.Context, attempt int) error {
	timer := time.NewTimer(retryDelay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// checkOwnPlayer lets a player principal answer only for roster entries carrying their email.
func (s *eventService) checkOwnPlayer(ctx context.Context, actor models.Principal, playerID string) error {
	player, err := s.playerRepo.GetByID(ctx, playerID)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return fmt.Errorf("%w: player %s", ErrPlayerNotFound, playerID)
		}
		return fmt.Errorf("failed to load player %s: %w", playerID, err)
	}
	if models.NormalizeEmail(player.Email) != models.NormalizeEmail(actor.Email) {
		return fmt.Errorf("%w: players may only answer for themselves", ErrForbiddenOperation)
	}
	return nil
}

func (s *eventService) DeleteEvent(ctx context.Context, actor models.Principal, id string) error {
	if err := requireStaff(actor); err != nil {
		return err
	}
	if err := s.eventRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrEventNotFound) {
			return ErrEventNotFound
		}
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	s.publish(live.MessageEventDeleted, id, map[string]string{"id": id})
	return nil
}

func (s *eventService) publish(kind, eventID string, payload any) {
	if s.broadcaster == nil {
		return
	}
	room := live.EventRoom(eventID)
	s.broadcaster.BroadcastToRoom(room, live.Message{Type: kind, Payload: payload, RoomID: room})
}

// validateInput checks the scalar fields and returns the normalized convocati.
// Every convocato must be on the team's current roster.
func (s *eventService) validateInput(ctx context.Context, input EventInput) (models.Convocati, error) {
	if strings.TrimSpace(input.TeamID) == "" {
		return nil, validationError("team_id is required")
	}
	if !input.Type.Valid() {
		return nil, validationError("type must be match, training or other, got %q", input.Type)
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, validationError("title is required")
	}
	if _, err := time.Parse("2006-01-02", input.Date); err != nil {
		return nil, validationError("date must be YYYY-MM-DD, got %q", input.Date)
	}
	if input.Time != "" {
		if _, err := time.Parse("15:04", input.Time); err != nil {
			return nil, validationError("time must be HH:MM, got %q", input.Time)
		}
	}

	convocati, err := models.NewConvocati(input.Convocati)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	if _, err := s.teamRepo.GetByID(ctx, input.TeamID); err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return nil, validationError("team %s does not exist", input.TeamID)
		}
		return nil, fmt.Errorf("failed to load team %s: %w", input.TeamID, err)
	}

	if len(convocati) == 0 {
		return convocati, nil
	}
	roster, err := s.playerRepo.List(ctx, input.TeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster of team %s: %w", input.TeamID, err)
	}
	onRoster := make(map[string]struct{}, len(roster))
	for _, p := range roster {
		onRoster[p.ID] = struct{}{}
	}
	var unknown []string
	for _, id := range convocati {
		if _, ok := onRoster[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, validationError("players not on the roster of team %s: %s", input.TeamID, strings.Join(unknown, ", "))
	}
	return convocati, nil
}
