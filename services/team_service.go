package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Dosada05/presenza-calcio/db"
	"github.com/Dosada05/presenza-calcio/models"
	"github.com/Dosada05/presenza-calcio/repositories"
	"github.com/google/uuid"
)

type TeamService interface {
	CreateTeam(ctx context.Context, actor models.Principal, input TeamInput) (*models.Team, error)
	GetTeam(ctx context.Context, actor models.Principal, id string) (*models.Team, error)
	ListTeams(ctx context.Context, actor models.Principal) ([]*models.Team, error)
	UpdateTeam(ctx context.Context, actor models.Principal, id string, input TeamInput) (*models.Team, error)
	// DeleteTeam removes the team with its players and events.
	DeleteTeam(ctx context.Context, actor models.Principal, id string) error
}

type TeamInput struct {
	ID       string
	Name     string
	Category string
	Color    string
	Icon     string
}

type teamService struct {
	teamRepo   repositories.TeamRepository
	playerRepo repositories.PlayerRepository
	eventRepo  repositories.EventRepository
	// tx is nil on backends without multi-statement transactions.
	tx     db.Transactor
	logger *slog.Logger
}

func NewTeamService(
	teamRepo repositories.TeamRepository,
	playerRepo repositories.PlayerRepository,
	eventRepo repositories.EventRepository,
	tx db.Transactor,
	logger *slog.Logger,
) TeamService {
	return &teamService{
		teamRepo:   teamRepo,
		playerRepo: playerRepo,
		eventRepo:  eventRepo,
		tx:         tx,
		logger:     logger,
	}
}

func (s *teamService) CreateTeam(ctx context.Context, actor models.Principal, input TeamInput) (*models.Team, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("team name is required")
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}

	team := &models.Team{
		ID:       id,
		Name:     name,
		Category: strings.TrimSpace(input.Category),
		Color:    input.Color,
		Icon:     input.Icon,
	}
	if err := s.teamRepo.Create(ctx, team); err != nil {
		if errors.Is(err, repositories.ErrTeamConflict) {
			return nil, ErrTeamConflict
		}
		return nil, fmt.Errorf("failed to create team: %w", err)
	}
	return team, nil
}

func (s *teamService) GetTeam(ctx context.Context, actor models.Principal, id string) (*models.Team, error) {
	if err := requireApproved(actor); err != nil {
		return nil, err
	}
	team, err := s.teamRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to get team %s: %w", id, err)
	}
	return team, nil
}

func (s *teamService) ListTeams(ctx context.Context, actor models.Principal) ([]*models.Team, error) {
	if err := requireApproved(actor); err != nil {
		return nil, err
	}
	teams, err := s.teamRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return teams, nil
}

func (s *teamService) UpdateTeam(ctx context.Context, actor models.Principal, id string, input TeamInput) (*models.Team, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("team name is required")
	}

	team := &models.Team{
		ID:       id,
		Name:     name,
		Category: strings.TrimSpace(input.Category),
		Color:    input.Color,
		Icon:     input.Icon,
	}
	if err := s.teamRepo.Update(ctx, team); err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to update team %s: %w", id, err)
	}
	return team, nil
}

func (s *teamService) DeleteTeam(ctx context.Context, actor models.Principal, id string) error {
	if err := requireStaff(actor); err != nil {
		return err
	}

	if s.tx != nil {
		err := s.tx.InTx(ctx, func(q db.Querier) error {
			return s.deleteCascade(ctx, q, id, nil)
		})
		return s.mapDeleteErr(id, err)
	}

	var done []string
	err := s.deleteCascade(ctx, nil, id, &done)
	if err != nil && len(done) > 0 {
		s.logger.ErrorContext(ctx, "team delete cascade stopped partway, manual cleanup required",
			slog.String("team_id", id),
			slog.Any("completed_steps", done),
			slog.Any("error", err))
		return fmt.Errorf("%w: team %s (completed: %s): %w", ErrCascadeIncomplete, id, strings.Join(done, ", "), err)
	}
	return s.mapDeleteErr(id, err)
}

// deleteCascade removes the team row first so a missing team fails before
// anything else is touched. done collects finished steps when not nil.
func (s *teamService) deleteCascade(ctx context.Context, q db.Querier, id string, done *[]string) error {
	step := func(name string) {
		if done != nil {
			*done = append(*done, name)
		}
	}

	if err := s.teamRepo.Delete(ctx, q, id); err != nil {
		return err
	}
	step("team")

	players, err := s.playerRepo.DeleteByTeamID(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete players: %w", err)
	}
	step("players")

	events, err := s.eventRepo.DeleteByTeamID(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	step("events")

	s.logger.InfoContext(ctx, "team deleted",
		slog.String("team_id", id),
		slog.Int64("players_deleted", players),
		slog.Int64("events_deleted", events))
	return nil
}

func (s *teamService) mapDeleteErr(id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrTeamNotFound):
		return ErrTeamNotFound
	default:
		return fmt.Errorf("failed to delete team %s: %w", id, err)
	}
}
