package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dosada05/presenza-calcio/models"
	"github.com/Dosada05/presenza-calcio/repositories"
	"github.com/Dosada05/presenza-calcio/utils"
	"github.com/google/uuid"
)

type PlayerService interface {
	CreatePlayer(ctx context.Context, actor models.Principal, input PlayerInput) (*models.Player, error)
	GetPlayer(ctx context.Context, actor models.Principal, id string) (*models.Player, error)
	ListPlayers(ctx context.Context, actor models.Principal, teamID string) ([]*models.Player, error)
	UpdatePlayer(ctx context.Context, actor models.Principal, id string, input PlayerInput) (*models.Player, error)
	DeletePlayer(ctx context.Context, actor models.Principal, id string) error
}

type PlayerInput struct {
	ID     string
	TeamID string
	Name   string
	Role   string
	Number int
	Phone  string
	Email  string
}

type playerService struct {
	playerRepo repositories.PlayerRepository
	teamRepo   repositories.TeamRepository
}

func NewPlayerService(playerRepo repositories.PlayerRepository, teamRepo repositories.TeamRepository) PlayerService {
	return &playerService{
		playerRepo: playerRepo,
		teamRepo:   teamRepo,
	}
}

func validatePlayerInput(input PlayerInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return validationError("player name is required")
	}
	if input.Number < 0 {
		return validationError("player number must not be negative")
	}
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return validationError("invalid player email %q", input.Email)
	}
	return nil
}

func (s *playerService) CreatePlayer(ctx context.Context, actor models.Principal, input PlayerInput) (*models.Player, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.TeamID) == "" {
		return nil, validationError("team_id is required")
	}
	if err := validatePlayerInput(input); err != nil {
		return nil, err
	}
	if _, err := s.teamRepo.GetByID(ctx, input.TeamID); err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return nil, validationError("team %s does not exist", input.TeamID)
		}
		return nil, fmt.Errorf("failed to load team %s: %w", input.TeamID, err)
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}
	player := &models.Player{
		ID:     id,
		TeamID: input.TeamID,
		Name:   strings.TrimSpace(input.Name),
		Role:   strings.TrimSpace(input.Role),
		Number: input.Number,
		Phone:  strings.TrimSpace(input.Phone),
		Email:  models.NormalizeEmail(input.Email),
	}
	if err := s.playerRepo.Create(ctx, player); err != nil {
		if errors.Is(err, repositories.ErrPlayerConflict) {
			return nil, ErrPlayerConflict
		}
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return player, nil
}

func (s *playerService) GetPlayer(ctx context.Context, actor models.Principal, id string) (*models.Player, error) {
	if err := requireApproved(actor); err != nil {
		return nil, err
	}
	player, err := s.playerRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player %s: %w", id, err)
	}
	return player, nil
}

func (s *playerService) ListPlayers(ctx context.Context, actor models.Principal, teamID string) ([]*models.Player, error) {
	if err := requireApproved(actor); err != nil {
		return nil, err
	}
	players, err := s.playerRepo.List(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	return players, nil
}

// UpdatePlayer edits the roster fields. The team of a player is fixed at creation.
func (s *playerService) UpdatePlayer(ctx context.Context, actor models.Principal, id string, input PlayerInput) (*models.Player, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := validatePlayerInput(input); err != nil {
		return nil, err
	}

	player := &models.Player{
		ID:     id,
		Name:   strings.TrimSpace(input.Name),
		Role:   strings.TrimSpace(input.Role),
		Number: input.Number,
		Phone:  strings.TrimSpace(input.Phone),
		Email:  models.NormalizeEmail(input.Email),
	}
	if err := s.playerRepo.Update(ctx, player); err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to update player %s: %w", id, err)
	}
	return s.playerRepo.GetByID(ctx, id)
}

func (s *playerService) DeletePlayer(ctx context.Context, actor models.Principal, id string) error {
	if err := requireStaff(actor); err != nil {
		return err
	}
	if err := s.playerRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return ErrPlayerNotFound
		}
		return fmt.Errorf("failed to delete player %s: %w", id, err)
	}
	return nil
}
