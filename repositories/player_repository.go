package repositories

import (
	"context"
	"errors"

	"github.com/Dosada05/presenza-calcio/db"
	"github.com/Dosada05/presenza-calcio/models"
)

var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrPlayerConflict = errors.New("player id already exists")
)

type PlayerRepository interface {
	Create(ctx context.Context, player *models.Player) error
	GetByID(ctx context.Context, id string) (*models.Player, error)
	// List returns all players, or only those of teamID when it is not empty.
	List(ctx context.Context, teamID string) ([]*models.Player, error)
	ListByEmail(ctx context.Context, email string) ([]*models.Player, error)
	Update(ctx context.Context, player *models.Player) error
	Delete(ctx context.Context, id string) error
	DeleteByTeamID(ctx context.Context, exec db.Querier, teamID string) (int64, error)
	// ScrubEmail clears the contact email from every player carrying it.
	ScrubEmail(ctx context.Context, email string) (int64, error)
}

type playerRow struct {
	ID     string `json:"id"`
	TeamID string `json:"team_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Number int    `json:"number"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
}

func (r playerRow) toModel() *models.Player {
	return &models.Player{
		ID:     r.ID,
		TeamID: r.TeamID,
		Name:   r.Name,
		Role:   r.Role,
		Number: r.Number,
		Phone:  r.Phone,
		Email:  r.Email,
	}
}

const playerColumns = `id, team_id, name, role, number, phone, email`

type sqlPlayerRepository struct {
	q db.Querier
}

func NewPlayerRepository(q db.Querier) PlayerRepository {
	return &sqlPlayerRepository{q: q}
}

func (r *sqlPlayerRepository) Create(ctx context.Context, p *models.Player) error {
	query := `INSERT INTO players (` + playerColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.q.Exec(ctx, query, p.ID, p.TeamID, p.Name, p.Role, p.Number, p.Phone, p.Email)
	if err != nil {
		if errors.Is(err, db.ErrConflict) {
			return ErrPlayerConflict
		}
		return err
	}
	return nil
}

func (r *sqlPlayerRepository) GetByID(ctx context.Context, id string) (*models.Player, error) {
	players, err := r.list(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(players) == 0 {
		return nil, ErrPlayerNotFound
	}
	return players[0], nil
}

func (r *sqlPlayerRepository) List(ctx context.Context, teamID string) ([]*models.Player, error) {
	if teamID == "" {
		return r.list(ctx, `SELECT `+playerColumns+` FROM players ORDER BY team_id, number, name`)
	}
	return r.list(ctx, `SELECT `+playerColumns+` FROM players WHERE team_id = ? ORDER BY number, name`, teamID)
}

func (r *sqlPlayerRepository) ListByEmail(ctx context.Context, email string) ([]*models.Player, error) {
	return r.list(ctx, `SELECT `+playerColumns+` FROM players WHERE LOWER(email) = ? ORDER BY team_id`, email)
}

func (r *sqlPlayerRepository) list(ctx context.Context, query string, args ...any) ([]*models.Player, error) {
	var rows []playerRow
	if err := r.q.Query(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	players := make([]*models.Player, 0, len(rows))
	for _, row := range rows {
		players = append(players, row.toModel())
	}
	return players, nil
}

func (r *sqlPlayerRepository) Update(ctx context.Context, p *models.Player) error {
	query := `UPDATE players SET name = ?, role = ?, number = ?, phone = ?, email = ? WHERE id = ?`

	n, err := r.q.Exec(ctx, query, p.Name, p.Role, p.Number, p.Phone, p.Email, p.ID)
	if err != nil {
		return err
	}
	return checkAffectedRows(n, ErrPlayerNotFound)
}

func (r *sqlPlayerRepository) Delete(ctx context.Context, id string) error {
	n, err := r.q.Exec(ctx, `DELETE FROM players WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(n, ErrPlayerNotFound)
}

func (r *sqlPlayerRepository) DeleteByTeamID(ctx context.Context, exec db.Querier, teamID string) (int64, error) {
	return getExecutor(r.q, exec).Exec(ctx, `DELETE FROM players WHERE team_id = ?`, teamID)
}

func (r *sqlPlayerRepository) ScrubEmail(ctx context.Context, email string) (int64, error) {
	return r.q.Exec(ctx, `UPDATE players SET email = '' WHERE LOWER(email) = ?`, email)
}
