package repositories

import (
	"context"
	"errors"

	"github.com/Dosada05/presenza-calcio/db"
	"github.com/Dosada05/presenza-calcio/models"
)

var (
	ErrTeamNotFound = errors.New("team not found")
	ErrTeamConflict = errors.New("team id already exists")
)

type TeamRepository interface {
	Create(ctx context.Context, team *models.Team) error
	GetByID(ctx context.Context, id string) (*models.Team, error)
	List(ctx context.Context) ([]*models.Team, error)
	Update(ctx context.Context, team *models.Team) error
	// Delete removes the team row only; dependent rows are removed by the caller.
	Delete(ctx context.Context, exec db.Querier, id string) error
}

type teamRow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Color    string `json:"color"`
	Icon     string `json:"icon"`
}

func (r teamRow) toModel() *models.Team {
	return &models.Team{ID: r.ID, Name: r.Name, Category: r.Category, Color: r.Color, Icon: r.Icon}
}

type sqlTeamRepository struct {
	q db.Querier
}

func NewTeamRepository(q db.Querier) TeamRepository {
	return &sqlTeamRepository{q: q}
}

func (r *sqlTeamRepository) Create(ctx context.Context, team *models.Team) error {
	query := `INSERT INTO teams (id, name, category, color, icon) VALUES (?, ?, ?, ?, ?)`

	_, err := r.q.Exec(ctx, query, team.ID, team.Name, team.Category, team.Color, team.Icon)
	if err != nil {
		if errors.Is(err, db.ErrConflict) {
			return ErrTeamConflict
		}
		return err
	}
	return nil
}

func (r *sqlTeamRepository) GetByID(ctx context.Context, id string) (*models.Team, error) {
	query := `SELECT id, name, category, color, icon FROM teams WHERE id = ?`

	var rows []teamRow
	if err := r.q.Query(ctx, &rows, query, id); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrTeamNotFound
	}
	return rows[0].toModel(), nil
}

func (r *sqlTeamRepository) List(ctx context.Context) ([]*models.Team, error) {
	query := `SELECT id, name, category, color, icon FROM teams ORDER BY name`

	var rows []teamRow
	if err := r.q.Query(ctx, &rows, query); err != nil {
		return nil, err
	}
	teams := make([]*models.Team, 0, len(rows))
	for _, row := range rows {
		teams = append(teams, row.toModel())
	}
	return teams, nil
}

func (r *sqlTeamRepository) Update(ctx context.Context, team *models.Team) error {
	query := `UPDATE teams SET name = ?, category = ?, color = ?, icon = ? WHERE id = ?`

	n, err := r.q.Exec(ctx, query, team.Name, team.Category, team.Color, team.Icon, team.ID)
	if err != nil {
		return err
	}
	return checkAffectedRows(n, ErrTeamNotFound)
}

func (r *sqlTeamRepository) Delete(ctx context.Context, exec db.Querier, id string) error {
	n, err := getExecutor(r.q, exec).Exec(ctx, `DELETE FROM teams WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(n, ErrTeamNotFound)
}
