package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/Dosada05/presenza-calcio/db"
	"github.com/Dosada05/presenza-calcio/models"
)

var (
	ErrUserRoleNotFound = errors.New("user role not found")
)

type UserRoleRepository interface {
	GetByID(ctx context.Context, id string) (*models.UserRole, error)
	GetByEmail(ctx context.Context, email string) (*models.UserRole, error)
	// List returns every record, newest first.
	List(ctx context.Context) ([]*models.UserRole, error)
	// CreateIfMissing inserts ur unless a record with the same email exists.
	// It reports whether a row was inserted.
	CreateIfMissing(ctx context.Context, ur *models.UserRole) (bool, error)
	UpdateRole(ctx context.Context, id string, role models.Role, approvedBy *string, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

type userRoleRow struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	Role       string  `json:"role"`
	ApprovedBy *string `json:"approved_by"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  *string `json:"updated_at"`
}

func (r userRoleRow) toModel() *models.UserRole {
	return &models.UserRole{
		ID:         r.ID,
		Email:      r.Email,
		Role:       models.Role(r.Role),
		ApprovedBy: r.ApprovedBy,
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTimePtr(r.UpdatedAt),
	}
}

const userRoleColumns = `id, email, role, approved_by, created_at, updated_at`

type sqlUserRoleRepository struct {
	q db.Querier
}

func NewUserRoleRepository(q db.Querier) UserRoleRepository {
	return &sqlUserRoleRepository{q: q}
}

func (r *sqlUserRoleRepository) GetByID(ctx context.Context, id string) (*models.UserRole, error) {
	return r.getOne(ctx, `SELECT `+userRoleColumns+` FROM user_roles WHERE id = ?`, id)
}

func (r *sqlUserRoleRepository) GetByEmail(ctx context.Context, email string) (*models.UserRole, error) {
	return r.getOne(ctx, `SELECT `+userRoleColumns+` FROM user_roles WHERE email = ?`, models.NormalizeEmail(email))
}

func (r *sqlUserRoleRepository) getOne(ctx context.Context, query string, args ...any) (*models.UserRole, error) {
	var rows []userRoleRow
	if err := r.q.Query(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrUserRoleNotFound
	}
	return rows[0].toModel(), nil
}

func (r *sqlUserRoleRepository) List(ctx context.Context) ([]*models.UserRole, error) {
	var rows []userRoleRow
	if err := r.q.Query(ctx, &rows, `SELECT `+userRoleColumns+` FROM user_roles ORDER BY created_at DESC`); err != nil {
		return nil, err
	}
	roles := make([]*models.UserRole, 0, len(rows))
	for _, row := range rows {
		roles = append(roles, row.toModel())
	}
	return roles, nil
}

func (r *sqlUserRoleRepository) CreateIfMissing(ctx context.Context, ur *models.UserRole) (bool, error) {
	query := `
		INSERT INTO user_roles (id, email, role, approved_by, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (email) DO NOTHING`

	n, err := r.q.Exec(ctx, query,
		ur.ID,
		models.NormalizeEmail(ur.Email),
		string(ur.Role),
		ur.ApprovedBy,
		formatTime(ur.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *sqlUserRoleRepository) UpdateRole(ctx context.Context, id string, role models.Role, approvedBy *string, updatedAt time.Time) error {
	query := `UPDATE user_roles SET role = ?, approved_by = ?, updated_at = ? WHERE id = ?`

	n, err := r.q.Exec(ctx, query, string(role), approvedBy, formatTime(updatedAt), id)
	if err != nil {
		return err
	}
	return checkAffectedRows(n, ErrUserRoleNotFound)
}

func (r *sqlUserRoleRepository) Delete(ctx context.Context, id string) error {
	n, err := r.q.Exec(ctx, `DELETE FROM user_roles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(n, ErrUserRoleNotFound)
}
