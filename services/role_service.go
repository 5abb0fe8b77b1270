package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/presenza-calcio/models"
	"github.com/Dosada05/presenza-calcio/repositories"
	"github.com/Dosada05/presenza-calcio/utils"
	"github.com/google/uuid"
)

// bootstrapApprover is recorded as approved_by for admins listed in configuration.
const bootstrapApprover = "bootstrap"

type RoleService interface {
	// UpsertUserRole returns the record of email, creating a pending one on first login.
	UpsertUserRole(ctx context.Context, email string) (*models.UserRole, error)
	// Resolve returns the principal of an authenticated email without creating a record.
	Resolve(ctx context.Context, email string) (models.Principal, error)
	ListRoles(ctx context.Context, actor models.Principal) ([]*models.UserRole, error)
	LookupRole(ctx context.Context, actor models.Principal, email string) (*models.UserRole, error)
	ApproveRole(ctx context.Context, actor models.Principal, id string, role models.Role) (*models.UserRole, error)
	RevokeRole(ctx context.Context, actor models.Principal, id string) error
}

type roleService struct {
	roleRepo    repositories.UserRoleRepository
	adminEmails map[string]struct{}
	logger      *slog.Logger
	now         func() time.Time
}

func NewRoleService(roleRepo repositories.UserRoleRepository, adminEmails []string, logger *slog.Logger) RoleService {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		if e = models.NormalizeEmail(e); e != "" {
			admins[e] = struct{}{}
		}
	}
	return &roleService{
		roleRepo:    roleRepo,
		adminEmails: admins,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *roleService) UpsertUserRole(ctx context.Context, email string) (*models.UserRole, error) {
	email = models.NormalizeEmail(email)
	if !utils.IsValidEmail(email) {
		return nil, validationError("invalid email %q", email)
	}

	record := &models.UserRole{
		ID:        uuid.NewString(),
		Email:     email,
		Role:      models.RolePending,
		CreatedAt: s.now().UTC(),
	}
	if _, ok := s.adminEmails[email]; ok {
		approver := bootstrapApprover
		record.Role = models.RoleAdmin
		record.ApprovedBy = &approver
	}

	created, err := s.roleRepo.CreateIfMissing(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert role for %s: %w", email, err)
	}
	if created {
		s.logger.InfoContext(ctx, "user role created", slog.String("email", email), slog.String("role", string(record.Role)))
	}

	stored, err := s.roleRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to read role for %s: %w", email, err)
	}
	return stored, nil
}

func (s *roleService) Resolve(ctx context.Context, email string) (models.Principal, error) {
	email = models.NormalizeEmail(email)
	record, err := s.roleRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrUserRoleNotFound) {
			return models.Principal{Email: email, Role: models.RolePending}, nil
		}
		return models.Principal{}, fmt.Errorf("failed to resolve role for %s: %w", email, err)
	}
	return models.Principal{Email: email, Role: record.Role, UserRoleID: record.ID}, nil
}

func (s *roleService) ListRoles(ctx context.Context, actor models.Principal) ([]*models.UserRole, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	roles, err := s.roleRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

func (s *roleService) LookupRole(ctx context.Context, actor models.Principal, email string) (*models.UserRole, error) {
	email = models.NormalizeEmail(email)
	if email != models.NormalizeEmail(actor.Email) {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
	}
	record, err := s.roleRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrUserRoleNotFound) {
			return nil, ErrUserRoleNotFound
		}
		return nil, fmt.Errorf("failed to look up role for %s: %w", email, err)
	}
	return record, nil
}

// isValidRoleTransition allows leaving pending and moving between approved roles.
// Nothing moves back to pending; revocation deletes the record instead.
func isValidRoleTransition(current, next models.Role) bool {
	if !next.Valid() || next == models.RolePending {
		return false
	}
	return current.Valid()
}

func (s *roleService) ApproveRole(ctx context.Context, actor models.Principal, id string, role models.Role) (*models.UserRole, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, validationError("unknown role %q", role)
	}

	current, err := s.roleRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrUserRoleNotFound) {
			return nil, ErrUserRoleNotFound
		}
		return nil, fmt.Errorf("failed to load role %s: %w", id, err)
	}
	if !isValidRoleTransition(current.Role, role) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidRoleTransition, current.Role, role)
	}

	approver := actor.Email
	if err := s.roleRepo.UpdateRole(ctx, id, role, &approver, s.now().UTC()); err != nil {
		if errors.Is(err, repositories.ErrUserRoleNotFound) {
			return nil, ErrUserRoleNotFound
		}
		return nil, fmt.Errorf("failed to update role %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "user role changed",
		slog.String("email", current.Email),
		slog.String("from", string(current.Role)),
		slog.String("to", string(role)),
		slog.String("approved_by", approver))

	return s.roleRepo.GetByID(ctx, id)
}

func (s *roleService) RevokeRole(ctx context.Context, actor models.Principal, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	record, err := s.roleRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrUserRoleNotFound) {
			return ErrUserRoleNotFound
		}
		return fmt.Errorf("failed to load role %s: %w", id, err)
	}
	if record.Email == models.NormalizeEmail(actor.Email) {
		return ErrSelfRevokeForbidden
	}
	if err := s.roleRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrUserRoleNotFound) {
			return ErrUserRoleNotFound
		}
		return fmt.Errorf("failed to revoke role %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "user role revoked", slog.String("email", record.Email), slog.String("revoked_by", actor.Email))
	return nil
}
