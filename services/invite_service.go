package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Dosada05/presenza-calcio/identity"
	"github.com/Dosada05/presenza-calcio/models"
	"github.com/Dosada05/presenza-calcio/utils"
)

type InviteService interface {
	// InviteUser creates the account or re-sends the invitation of an existing one.
	InviteUser(ctx context.Context, actor models.Principal, input InviteInput) (*InviteResult, error)
}

type InviteInput struct {
	Email     string
	FirstName string
	LastName  string
}

type InviteResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ClerkUserID string `json:"clerkUserId,omitempty"`
	UserExists  bool   `json:"userExists"`
}

type inviteService struct {
	provider identity.Provider
	logger   *slog.Logger
}

// NewInviteService accepts a nil provider when no identity secret is configured;
// InviteUser then fails with ErrIdentityNotConfigured.
func NewInviteService(provider identity.Provider, logger *slog.Logger) InviteService {
	return &inviteService{provider: provider, logger: logger}
}

func (s *inviteService) InviteUser(ctx context.Context, actor models.Principal, input InviteInput) (*InviteResult, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	email := models.NormalizeEmail(input.Email)
	firstName := strings.TrimSpace(input.FirstName)
	lastName := strings.TrimSpace(input.LastName)
	if email == "" || firstName == "" || lastName == "" {
		return nil, validationError("email, firstName and lastName are required")
	}
	if !utils.IsValidEmail(email) {
		return nil, validationError("invalid email %q", email)
	}
	if s.provider == nil {
		return nil, ErrIdentityNotConfigured
	}

	existing, err := s.provider.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		return s.reinvite(ctx, email, existing)
	case errors.Is(err, identity.ErrUserNotFound):
	default:
		return nil, identityErr("look up user", err)
	}

	user, err := s.provider.CreateUser(ctx, email, firstName, lastName)
	if err != nil {
		if errors.Is(err, identity.ErrUserExists) {
			// Created between lookup and create; treat like an existing account.
			return s.reinvite(ctx, email, nil)
		}
		return nil, identityErr("create user", err)
	}
	s.logger.InfoContext(ctx, "user created and invited", slog.String("email", email), slog.String("invited_by", actor.Email))
	return &InviteResult{
		Success:     true,
		Message:     "Utente creato e invito inviato con successo!",
		ClerkUserID: user.ID,
		UserExists:  false,
	}, nil
}

// reinvite revokes at most one outstanding invitation, tolerating failures, and issues a new one.
func (s *inviteService) reinvite(ctx context.Context, email string, user *identity.User) (*InviteResult, error) {
	revoked, err := s.provider.RevokePendingInvitation(ctx, email)
	if err != nil {
		s.logger.WarnContext(ctx, "revoke of pending invitation failed, continuing", slog.String("email", email), slog.Any("error", err))
	}

	if _, err := s.provider.CreateInvitation(ctx, email); err != nil {
		return nil, identityErr("create invitation", err)
	}
	s.logger.InfoContext(ctx, "invitation re-sent", slog.String("email", email), slog.Bool("revoked_previous", revoked))

	result := &InviteResult{
		Success:    true,
		Message:    "Utente già registrato: nuovo invito inviato",
		UserExists: true,
	}
	if user != nil {
		result.ClerkUserID = user.ID
	}
	return result, nil
}

func identityErr(op string, err error) error {
	if errors.Is(err, identity.ErrTimeout) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrIdentityUnavailable, op, err)
}
