package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Dosada05/presenza-calcio/identity"
	"github.com/Dosada05/presenza-calcio/models"
	"github.com/Dosada05/presenza-calcio/repositories"
	"github.com/Dosada05/presenza-calcio/storage"
	"github.com/Dosada05/presenza-calcio/utils"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	minAge             = 6
	maxAge             = 120
	adultAge           = 18
	consentTokenLength = 16
	exportLinkTTL      = 15 * time.Minute
	// DeleteConfirmationWord must be typed by the user to delete their account.
	DeleteConfirmationWord = "ELIMINA"
)

type PrivacyService interface {
	VerifyAge(birthDate string) (*models.AgeCheck, error)
	RecordParentalConsent(ctx context.Context, actor models.Principal, input ConsentInput) (*models.ParentalConsent, error)
	// ConfirmParentalConsent is reached from the emailed link and needs no login.
	ConfirmParentalConsent(ctx context.Context, id, token string) (*models.ParentalConsent, error)
	ExportPersonalData(ctx context.Context, actor models.Principal) (*ExportResult, error)
	DeleteAccount(ctx context.Context, actor models.Principal, confirmation string) error
}

type ConsentInput struct {
	ChildName             string
	ChildBirthDate        string
	ParentName            string
	ParentSurname         string
	ParentEmail           string
	ParentPhone           string
	Relationship          models.ParentRelationship
	PrivacyAccepted       bool
	TermsAccepted         bool
	ParentalAuthorization bool
}

// ResponseRecord is one answer given for a player linked to the exporting user.
type ResponseRecord struct {
	EventID     string                `json:"event_id"`
	TeamID      string                `json:"team_id"`
	Title       string                `json:"title"`
	Date        string                `json:"date"`
	PlayerID    string                `json:"player_id"`
	Status      models.ResponseStatus `json:"status"`
	RespondedAt time.Time             `json:"respondedAt"`
}

type PersonalDataExport struct {
	Email      string                    `json:"email"`
	ExportDate time.Time                 `json:"exportDate"`
	Role       *models.UserRole          `json:"role,omitempty"`
	Players    []*models.Player          `json:"players"`
	Responses  []ResponseRecord          `json:"responses"`
	Consents   []*models.ParentalConsent `json:"parental_consents"`
}

// ExportResult holds either a download link or, without object storage, the document itself.
type ExportResult struct {
	DownloadURL string              `json:"download_url,omitempty"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
	Data        *PersonalDataExport `json:"data,omitempty"`
}

type privacyService struct {
	roleRepo    repositories.UserRoleRepository
	playerRepo  repositories.PlayerRepository
	eventRepo   repositories.EventRepository
	consentRepo repositories.ConsentRepository
	provider    identity.Provider
	archives    storage.ArchiveStore
	mailer      Mailer
	baseURL     string
	logger      *slog.Logger
	now         func() time.Time
}

type PrivacyDeps struct {
	RoleRepo    repositories.UserRoleRepository
	PlayerRepo  repositories.PlayerRepository
	EventRepo   repositories.EventRepository
	ConsentRepo repositories.ConsentRepository
	// Provider, Archives and Mailer are optional.
	Provider identity.Provider
	Archives storage.ArchiveStore
	Mailer   Mailer
	BaseURL  string
	Logger   *slog.Logger
}

func NewPrivacyService(deps PrivacyDeps) PrivacyService {
	return &privacyService{
		roleRepo:    deps.RoleRepo,
		playerRepo:  deps.PlayerRepo,
		eventRepo:   deps.EventRepo,
		consentRepo: deps.ConsentRepo,
		provider:    deps.Provider,
		archives:    deps.Archives,
		mailer:      deps.Mailer,
		baseURL:     strings.TrimRight(deps.BaseURL, "/"),
		logger:      deps.Logger,
		now:         time.Now,
	}
}

// AgeOn returns the age in whole years on day now.
func AgeOn(birth, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age
}

func (s *privacyService) VerifyAge(birthDate string) (*models.AgeCheck, error) {
	birth, err := time.Parse("2006-01-02", strings.TrimSpace(birthDate))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: expected YYYY-MM-DD", ErrValidationFailed, ErrInvalidBirthDate)
	}
	age := AgeOn(birth, s.now())
	switch {
	case age < 0 || age > maxAge:
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, ErrInvalidBirthDate)
	case age < minAge:
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, ErrTooYoung)
	}
	return &models.AgeCheck{
		Age:                     age,
		BirthDate:               birth.Format("2006-01-02"),
		RequiresParentalConsent: age < adultAge,
	}, nil
}

func (s *privacyService) RecordParentalConsent(ctx context.Context, actor models.Principal, input ConsentInput) (*models.ParentalConsent, error) {
	required := map[string]string{
		"child_name":       input.ChildName,
		"child_birth_date": input.ChildBirthDate,
		"parent_name":      input.ParentName,
		"parent_surname":   input.ParentSurname,
		"parent_email":     input.ParentEmail,
		"parent_phone":     input.ParentPhone,
	}
	var missing []string
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, validationError("missing required fields: %s", strings.Join(missing, ", "))
	}
	if !utils.IsValidEmail(input.ParentEmail) {
		return nil, validationError("invalid parent email %q", input.ParentEmail)
	}
	if !input.Relationship.Valid() {
		return nil, validationError("relationship must be padre, madre or tutore")
	}
	if !input.PrivacyAccepted || !input.TermsAccepted || !input.ParentalAuthorization {
		return nil, validationError("privacy, terms and parental authorization must all be accepted")
	}

	check, err := s.VerifyAge(input.ChildBirthDate)
	if err != nil {
		return nil, err
	}
	if !check.RequiresParentalConsent {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, ErrNotMinor)
	}

	token, err := utils.GenerateSecureToken(consentTokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate consent token: %w", err)
	}
	hash, err := utils.HashToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to hash consent token: %w", err)
	}

	consent := &models.ParentalConsent{
		ID:                    uuid.NewString(),
		ChildEmail:            models.NormalizeEmail(actor.Email),
		ChildName:             strings.TrimSpace(input.ChildName),
		ChildBirthDate:        check.BirthDate,
		ParentName:            strings.TrimSpace(input.ParentName),
		ParentSurname:         strings.TrimSpace(input.ParentSurname),
		ParentEmail:           models.NormalizeEmail(input.ParentEmail),
		ParentPhone:           strings.TrimSpace(input.ParentPhone),
		Relationship:          input.Relationship,
		PrivacyAccepted:       true,
		TermsAccepted:         true,
		ParentalAuthorization: true,
		ConsentDate:           s.now().UTC(),
		TokenHash:             hash,
	}
	if err := s.consentRepo.Create(ctx, consent); err != nil {
		return nil, fmt.Errorf("failed to store parental consent: %w", err)
	}
	s.logger.InfoContext(ctx, "parental consent recorded", slog.String("consent_id", consent.ID), slog.String("child_email", consent.ChildEmail))

	s.sendConsentEmail(ctx, consent, token)
	return consent, nil
}

func (s *privacyService) sendConsentEmail(ctx context.Context, consent *models.ParentalConsent, token string) {
	if s.mailer == nil {
		s.logger.WarnContext(ctx, "smtp not configured, consent confirmation email not sent", slog.String("consent_id", consent.ID))
		return
	}
	link := fmt.Sprintf("%s/api/privacy/parental-consents/%s/confirm?token=%s", s.baseURL, url.PathEscape(consent.ID), url.QueryEscape(token))
	if err := s.mailer.SendParentalConsentEmail(consent.ParentEmail, consent.ParentName, consent.ChildName, string(consent.Relationship), link); err != nil {
		s.logger.ErrorContext(ctx, "failed to send consent confirmation email", slog.String("consent_id", consent.ID), slog.Any("error", err))
	}
}

func (s *privacyService) ConfirmParentalConsent(ctx context.Context, id, token string) (*models.ParentalConsent, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidConsentToken
	}
	consent, err := s.consentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrConsentNotFound) {
			return nil, ErrConsentNotFound
		}
		return nil, fmt.Errorf("failed to load consent %s: %w", id, err)
	}
	if !utils.CheckTokenHash(token, consent.TokenHash) {
		return nil, ErrInvalidConsentToken
	}
	if consent.ConfirmedAt != nil {
		return consent, nil
	}

	now := s.now().UTC()
	if err := s.consentRepo.MarkConfirmed(ctx, id, now); err != nil {
		if errors.Is(err, repositories.ErrConsentNotFound) {
			return nil, ErrConsentNotFound
		}
		return nil, fmt.Errorf("failed to confirm consent %s: %w", id, err)
	}
	consent.ConfirmedAt = &now
	s.logger.InfoContext(ctx, "parental consent confirmed", slog.String("consent_id", id))
	return consent, nil
}

func (s *privacyService) ExportPersonalData(ctx context.Context, actor models.Principal) (*ExportResult, error) {
	email := models.NormalizeEmail(actor.Email)
	doc := &PersonalDataExport{Email: email, ExportDate: s.now().UTC()}

	var (
		players []*models.Player
		events  []*models.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		role, err := s.roleRepo.GetByEmail(gctx, email)
		if err != nil && !errors.Is(err, repositories.ErrUserRoleNotFound) {
			return fmt.Errorf("role: %w", err)
		}
		doc.Role = role
		return nil
	})
	g.Go(func() error {
		var err error
		players, err = s.playerRepo.ListByEmail(gctx, email)
		if err != nil {
			return fmt.Errorf("players: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		events, err = s.eventRepo.List(gctx, "")
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		consents, err := s.consentRepo.ListByChildEmail(gctx, email)
		if err != nil {
			return fmt.Errorf("consents: %w", err)
		}
		doc.Consents = consents
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to gather personal data: %w", err)
	}

	doc.Players = players
	doc.Responses = collectResponses(players, events)
	if doc.Consents == nil {
		doc.Consents = []*models.ParentalConsent{}
	}

	if s.archives == nil {
		return &ExportResult{Data: doc}, nil
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	key := fmt.Sprintf("exports/%s/%s.json", uuid.NewString(), doc.ExportDate.Format("2006-01-02"))
	if _, err := s.archives.Upload(ctx, key, "application/json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to store export archive: %w", err)
	}
	link, err := s.archives.PresignGet(ctx, key, exportLinkTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign export link: %w", err)
	}
	expires := doc.ExportDate.Add(exportLinkTTL)
	s.logger.InfoContext(ctx, "personal data exported", slog.String("email", email), slog.String("key", key))
	return &ExportResult{DownloadURL: link, ExpiresAt: &expires}, nil
}

func collectResponses(players []*models.Player, events []*models.Event) []ResponseRecord {
	records := []ResponseRecord{}
	for _, e := range events {
		for _, p := range players {
			r, ok := e.Responses[p.ID]
			if !ok {
				continue
			}
			records = append(records, ResponseRecord{
				EventID:     e.ID,
				TeamID:      e.TeamID,
				Title:       e.Title,
				Date:        e.Date,
				PlayerID:    p.ID,
				Status:      r.Status,
				RespondedAt: r.RespondedAt,
			})
		}
	}
	return records
}

// DeleteAccount removes the login, the role record and the consents of the
// caller, and clears their email from roster entries. It stops at the first failure.
func (s *privacyService) DeleteAccount(ctx context.Context, actor models.Principal, confirmation string) error {
	if confirmation != DeleteConfirmationWord {
		return fmt.Errorf("%w: %w", ErrValidationFailed, ErrDeleteConfirmation)
	}
	email := models.NormalizeEmail(actor.Email)
	fail := func(step string, err error) error {
		s.logger.ErrorContext(ctx, "account deletion stopped", slog.String("email", email), slog.String("step", step), slog.Any("error", err))
		return fmt.Errorf("failed to delete account (%s): %w", step, err)
	}

	if s.provider != nil {
		user, err := s.provider.FindUserByEmail(ctx, email)
		switch {
		case err == nil:
			if err := s.provider.DeleteUser(ctx, user.ID); err != nil && !errors.Is(err, identity.ErrUserNotFound) {
				return fail("identity", identityErr("delete user", err))
			}
		case errors.Is(err, identity.ErrUserNotFound):
		default:
			return fail("identity", identityErr("look up user", err))
		}
	}

	role, err := s.roleRepo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.roleRepo.Delete(ctx, role.ID); err != nil && !errors.Is(err, repositories.ErrUserRoleNotFound) {
			return fail("role", err)
		}
	case errors.Is(err, repositories.ErrUserRoleNotFound):
	default:
		return fail("role", err)
	}

	consents, err := s.consentRepo.DeleteByChildEmail(ctx, email)
	if err != nil {
		return fail("consents", err)
	}
	scrubbed, err := s.playerRepo.ScrubEmail(ctx, email)
	if err != nil {
		return fail("players", err)
	}

	s.logger.InfoContext(ctx, "account deleted",
		slog.String("email", email),
		slog.Int64("consents_deleted", consents),
		slog.Int64("players_scrubbed", scrubbed))
	return nil
}
