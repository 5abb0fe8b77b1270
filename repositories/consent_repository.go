package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/Dosada05/presenza-calcio/db"
	"github.com/Dosada05/presenza-calcio/models"
)

var (
	ErrConsentNotFound = errors.New("parental consent not found")
)

type ConsentRepository interface {
	Create(ctx context.Context, consent *models.ParentalConsent) error
	GetByID(ctx context.Context, id string) (*models.ParentalConsent, error)
	ListByChildEmail(ctx context.Context, email string) ([]*models.ParentalConsent, error)
	// MarkConfirmed sets confirmed_at unless it is already set. Confirming twice is not an error.
	MarkConfirmed(ctx context.Context, id string, at time.Time) error
	DeleteByChildEmail(ctx context.Context, email string) (int64, error)
}

// Boolean acknowledgements are stored as 0/1 integers on every backend.
type consentRow struct {
	ID                    string  `json:"id"`
	ChildEmail            string  `json:"child_email"`
	ChildName             string  `json:"child_name"`
	ChildBirthDate        string  `json:"child_birth_date"`
	ParentName            string  `json:"parent_name"`
	ParentSurname         string  `json:"parent_surname"`
	ParentEmail           string  `json:"parent_email"`
	ParentPhone           string  `json:"parent_phone"`
	Relationship          string  `json:"relationship"`
	PrivacyAccepted       int     `json:"privacy_accepted"`
	TermsAccepted         int     `json:"terms_accepted"`
	ParentalAuthorization int     `json:"parental_authorization"`
	ConsentDate           string  `json:"consent_date"`
	ConfirmedAt           *string `json:"confirmed_at"`
	TokenHash             string  `json:"token_hash"`
}

func (r consentRow) toModel() *models.ParentalConsent {
	return &models.ParentalConsent{
		ID:                    r.ID,
		ChildEmail:            r.ChildEmail,
		ChildName:             r.ChildName,
		ChildBirthDate:        r.ChildBirthDate,
		ParentName:            r.ParentName,
		ParentSurname:         r.ParentSurname,
		ParentEmail:           r.ParentEmail,
		ParentPhone:           r.ParentPhone,
		Relationship:          models.ParentRelationship(r.Relationship),
		PrivacyAccepted:       r.PrivacyAccepted != 0,
		TermsAccepted:         r.TermsAccepted != 0,
		ParentalAuthorization: r.ParentalAuthorization != 0,
		ConsentDate:           parseTime(r.ConsentDate),
		ConfirmedAt:           parseTimePtr(r.ConfirmedAt),
		TokenHash:             r.TokenHash,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const consentColumns = `id, child_email, child_name, child_birth_date, parent_name, parent_surname,
	parent_email, parent_phone, relationship, privacy_accepted, terms_accepted,
	parental_authorization, consent_date, confirmed_at, token_hash`

type sqlConsentRepository struct {
	q db.Querier
}

func NewConsentRepository(q db.Querier) ConsentRepository {
	return &sqlConsentRepository{q: q}
}

func (r *sqlConsentRepository) Create(ctx context.Context, c *models.ParentalConsent) error {
	query := `INSERT INTO parental_consents (` + consentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.q.Exec(ctx, query,
		c.ID,
		models.NormalizeEmail(c.ChildEmail),
		c.ChildName,
		c.ChildBirthDate,
		c.ParentName,
		c.ParentSurname,
		c.ParentEmail,
		c.ParentPhone,
		string(c.Relationship),
		boolToInt(c.PrivacyAccepted),
		boolToInt(c.TermsAccepted),
		boolToInt(c.ParentalAuthorization),
		formatTime(c.ConsentDate),
		formatTimePtr(c.ConfirmedAt),
		c.TokenHash,
	)
	return err
}

func (r *sqlConsentRepository) GetByID(ctx context.Context, id string) (*models.ParentalConsent, error) {
	consents, err := r.list(ctx, `SELECT `+consentColumns+` FROM parental_consents WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(consents) == 0 {
		return nil, ErrConsentNotFound
	}
	return consents[0], nil
}

func (r *sqlConsentRepository) ListByChildEmail(ctx context.Context, email string) ([]*models.ParentalConsent, error) {
	return r.list(ctx, `SELECT `+consentColumns+` FROM parental_consents WHERE child_email = ? ORDER BY consent_date`,
		models.NormalizeEmail(email))
}

func (r *sqlConsentRepository) list(ctx context.Context, query string, args ...any) ([]*models.ParentalConsent, error) {
	var rows []consentRow
	if err := r.q.Query(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	consents := make([]*models.ParentalConsent, 0, len(rows))
	for _, row := range rows {
		consents = append(consents, row.toModel())
	}
	return consents, nil
}

func (r *sqlConsentRepository) MarkConfirmed(ctx context.Context, id string, at time.Time) error {
	n, err := r.q.Exec(ctx, `UPDATE parental_consents SET confirmed_at = ? WHERE id = ? AND confirmed_at IS NULL`, formatTime(at), id)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = r.GetByID(ctx, id)
	return err
}

func (r *sqlConsentRepository) DeleteByChildEmail(ctx context.Context, email string) (int64, error) {
	return r.q.Exec(ctx, `DELETE FROM parental_consents WHERE child_email = ?`, models.NormalizeEmail(email))
}
