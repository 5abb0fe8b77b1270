package models

import "time"

type ParentRelationship string

const (
	RelationshipFather   ParentRelationship = "padre"
	RelationshipMother   ParentRelationship = "madre"
	RelationshipGuardian ParentRelationship = "tutore"
)

func (r ParentRelationship) Valid() bool {
	switch r {
	case RelationshipFather, RelationshipMother, RelationshipGuardian:
		return true
	}
	return false
}

// ParentalConsent records a parent's authorization for a minor's account.
type ParentalConsent struct {
	ID                    string             `json:"id"`
	ChildEmail            string             `json:"child_email"`
	ChildName             string             `json:"child_name"`
	ChildBirthDate        string             `json:"child_birth_date"`
	ParentName            string             `json:"parent_name"`
	ParentSurname         string             `json:"parent_surname"`
	ParentEmail           string             `json:"parent_email"`
	ParentPhone           string             `json:"parent_phone"`
	Relationship          ParentRelationship `json:"relationship"`
	PrivacyAccepted       bool               `json:"privacy_accepted"`
	TermsAccepted         bool               `json:"terms_accepted"`
	ParentalAuthorization bool               `json:"parental_authorization"`
	ConsentDate           time.Time          `json:"consent_date"`
	ConfirmedAt           *time.Time         `json:"confirmed_at,omitempty"`
	TokenHash             string             `json:"-"`
}

// AgeCheck is the outcome of an age verification.
type AgeCheck struct {
	Age                     int    `json:"age"`
	BirthDate               string `json:"birth_date"`
	RequiresParentalConsent bool   `json:"requires_parental_consent"`
}
