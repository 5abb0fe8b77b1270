package services

import "errors"

// Errors shared by services and mapped once to HTTP statuses in handlers.
var (
	ErrValidationFailed   = errors.New("validation failed")
	ErrForbiddenOperation = errors.New("operation not allowed for the current user")

	ErrTeamNotFound     = errors.New("team not found")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrEventNotFound    = errors.New("event not found")
	ErrUserRoleNotFound = errors.New("user role not found")
	ErrConsentNotFound  = errors.New("parental consent not found")

	ErrTeamConflict   = errors.New("team id already exists")
	ErrPlayerConflict = errors.New("player id already exists")
	ErrEventConflict  = errors.New("event id already exists")

	// ErrEventVersionConflict is returned when an update carried a stale expected version.
	ErrEventVersionConflict = errors.New("event was modified by someone else")
	// ErrConcurrentUpdate is returned when a response could not be stored after the retry budget. Retryable.
	ErrConcurrentUpdate = errors.New("event is being updated concurrently, retry")

	ErrPlayerNotConvocated   = errors.New("player is not in the event convocati")
	ErrInvalidRoleTransition = errors.New("invalid role transition")
	ErrSelfRevokeForbidden   = errors.New("admins cannot revoke their own role")

	// ErrCascadeIncomplete is returned when a team delete stopped after removing some rows
	// on a backend without transactions. The remaining rows need manual cleanup.
	ErrCascadeIncomplete = errors.New("team delete cascade incomplete")

	ErrInvalidBirthDate      = errors.New("invalid birth date")
	ErrTooYoung              = errors.New("minimum age to register is 6 years")
	ErrNotMinor              = errors.New("parental consent is only required for minors")
	ErrInvalidConsentToken   = errors.New("invalid consent confirmation token")
	ErrDeleteConfirmation    = errors.New("account deletion requires the confirmation word ELIMINA")
	ErrIdentityUnavailable   = errors.New("identity provider unavailable")
	ErrIdentityNotConfigured = errors.New("identity provider not configured")
)
