package services

import (
	"fmt"

	"github.com/Dosada05/presenza-calcio/models"
)

func requireApproved(actor models.Principal) error {
	if !actor.IsApproved() {
		return fmt.Errorf("%w: account %s is awaiting approval", ErrForbiddenOperation, actor.Email)
	}
	return nil
}

func requireStaff(actor models.Principal) error {
	if !actor.IsStaff() {
		return fmt.Errorf("%w: coach or admin role required", ErrForbiddenOperation)
	}
	return nil
}

func requireAdmin(actor models.Principal) error {
	if actor.Role != models.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbiddenOperation)
	}
	return nil
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidationFailed, fmt.Sprintf(format, args...))
}
