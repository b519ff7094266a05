package lifecycle

import (
	"errors"
	"fmt"

	"messenger/internal/repositories"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
)

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// mapStoreError converts repository lookups into engine errors.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrConversationNotFound):
		return fmt.Errorf("%w: conversation not found", ErrNotFound)
	case errors.Is(err, repositories.ErrMessageNotFound):
		return fmt.Errorf("%w: message not found", ErrNotFound)
	case errors.Is(err, repositories.ErrUserNotFound):
		return fmt.Errorf("%w: user not found", ErrNotFound)
	}
	return err
}

// PublicMessage returns the text reported to clients for err. Storage
// failures are hidden behind a generic message.
func PublicMessage(err error) string {
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound) {
		return err.Error()
	}
	return "internal error"
}
