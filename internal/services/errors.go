package services

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrCollaborator   = errors.New("data store request failed")
	ErrPartialFailure = errors.New("operation partially applied")

	ErrForbidden            = errors.New("forbidden")
	ErrConflict             = errors.New("conflict")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrTrainerNotFound      = errors.New("trainer not found")
	ErrCannotDiscard        = errors.New("conversation cannot be discarded")
)

func validationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// collaboratorError keeps cause in the chain so callers can still match
// driver errors such as pgx.ErrNoRows.
func collaboratorError(op string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrCollaborator, op, cause)
}

// PartialFailureError reports that a conversation row was written but its
// first message was not. The conversation is left in place; callers decide
// whether to retry the send or discard it.
type PartialFailureError struct {
	ConversationID int64
	Err            error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("conversation %d created but first message failed: %v", e.ConversationID, e.Err)
}

func (e *PartialFailureError) Unwrap() []error {
	return []error{ErrPartialFailure, e.Err}
}
