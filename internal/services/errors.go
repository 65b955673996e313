package services

import (
	stderrors "errors"

	"github.com/abrezinsky/eventxp/internal/errors"
	"github.com/abrezinsky/eventxp/internal/repository"
)

// Service errors shared across operations
var (
	ErrEventNotFound    = errors.NotFound("event not found")
	ErrTeamNotFound     = errors.NotFound("team not found")
	ErrTeamFormatOnly   = errors.Conflict("operation requires a team-format event")
	ErrNotTeamFormat    = errors.Conflict("operation is not available for team-format events")
	ErrVotingClosed     = errors.Conflict("voting is not open for this event")
	ErrRequesterOnly    = errors.Permission("only the requester may do this")
	ErrOrganizerOnly    = errors.Permission("only an organizer or admin may do this")
	ErrAdminOnly        = errors.Permission("only an admin may do this")
	ErrParticipantsOnly = errors.Permission("only participants may do this")
	ErrConcurrentUpdate = errors.Conflict("event changed concurrently, please retry")
	ErrNoWinners        = errors.Conflict("no winner could be determined, manual override required")
)

// storeError converts repository sentinel errors into classified errors.
// Classified errors raised inside update functions pass through untouched.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case err == repository.ErrNotFound:
		return ErrEventNotFound
	case err == repository.ErrVersionConflict:
		return ErrConcurrentUpdate
	case err == repository.ErrAlreadyExists:
		return errors.Conflict("event already exists")
	}
	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		return err
	}
	return errors.Internal(err)
}
