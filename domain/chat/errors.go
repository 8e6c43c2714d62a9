package chat

import "errors"

// Errors shared by the chat core. Callers add detail with fmt.Errorf("...: %w", err)
// and match with errors.Is.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("access denied")
	ErrInvalidState    = errors.New("invalid chat state")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrAlreadyAssigned = errors.New("chat already assigned")
	ErrCannotReopen    = errors.New("closed chat cannot be reopened")
	ErrNotAnAdmin      = errors.New("user is not an admin")
	ErrClosedChat      = errors.New("chat is closed")
)

// Code returns the stable wire code for err, or "internal_error" when err is not part
// of the taxonomy.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, ErrCannotReopen):
		return "cannot_reopen"
	case errors.Is(err, ErrNotAnAdmin):
		return "not_an_admin"
	case errors.Is(err, ErrClosedChat):
		return "closed_chat"
	default:
		return "internal_error"
	}
}

// IsDomainError reports whether err belongs to the taxonomy and may be shown to callers.
func IsDomainError(err error) bool {
	return err != nil && Code(err) != "internal_error"
}
