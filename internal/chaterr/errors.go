// Package chaterr defines the caller-visible errors of the chat session core.
// Every error returned by the lifecycle, exchange and gateway packages wraps
// exactly one of these sentinels, so callers match them with errors.Is.
package chaterr

import "errors"

var (
	// ErrInvalidTransition is returned when a lifecycle event is not legal
	// from the session's current status (closing a closed session,
	// accepting your own reopen request, ...).
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrStaleState is returned when a compare-and-set lost a race. The caller
	// must refetch the session and decide again.
	ErrStaleState = errors.New("session state changed concurrently")
	// ErrSessionNotActive is returned by SendMessage when the session is not active.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrNotParticipant is returned when the actor is neither of the two participants.
	ErrNotParticipant = errors.New("actor is not a participant of the session")
	// ErrNotFound is returned for unknown (or deleted) sessions and messages.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for malformed requests (empty body, same participant twice).
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable marks storage failures. Unlike the errors above it is
	// transient: the request itself may be fine and can be retried later.
	ErrUnavailable = errors.New("storage unavailable")
)

// Code returns a stable machine-readable code for err, used by the HTTP layer
// and the localization keys. Unknown errors map to "internal".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrStaleState):
		return "stale_state"
	case errors.Is(err, ErrSessionNotActive):
		return "session_not_active"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}

// IsTransient reports whether err is a storage-level failure rather than a
// problem with the request.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
