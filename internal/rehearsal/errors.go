package rehearsal

import "errors"

// Business outcomes. These are expected results, returned to the immediate
// caller as typed failures; they never crash a connection and are never
// retried automatically. Anything else reaching a caller is an
// infrastructure failure wrapped with %w.
var (
	// ErrUnauthorized is returned when the caller lacks the conductor role
	// for a conductor-only operation, or is not the session's conductor.
	ErrUnauthorized = errors.New("rehearsal: unauthorized")
	// ErrSessionConflict is returned by CreateSession under the reject
	// policy while another session is already active.
	ErrSessionConflict = errors.New("rehearsal: an active session already exists")
	// ErrSessionNotFound is returned when the referenced session does not
	// exist or is not active.
	ErrSessionNotFound = errors.New("rehearsal: session not found or not active")
	// ErrNoActiveSession is returned by reads that require an active session.
	ErrNoActiveSession = errors.New("rehearsal: no active session")
	// ErrSessionEnded is returned for mutations on a session that has
	// already reached its terminal state.
	ErrSessionEnded = errors.New("rehearsal: session has ended")
	// ErrSongNotFound is returned when a song id does not resolve in the
	// catalogue.
	ErrSongNotFound = errors.New("rehearsal: song not found")
	// ErrNoOpenSpan is returned by CloseParticipant when the user has no
	// open presence span in the session.
	ErrNoOpenSpan = errors.New("rehearsal: no open participant span")
)
