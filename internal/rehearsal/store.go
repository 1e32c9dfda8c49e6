package rehearsal

import (
	"context"

	"github.com/jamoveo/rehearsal-backend/internal/models"
)

// SessionStore is the durable record of rehearsal sessions and participant
// spans. Implementations must be safe under arbitrary interleaving of calls
// from different connections. TryCreate is the one operation that needs
// process-wide (or storage-level) mutual exclusion: two concurrent calls
// observing "no active session" must not both create one.
type SessionStore interface {
	// GetActive returns the session with status Active, or ErrNoActiveSession.
	GetActive(ctx context.Context) (*models.RehearsalSession, error)

	// GetByToken returns the session addressed by token, active or ended,
	// or ErrSessionNotFound. Ended sessions stay readable as history.
	GetByToken(ctx context.Context, token string) (*models.RehearsalSession, error)

	// TryCreate atomically checks that no active session exists and creates
	// one with the given conductor. Returns ErrSessionConflict when another
	// session is already active.
	TryCreate(ctx context.Context, conductorID string) (*models.RehearsalSession, error)

	// AddParticipant opens a presence span for the user in the active
	// session addressed by token. Idempotent: an already-open span for the
	// same user is left as is. Returns ErrSessionNotFound for an unknown
	// token and ErrSessionEnded for an ended session.
	AddParticipant(ctx context.Context, token, userID, username string) error

	// CloseParticipant sets LeftAt on the user's open span. Returns
	// ErrNoOpenSpan when none is open. The closed span is retained.
	CloseParticipant(ctx context.Context, token, userID string) error

	// SetCurrentSong updates the active session's current song. Returns
	// ErrSessionNotFound for an unknown token and ErrSessionEnded for an
	// ended session.
	SetCurrentSong(ctx context.Context, token string, songID int) error

	// End transitions the active session addressed by token to Ended and
	// clears the active-session singleton. Terminal: a second End on the
	// same token returns ErrSessionEnded.
	End(ctx context.Context, token string) error

	// GetOpenParticipants returns the currently-open spans for the session,
	// in join order.
	GetOpenParticipants(ctx context.Context, token string) ([]models.Participant, error)
}
