package rehearsal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/jamoveo/rehearsal-backend/internal/models"
)

// Roles resolved by the identity collaborator. Only conductors may create
// sessions, select songs, or end the rehearsal.
const (
	RoleConductor = "conductor"
	RoleMusician  = "musician"
)

// Principal is the authenticated caller of a coordinator operation. It is
// resolved externally (JWT) and passed in; the coordinator never touches
// credentials.
type Principal struct {
	UserID   string
	Username string
	Role     string
}

// IsConductor reports whether the principal carries the conductor role.
func (p Principal) IsConductor() bool { return p.Role == RoleConductor }

// CreatePolicy names what CreateSession does when a session is already
// active. Deployments disagree on the right behavior, so it is an explicit
// configuration choice rather than a hard-coded one.
type CreatePolicy string

const (
	// PolicyReject refuses creation with ErrSessionConflict.
	PolicyReject CreatePolicy = "reject"
	// PolicyReplace ends the existing session, then creates the new one.
	PolicyReplace CreatePolicy = "replace"
)

// ParseCreatePolicy validates a policy name from configuration.
func ParseCreatePolicy(s string) (CreatePolicy, error) {
	switch CreatePolicy(s) {
	case PolicyReject, PolicyReplace:
		return CreatePolicy(s), nil
	case "":
		return PolicyReject, nil
	}
	return "", fmt.Errorf("rehearsal: unknown create policy %q", s)
}

// SongResolver is the slice of the catalogue collaborator the coordinator
// needs: resolving a song id to its payload.
type SongResolver interface {
	GetSongByID(ctx context.Context, id int) (*models.Song, error)
}

// Coordinator owns the business rules of the rehearsal room: who may drive
// state transitions, the one-active-session invariant, and participant span
// accounting. Both the WebSocket and the REST surface dispatch into the same
// coordinator, so authority checks cannot diverge between them.
type Coordinator struct {
	store  SessionStore
	songs  SongResolver
	policy CreatePolicy
	logger *slog.Logger
}

// NewCoordinator wires a coordinator. A nil logger discards output.
func NewCoordinator(store SessionStore, songs SongResolver, policy CreatePolicy, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if policy == "" {
		policy = PolicyReject
	}
	return &Coordinator{store: store, songs: songs, policy: policy, logger: logger}
}

// CreateResult is the outcome of CreateSession. Replaced is non-nil only
// under the replace policy, when an older active session was ended to make
// room; the gateway broadcasts SessionEnded to that session's group.
type CreateResult struct {
	Snapshot models.SessionSnapshot
	Replaced *models.RehearsalSession
}

// CreateSession creates the active session with the caller as conductor.
// The conductor is auto-joined: ownership (ConductorID) and membership (an
// open participant span) are tracked separately, and creation establishes
// both.
func (c *Coordinator) CreateSession(ctx context.Context, p Principal) (*CreateResult, error) {
	if !p.IsConductor() {
		return nil, ErrUnauthorized
	}

	var replaced *models.RehearsalSession
	if c.policy == PolicyReplace {
		existing, err := c.store.GetActive(ctx)
		switch {
		case err == nil:
			if err := c.store.End(ctx, existing.SessionToken); err != nil && !errors.Is(err, ErrSessionNotFound) {
				return nil, fmt.Errorf("ending replaced session: %w", err)
			}
			replaced = existing
			c.logger.Info("replaced active session", "session", existing.SessionToken, "conductor", p.UserID)
		case errors.Is(err, ErrNoActiveSession):
		default:
			return nil, fmt.Errorf("checking active session: %w", err)
		}
	}

	sess, err := c.store.TryCreate(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if err := c.store.AddParticipant(ctx, sess.SessionToken, p.UserID, p.Username); err != nil {
		return nil, fmt.Errorf("joining conductor to new session: %w", err)
	}

	c.logger.Info("session created", "session", sess.SessionToken, "conductor", p.UserID)
	return &CreateResult{
		Snapshot: models.SessionSnapshot{Session: *sess, ConnectedUsers: []string{p.Username}},
		Replaced: replaced,
	}, nil
}

// GetActiveSession returns a snapshot of the active session, or
// ErrNoActiveSession.
func (c *Coordinator) GetActiveSession(ctx context.Context) (*models.SessionSnapshot, error) {
	sess, err := c.store.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	users, err := c.connectedUsernames(ctx, sess.SessionToken)
	if err != nil {
		return nil, err
	}
	return &models.SessionSnapshot{Session: *sess, ConnectedUsers: users}, nil
}

// JoinResult is the outcome of JoinSession. CurrentSong is the resolved
// payload of the session's current song, nil when none is selected; a late
// joiner receives it here rather than through a replayed broadcast.
type JoinResult struct {
	Snapshot    models.SessionSnapshot
	CurrentSong *models.Song
}

// JoinSession opens a participant span for the caller in the active session
// addressed by token. Idempotent: joining with a span already open changes
// nothing.
func (c *Coordinator) JoinSession(ctx context.Context, p Principal, token string) (*JoinResult, error) {
	if err := c.store.AddParticipant(ctx, token, p.UserID, p.Username); err != nil {
		return nil, err
	}
	sess, err := c.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	users, err := c.connectedUsernames(ctx, token)
	if err != nil {
		return nil, err
	}

	res := &JoinResult{Snapshot: models.SessionSnapshot{Session: *sess, ConnectedUsers: users}}
	if sess.CurrentSongID != nil {
		song, err := c.songs.GetSongByID(ctx, *sess.CurrentSongID)
		if err != nil && !errors.Is(err, ErrSongNotFound) {
			return nil, fmt.Errorf("resolving current song: %w", err)
		}
		res.CurrentSong = song
	}

	c.logger.Info("user joined session", "session", token, "user", p.UserID)
	return res, nil
}

// LeaveSession closes the caller's open span. Returns false without error
// when no span is open; callers broadcast UserLeft only on true.
func (c *Coordinator) LeaveSession(ctx context.Context, p Principal, token string) (bool, error) {
	err := c.store.CloseParticipant(ctx, token, p.UserID)
	switch {
	case err == nil:
		c.logger.Info("user left session", "session", token, "user", p.UserID)
		return true, nil
	case errors.Is(err, ErrNoOpenSpan):
		return false, nil
	default:
		return false, err
	}
}

// SelectResult carries the resolved song payload and the session it now
// plays in, so callers can address the right broadcast group.
type SelectResult struct {
	Song    *models.Song
	Session models.RehearsalSession
}

// SelectSong sets the active session's current song and returns the resolved
// payload for broadcast. Conductor only. The song is resolved before the
// session is mutated, so an unresolvable id leaves no state change behind.
func (c *Coordinator) SelectSong(ctx context.Context, p Principal, songID int) (*SelectResult, error) {
	sess, err := c.activeConductedBy(ctx, p)
	if err != nil {
		return nil, err
	}
	song, err := c.songs.GetSongByID(ctx, songID)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetCurrentSong(ctx, sess.SessionToken, songID); err != nil {
		return nil, err
	}
	c.logger.Info("song selected", "session", sess.SessionToken, "song", songID, "conductor", p.UserID)
	return &SelectResult{Song: song, Session: *sess}, nil
}

// EndSession transitions the active session to Ended. Conductor only.
// Returns the ended session so the gateway can address its broadcast group
// one last time.
func (c *Coordinator) EndSession(ctx context.Context, p Principal) (*models.RehearsalSession, error) {
	sess, err := c.activeConductedBy(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := c.store.End(ctx, sess.SessionToken); err != nil {
		return nil, err
	}
	ended, err := c.store.GetByToken(ctx, sess.SessionToken)
	if err != nil {
		return nil, err
	}
	c.logger.Info("session ended", "session", sess.SessionToken, "conductor", p.UserID)
	return ended, nil
}

// GetCurrentSong resolves the active session's current song payload.
// Returns ErrNoActiveSession when there is no session and ErrSongNotFound
// when the session has no song selected.
func (c *Coordinator) GetCurrentSong(ctx context.Context) (*models.Song, error) {
	sess, err := c.store.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if sess.CurrentSongID == nil {
		return nil, ErrSongNotFound
	}
	return c.songs.GetSongByID(ctx, *sess.CurrentSongID)
}

// GetConnectedUsers returns the usernames of all open participants of the
// session addressed by token. An unknown session yields an empty list.
func (c *Coordinator) GetConnectedUsers(ctx context.Context, token string) ([]string, error) {
	users, err := c.connectedUsernames(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return []string{}, nil
	}
	return users, err
}

// activeConductedBy is the single authority check for conductor-only
// operations; both entry surfaces go through it.
func (c *Coordinator) activeConductedBy(ctx context.Context, p Principal) (*models.RehearsalSession, error) {
	sess, err := c.store.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if !p.IsConductor() || sess.ConductorID != p.UserID {
		return nil, ErrUnauthorized
	}
	return sess, nil
}

func (c *Coordinator) connectedUsernames(ctx context.Context, token string) ([]string, error) {
	parts, err := c.store.GetOpenParticipants(ctx, token)
	if err != nil {
		return nil, err
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].JoinedAt.Equal(parts[j].JoinedAt) {
			return parts[i].Username < parts[j].Username
		}
		return parts[i].JoinedAt.Before(parts[j].JoinedAt)
	})
	users := make([]string, 0, len(parts))
	for _, p := range parts {
		users = append(users, p.Username)
	}
	return users, nil
}
