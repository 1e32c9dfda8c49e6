package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jamoveo/rehearsal-backend/internal/models"
	"github.com/jamoveo/rehearsal-backend/internal/rehearsal"
)

// SessionStore keeps rehearsal sessions and participant spans in process
// memory. It backs tests and single-node development; the valkey store is
// the durable equivalent with the same contract.
type SessionStore struct {
	mu          sync.RWMutex
	sessions    map[string]*models.RehearsalSession // session token -> session
	activeToken string                              // token of the one active session, "" when none
	open        map[string][]*models.Participant    // session token -> open spans, join order
	closed      map[string][]*models.Participant    // session token -> closed spans (historical log)
	nextID      int
	now         func() time.Time
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*models.RehearsalSession),
		open:     make(map[string][]*models.Participant),
		closed:   make(map[string][]*models.Participant),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *SessionStore) SetClock(now func() time.Time) { s.now = now }

func (s *SessionStore) GetActive(ctx context.Context) (*models.RehearsalSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeToken == "" {
		return nil, rehearsal.ErrNoActiveSession
	}
	sess := *s.sessions[s.activeToken]
	return &sess, nil
}

func (s *SessionStore) GetByToken(ctx context.Context, token string) (*models.RehearsalSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, rehearsal.ErrSessionNotFound
	}
	copied := *sess
	return &copied, nil
}

// TryCreate is the singleton critical section: the check for an existing
// active session and the creation of the new one happen under one lock, so
// concurrent calls cannot both observe "none active".
func (s *SessionStore) TryCreate(ctx context.Context, conductorID string) (*models.RehearsalSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeToken != "" {
		return nil, rehearsal.ErrSessionConflict
	}

	s.nextID++
	sess := &models.RehearsalSession{
		ID:           s.nextID,
		SessionToken: uuid.NewString(),
		ConductorID:  conductorID,
		Status:       models.SessionActive,
		CreatedAt:    s.now().UTC(),
	}
	s.sessions[sess.SessionToken] = sess
	s.activeToken = sess.SessionToken

	copied := *sess
	return &copied, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, token, userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return rehearsal.ErrSessionNotFound
	}
	if !sess.Active() {
		return rehearsal.ErrSessionEnded
	}
	for _, p := range s.open[token] {
		if p.UserID == userID {
			return nil // span already open, idempotent
		}
	}
	s.open[token] = append(s.open[token], &models.Participant{
		SessionToken: token,
		UserID:       userID,
		Username:     username,
		JoinedAt:     s.now().UTC(),
	})
	return nil
}

func (s *SessionStore) CloseParticipant(ctx context.Context, token, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spans := s.open[token]
	for i, p := range spans {
		if p.UserID == userID {
			left := s.now().UTC()
			p.LeftAt = &left
			s.open[token] = append(spans[:i], spans[i+1:]...)
			s.closed[token] = append(s.closed[token], p)
			return nil
		}
	}
	return rehearsal.ErrNoOpenSpan
}

func (s *SessionStore) SetCurrentSong(ctx context.Context, token string, songID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return rehearsal.ErrSessionNotFound
	}
	if !sess.Active() {
		return rehearsal.ErrSessionEnded
	}
	id := songID
	sess.CurrentSongID = &id
	return nil
}

func (s *SessionStore) End(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return rehearsal.ErrSessionNotFound
	}
	if !sess.Active() {
		return rehearsal.ErrSessionEnded
	}
	ended := s.now().UTC()
	sess.Status = models.SessionEnded
	sess.EndedAt = &ended
	s.activeToken = ""
	return nil
}

func (s *SessionStore) GetOpenParticipants(ctx context.Context, token string) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[token]; !ok {
		return nil, rehearsal.ErrSessionNotFound
	}
	parts := make([]models.Participant, 0, len(s.open[token]))
	for _, p := range s.open[token] {
		parts = append(parts, *p)
	}
	return parts, nil
}

// ClosedParticipants returns the closed spans for a session, oldest first.
// Used by tests asserting the leave/rejoin history.
func (s *SessionStore) ClosedParticipants(token string) []models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := make([]models.Participant, 0, len(s.closed[token]))
	for _, p := range s.closed[token] {
		parts = append(parts, *p)
	}
	return parts
}
