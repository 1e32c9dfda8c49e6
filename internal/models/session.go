package models

import "time"

// Session status values. A session is created Active and transitions to Ended
// exactly once; there is no way back.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// RehearsalSession is the single shared rehearsal room. At most one session
// with Status == SessionActive exists at any instant; the storage layer is
// responsible for enforcing that.
type RehearsalSession struct {
	ID            int        `json:"id"`            // Server-assigned numeric ID
	SessionToken  string     `json:"sessionToken"`  // Externally addressable identifier (UUID)
	ConductorID   string     `json:"conductorId"`   // User who created the session and may drive it
	CurrentSongID *int       `json:"currentSongId"` // Reference into the song catalogue, nil until a song is selected
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"` // Set only when Status == SessionEnded
}

// Active reports whether the session can still be joined and mutated.
func (s *RehearsalSession) Active() bool {
	return s != nil && s.Status == SessionActive
}

// Participant records one continuous presence span of a user in a session.
// A user has at most one span with LeftAt == nil per session, but may
// accumulate several closed spans by leaving and rejoining. Spans are never
// deleted; they are the historical presence log.
type Participant struct {
	SessionToken string     `json:"sessionToken"`
	UserID       string     `json:"userId"`
	Username     string     `json:"username"`
	JoinedAt     time.Time  `json:"joinedAt"`
	LeftAt       *time.Time `json:"leftAt,omitempty"`
}

// SessionSnapshot is what callers of GetActiveSession receive: the session
// plus the usernames currently present. Participants are resolved at read
// time, never embedded in the stored session.
type SessionSnapshot struct {
	Session        RehearsalSession `json:"session"`
	ConnectedUsers []string         `json:"connectedUsers"`
}
