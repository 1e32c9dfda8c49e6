package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	govalkey "github.com/valkey-io/valkey-go"

	"github.com/jamoveo/rehearsal-backend/internal/models"
	"github.com/jamoveo/rehearsal-backend/internal/rehearsal"
)

// Key layout. The active pointer is the singleton: it holds the token of the
// one active session and is only ever written with SET NX (create) or a
// compare-and-delete script (end), so the one-active-session invariant holds
// even with several coordinator instances sharing one valkey.
const (
	activeKey     = "rehearsal:active"
	nextIDKey     = "rehearsal:next_id"
	sessionPrefix = "rehearsal:session:" // hash of session fields
	openPrefix    = "rehearsal:open:"    // hash userID -> open span JSON
	closedPrefix  = "rehearsal:closed:"  // list of closed span JSON
)

// endScript atomically clears the active pointer and marks the session
// ended, but only while the pointer still names this session. A lost race
// (someone else ended it first) leaves 0.
const endScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("HSET", KEYS[2], "status", ARGV[2], "ended_at", ARGV[3])
	return 1
end
return 0`

// The mutation scripts run the status check and the write in one atomic
// eval, so an end committed by another instance cannot slip in between.
// Return codes: 1 applied, -1 session (or span) missing, -2 session ended.

const addParticipantScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
if redis.call("HGET", KEYS[1], "status") ~= ARGV[1] then
	return -2
end
redis.call("HSETNX", KEYS[2], ARGV[2], ARGV[3])
return 1`

const setSongScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
if redis.call("HGET", KEYS[1], "status") ~= ARGV[1] then
	return -2
end
redis.call("HSET", KEYS[1], "current_song_id", ARGV[2])
return 1`

const closeSpanScript = `
local raw = redis.call("HGET", KEYS[1], ARGV[1])
if not raw then
	return -1
end
local span = cjson.decode(raw)
span["leftAt"] = ARGV[2]
redis.call("HDEL", KEYS[1], ARGV[1])
redis.call("RPUSH", KEYS[2], cjson.encode(span))
return 1`

// SessionStore is the valkey-backed rehearsal.SessionStore.
type SessionStore struct {
	client govalkey.Client
	now    func() time.Time
}

// NewSessionStore wraps an existing valkey client.
func NewSessionStore(client govalkey.Client) *SessionStore {
	return &SessionStore{client: client, now: time.Now}
}

// Dial connects to a valkey node and returns a store over it.
func Dial(addr string) (*SessionStore, error) {
	client, err := govalkey.NewClient(govalkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connecting to valkey at %s: %w", addr, err)
	}
	return NewSessionStore(client), nil
}

// Close releases the underlying client.
func (s *SessionStore) Close() { s.client.Close() }

func (s *SessionStore) GetActive(ctx context.Context) (*models.RehearsalSession, error) {
	token, err := s.client.Do(ctx, s.client.B().Get().Key(activeKey).Build()).ToString()
	if err != nil {
		if govalkey.IsValkeyNil(err) {
			return nil, rehearsal.ErrNoActiveSession
		}
		return nil, fmt.Errorf("reading active pointer: %w", err)
	}

	sess, err := s.readSession(ctx, token)
	if errors.Is(err, rehearsal.ErrSessionNotFound) {
		// Pointer to a missing hash means a create died between the two
		// writes. Drop the stale pointer so the next create can proceed.
		s.client.Do(ctx, s.client.B().Del().Key(activeKey).Build())
		return nil, rehearsal.ErrNoActiveSession
	}
	return sess, err
}

func (s *SessionStore) GetByToken(ctx context.Context, token string) (*models.RehearsalSession, error) {
	return s.readSession(ctx, token)
}

func (s *SessionStore) TryCreate(ctx context.Context, conductorID string) (*models.RehearsalSession, error) {
	token := uuid.NewString()

	// SET NX on the active pointer is the whole-process critical section:
	// exactly one of any number of concurrent creates wins it.
	err := s.client.Do(ctx, s.client.B().Set().Key(activeKey).Value(token).Nx().Build()).Error()
	if err != nil {
		if govalkey.IsValkeyNil(err) {
			return nil, rehearsal.ErrSessionConflict
		}
		return nil, fmt.Errorf("claiming active pointer: %w", err)
	}

	id, err := s.client.Do(ctx, s.client.B().Incr().Key(nextIDKey).Build()).AsInt64()
	if err != nil {
		return nil, fmt.Errorf("allocating session id: %w", err)
	}

	sess := &models.RehearsalSession{
		ID:           int(id),
		SessionToken: token,
		ConductorID:  conductorID,
		Status:       models.SessionActive,
		CreatedAt:    s.now().UTC(),
	}
	err = s.client.Do(ctx, s.client.B().Hset().Key(sessionPrefix+token).FieldValue().
		FieldValue("id", strconv.Itoa(sess.ID)).
		FieldValue("token", token).
		FieldValue("conductor_id", conductorID).
		FieldValue("status", sess.Status).
		FieldValue("created_at", sess.CreatedAt.Format(time.RFC3339Nano)).
		Build()).Error()
	if err != nil {
		return nil, fmt.Errorf("writing session record: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, token, userID, username string) error {
	span := models.Participant{
		SessionToken: token,
		UserID:       userID,
		Username:     username,
		JoinedAt:     s.now().UTC(),
	}
	raw, err := json.Marshal(span)
	if err != nil {
		return fmt.Errorf("encoding participant span: %w", err)
	}
	// HSETNX inside the script keeps an already-open span untouched, which
	// is the idempotence the contract asks for.
	n, err := s.client.Do(ctx, s.client.B().Eval().Script(addParticipantScript).Numkeys(2).
		Key(sessionPrefix+token, openPrefix+token).
		Arg(models.SessionActive, userID, string(raw)).
		Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("opening participant span: %w", err)
	}
	switch n {
	case -1:
		return rehearsal.ErrSessionNotFound
	case -2:
		return rehearsal.ErrSessionEnded
	}
	return nil
}

func (s *SessionStore) CloseParticipant(ctx context.Context, token, userID string) error {
	left := s.now().UTC().Format(time.RFC3339Nano)
	n, err := s.client.Do(ctx, s.client.B().Eval().Script(closeSpanScript).Numkeys(2).
		Key(openPrefix+token, closedPrefix+token).
		Arg(userID, left).
		Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("closing participant span: %w", err)
	}
	if n == -1 {
		return rehearsal.ErrNoOpenSpan
	}
	return nil
}

func (s *SessionStore) SetCurrentSong(ctx context.Context, token string, songID int) error {
	n, err := s.client.Do(ctx, s.client.B().Eval().Script(setSongScript).Numkeys(1).
		Key(sessionPrefix+token).
		Arg(models.SessionActive, strconv.Itoa(songID)).
		Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("setting current song: %w", err)
	}
	switch n {
	case -1:
		return rehearsal.ErrSessionNotFound
	case -2:
		return rehearsal.ErrSessionEnded
	}
	return nil
}

func (s *SessionStore) End(ctx context.Context, token string) error {
	sess, err := s.readSession(ctx, token)
	if err != nil {
		return err
	}
	if !sess.Active() {
		return rehearsal.ErrSessionEnded
	}
	n, err := s.client.Do(ctx, s.client.B().Eval().Script(endScript).Numkeys(2).
		Key(activeKey, sessionPrefix+token).
		Arg(token, models.SessionEnded, s.now().UTC().Format(time.RFC3339Nano)).
		Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	if n == 0 {
		return rehearsal.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) GetOpenParticipants(ctx context.Context, token string) ([]models.Participant, error) {
	if _, err := s.readSession(ctx, token); err != nil {
		return nil, err
	}
	spans, err := s.client.Do(ctx, s.client.B().Hgetall().Key(openPrefix+token).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("reading open spans: %w", err)
	}
	parts := make([]models.Participant, 0, len(spans))
	for _, raw := range spans {
		var span models.Participant
		if err := json.Unmarshal([]byte(raw), &span); err != nil {
			return nil, fmt.Errorf("decoding participant span: %w", err)
		}
		parts = append(parts, span)
	}
	// Hash order is arbitrary; present spans in join order.
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].JoinedAt.Equal(parts[j].JoinedAt) {
			return parts[i].UserID < parts[j].UserID
		}
		return parts[i].JoinedAt.Before(parts[j].JoinedAt)
	})
	return parts, nil
}

func (s *SessionStore) readSession(ctx context.Context, token string) (*models.RehearsalSession, error) {
	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(sessionPrefix+token).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("reading session record: %w", err)
	}
	if len(fields) == 0 {
		return nil, rehearsal.ErrSessionNotFound
	}

	id, err := strconv.Atoi(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("corrupt session id %q: %w", fields["id"], err)
	}
	created, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at %q: %w", fields["created_at"], err)
	}
	sess := &models.RehearsalSession{
		ID:           id,
		SessionToken: fields["token"],
		ConductorID:  fields["conductor_id"],
		Status:       fields["status"],
		CreatedAt:    created,
	}
	if raw, ok := fields["current_song_id"]; ok && raw != "" {
		songID, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt current_song_id %q: %w", raw, err)
		}
		sess.CurrentSongID = &songID
	}
	if raw, ok := fields["ended_at"]; ok && raw != "" {
		ended, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt ended_at %q: %w", raw, err)
		}
		sess.EndedAt = &ended
	}
	return sess, nil
}
