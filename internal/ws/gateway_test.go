package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"

	"github.com/jamoveo/rehearsal-backend/internal/catalogue"
	"github.com/jamoveo/rehearsal-backend/internal/identity"
	"github.com/jamoveo/rehearsal-backend/internal/models"
	"github.com/jamoveo/rehearsal-backend/internal/presence"
	"github.com/jamoveo/rehearsal-backend/internal/rehearsal"
	"github.com/jamoveo/rehearsal-backend/internal/storage/memory"
	"github.com/jamoveo/rehearsal-backend/internal/ws"
)

const testSecret = "gateway-test-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type wireEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func signToken(t *testing.T, sub, name, role string) string {
	t.Helper()
	claims := identity.Claims{
		Username: name,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func newGatewayServer(t *testing.T) (*httptest.Server, *rehearsal.Coordinator) {
	t.Helper()
	store := memory.NewSessionStore()
	songs := catalogue.NewStatic(models.Song{
		ID: 42, Title: "Hey Jude", Artist: "The Beatles",
		Lines: [][]models.WordChordPair{{{Lyrics: "Hey", Chords: "F"}, {Lyrics: "Jude"}}},
	})
	coord := rehearsal.NewCoordinator(store, songs, rehearsal.PolicyReject, nil)
	hub := ws.NewHub()
	gateway := ws.NewGateway(coord, hub, presence.NewTracker(), identity.NewVerifier(testSecret), "*", discardLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/rehearsal", gateway.ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, coord
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rehearsal?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", u, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, action string, songID int) {
	t.Helper()
	msg := ws.ControlMessage{Action: action, SongID: songID}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("sending %s: %v", action, err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wireEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	return ev
}

func expectEvent(t *testing.T, conn *websocket.Conn, want string) wireEvent {
	t.Helper()
	ev := readEvent(t, conn)
	if ev.Event != want {
		t.Fatalf("event = %s, want %s (payload %s)", ev.Event, want, ev.Payload)
	}
	return ev
}

func TestRehearsalOverWebSocket(t *testing.T) {
	srv, coord := newGatewayServer(t)

	conductorConn := dial(t, srv, signToken(t, "u1", "maestro", rehearsal.RoleConductor))
	musicianConn := dial(t, srv, signToken(t, "u2", "bassist", rehearsal.RoleMusician))

	// Joining before any session exists is answered with NoActiveSession,
	// to the caller only.
	send(t, musicianConn, ws.ActJoinRehearsal, 0)
	expectEvent(t, musicianConn, ws.EvNoActiveSession)

	// The conductor opens the room: SessionCreated to the caller, a lobby
	// announcement to everyone else.
	send(t, conductorConn, ws.ActCreateNewSession, 0)
	created := expectEvent(t, conductorConn, ws.EvSessionCreated)
	expectEvent(t, musicianConn, ws.EvNewSessionAvailable)

	var snap models.SessionSnapshot
	if err := json.Unmarshal(created.Payload, &snap); err != nil {
		t.Fatalf("decoding SessionCreated payload: %v", err)
	}
	if snap.Session.ConductorID != "u1" {
		t.Fatalf("ConductorID = %s, want u1", snap.Session.ConductorID)
	}

	// The musician joins: JoinedSession to the caller, UserJoined to the
	// whole group (conductor included).
	send(t, musicianConn, ws.ActJoinRehearsal, 0)
	expectEvent(t, musicianConn, ws.EvJoinedSession)
	expectEvent(t, musicianConn, ws.EvUserJoined)
	expectEvent(t, conductorConn, ws.EvUserJoined)

	// A musician driving a conductor-only operation gets an Error, and no
	// one else hears about it: the next event every member sees is the
	// conductor's own SongSelected.
	send(t, musicianConn, ws.ActSelectSong, 42)
	expectEvent(t, musicianConn, ws.EvError)

	send(t, conductorConn, ws.ActSelectSong, 42)
	for _, conn := range []*websocket.Conn{conductorConn, musicianConn} {
		ev := expectEvent(t, conn, ws.EvSongSelected)
		var song models.Song
		if err := json.Unmarshal(ev.Payload, &song); err != nil {
			t.Fatalf("decoding SongSelected payload: %v", err)
		}
		if song.ID != 42 || song.Title != "Hey Jude" {
			t.Fatalf("song = %+v, want Hey Jude (42)", song)
		}
	}

	// Ending the rehearsal reaches both connections.
	send(t, conductorConn, ws.ActQuitSession, 0)
	expectEvent(t, conductorConn, ws.EvSessionEnded)
	expectEvent(t, musicianConn, ws.EvSessionEnded)

	if _, err := coord.GetActiveSession(context.Background()); !errors.Is(err, rehearsal.ErrNoActiveSession) {
		t.Fatalf("after end: got %v, want ErrNoActiveSession", err)
	}
}

func TestLateJoinerGetsCurrentSongDirectly(t *testing.T) {
	srv, _ := newGatewayServer(t)

	conductorConn := dial(t, srv, signToken(t, "u1", "maestro", rehearsal.RoleConductor))
	send(t, conductorConn, ws.ActCreateNewSession, 0)
	expectEvent(t, conductorConn, ws.EvSessionCreated)
	send(t, conductorConn, ws.ActSelectSong, 42)
	expectEvent(t, conductorConn, ws.EvSongSelected)

	// Connect after the song is already playing: the join response carries
	// the song, not a replayed broadcast.
	lateConn := dial(t, srv, signToken(t, "u3", "drummer", rehearsal.RoleMusician))
	send(t, lateConn, ws.ActJoinRehearsal, 0)
	expectEvent(t, lateConn, ws.EvJoinedSession)
	expectEvent(t, lateConn, ws.EvUserJoined)
	ev := expectEvent(t, lateConn, ws.EvSongSelected)

	var song models.Song
	if err := json.Unmarshal(ev.Payload, &song); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if song.ID != 42 {
		t.Fatalf("song = %d, want 42", song.ID)
	}
}

func TestDisconnectBroadcastsUserLeft(t *testing.T) {
	srv, coord := newGatewayServer(t)

	conductorConn := dial(t, srv, signToken(t, "u1", "maestro", rehearsal.RoleConductor))
	send(t, conductorConn, ws.ActCreateNewSession, 0)
	expectEvent(t, conductorConn, ws.EvSessionCreated)

	musicianConn := dial(t, srv, signToken(t, "u2", "bassist", rehearsal.RoleMusician))
	send(t, musicianConn, ws.ActJoinRehearsal, 0)
	expectEvent(t, musicianConn, ws.EvJoinedSession)
	expectEvent(t, conductorConn, ws.EvUserJoined)

	// Abrupt close, no LeaveRehearsal. The gateway must close the span and
	// tell the rest of the group.
	musicianConn.Close()
	ev := expectEvent(t, conductorConn, ws.EvUserLeft)
	var username string
	if err := json.Unmarshal(ev.Payload, &username); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if username != "bassist" {
		t.Fatalf("username = %q, want bassist", username)
	}

	snap, err := coord.GetActiveSession(context.Background())
	if err != nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	if len(snap.ConnectedUsers) != 1 || snap.ConnectedUsers[0] != "maestro" {
		t.Fatalf("ConnectedUsers = %v, want only the conductor", snap.ConnectedUsers)
	}
}

func TestRejectsBadCredentials(t *testing.T) {
	srv, _ := newGatewayServer(t)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rehearsal?access_token=not-a-token"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("dial with a bad token must fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v, want 401", resp)
	}
}

// flakyStore lets a test inject an infrastructure failure into span closes.
type flakyStore struct {
	rehearsal.SessionStore
	mu       sync.Mutex
	closeErr error
}

func (f *flakyStore) setCloseErr(err error) {
	f.mu.Lock()
	f.closeErr = err
	f.mu.Unlock()
}

func (f *flakyStore) CloseParticipant(ctx context.Context, token, userID string) error {
	f.mu.Lock()
	err := f.closeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.SessionStore.CloseParticipant(ctx, token, userID)
}

// A leave that fails in the store must leave membership intact: the span
// stays open, the client keeps its subscription and binding, and a retry
// still works.
func TestLeaveFailureKeepsMembership(t *testing.T) {
	store := &flakyStore{SessionStore: memory.NewSessionStore()}
	coord := rehearsal.NewCoordinator(store, catalogue.NewStatic(), rehearsal.PolicyReject, nil)
	gateway := ws.NewGateway(coord, ws.NewHub(), presence.NewTracker(), identity.NewVerifier(testSecret), "*", discardLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/rehearsal", gateway.ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	conductorConn := dial(t, srv, signToken(t, "u1", "maestro", rehearsal.RoleConductor))
	send(t, conductorConn, ws.ActCreateNewSession, 0)
	created := expectEvent(t, conductorConn, ws.EvSessionCreated)

	var snap models.SessionSnapshot
	if err := json.Unmarshal(created.Payload, &snap); err != nil {
		t.Fatalf("decoding SessionCreated payload: %v", err)
	}
	token := snap.Session.SessionToken

	musicianConn := dial(t, srv, signToken(t, "u2", "bassist", rehearsal.RoleMusician))
	send(t, musicianConn, ws.ActJoinRehearsal, 0)
	expectEvent(t, musicianConn, ws.EvJoinedSession)
	expectEvent(t, musicianConn, ws.EvUserJoined)
	expectEvent(t, conductorConn, ws.EvUserJoined)

	store.setCloseErr(errors.New("connection reset"))
	send(t, musicianConn, ws.ActLeaveRehearsal, 0)
	expectEvent(t, musicianConn, ws.EvError)

	users, err := coord.GetConnectedUsers(context.Background(), token)
	if err != nil {
		t.Fatalf("GetConnectedUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users after failed leave = %v, want both still present", users)
	}

	// The binding survived, so a retry succeeds and the group hears it.
	store.setCloseErr(nil)
	send(t, musicianConn, ws.ActLeaveRehearsal, 0)
	ev := expectEvent(t, conductorConn, ws.EvUserLeft)
	var username string
	if err := json.Unmarshal(ev.Payload, &username); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if username != "bassist" {
		t.Fatalf("username = %q, want bassist", username)
	}

	users, err = coord.GetConnectedUsers(context.Background(), token)
	if err != nil {
		t.Fatalf("GetConnectedUsers: %v", err)
	}
	if len(users) != 1 || users[0] != "maestro" {
		t.Fatalf("users after retry = %v, want only the conductor", users)
	}
}
