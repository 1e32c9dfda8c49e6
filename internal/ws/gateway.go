package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jamoveo/rehearsal-backend/internal/presence"
	"github.com/jamoveo/rehearsal-backend/internal/rehearsal"
)

// Authenticator resolves a bearer token to the principal behind it.
type Authenticator interface {
	Authenticate(token string) (rehearsal.Principal, error)
}

// Gateway terminates WebSocket connections, authenticates them, translates
// inbound control messages into coordinator calls, and pushes the resulting
// events to the affected broadcast group. Business failures go back to the
// caller as an Error event; the connection is never closed over one.
type Gateway struct {
	coord    *rehearsal.Coordinator
	hub      *Hub
	presence *presence.Tracker
	auth     Authenticator
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewGateway wires the gateway. allowedOrigin of "*" accepts any origin.
func NewGateway(coord *rehearsal.Coordinator, hub *Hub, tracker *presence.Tracker, auth Authenticator, allowedOrigin string, logger *slog.Logger) *Gateway {
	return &Gateway{
		coord:    coord,
		hub:      hub,
		presence: tracker,
		auth:     auth,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// ServeWS upgrades an HTTP request to the rehearsal control socket. The
// bearer token comes from the access_token query parameter (the usual place
// for browser WebSocket clients) or the Authorization header.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	principal, err := g.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "user", principal.UserID, "error", err)
		return
	}

	client := newClient(uuid.NewString(), principal, conn)
	g.hub.Add(client)
	g.logger.Info("websocket connected", "connection", client.ID, "user", principal.UserID)

	go client.writePump()
	client.readPump(g)
}

// dispatch routes one inbound control message. Every control call runs on
// the connection's read goroutine; the coordinator serializes what must be
// serialized.
func (g *Gateway) dispatch(c *Client, msg ControlMessage) {
	ctx := context.Background()
	switch msg.Action {
	case ActJoinRehearsal:
		g.handleJoinRehearsal(ctx, c)
	case ActLeaveRehearsal:
		g.handleLeaveRehearsal(ctx, c)
	case ActCreateNewSession:
		g.handleCreateNewSession(ctx, c)
	case ActSelectSong:
		g.handleSelectSong(ctx, c, msg.SongID)
	case ActQuitSession:
		g.handleQuitSession(ctx, c)
	default:
		g.sendError(c, "unknown action")
	}
}

func (g *Gateway) handleJoinRehearsal(ctx context.Context, c *Client) {
	snap, err := g.coord.GetActiveSession(ctx)
	if errors.Is(err, rehearsal.ErrNoActiveSession) {
		g.sendEvent(c, EvNoActiveSession, "there is no active rehearsal right now")
		return
	}
	if err != nil {
		g.fail(c, "JoinRehearsal", err)
		return
	}

	res, err := g.coord.JoinSession(ctx, c.Principal, snap.Session.SessionToken)
	if err != nil {
		g.fail(c, "JoinRehearsal", err)
		return
	}

	token := res.Snapshot.Session.SessionToken
	g.presence.Bind(c.ID, c.Principal.UserID, c.Principal.Username, token)
	g.hub.Subscribe(c, token)

	g.sendEvent(c, EvJoinedSession, res.Snapshot)
	g.broadcastGroup(token, EvUserJoined, c.Principal.Username)
	// A late joiner gets the current song in its join response, never via a
	// replayed broadcast.
	if res.CurrentSong != nil {
		g.sendEvent(c, EvSongSelected, res.CurrentSong)
	}
}

func (g *Gateway) handleLeaveRehearsal(ctx context.Context, c *Client) {
	b, ok := g.presence.Lookup(c.ID)
	if !ok {
		return // not in a rehearsal, nothing to leave
	}

	// The span closes first. On failure the binding and subscription are
	// untouched, so the client stays a member and may retry, and a later
	// disconnect still closes the span.
	closed, err := g.coord.LeaveSession(ctx, c.Principal, b.SessionToken)
	if err != nil {
		g.fail(c, "LeaveRehearsal", err)
		return
	}

	g.presence.Unbind(c.ID)
	g.hub.Unsubscribe(c)
	if closed {
		g.broadcastGroup(b.SessionToken, EvUserLeft, c.Principal.Username)
	}
}

func (g *Gateway) handleCreateNewSession(ctx context.Context, c *Client) {
	res, err := g.coord.CreateSession(ctx, c.Principal)
	if err != nil {
		g.fail(c, "CreateNewSession", err)
		return
	}

	if res.Replaced != nil {
		g.broadcastGroup(res.Replaced.SessionToken, EvSessionEnded, nil)
		g.hub.CloseGroup(res.Replaced.SessionToken)
		g.presence.UnbindSession(res.Replaced.SessionToken)
	}

	token := res.Snapshot.Session.SessionToken
	g.presence.Bind(c.ID, c.Principal.UserID, c.Principal.Username, token)
	g.hub.Subscribe(c, token)

	g.sendEvent(c, EvSessionCreated, res.Snapshot)
	g.broadcastOthers(c, EvNewSessionAvailable, "a new rehearsal session is open")
}

func (g *Gateway) handleSelectSong(ctx context.Context, c *Client, songID int) {
	res, err := g.coord.SelectSong(ctx, c.Principal, songID)
	if err != nil {
		g.fail(c, "SelectSong", err)
		return
	}
	g.broadcastGroup(res.Session.SessionToken, EvSongSelected, res.Song)
}

func (g *Gateway) handleQuitSession(ctx context.Context, c *Client) {
	ended, err := g.coord.EndSession(ctx, c.Principal)
	if err != nil {
		g.fail(c, "QuitSession", err)
		return
	}
	g.broadcastGroup(ended.SessionToken, EvSessionEnded, nil)
	g.hub.CloseGroup(ended.SessionToken)
	g.presence.UnbindSession(ended.SessionToken)
}

// onDisconnect runs when a connection drops for any reason. It produces the
// same effect as an explicit leave, idempotently: a connection that already
// left (or never joined) is a no-op.
func (g *Gateway) onDisconnect(c *Client) {
	g.hub.Remove(c)
	b, ok := g.presence.Unbind(c.ID)
	if !ok {
		g.logger.Info("websocket disconnected", "connection", c.ID, "user", c.Principal.UserID)
		return
	}

	ctx := context.Background()
	closed, err := g.coord.LeaveSession(ctx, rehearsal.Principal{UserID: b.UserID, Username: b.Username}, b.SessionToken)
	if err != nil {
		g.logger.Error("failed to close span on disconnect", "connection", c.ID, "user", b.UserID, "error", err)
	}
	if closed {
		g.broadcastGroup(b.SessionToken, EvUserLeft, b.Username)
	}
	g.logger.Info("websocket disconnected", "connection", c.ID, "user", c.Principal.UserID)
}

// fail reports a coordinator failure to the caller only. Other participants
// never hear about someone else's failed operation.
func (g *Gateway) fail(c *Client, op string, err error) {
	msg, business := userMessage(err)
	if !business {
		g.logger.Error("operation failed", "op", op, "connection", c.ID, "user", c.Principal.UserID, "error", err)
	}
	g.sendError(c, msg)
}

func (g *Gateway) sendError(c *Client, msg string) {
	g.sendEvent(c, EvError, msg)
}

func (g *Gateway) sendEvent(c *Client, event string, payload any) {
	if data, ok := encodeEvent(g.logger, event, payload); ok {
		g.hub.SendTo(c, data)
	}
}

func (g *Gateway) broadcastGroup(token, event string, payload any) {
	if data, ok := encodeEvent(g.logger, event, payload); ok {
		g.hub.BroadcastGroup(token, data)
	}
}

func (g *Gateway) broadcastOthers(except *Client, event string, payload any) {
	if data, ok := encodeEvent(g.logger, event, payload); ok {
		g.hub.BroadcastOthers(except, data)
	}
}

// userMessage maps an error to what the caller sees. Business outcomes get a
// specific message; anything else is an infrastructure failure surfaced
// generically (and logged with full context by the caller of this function).
func userMessage(err error) (msg string, business bool) {
	switch {
	case errors.Is(err, rehearsal.ErrUnauthorized):
		return "only the conductor may do that", true
	case errors.Is(err, rehearsal.ErrSessionConflict):
		return "a rehearsal session is already active", true
	case errors.Is(err, rehearsal.ErrNoActiveSession):
		return "there is no active rehearsal right now", true
	case errors.Is(err, rehearsal.ErrSessionEnded):
		return "this rehearsal has already ended", true
	case errors.Is(err, rehearsal.ErrSessionNotFound):
		return "rehearsal session not found", true
	case errors.Is(err, rehearsal.ErrSongNotFound):
		return "that song could not be found", true
	}
	return "something went wrong, please try again", false
}
