package ws

import (
	"log/slog"

	"github.com/jamoveo/rehearsal-backend/internal/models"
)

// Notifier lets the request/response surface push the same events the
// socket surface pushes, so a mutation made over REST is still visible to
// every subscribed connection.
type Notifier struct {
	hub    *Hub
	logger *slog.Logger
}

// NewNotifier wraps a hub for use by non-socket callers.
func NewNotifier(hub *Hub, logger *slog.Logger) *Notifier {
	return &Notifier{hub: hub, logger: logger}
}

// UserJoined announces a new participant to the session's group.
func (n *Notifier) UserJoined(sessionToken, username string) {
	n.group(sessionToken, EvUserJoined, username)
}

// UserLeft announces a departed participant to the session's group.
func (n *Notifier) UserLeft(sessionToken, username string) {
	n.group(sessionToken, EvUserLeft, username)
}

// SongSelected pushes the selected song's payload to the session's group.
func (n *Notifier) SongSelected(sessionToken string, song *models.Song) {
	n.group(sessionToken, EvSongSelected, song)
}

// SessionEnded tells the session's group the rehearsal is over and
// dissolves the broadcast group. Connections stay open.
func (n *Notifier) SessionEnded(sessionToken string) {
	n.group(sessionToken, EvSessionEnded, nil)
	n.hub.CloseGroup(sessionToken)
}

// NewSessionAvailable announces a fresh session to every connected client.
func (n *Notifier) NewSessionAvailable() {
	if data, ok := encodeEvent(n.logger, EvNewSessionAvailable, "a new rehearsal session is open"); ok {
		n.hub.BroadcastOthers(nil, data)
	}
}

func (n *Notifier) group(sessionToken, event string, payload any) {
	if data, ok := encodeEvent(n.logger, event, payload); ok {
		n.hub.BroadcastGroup(sessionToken, data)
	}
}
