package ws

import (
	"encoding/json"
	"log/slog"
)

// Outbound event names pushed to clients. The payload shape per event:
// session events carry a models.SessionSnapshot, SongSelected a models.Song,
// UserJoined/UserLeft a username, the message events a human-readable string,
// SessionEnded nothing.
const (
	EvSessionCreated      = "SessionCreated"
	EvJoinedSession       = "JoinedSession"
	EvNoActiveSession     = "NoActiveSession"
	EvNewSessionAvailable = "NewSessionAvailable"
	EvSongSelected        = "SongSelected"
	EvUserJoined          = "UserJoined"
	EvUserLeft            = "UserLeft"
	EvSessionEnded        = "SessionEnded"
	EvError               = "Error"
)

// Inbound control actions a client may invoke over the socket.
const (
	ActJoinRehearsal    = "JoinRehearsal"
	ActLeaveRehearsal   = "LeaveRehearsal"
	ActCreateNewSession = "CreateNewSession"
	ActSelectSong       = "SelectSong"
	ActQuitSession      = "QuitSession"
)

// Event is the outbound wire envelope.
type Event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// ControlMessage is the inbound wire envelope. SongID is read only for
// SelectSong.
type ControlMessage struct {
	Action string `json:"action"`
	SongID int    `json:"songId,omitempty"`
}

// encodeEvent marshals an event, logging rather than failing on the (only
// programmer-error) case of an unmarshalable payload.
func encodeEvent(logger *slog.Logger, event string, payload any) ([]byte, bool) {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		logger.Error("failed to encode event", "event", event, "error", err)
		return nil, false
	}
	return data, true
}
