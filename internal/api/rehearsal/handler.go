package rehearsalapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jamoveo/rehearsal-backend/internal/middleware"
	"github.com/jamoveo/rehearsal-backend/internal/presence"
	"github.com/jamoveo/rehearsal-backend/internal/rehearsal"
	"github.com/jamoveo/rehearsal-backend/internal/ws"
)

// Handler serves the request/response surface of the rehearsal coordinator.
// It dispatches into the same coordinator as the socket gateway, so the two
// surfaces cannot diverge on business rules, and pushes the same events
// through the hub on every successful mutation.
type Handler struct {
	Coordinator *rehearsal.Coordinator
	Notifier    *ws.Notifier
	Presence    *presence.Tracker
	Logger      *slog.Logger
}

// CreateSession handles POST /api/rehearsal/create.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	res, err := h.Coordinator.CreateSession(r.Context(), p)
	if err != nil {
		h.respondFailure(w, r, "CreateSession", err)
		return
	}
	if res.Replaced != nil {
		h.Notifier.SessionEnded(res.Replaced.SessionToken)
		h.Presence.UnbindSession(res.Replaced.SessionToken)
	}
	h.Notifier.NewSessionAvailable()
	respondJSON(w, http.StatusCreated, res.Snapshot)
}

// GetActiveSession handles GET /api/rehearsal/active.
func (h *Handler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Coordinator.GetActiveSession(r.Context())
	if err != nil {
		h.respondFailure(w, r, "GetActiveSession", err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// JoinSession handles POST /api/rehearsal/join/{sessionId}.
func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	token := mux.Vars(r)["sessionId"]

	res, err := h.Coordinator.JoinSession(r.Context(), p, token)
	if err != nil {
		h.respondFailure(w, r, "JoinSession", err)
		return
	}
	h.Notifier.UserJoined(token, p.Username)
	// The current song rides along in the join response; late joiners never
	// get it as a replayed broadcast.
	respondJSON(w, http.StatusOK, res)
}

// LeaveSession handles POST /api/rehearsal/leave/{sessionId}.
func (h *Handler) LeaveSession(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	token := mux.Vars(r)["sessionId"]

	closed, err := h.Coordinator.LeaveSession(r.Context(), p, token)
	if err != nil {
		h.respondFailure(w, r, "LeaveSession", err)
		return
	}
	if closed {
		h.Notifier.UserLeft(token, p.Username)
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "left the rehearsal"})
}

// SelectSong handles POST /api/rehearsal/select-song/{songId}.
func (h *Handler) SelectSong(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	songID, err := strconv.Atoi(mux.Vars(r)["songId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "song id must be numeric")
		return
	}

	res, err := h.Coordinator.SelectSong(r.Context(), p, songID)
	if err != nil {
		h.respondFailure(w, r, "SelectSong", err)
		return
	}
	h.Notifier.SongSelected(res.Session.SessionToken, res.Song)
	respondJSON(w, http.StatusOK, res.Song)
}

// EndSession handles POST /api/rehearsal/end.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	ended, err := h.Coordinator.EndSession(r.Context(), p)
	if err != nil {
		h.respondFailure(w, r, "EndSession", err)
		return
	}
	h.Notifier.SessionEnded(ended.SessionToken)
	h.Presence.UnbindSession(ended.SessionToken)
	respondJSON(w, http.StatusOK, map[string]string{"message": "rehearsal ended"})
}

// GetCurrentSong handles GET /api/rehearsal/current-song.
func (h *Handler) GetCurrentSong(w http.ResponseWriter, r *http.Request) {
	song, err := h.Coordinator.GetCurrentSong(r.Context())
	if err != nil {
		h.respondFailure(w, r, "GetCurrentSong", err)
		return
	}
	respondJSON(w, http.StatusOK, song)
}

// GetConnectedUsers handles GET /api/rehearsal/connected-users/{sessionId}.
func (h *Handler) GetConnectedUsers(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["sessionId"]
	users, err := h.Coordinator.GetConnectedUsers(r.Context(), token)
	if err != nil {
		h.respondFailure(w, r, "GetConnectedUsers", err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// respondFailure maps coordinator errors onto HTTP statuses. Business
// outcomes get a specific message; infrastructure failures are logged with
// context and surfaced generically.
func (h *Handler) respondFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, rehearsal.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "only the conductor may do that")
	case errors.Is(err, rehearsal.ErrSessionConflict):
		respondError(w, http.StatusConflict, "a rehearsal session is already active")
	case errors.Is(err, rehearsal.ErrSessionEnded):
		respondError(w, http.StatusConflict, "this rehearsal has already ended")
	case errors.Is(err, rehearsal.ErrNoActiveSession):
		respondError(w, http.StatusNotFound, "there is no active rehearsal right now")
	case errors.Is(err, rehearsal.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "rehearsal session not found")
	case errors.Is(err, rehearsal.ErrSongNotFound):
		respondError(w, http.StatusNotFound, "song not found")
	default:
		h.Logger.Error("request failed", "op", op, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "something went wrong, please try again")
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"message": msg})
}
