package rehearsalapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jamoveo/rehearsal-backend/internal/middleware"
)

// RegisterRoutes mounts the rehearsal REST surface under /api/rehearsal.
// Every route requires a valid bearer token; conductor-only enforcement
// happens inside the coordinator, not here.
func RegisterRoutes(r *mux.Router, h *Handler, auth middleware.Authenticator) {
	api := r.PathPrefix("/api/rehearsal").Subrouter()
	api.Use(middleware.RequireAuth(auth))

	api.HandleFunc("/create", h.CreateSession).Methods(http.MethodPost)
	api.HandleFunc("/active", h.GetActiveSession).Methods(http.MethodGet)
	api.HandleFunc("/join/{sessionId}", h.JoinSession).Methods(http.MethodPost)
	api.HandleFunc("/leave/{sessionId}", h.LeaveSession).Methods(http.MethodPost)
	api.HandleFunc("/select-song/{songId:[0-9]+}", h.SelectSong).Methods(http.MethodPost)
	api.HandleFunc("/end", h.EndSession).Methods(http.MethodPost)
	api.HandleFunc("/current-song", h.GetCurrentSong).Methods(http.MethodGet)
	api.HandleFunc("/connected-users/{sessionId}", h.GetConnectedUsers).Methods(http.MethodGet)
}
