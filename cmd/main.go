package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"

	rehearsalapi "github.com/jamoveo/rehearsal-backend/internal/api/rehearsal"
	"github.com/jamoveo/rehearsal-backend/internal/catalogue"
	"github.com/jamoveo/rehearsal-backend/internal/config"
	"github.com/jamoveo/rehearsal-backend/internal/identity"
	"github.com/jamoveo/rehearsal-backend/internal/middleware"
	"github.com/jamoveo/rehearsal-backend/internal/models"
	"github.com/jamoveo/rehearsal-backend/internal/presence"
	"github.com/jamoveo/rehearsal-backend/internal/rehearsal"
	"github.com/jamoveo/rehearsal-backend/internal/storage/memory"
	valkeystore "github.com/jamoveo/rehearsal-backend/internal/storage/valkey"
	"github.com/jamoveo/rehearsal-backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	policy, err := rehearsal.ParseCreatePolicy(cfg.CreatePolicy)
	if err != nil {
		logger.Error("invalid create policy", "error", err)
		os.Exit(1)
	}

	var store rehearsal.SessionStore
	if cfg.ValkeyAddr != "" {
		vs, err := valkeystore.Dial(cfg.ValkeyAddr)
		if err != nil {
			logger.Error("failed to connect to valkey", "addr", cfg.ValkeyAddr, "error", err)
			os.Exit(1)
		}
		defer vs.Close()
		store = vs
		logger.Info("using valkey session store", "addr", cfg.ValkeyAddr)
	} else {
		store = memory.NewSessionStore()
		logger.Info("using in-memory session store")
	}

	var songs catalogue.Provider
	if cfg.CatalogueURL != "" {
		songs = catalogue.NewClient(cfg.CatalogueURL)
		logger.Info("using catalogue service", "url", cfg.CatalogueURL)
	} else {
		songs = demoCatalogue()
		logger.Info("using built-in demo catalogue")
	}

	coord := rehearsal.NewCoordinator(store, songs, policy, logger.With("component", "coordinator"))
	verifier := identity.NewVerifier(cfg.JWTSecret)
	tracker := presence.NewTracker()
	hub := ws.NewHub()
	gateway := ws.NewGateway(coord, hub, tracker, verifier, cfg.AllowedOrigin, logger.With("component", "gateway"))

	handler := &rehearsalapi.Handler{
		Coordinator: coord,
		Notifier:    ws.NewNotifier(hub, logger.With("component", "notifier")),
		Presence:    tracker,
		Logger:      logger.With("component", "api"),
	}

	router := mux.NewRouter()
	router.Use(middleware.CORS(cfg.AllowedOrigin))
	rehearsalapi.RegisterRoutes(router, handler, verifier)
	router.HandleFunc("/ws/rehearsal", gateway.ServeWS)

	logger.Info("server started", "addr", cfg.Addr, "create_policy", string(policy))
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// demoCatalogue backs local development when no catalogue service is
// configured.
func demoCatalogue() *catalogue.Static {
	return catalogue.NewStatic(
		models.Song{
			ID:     1,
			Title:  "Hey Jude",
			Artist: "The Beatles",
			Lines: [][]models.WordChordPair{
				{{Lyrics: "Hey", Chords: "F"}, {Lyrics: "Jude"}, {Lyrics: "don't", Chords: "C"}, {Lyrics: "make", Chords: ""}, {Lyrics: "it", Chords: ""}, {Lyrics: "bad"}},
				{{Lyrics: "Take", Chords: "C7"}, {Lyrics: "a"}, {Lyrics: "sad", Chords: "F"}, {Lyrics: "song"}, {Lyrics: "and"}, {Lyrics: "make"}, {Lyrics: "it"}, {Lyrics: "better", Chords: "Bb"}},
			},
		},
		models.Song{
			ID:       2,
			Title:    "Wonderwall",
			Artist:   "Oasis",
			Language: "en",
			Lines: [][]models.WordChordPair{
				{{Lyrics: "Today", Chords: "Em7"}, {Lyrics: "is"}, {Lyrics: "gonna", Chords: "G"}, {Lyrics: "be"}, {Lyrics: "the"}, {Lyrics: "day", Chords: "Dsus4"}},
			},
		},
	)
}
