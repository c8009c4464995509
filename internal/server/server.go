package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"typerace/internal/broadcast"
	"typerace/internal/chat"
	"typerace/internal/identity"
	"typerace/internal/metrics"
	"typerace/internal/rooms"
	"typerace/internal/scores"
	"typerace/internal/store"
	"typerace/internal/wshub"
)

type Deps struct {
	Store       store.Store
	Rooms       *rooms.Controller
	Ledger      *scores.Ledger
	Chat        *chat.Service
	Broadcaster *broadcast.Broadcaster
	Hub         *wshub.Hub
	Tokens      *identity.Tokens // nil disables bearer tokens
	DevAuth     bool
	Admins      []string // user ids allowed on score and backfill routes
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Logger      zerolog.Logger

	ProgressRate  float64
	ProgressBurst int
}

type Server struct {
	store    store.Store
	rooms    *rooms.Controller
	ledger   *scores.Ledger
	chat     *chat.Service
	bcast    *broadcast.Broadcaster
	hub      *wshub.Hub
	tokens   *identity.Tokens
	devAuth  bool
	admins   map[string]bool
	progress *userLimiter
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

func New(d Deps) *Server {
	if d.Metrics == nil {
		d.Metrics = metrics.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.NewRegistry()
	}
	admins := make(map[string]bool, len(d.Admins))
	for _, id := range d.Admins {
		admins[id] = true
	}
	return &Server{
		store:    d.Store,
		rooms:    d.Rooms,
		ledger:   d.Ledger,
		chat:     d.Chat,
		bcast:    d.Broadcaster,
		hub:      d.Hub,
		tokens:   d.Tokens,
		devAuth:  d.DevAuth,
		admins:   admins,
		progress: newUserLimiter(d.ProgressRate, d.ProgressBurst),
		metrics:  d.Metrics,
		gatherer: d.Gatherer,
		logger:   d.Logger.With().Str("component", "server").Logger(),
	}
}

func (s *Server) Routes() http.Handler {
	mux := chi.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	mux.Use(c.Handler)
	mux.Use(middleware.Recoverer)
	mux.Use(s.RequestID)

	mux.Get("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.Route("/api", func(r chi.Router) {
		r.Use(s.Authenticate)

		r.Put("/me", s.handleUpsertProfile)
		r.Get("/me/room", s.handleCurrentRoom)

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", s.handleListRooms)
			r.Post("/", s.handleCreateRoom)
			r.Post("/join", s.handleJoinRoom)

			r.Route("/{roomID}", func(r chi.Router) {
				r.Get("/", s.handleRoomState)
				r.Post("/requests", s.handleRequestToJoin)
				r.Get("/requests/mine", s.handleMyJoinRequest)
				r.Post("/ready", s.handleReady)
				r.Post("/progress", s.handleProgress)
				r.Post("/rounds", s.handleNewRound)
				r.Post("/complete", s.handleComplete)
				r.Post("/active", s.handleSetActive)
				r.Delete("/players/me", s.handleLeave)
				r.Get("/history", s.handleHistory)
				r.Get("/chat", s.handleListChat)
				r.Post("/chat", s.handleSendChat)
				r.Get("/events", s.handleEvents)
				r.Get("/ws", s.handleSocket)
			})
		})

		r.Route("/requests/{requestID}", func(r chi.Router) {
			r.Post("/", s.handleJoinRequestAction)
			r.Post("/redirected", s.handleRedirected)
		})

		r.Get("/users/{userID}/profile", s.handleProfile)

		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/", s.handleLeaderboard)
			r.Get("/page", s.handleLeaderboardPage)
			r.Get("/rank/{userID}", s.handleUserRank)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.RequireAdmin)
			r.Post("/scores", s.handleUpdateScore)
			r.Post("/admin/leaderboard/backfill", s.handleBackfill)
		})
	})

	return mux
}
