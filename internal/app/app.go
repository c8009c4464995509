package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"typerace/internal/broadcast"
	"typerace/internal/chat"
	"typerace/internal/config"
	"typerace/internal/db"
	"typerace/internal/events"
	"typerace/internal/identity"
	"typerace/internal/logger"
	"typerace/internal/metrics"
	"typerace/internal/rooms"
	"typerace/internal/scores"
	"typerace/internal/server"
	"typerace/internal/store"
	"typerace/internal/wshub"
)

const (
	ShutdownTimeout = 10 * time.Second
	TokenMaxAge     = 24 * time.Hour
	eventBuffer     = 256
)

var Module = fx.Options(
	fx.Provide(config.Load),
	fx.Provide(NewLogger),
	fx.Provide(NewRegistry),
	fx.Provide(NewMetrics),
	fx.Provide(NewStore),
	fx.Provide(NewBus),
	fx.Provide(broadcast.NewBroadcaster),
	fx.Provide(NewLedger),
	fx.Provide(NewScheduler),
	fx.Provide(NewController),
	fx.Provide(NewChat),
	fx.Provide(wshub.NewHub),
	fx.Provide(NewServer),
	fx.Invoke(Run),
)

func NewLogger(cfg config.Config) zerolog.Logger {
	return logger.New(cfg.LogLevel)
}

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func NewMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

// NewStore opens Postgres when DATABASE_URL is set and falls back to the
// in-memory store otherwise.
func NewStore(lc fx.Lifecycle, cfg config.Config, log zerolog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info().Msg("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), nil
	}

	database, err := db.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	log.Info().Msg("database connected and migrations applied")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return database.Close()
		},
	})
	return database, nil
}

func NewBus() *events.Bus {
	return events.NewBus(eventBuffer)
}

func NewLedger(st store.Store, cfg config.Config, m *metrics.Metrics, log zerolog.Logger) *scores.Ledger {
	return scores.NewLedger(st, cfg.ScaledRewards, m, log)
}

func NewScheduler(ledger *scores.Ledger, cfg config.Config, log zerolog.Logger) *scores.Scheduler {
	return scores.NewScheduler(ledger, cfg.SettlementQueue, log)
}

func NewController(st store.Store, sched *scores.Scheduler, bus *events.Bus, cfg config.Config, m *metrics.Metrics, log zerolog.Logger) *rooms.Controller {
	return rooms.NewController(st, sched, bus, rooms.Config{Capacity: cfg.RoomCapacity}, m, log)
}

func NewChat(st store.Store, bus *events.Bus) *chat.Service {
	return chat.NewService(st, bus)
}

type ServerParams struct {
	fx.In

	Config      config.Config
	Store       store.Store
	Rooms       *rooms.Controller
	Ledger      *scores.Ledger
	Chat        *chat.Service
	Broadcaster *broadcast.Broadcaster
	Hub         *wshub.Hub
	Metrics     *metrics.Metrics
	Registry    *prometheus.Registry
	Logger      zerolog.Logger
}

func NewServer(p ServerParams) *server.Server {
	var tokens *identity.Tokens
	if p.Config.JWTSecret != "" {
		tokens = identity.NewTokens(p.Config.JWTSecret, TokenMaxAge)
	}
	if p.Config.DevAuth {
		p.Logger.Warn().Msg("DEV_AUTH enabled: X-User-ID is trusted")
	}
	return server.New(server.Deps{
		Store:         p.Store,
		Rooms:         p.Rooms,
		Ledger:        p.Ledger,
		Chat:          p.Chat,
		Broadcaster:   p.Broadcaster,
		Hub:           p.Hub,
		Tokens:        tokens,
		DevAuth:       p.Config.DevAuth,
		Admins:        p.Config.Admins,
		Metrics:       p.Metrics,
		Gatherer:      p.Registry,
		Logger:        p.Logger,
		ProgressRate:  p.Config.ProgressRate,
		ProgressBurst: p.Config.ProgressBurst,
	})
}

// Run serves HTTP and the settlement worker for the lifetime of the app. On
// stop, requests finish first, then queued settlements drain, then the event
// bus closes.
func Run(lc fx.Lifecycle, cfg config.Config, srv *server.Server, sched *scores.Scheduler, bus *events.Bus, log zerolog.Logger) {
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: srv.Routes(),
	}

	workCtx, stopWork := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(workCtx)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			g.Go(func() error {
				return sched.Run(gctx)
			})
			go func() {
				log.Info().Str("addr", httpSrv.Addr).Msg("server starting")
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			defer cancel()

			err := httpSrv.Shutdown(shutdownCtx)
			if err != nil {
				log.Error().Err(err).Msg("server shutdown failed")
			}

			stopWork()
			if werr := g.Wait(); werr != nil {
				log.Error().Err(werr).Msg("background worker failed")
			}
			bus.Close()
			log.Info().Msg("server stopped gracefully")
			return err
		},
	})
}
