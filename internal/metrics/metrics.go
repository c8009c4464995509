// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RoomsCreated    prometheus.Counter
	RoomsClosed     prometheus.Counter
	RoundsStarted   prometheus.Counter
	RoundsFinished  prometheus.Counter
	ProgressUpdates prometheus.Counter
	Settlements     *prometheus.CounterVec
	ScoreUpdates    *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	WSSessions      prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typerace_rooms_created_total",
			Help: "Rooms created.",
		}),
		RoomsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typerace_rooms_closed_total",
			Help: "Rooms deleted after the last player left.",
		}),
		RoundsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typerace_rounds_started_total",
			Help: "Rounds that moved a room to playing.",
		}),
		RoundsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typerace_rounds_finished_total",
			Help: "Rounds that moved a room to finished.",
		}),
		ProgressUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typerace_progress_updates_total",
			Help: "Accepted progress reports.",
		}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "typerace_settlements_total",
			Help: "Round settlements by result.",
		}, []string{"result"}),
		ScoreUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "typerace_score_updates_total",
			Help: "Per-player score updates by outcome.",
		}, []string{"outcome"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typerace_events_dropped_total",
			Help: "Room change notifications dropped on a full bus.",
		}),
		WSSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "typerace_ws_sessions",
			Help: "Open websocket sessions.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "typerace_http_requests_total",
			Help: "HTTP requests by method and status.",
		}, []string{"method", "status"}),
	}
	reg.MustRegister(
		m.RoomsCreated,
		m.RoomsClosed,
		m.RoundsStarted,
		m.RoundsFinished,
		m.ProgressUpdates,
		m.Settlements,
		m.ScoreUpdates,
		m.EventsDropped,
		m.WSSessions,
		m.HTTPRequests,
	)
	return m
}

// NewNop returns collectors registered nowhere, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
