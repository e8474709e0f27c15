package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncStats is a point-in-time copy of the sync counters.
type SyncStats struct {
	StreamMessages     int64 `json:"stream_messages"`
	DecodeFailures     int64 `json:"decode_failures"`
	ConnectAttempts    int64 `json:"connect_attempts"`
	ConnectFailures    int64 `json:"connect_failures"`
	Polls              int64 `json:"polls"`
	PollFailures       int64 `json:"poll_failures"`
	PollsSkipped       int64 `json:"polls_skipped"`
	ListenerPanics     int64 `json:"listener_panics"`
	TerminalFailures   int64 `json:"terminal_failures"`
	OrdersInCollection int64 `json:"orders_in_collection"`
}

// SyncMetrics keeps the counters both in memory (for /status) and in a
// Prometheus registry (for /metrics).
type SyncMetrics struct {
	Registry *prometheus.Registry

	mu    sync.Mutex
	stats SyncStats

	streamMessages  prometheus.Counter
	decodeFailures  prometheus.Counter
	connectAttempts prometheus.Counter
	connectFailures prometheus.Counter
	polls           *prometheus.CounterVec
	terminal        prometheus.Counter
	connected       prometheus.Gauge
	orders          prometheus.Gauge
}

func NewSyncMetrics() *SyncMetrics {
	m := &SyncMetrics{
		Registry: prometheus.NewRegistry(),
		streamMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_sync_stream_messages_total",
			Help: "Order messages received on the event stream.",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_sync_decode_failures_total",
			Help: "Stream messages dropped because they could not be decoded.",
		}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_sync_connect_attempts_total",
			Help: "Stream connection attempts.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_sync_connect_failures_total",
			Help: "Stream connection attempts or sessions that failed.",
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_sync_polls_total",
			Help: "Order list fetches by outcome.",
		}, []string{"outcome"}),
		terminal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_sync_reconnects_exhausted_total",
			Help: "Times automatic reconnection gave up.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "order_sync_stream_connected",
			Help: "1 while the order stream is connected.",
		}),
		orders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "order_sync_orders",
			Help: "Orders in the local collection.",
		}),
	}
	m.Registry.MustRegister(m.streamMessages, m.decodeFailures, m.connectAttempts,
		m.connectFailures, m.polls, m.terminal, m.connected, m.orders)
	return m
}

// Every recorder tolerates a nil receiver so components run without metrics.

func (m *SyncMetrics) StreamMessage() {
	if m == nil {
		return
	}
	m.streamMessages.Inc()
	m.bump(func(s *SyncStats) { s.StreamMessages++ })
}

func (m *SyncMetrics) DecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
	m.bump(func(s *SyncStats) { s.DecodeFailures++ })
}

func (m *SyncMetrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
	m.bump(func(s *SyncStats) { s.ConnectAttempts++ })
}

func (m *SyncMetrics) ConnectFailure() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
	m.bump(func(s *SyncStats) { s.ConnectFailures++ })
}

func (m *SyncMetrics) ListenerPanic() {
	if m == nil {
		return
	}
	m.bump(func(s *SyncStats) { s.ListenerPanics++ })
}

func (m *SyncMetrics) TerminalFailure() {
	if m == nil {
		return
	}
	m.terminal.Inc()
	m.bump(func(s *SyncStats) { s.TerminalFailures++ })
}

// Poll records one fetch outcome: "ok", "error" or "skipped".
func (m *SyncMetrics) Poll(outcome string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
	m.bump(func(s *SyncStats) {
		switch outcome {
		case "ok":
			s.Polls++
		case "error":
			s.Polls++
			s.PollFailures++
		case "skipped":
			s.PollsSkipped++
		}
	})
}

func (m *SyncMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *SyncMetrics) SetOrderCount(n int) {
	if m == nil {
		return
	}
	m.orders.Set(float64(n))
	m.bump(func(s *SyncStats) { s.OrdersInCollection = int64(n) })
}

func (m *SyncMetrics) GetStats() SyncStats {
	if m == nil {
		return SyncStats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *SyncMetrics) bump(fn func(*SyncStats)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}
