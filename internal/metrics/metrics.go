// Package metrics exposes sync progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/getcanoe/canoe-sync/internal/log"
	"github.com/getcanoe/canoe-sync/internal/wallet"
)

var registry = prometheus.NewRegistry()

var (
	accounts        prometheus.Gauge
	pendingWork     prometheus.Gauge
	readyBlocks     prometheus.Gauge
	pendingReceives prometheus.Gauge

	workSolved    *prometheus.CounterVec
	broadcasts    *prometheus.CounterVec
	reconciles    *prometheus.CounterVec
	notifications *prometheus.CounterVec
)

func init() {
	accounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canoe_wallet_accounts",
		Help: "Number of accounts in the attached wallet.",
	})
	pendingWork = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canoe_work_pending",
		Help: "Blocks waiting for proof of work.",
	})
	readyBlocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canoe_ready_blocks",
		Help: "Blocks with work waiting to be broadcast.",
	})
	pendingReceives = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canoe_pending_receives",
		Help: "Inbound sends claimed locally but not yet confirmed.",
	})

	workSolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canoe_work_total",
			Help: "Proof of work results by solver and outcome.",
		},
		[]string{"solver", "result"},
	)
	broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canoe_broadcast_total",
			Help: "Block submissions by outcome.",
		},
		[]string{"result"},
	)
	reconciles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canoe_reconcile_total",
			Help: "Account reconciliations by outcome.",
		},
		[]string{"result"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canoe_notifications_total",
			Help: "Push notifications by message kind and outcome.",
		},
		[]string{"kind", "result"},
	)

	registry.MustRegister(
		accounts, pendingWork, readyBlocks, pendingReceives,
		workSolved, broadcasts, reconciles, notifications,
	)
}

// ObserveStatus records the wallet queue sizes.
func ObserveStatus(st wallet.Status) {
	accounts.Set(float64(st.Accounts))
	pendingWork.Set(float64(st.PendingWork))
	readyBlocks.Set(float64(st.ReadyToBroadcast))
	pendingReceives.Set(float64(st.PendingReceives))
}

// WorkResult counts one proof of work attempt.
func WorkResult(solver string, err error) {
	workSolved.WithLabelValues(solver, outcome(err)).Inc()
}

// BroadcastResult counts one block submission.
func BroadcastResult(err error) {
	broadcasts.WithLabelValues(outcome(err)).Inc()
}

// ReconcileResult counts one account reconciliation.
func ReconcileResult(err error) {
	reconciles.WithLabelValues(outcome(err)).Inc()
}

// NotificationResult counts one routed push notification.
func NotificationResult(kind string, err error) {
	notifications.WithLabelValues(kind, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Server serves /metrics over HTTP.
type Server struct {
	addr string

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewServer creates a metrics server bound to addr on Start.
func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

// Handler returns the HTTP handler exposing the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	s.mu.Lock()
	s.listener = ln
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := s.srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Node.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	log.Node.Info().Str("addr", ln.Addr().String()).Msg("Metrics server started")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
