package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/code-craka/visa-manager-app-sub001/internal/core/domain"
	"github.com/code-craka/visa-manager-app-sub001/internal/infrastructure/metrics"
)

const (
	defaultPingInterval    = 30 * time.Second
	defaultLivenessTimeout = 60 * time.Second
)

// SupervisorConfig holds liveness sweep settings. PingInterval must be
// shorter than LivenessTimeout or every connection is evicted on its second
// sweep.
type SupervisorConfig struct {
	PingInterval    time.Duration
	LivenessTimeout time.Duration
}

// Supervisor periodically pings registered connections and evicts the ones
// whose peers have gone silent. This is what reclaims sockets from phones
// that backgrounded the app or dropped off the network without a close frame.
type Supervisor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewSupervisor creates a liveness supervisor over the given registry.
func NewSupervisor(registry *Registry, cfg SupervisorConfig, logger *slog.Logger, m *metrics.Metrics) *Supervisor {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = defaultLivenessTimeout
	}

	return &Supervisor{
		registry: registry,
		interval: cfg.PingInterval,
		timeout:  cfg.LivenessTimeout,
		logger:   logger.With("component", "liveness_supervisor"),
		metrics:  m,
	}
}

// Run sweeps on a fixed period until the context is cancelled.
// This method runs in its own goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep evicts connections that have been silent past the liveness timeout
// and pings the rest. Sending a ping does not refresh liveness; only the
// peer's responses do. Returns the number of evictions for observability.
func (s *Supervisor) sweep(now time.Time) int {
	ping, err := json.Marshal(domain.NewEvent(domain.EventPing, nil))
	if err != nil {
		s.logger.Error("failed to marshal ping", "error", err)
		return 0
	}

	evicted := 0
	s.registry.ForEachAll(func(conn *Connection) {
		if now.Sub(conn.LastLiveness()) > s.timeout {
			s.logger.Info("evicting unresponsive connection",
				"connection_id", conn.ID,
				"user_id", conn.UserID,
				"last_liveness", conn.LastLiveness(),
			)
			conn.Close(websocket.CloseGoingAway, "liveness timeout")
			if s.registry.Unregister(conn.ID) {
				evicted++
				s.metrics.ConnectionEvicted()
			}
			return
		}

		if err := conn.enqueue(ping); err != nil {
			// A connection that cannot even take a ping is done for.
			s.logger.Warn("failed to queue ping, dropping connection",
				"connection_id", conn.ID,
				"error", err,
			)
			s.registry.Unregister(conn.ID)
		}
	})

	if evicted > 0 {
		s.logger.Info("liveness sweep complete", "evicted", evicted)
	}
	return evicted
}
