package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/code-craka/visa-manager-app-sub001/internal/core/domain"
	apperrors "github.com/code-craka/visa-manager-app-sub001/internal/core/errors"
	"github.com/code-craka/visa-manager-app-sub001/internal/infrastructure/metrics"
)

const defaultSendBufferSize = 256

// RegistryConfig holds registry limits.
type RegistryConfig struct {
	// MaxConnections caps the registry; zero means unlimited.
	MaxConnections int

	// SendBufferSize is the per-connection outbound frame buffer.
	SendBufferSize int
}

// Registry is the single source of truth for who is connected. It is the only
// structure mutated by more than one actor (lifecycle controller on
// connect/disconnect, liveness supervisor on eviction); its mutex serializes
// all of that mutation while fan-out iterates over snapshots.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	byUser   map[string]map[string]*Connection
	byTenant map[string]map[string]*Connection

	maxConns   int
	sendBuffer int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewRegistry creates an empty connection registry.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}

	return &Registry{
		conns:      make(map[string]*Connection),
		byUser:     make(map[string]map[string]*Connection),
		byTenant:   make(map[string]map[string]*Connection),
		maxConns:   cfg.MaxConnections,
		sendBuffer: cfg.SendBufferSize,
		logger:     logger.With("component", "connection_registry"),
		metrics:    m,
	}
}

// Register creates a Connection Record for a verified identity and inserts it.
// The caller owns closing the socket if registration fails.
func (r *Registry) Register(identity domain.Identity, transport Transport) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		return nil, apperrors.ErrCapacityExceeded
	}

	conn := newConnection(uuid.NewString(), identity, transport, r, r.sendBuffer, r.logger)

	r.conns[conn.ID] = conn

	if r.byUser[conn.UserID] == nil {
		r.byUser[conn.UserID] = make(map[string]*Connection)
	}
	r.byUser[conn.UserID][conn.ID] = conn

	if r.byTenant[conn.TenantID] == nil {
		r.byTenant[conn.TenantID] = make(map[string]*Connection)
	}
	r.byTenant[conn.TenantID][conn.ID] = conn

	r.metrics.SetConnections(len(r.conns))

	r.logger.Info("connection registered",
		"connection_id", conn.ID,
		"user_id", conn.UserID,
		"role", conn.Role,
		"agency_id", conn.TenantID,
		"total_connections", len(r.conns),
	)

	return conn, nil
}

// Unregister removes the connection and closes its socket. Removing an id
// that is already gone is a no-op, which absorbs double-close races between
// the read pump, the supervisor, and shutdown. Reports whether a record was
// actually removed.
func (r *Registry) Unregister(connectionID string) bool {
	r.mu.Lock()

	conn, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return false
	}

	delete(r.conns, connectionID)

	if userConns, ok := r.byUser[conn.UserID]; ok {
		delete(userConns, connectionID)
		if len(userConns) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
	if tenantConns, ok := r.byTenant[conn.TenantID]; ok {
		delete(tenantConns, connectionID)
		if len(tenantConns) == 0 {
			delete(r.byTenant, conn.TenantID)
		}
	}

	total := len(r.conns)
	r.metrics.SetConnections(total)
	r.mu.Unlock()

	// Close outside the lock; the close frame write can take up to writeWait.
	conn.Close(websocket.CloseNormalClosure, "")

	r.logger.Info("connection unregistered",
		"connection_id", connectionID,
		"user_id", conn.UserID,
		"total_connections", total,
	)
	return true
}

// Touch refreshes a connection's liveness; a no-op if it is already gone.
func (r *Registry) Touch(connectionID string) {
	r.mu.RLock()
	conn, ok := r.conns[connectionID]
	r.mu.RUnlock()

	if ok {
		conn.touch(time.Now())
	}
}

// ForEachInTenant calls fn for every connection scoped to the given agency.
// fn runs outside the registry lock, so it may unregister connections.
func (r *Registry) ForEachInTenant(tenantID string, fn func(*Connection)) {
	r.mu.RLock()
	snapshot := make([]*Connection, 0, len(r.byTenant[tenantID]))
	for _, conn := range r.byTenant[tenantID] {
		snapshot = append(snapshot, conn)
	}
	r.mu.RUnlock()

	for _, conn := range snapshot {
		fn(conn)
	}
}

// ForEachForUser calls fn for every connection belonging to the given user. A
// user with two tabs open has two connections and fn sees both.
func (r *Registry) ForEachForUser(userID string, fn func(*Connection)) {
	r.mu.RLock()
	snapshot := make([]*Connection, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		snapshot = append(snapshot, conn)
	}
	r.mu.RUnlock()

	for _, conn := range snapshot {
		fn(conn)
	}
}

// ForEachAll calls fn for every registered connection.
func (r *Registry) ForEachAll(fn func(*Connection)) {
	r.mu.RLock()
	snapshot := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		snapshot = append(snapshot, conn)
	}
	r.mu.RUnlock()

	for _, conn := range snapshot {
		fn(conn)
	}
}

// Stats returns a point-in-time connection count and per-agency breakdown.
func (r *Registry) Stats() domain.ConnectionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.ConnectionStats{
		TotalConnections:  len(r.conns),
		AgencyConnections: make(map[string]int, len(r.byTenant)),
	}
	for tenantID, conns := range r.byTenant {
		stats.AgencyConnections[tenantID] = len(conns)
	}
	return stats
}

// Shutdown drains the registry: every connection gets a going-away close
// frame, sockets are closed, and the maps are cleared. Once the context
// expires remaining sockets are force-closed without the frame.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Connection)
	r.byUser = make(map[string]map[string]*Connection)
	r.byTenant = make(map[string]map[string]*Connection)
	r.metrics.SetConnections(0)
	r.mu.Unlock()

	for _, conn := range conns {
		if ctx.Err() != nil {
			conn.forceClose()
			continue
		}
		conn.Close(websocket.CloseGoingAway, "server shutting down")
	}

	r.logger.Info("registry drained", "closed_connections", len(conns))
}
