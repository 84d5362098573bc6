package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	wsAdapter "github.com/code-craka/visa-manager-app-sub001/internal/adapters/primary/websocket"
	"github.com/code-craka/visa-manager-app-sub001/internal/auth"
	"github.com/code-craka/visa-manager-app-sub001/internal/config"
	"github.com/code-craka/visa-manager-app-sub001/internal/core/domain"
	apperrors "github.com/code-craka/visa-manager-app-sub001/internal/core/errors"
	"github.com/code-craka/visa-manager-app-sub001/internal/infrastructure/metrics"
)

// TokenVerifier is the admission-side contract for token verification.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*domain.Identity, error)
}

// WebSocketHandler gates new connections: verify the token, upgrade the
// socket, register the connection, start its pumps. A connection that fails
// verification is refused before the registry ever sees it.
type WebSocketHandler struct {
	registry *wsAdapter.Registry
	verifier TokenVerifier
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket admission handler
func NewWebSocketHandler(
	registry *wsAdapter.Registry,
	verifier TokenVerifier,
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *WebSocketHandler {
	handler := &WebSocketHandler{
		registry: registry,
		verifier: verifier,
		metrics:  m,
		logger:   logger,
	}

	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     handler.makeOriginChecker(cfg),
	}

	return handler
}

// makeOriginChecker creates an origin checking function based on configuration
func (h *WebSocketHandler) makeOriginChecker(cfg *config.Config) func(r *http.Request) bool {
	allowedOrigins := cfg.WebSocket.AllowedOrigins

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// In development mode, allow all origins (but log a warning)
		if cfg.IsDevelopment() {
			if origin != "" {
				h.logger.Warn("allowing websocket connection in development mode",
					"origin", origin,
					"remote_addr", r.RemoteAddr,
				)
			}
			return true
		}

		// No origin header (same-origin request or non-browser client)
		if origin == "" {
			return true
		}

		parsedOrigin, err := url.Parse(origin)
		if err != nil {
			h.logger.Warn("failed to parse websocket origin",
				"origin", origin,
				"error", err,
			)
			return false
		}

		originHost := parsedOrigin.Host

		for _, allowed := range allowedOrigins {
			// Support wildcard subdomains like "*.example.com"
			if strings.HasPrefix(allowed, "*.") {
				suffix := allowed[1:] // Remove the "*", keep ".example.com"
				if strings.HasSuffix(originHost, suffix) || originHost == allowed[2:] {
					return true
				}
			} else if originHost == allowed {
				return true
			}
		}

		h.logger.Warn("websocket connection rejected due to origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
			"allowed_origins", allowedOrigins,
		)
		return false
	}
}

// ServeHTTP handles WebSocket connection requests
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	// 1. Authenticate the connection via query parameter, before any upgrade
	// or registry interaction.
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		h.logger.Warn("websocket connection rejected: missing token",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
		)
		h.metrics.AdmissionRejected("missing_token")
		http.Error(w, "Missing authentication token", http.StatusUnauthorized)
		return
	}

	identity, err := h.verifier.Verify(r.Context(), tokenString)
	if err != nil {
		h.logger.Warn("websocket connection rejected: invalid token",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		h.metrics.AdmissionRejected(rejectionReason(err))
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}

	// 2. Upgrade the connection
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection",
			"request_id", requestID,
			"user_id", identity.Subject,
			"error", err,
		)
		return
	}

	// 3. Register the connection; the registry enforces the capacity limit.
	record, err := h.registry.Register(*identity, conn)
	if err != nil {
		h.logger.Warn("websocket connection rejected: registry refused",
			"request_id", requestID,
			"user_id", identity.Subject,
			"error", err,
		)
		h.metrics.AdmissionRejected("capacity_exceeded")
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection capacity exceeded")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
		_ = conn.Close()
		return
	}

	h.logger.Info("websocket connection established",
		"request_id", requestID,
		"connection_id", record.ID,
		"user_id", identity.Subject,
		"role", identity.Role,
		"agency_id", identity.TenantID(),
		"remote_addr", r.RemoteAddr,
	)

	// 4. Start the I/O pumps in new goroutines
	go record.WritePump()
	go record.ReadPump()
}

// rejectionReason maps admission failures to a bounded metric label set.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, auth.ErrUnknownKey):
		return "unknown_key"
	case errors.Is(err, auth.ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, auth.ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, apperrors.ErrCapacityExceeded):
		return "capacity_exceeded"
	default:
		return "other"
	}
}
