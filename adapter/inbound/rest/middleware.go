package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/inbound"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
)

// HandshakeMiddleware guards the broadcast endpoint with a bearer token when
// the handshake service is enabled
type HandshakeMiddleware struct {
	handshake inbound.HandshakeService
	logger    outbound.Logger
}

func NewHandshakeMiddleware(handshake inbound.HandshakeService, logger outbound.Logger) *HandshakeMiddleware {
	return &HandshakeMiddleware{
		handshake: handshake,
		logger:    logger,
	}
}

func (m *HandshakeMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.handshake == nil || !m.handshake.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := m.extractToken(r)
		if token == "" {
			m.unauthorized(w, "missing token")
			return
		}

		subject, err := m.handshake.ValidateToken(token)
		if err != nil {
			m.unauthorized(w, err.Error())
			return
		}

		m.logger.Debug("Handshake accepted", "subject", subject, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// browsers cannot set headers on websocket upgrades, so ?token= is accepted too
func (m *HandshakeMiddleware) extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return ""
		}
		return parts[1]
	}

	return r.URL.Query().Get("token")
}

func (m *HandshakeMiddleware) unauthorized(w http.ResponseWriter, message string) {
	m.logger.Warn("Unauthorized broadcast connection", "message", message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","message":"` + message + `"}`))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs one line per request. Websocket upgrades are logged when
// the connection is handed over.
func RequestLogger(logger outbound.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				logger.Debug("WebSocket upgrade", "path", r.URL.Path, "remote", r.RemoteAddr)
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Debug("Request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start).String())
		})
	}
}
