package websocket

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
)

// HandlerOptions tunes the per-connection behaviour
type HandlerOptions struct {
	// AllowedOrigins lists accepted Origin hosts, empty or "*" accepts any
	AllowedOrigins []string
	WriteTimeout   time.Duration
	SendQueueSize  int
}

// Handler upgrades HTTP requests and attaches the connections to the hub
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	options  HandlerOptions
	logger   outbound.Logger
}

func NewHandler(hub *Hub, options HandlerOptions, logger outbound.Logger) *Handler {
	h := &Handler{
		hub:     hub,
		options: options,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP handles one incoming broadcast connection
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.hub.Closed() {
		http.Error(w, "broadcast channel shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied with an HTTP error
		h.logger.Warn("Error upgrading to WebSocket", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := newSession(conn, h.hub, h.options.SendQueueSize, h.options.WriteTimeout, h.logger)

	go s.writePump()

	if err := h.hub.Register(s); err != nil {
		h.logger.Warn("Rejecting WebSocket connection", "remote", r.RemoteAddr, "error", err)
		s.Close()
		return
	}

	go s.readPump()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.options.AllowedOrigins) == 0 {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	for _, allowed := range h.options.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}

	h.logger.Warn("Rejected WebSocket origin", "origin", origin)
	return false
}
