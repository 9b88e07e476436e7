package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/zengyi-thinking/Agent-team-dashboard/config"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/inbound"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
)

// SubscriberCounter reports how many sessions are attached to the broadcast channel
type SubscriberCounter interface {
	Count() int
}

// Handler serves the dashboard's HTTP surface next to the broadcast endpoint
type Handler struct {
	cfg        *config.Config
	dispatcher inbound.DispatcherService
	watcher    outbound.FileWatcher
	sessions   SubscriberCounter
	logger     outbound.Logger
	startedAt  time.Time
}

func NewHandler(
	cfg *config.Config,
	dispatcher inbound.DispatcherService,
	watcher outbound.FileWatcher,
	sessions SubscriberCounter,
	logger outbound.Logger,
) *Handler {
	return &Handler{
		cfg:        cfg,
		dispatcher: dispatcher,
		watcher:    watcher,
		sessions:   sessions,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// SetupRoutes registers the API routes and the broadcast endpoint. The
// endpoint is served on the configured path and on the bare root.
func (h *Handler) SetupRoutes(router *mux.Router, broadcast http.Handler) {
	router.HandleFunc("/health", h.healthCheck).Methods("GET")
	router.HandleFunc("/api/status", h.getStatus).Methods("GET")
	router.HandleFunc("/api/config", h.getConfig).Methods("GET")

	if broadcast != nil {
		if path := h.cfg.HTTP.WSPath; path != "" && path != "/" {
			router.Handle(path, broadcast).Methods("GET")
		}
		router.Handle("/", broadcast).Methods("GET")
	}
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	InstanceID   string                  `json:"instanceId"`
	Uptime       string                  `json:"uptime"`
	Subscribers  int                     `json:"subscribers"`
	Watching     bool                    `json:"watching"`
	WatchedPaths []string                `json:"watchedPaths"`
	Dispatcher   inbound.DispatcherStats `json:"dispatcher"`
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	status := StatusResponse{
		InstanceID:   h.cfg.General.InstanceID,
		Uptime:       time.Since(h.startedAt).Truncate(time.Second).String(),
		WatchedPaths: []string{},
	}

	if h.sessions != nil {
		status.Subscribers = h.sessions.Count()
	}
	if h.watcher != nil {
		status.Watching = h.watcher.IsWatching()
		status.WatchedPaths = append(status.WatchedPaths, h.watcher.GetWatchedPaths()...)
	}
	if h.dispatcher != nil {
		status.Dispatcher = h.dispatcher.Stats()
	}

	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cfg.Public())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}
