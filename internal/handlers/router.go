package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xelth-com/rentsync/internal/buildinfo"
	apperrors "github.com/xelth-com/rentsync/internal/errors"
	"github.com/xelth-com/rentsync/internal/logging"
	"github.com/xelth-com/rentsync/internal/middleware"
	"github.com/xelth-com/rentsync/internal/models"
	"github.com/xelth-com/rentsync/internal/reconcile"
	"github.com/xelth-com/rentsync/internal/websocket"
)

// maxBodyBytes caps a pushChanges payload
const maxBodyBytes = 32 << 20

// Router wraps the mux router and the sync service
type Router struct {
	*mux.Router
	service      *reconcile.Service
	hub          *websocket.Hub
	logger       *zap.Logger
	historyLimit int
}

// NewRouter creates a new HTTP router with all routes. hub may be nil when
// realtime notifications are not served.
func NewRouter(service *reconcile.Service, hub *websocket.Hub, logger *zap.Logger, historyLimit int) *Router {
	logger = logging.OrNop(logger)
	r := &Router{
		Router:       mux.NewRouter(),
		service:      service,
		hub:          hub,
		logger:       logger,
		historyLimit: historyLimit,
	}
	r.Use(middleware.Recover(logger), middleware.RequestLogger(logger.Named("http")))

	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	sh := NewSyncHandler(service, logger, historyLimit)
	sh.RegisterRoutes(r.Router)

	if hub != nil {
		r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
			websocket.ServeWs(hub, w, req)
		}).Methods("GET")
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusNotFound, "not found", "NOT_FOUND")
	})
	return r
}

// healthCheck is the probe target of the client network monitor
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	status := r.service.Status(req.Context())
	body := map[string]interface{}{
		"status":   "ok",
		"store":    status.Store,
		"degraded": status.Degraded,
	}
	for k, v := range buildinfo.Fields() {
		body[k] = v
	}
	respondJSON(w, http.StatusOK, body)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends {error, code}
func respondError(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, models.ErrorResponse{Error: message, Code: code})
}

// respondAppError maps an error to its status and code
func (sh *SyncHandler) respondAppError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := apperrors.HTTPStatus(code)
	message := "internal server error"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= 500 {
		sh.logger.Error("sync request failed", zap.String("code", string(code)), zap.Error(err))
	}
	respondError(w, status, message, string(code))
}
