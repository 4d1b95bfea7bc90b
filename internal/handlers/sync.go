package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	apperrors "github.com/xelth-com/rentsync/internal/errors"
	"github.com/xelth-com/rentsync/internal/models"
	"github.com/xelth-com/rentsync/internal/reconcile"
)

// SyncHandler serves the reconciliation endpoint
type SyncHandler struct {
	service      *reconcile.Service
	logger       *zap.Logger
	historyLimit int
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(service *reconcile.Service, logger *zap.Logger, historyLimit int) *SyncHandler {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &SyncHandler{service: service, logger: logger, historyLimit: historyLimit}
}

// RegisterRoutes registers sync routes
func (sh *SyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sync/getAllData", sh.GetAllData).Methods("POST")
	r.HandleFunc("/api/sync/pushChanges", sh.PushChanges).Methods("POST")

	r.HandleFunc("/api/sync/status", sh.GetSyncStatus).Methods("GET")
	r.HandleFunc("/api/sync/history/{tenantId}", sh.GetSyncHistory).Methods("GET")
}

// GetAllData returns the full tenant snapshot
func (sh *SyncHandler) GetAllData(w http.ResponseWriter, r *http.Request) {
	var req models.GetAllDataRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// accepted for compatibility, a malformed value is simply ignored
	var since *time.Time
	if req.LastSyncTime != "" {
		if ts, err := time.Parse(time.RFC3339Nano, req.LastSyncTime); err == nil {
			since = &ts
		}
	}

	ds, err := sh.service.GetAllData(r.Context(), req.TenantID, since)
	if err != nil {
		sh.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ds)
}

// PushChanges merges a client batch
func (sh *SyncHandler) PushChanges(w http.ResponseWriter, r *http.Request) {
	var req models.PushChangesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := sh.service.PushChanges(r.Context(), reconcile.PushRequest{
		TenantID: req.TenantID,
		ClientID: r.Header.Get(models.ClientIDHeader),
		Changes:  req.Changes,
	})
	if err != nil {
		sh.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetSyncStatus reports which store is serving requests
func (sh *SyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sh.service.Status(r.Context()))
}

// GetSyncHistory lists recent pushes of a tenant, ?limit=n
func (sh *SyncHandler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]

	limit := sh.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", string(apperrors.ErrInvalid))
			return
		}
		if n < limit {
			limit = n
		}
	}

	entries, err := sh.service.History(r.Context(), tenantID, limit)
	if err != nil {
		sh.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tenantId": tenantID,
		"count":    len(entries),
		"history":  entries,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), string(apperrors.ErrInvalid))
		return false
	}
	return true
}
