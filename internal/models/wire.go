package models

import "time"

// ClientIDHeader identifies the pushing client so the server can leave it
// out of the realtime event it triggers
const ClientIDHeader = "X-Client-ID"

// GetAllDataRequest is the body of POST /api/sync/getAllData.
// LastSyncTime is accepted for forward compatibility and ignored.
type GetAllDataRequest struct {
	TenantID     string `json:"tenantId"`
	LastSyncTime string `json:"lastSyncTime,omitempty"`
}

// PushChangesRequest is the body of POST /api/sync/pushChanges
type PushChangesRequest struct {
	TenantID string              `json:"tenantId"`
	Changes  map[string][]Record `json:"changes"`
}

// ItemStatus is the merge outcome of one pushed record
type ItemStatus string

const (
	ItemAccepted ItemStatus = "accepted" // written
	ItemRejected ItemStatus = "rejected" // stored version was higher
	ItemFailed   ItemStatus = "failed"   // malformed, never considered
)

// ItemResult reports what happened to one pushed record
type ItemResult struct {
	Entity        string     `json:"entity"`
	ID            string     `json:"id"`
	Status        ItemStatus `json:"status"`
	StoredVersion int64      `json:"storedVersion"`
	Error         string     `json:"error,omitempty"`
}

// PushResult is the response of pushChanges
type PushResult struct {
	Success  bool         `json:"success"`
	SyncTime time.Time    `json:"syncTime"`
	Results  []ItemResult `json:"results,omitempty"`
}

// Counts tallies the per-item outcomes
func (p PushResult) Counts() (accepted, rejected, failed int) {
	for _, r := range p.Results {
		switch r.Status {
		case ItemAccepted:
			accepted++
		case ItemRejected:
			rejected++
		case ItemFailed:
			failed++
		}
	}
	return accepted, rejected, failed
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// EventSyncChanged tells subscribers of a tenant that pushChanges wrote data
const EventSyncChanged = "SYNC_CHANGED"

// SyncEvent is the realtime notification sent over /ws
type SyncEvent struct {
	Type     string    `json:"type"`
	TenantID string    `json:"tenantId"`
	SyncTime time.Time `json:"syncTime"`
	Accepted int       `json:"accepted"`
	// ClientID lets the pushing client ignore its own echo
	ClientID string `json:"clientId,omitempty"`
}
