package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xelth-com/rentsync/internal/models"
)

// Remote is the reconciliation endpoint as seen by the client
type Remote interface {
	GetAllData(ctx context.Context, tenantID string, lastSyncTime *time.Time) (models.Dataset, error)
	PushChanges(ctx context.Context, tenantID string, changes map[string][]models.Record) (models.PushResult, error)
}

// RemoteError is a non-2xx answer from the server
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d [%s]: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// HTTPRemote talks to the server's /api/sync routes
type HTTPRemote struct {
	baseURL  string
	client   *http.Client
	clientID string
}

// NewHTTPClient creates the transport used for sync calls
func NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:     dialer.DialContext,
			MaxIdleConns:    20,
			IdleConnTimeout: 90 * time.Second,
		},
	}
}

func NewHTTPRemote(baseURL string, client *http.Client) *HTTPRemote {
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// SetClientID sets the value sent in models.ClientIDHeader
func (r *HTTPRemote) SetClientID(id string) {
	r.clientID = id
}

// GetAllData fetches the full tenant snapshot
func (r *HTTPRemote) GetAllData(ctx context.Context, tenantID string, lastSyncTime *time.Time) (models.Dataset, error) {
	req := models.GetAllDataRequest{TenantID: tenantID}
	if lastSyncTime != nil {
		req.LastSyncTime = lastSyncTime.UTC().Format(time.RFC3339Nano)
	}

	var ds models.Dataset
	if err := r.post(ctx, "/api/sync/getAllData", req, &ds); err != nil {
		return models.Dataset{}, err
	}
	return ds, nil
}

// PushChanges sends one batch grouped by table
func (r *HTTPRemote) PushChanges(ctx context.Context, tenantID string, changes map[string][]models.Record) (models.PushResult, error) {
	req := models.PushChangesRequest{TenantID: tenantID, Changes: changes}

	var result models.PushResult
	if err := r.post(ctx, "/api/sync/pushChanges", req, &result); err != nil {
		return models.PushResult{}, err
	}
	if !result.Success {
		return result, fmt.Errorf("server did not acknowledge push")
	}
	return result, nil
}

// post sends body as JSON and decodes a 2xx answer into out. 4xx answers
// come back marked Permanent.
func (r *HTTPRemote) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if r.clientID != "" {
		req.Header.Set(models.ClientIDHeader, r.clientID)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		remoteErr := &RemoteError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var er models.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			remoteErr.Code = er.Code
			remoteErr.Message = er.Error
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return Permanent(remoteErr)
		}
		return remoteErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}
