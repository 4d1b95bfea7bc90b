package websocket

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Hub tracks connected clients per tenant and fans out sync events
type Hub struct {
	// tenant -> client id -> client
	tenants map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		tenants:    make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     logger.Named("ws"),
	}
}

// Run starts the hub's main loop; it returns after Stop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			clients := h.tenants[client.TenantID]
			if clients == nil {
				clients = make(map[string]*Client)
				h.tenants[client.TenantID] = clients
			}
			// same client reconnecting replaces the old connection
			if old, ok := clients[client.ID]; ok {
				close(old.send)
			}
			clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Info("client connected", zap.String("tenant", client.TenantID), zap.String("client", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.tenants[client.TenantID]; ok {
				if cur, ok := clients[client.ID]; ok && cur == client {
					delete(clients, client.ID)
					close(client.send)
					if len(clients) == 0 {
						delete(h.tenants, client.TenantID)
					}
					h.logger.Info("client disconnected", zap.String("tenant", client.TenantID), zap.String("client", client.ID))
				}
			}
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for tenant, clients := range h.tenants {
				for _, c := range clients {
					close(c.send)
				}
				delete(h.tenants, tenant)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and closes every client's send channel. Safe to call more
// than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// BroadcastToTenant sends message to every client of the tenant and returns
// how many accepted it. Clients with a full buffer are skipped.
func (h *Hub) BroadcastToTenant(tenantID string, message interface{}) int {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, client := range h.tenants[tenantID] {
		select {
		case client.send <- payload:
			sent++
		default:
			h.logger.Warn("client buffer full, dropping event", zap.String("client", client.ID))
		}
	}
	return sent
}

// ClientCount returns the number of connected clients of a tenant
func (h *Hub) ClientCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenantID])
}
