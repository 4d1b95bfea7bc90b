package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xelth-com/rentsync/internal/models"
)

const (
	// Time allowed to read the next message, pings included
	realtimeReadWait = 90 * time.Second

	realtimeMaxReconnectDelay = time.Minute
)

// Puller is what the realtime listener needs from the coordinator
type Puller interface {
	TriggerPull()
	TenantID() string
}

// RealtimeListener keeps a websocket open to the server and asks for a pull
// whenever another client changes the current tenant's data.
type RealtimeListener struct {
	wsURL    string
	clientID string
	puller   Puller
	logger   *zap.Logger
	dialer   *websocket.Dialer
	retry    RetryOptions
}

// WebsocketURL derives ws(s)://host/ws from an http(s) server URL
func WebsocketURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q in server url", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

func NewRealtimeListener(serverURL, clientID string, puller Puller, logger *zap.Logger) (*RealtimeListener, error) {
	wsURL, err := WebsocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeListener{
		wsURL:    wsURL,
		clientID: clientID,
		puller:   puller,
		logger:   logger.Named("realtime"),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		retry:    RetryOptions{BaseDelay: time.Second, MaxDelay: realtimeMaxReconnectDelay},
	}, nil
}

// Run connects and reconnects until ctx ends. It only listens while a
// tenant is selected.
func (l *RealtimeListener) Run(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		tenant := l.puller.TenantID()
		if tenant == "" {
			if !sleepCtx(ctx, l.retry.BaseDelay) {
				return
			}
			continue
		}

		connected, err := l.listen(ctx, tenant)
		if ctx.Err() != nil {
			return
		}
		if connected {
			attempt = 0
		}
		delay := l.retry.Delay(attempt)
		attempt++
		l.logger.Debug("realtime connection lost, reconnecting",
			zap.Error(err), zap.Duration("delay", delay))
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// listen holds one connection until it fails, ctx ends or the tenant changes.
// connected reports whether the handshake succeeded.
func (l *RealtimeListener) listen(ctx context.Context, tenant string) (connected bool, err error) {
	q := url.Values{}
	q.Set("tenantId", tenant)
	if l.clientID != "" {
		q.Set("clientId", l.clientID)
	}

	conn, resp, err := l.dialer.DialContext(ctx, l.wsURL+"?"+q.Encode(), http.Header{})
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return false, err
	}
	defer conn.Close()
	l.logger.Info("realtime connected", zap.String("tenant", tenant))

	// closing the connection unblocks ReadMessage
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				if l.puller.TenantID() != tenant {
					conn.Close()
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(realtimeReadWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(realtimeReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(realtimeReadWait))

		var ev models.SyncEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			l.logger.Debug("ignoring unreadable realtime message", zap.Error(err))
			continue
		}
		if ev.Type != models.EventSyncChanged || ev.TenantID != tenant {
			continue
		}
		if l.clientID != "" && ev.ClientID == l.clientID {
			continue
		}
		l.logger.Info("remote change announced, pulling", zap.String("tenant", tenant), zap.Int("accepted", ev.Accepted))
		l.puller.TriggerPull()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
