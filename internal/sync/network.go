package sync

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Connectivity is one platform connectivity report. Reachable is nil when
// the link type cannot tell whether the internet is reachable.
type Connectivity struct {
	Connected bool
	Reachable *bool
}

// Online applies the optimistic rule: connected and not known-unreachable
func (c Connectivity) Online() bool {
	return c.Connected && (c.Reachable == nil || *c.Reachable)
}

// MonitorOptions configures the health probe
type MonitorOptions struct {
	HealthURL     string // e.g. http://server:3001/health; empty disables probing
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	HTTPClient    *http.Client
}

// Monitor turns connectivity reports into one online/offline flag and
// notifies listeners on transitions only.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	listeners []func(online bool)

	logger *zap.Logger
	opts   MonitorOptions
	client *http.Client

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewMonitor starts out online until a report says otherwise
func NewMonitor(logger *zap.Logger, opts MonitorOptions) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 15 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.ProbeTimeout}
	}
	return &Monitor{
		online: true,
		logger: logger,
		opts:   opts,
		client: client,
	}
}

// HealthURL derives the probe target from a server base URL
func HealthURL(serverURL string) string {
	return strings.TrimRight(serverURL, "/") + "/health"
}

// IsOnline returns the last derived state
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnChange registers fn to run after every online/offline transition
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Report feeds a connectivity signal. Listeners run synchronously, and
// only when the derived state changes.
func (m *Monitor) Report(c Connectivity) {
	online := c.Online()

	m.mu.Lock()
	if online == m.online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]func(bool), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if online {
		m.logger.Info("network online")
	} else {
		m.logger.Warn("network offline")
	}
	for _, fn := range listeners {
		fn(online)
	}
}

// Probe checks the server health endpoint once. A response of any kind
// means the link is up; only 200 counts as reachable.
func (m *Monitor) Probe(ctx context.Context) Connectivity {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.opts.HealthURL, nil)
	if err != nil {
		m.logger.Error("invalid health url", zap.String("url", m.opts.HealthURL), zap.Error(err))
		return Connectivity{Connected: false}
	}

	reachable := false
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("health probe failed", zap.String("url", m.opts.HealthURL), zap.Error(err))
		return Connectivity{Connected: true, Reachable: &reachable}
	}
	defer resp.Body.Close()

	reachable = resp.StatusCode == http.StatusOK
	return Connectivity{Connected: true, Reachable: &reachable}
}

// Start probes immediately and then every ProbeInterval until Stop or ctx ends
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running || m.opts.HealthURL == "" {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.opts.ProbeInterval)
		defer ticker.Stop()

		m.Report(m.Probe(ctx))
		for {
			select {
			case <-ticker.C:
				m.Report(m.Probe(ctx))
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the probe loop and waits for it to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	<-done
}
