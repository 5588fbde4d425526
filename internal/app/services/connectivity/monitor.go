// Package connectivity tracks whether the remote API is reachable and
// triggers a sync when it comes back.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/relief-ops/fieldsync/internal/app/metrics"
	"github.com/relief-ops/fieldsync/internal/app/system"
	"github.com/relief-ops/fieldsync/pkg/logger"
)

// Prober answers whether the remote side is currently reachable. A nil error
// means online.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber checks reachability with a HEAD request against the remote API.
type HTTPProber struct {
	httpClient *http.Client
	url        string
}

// NewHTTPProber validates the probe endpoint and constructs a prober.
func NewHTTPProber(httpClient *http.Client, probeURL string) (*HTTPProber, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	probeURL = strings.TrimSpace(probeURL)
	parsed, err := url.Parse(probeURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid probe URL %q", probeURL)
	}
	return &HTTPProber{httpClient: httpClient, url: probeURL}, nil
}

// Probe performs the reachability check. Any HTTP response counts as online;
// only transport failures count as offline.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

var _ system.Service = (*Monitor)(nil)

// Monitor polls a Prober and tracks online/offline state. The connecting
// flag covers the probe in flight after an offline period; it exists for UI
// feedback only and gates nothing.
type Monitor struct {
	prober   Prober
	log      *logger.Logger
	interval time.Duration

	// checkMu serializes probes so a manual Check racing the poll tick
	// cannot observe the same transition twice.
	checkMu sync.Mutex

	mu         sync.Mutex
	online     bool
	connecting bool
	onOnline   func(context.Context)
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

// NewMonitor creates a lifecycle-managed connectivity monitor.
func NewMonitor(prober Prober, interval time.Duration, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.NewDefault("connectivity")
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{prober: prober, log: log, interval: interval}
}

// WithOnOnline registers the hook invoked once per offline-to-online
// transition.
func (m *Monitor) WithOnOnline(hook func(context.Context)) {
	m.mu.Lock()
	m.onOnline = hook
	m.mu.Unlock()
}

func (m *Monitor) Name() string { return "connectivity-monitor" }

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.prober == nil {
		m.mu.Unlock()
		m.log.Warn("prober not configured; connectivity monitor disabled")
		return nil
	}
	if m.running {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	// Initial state comes from the platform's current status at startup.
	m.check(runCtx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.check(runCtx)
			}
		}
	}()

	m.log.Info("connectivity monitor started")
	return nil
}

func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.log.Info("connectivity monitor stopped")
	return nil
}

// Online reports the current reachability state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// StatusSnapshot captures the state the UI renders.
type StatusSnapshot struct {
	Online     bool `json:"online"`
	Connecting bool `json:"connecting"`
}

// Status returns the online and connecting flags.
func (m *Monitor) Status() StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StatusSnapshot{Online: m.online, Connecting: m.connecting}
}

// Check runs one probe immediately. The UI layer uses it for a manual
// "reconnect now" action.
func (m *Monitor) Check(ctx context.Context) bool {
	m.check(ctx)
	return m.Online()
}

func (m *Monitor) check(ctx context.Context) {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	m.mu.Lock()
	prober := m.prober
	wasOnline := m.online
	if prober != nil && !wasOnline {
		m.connecting = true
	}
	m.mu.Unlock()

	if prober == nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := prober.Probe(probeCtx)
	cancel()

	online := err == nil

	m.mu.Lock()
	m.online = online
	m.connecting = false
	hook := m.onOnline
	m.mu.Unlock()
	metrics.SetOnline(online)

	if online == wasOnline {
		return
	}

	if online {
		m.log.Info("connection restored")
		if hook != nil {
			hook(ctx)
		}
		return
	}
	m.log.WithError(err).Warn("connection lost")
}
