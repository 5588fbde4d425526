package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type flakyProber struct {
	mu  sync.Mutex
	err error
}

func (p *flakyProber) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *flakyProber) Probe(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func TestMonitor_TransitionsFireHookOnce(t *testing.T) {
	prober := &flakyProber{err: errors.New("offline")}
	monitor := NewMonitor(prober, time.Hour, nil)

	var mu sync.Mutex
	fired := 0
	monitor.WithOnOnline(func(context.Context) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	if monitor.Check(context.Background()) {
		t.Fatalf("monitor should be offline")
	}

	prober.set(nil)
	if !monitor.Check(context.Background()) {
		t.Fatalf("monitor should be online")
	}
	// Staying online must not fire the hook again.
	monitor.Check(context.Background())
	monitor.Check(context.Background())

	mu.Lock()
	count := fired
	mu.Unlock()
	if count != 1 {
		t.Fatalf("hook fired %d times for one transition", count)
	}

	// A second offline-to-online round fires it again.
	prober.set(errors.New("offline"))
	monitor.Check(context.Background())
	prober.set(nil)
	monitor.Check(context.Background())

	mu.Lock()
	count = fired
	mu.Unlock()
	if count != 2 {
		t.Fatalf("hook fired %d times for two transitions", count)
	}
}

func TestMonitor_ConcurrentChecksFireHookOnce(t *testing.T) {
	prober := &flakyProber{} // online from the start
	monitor := NewMonitor(prober, time.Hour, nil)

	var mu sync.Mutex
	fired := 0
	monitor.WithOnOnline(func(context.Context) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	// Many racing checks observe one offline-to-online transition.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.Check(context.Background())
		}()
	}
	wg.Wait()

	mu.Lock()
	count := fired
	mu.Unlock()
	if count != 1 {
		t.Fatalf("hook fired %d times for one transition", count)
	}
}

func TestMonitor_StatusSnapshot(t *testing.T) {
	prober := &flakyProber{}
	monitor := NewMonitor(prober, time.Hour, nil)

	monitor.Check(context.Background())
	status := monitor.Status()
	if !status.Online || status.Connecting {
		t.Fatalf("unexpected status: %#v", status)
	}

	prober.set(errors.New("down"))
	monitor.Check(context.Background())
	status = monitor.Status()
	if status.Online {
		t.Fatalf("monitor should report offline: %#v", status)
	}
}

func TestMonitor_StartPollsAndStops(t *testing.T) {
	prober := &flakyProber{}
	monitor := NewMonitor(prober, time.Hour, nil)
	monitor.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitor.Start(ctx); err != nil {
		t.Fatalf("start monitor: %v", err)
	}
	// Start performs an initial check.
	if !monitor.Online() {
		t.Fatalf("monitor should be online after initial check")
	}

	prober.set(errors.New("down"))
	deadline := time.After(time.Second)
	for monitor.Online() {
		select {
		case <-deadline:
			t.Fatalf("poller never observed the outage")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := monitor.Stop(context.Background()); err != nil {
		t.Fatalf("stop monitor: %v", err)
	}
}

func TestMonitor_NilProberIsDisabled(t *testing.T) {
	monitor := NewMonitor(nil, time.Hour, nil)
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("start with nil prober: %v", err)
	}
	if monitor.Check(context.Background()) {
		t.Fatalf("nil prober should never report online")
	}
	if err := monitor.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestHTTPProber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Any HTTP response counts as reachable, even errors.
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	prober, err := NewHTTPProber(server.Client(), server.URL+"/api/v1/healthz")
	if err != nil {
		t.Fatalf("new prober: %v", err)
	}
	if err := prober.Probe(context.Background()); err != nil {
		t.Fatalf("HTTP response should count as online: %v", err)
	}

	server.Close()
	if err := prober.Probe(context.Background()); err == nil {
		t.Fatalf("transport failure should count as offline")
	}
}

func TestNewHTTPProber_RejectsInvalidURL(t *testing.T) {
	if _, err := NewHTTPProber(nil, "no-scheme"); err == nil {
		t.Fatalf("expected invalid URL error")
	}
}
