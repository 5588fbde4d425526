package drafts

import (
	"context"
	"sync"
	"time"

	"github.com/relief-ops/fieldsync/internal/app/system"
	"github.com/relief-ops/fieldsync/pkg/logger"
)

var _ system.Service = (*AutoSaver)(nil)

// AutoSaver periodically clears the modified flag on the current draft. The
// store already holds the persisted representation, so "saving" is only the
// flag flip the UI reflects back to the user.
type AutoSaver struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewAutoSaver creates a lifecycle-managed auto-saver.
func NewAutoSaver(service *Service, interval time.Duration, log *logger.Logger) *AutoSaver {
	if log == nil {
		log = logger.NewDefault("draft-autosaver")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &AutoSaver{service: service, log: log, interval: interval}
}

func (a *AutoSaver) Name() string { return "draft-autosaver" }

func (a *AutoSaver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				a.tick(runCtx)
			}
		}
	}()

	a.log.Info("draft auto-saver started")
	return nil
}

func (a *AutoSaver) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	cancel := a.cancel
	a.running = false
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.log.Info("draft auto-saver stopped")
	return nil
}

func (a *AutoSaver) tick(ctx context.Context) {
	if a.service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	draft, ok, err := a.service.Current(ctx)
	if err != nil {
		a.log.WithError(err).Warn("auto-save tick failed")
		return
	}
	if !ok || !draft.Modified {
		return
	}
	if err := a.service.ClearModified(ctx, draft.ID); err != nil {
		a.log.WithError(err).
			WithField("draft_id", draft.ID).
			Warn("auto-save failed")
		return
	}
	a.log.WithField("draft_id", draft.ID).Debug("draft auto-saved")
}
