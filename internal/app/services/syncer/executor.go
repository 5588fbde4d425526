// Package syncer drains the sync queue against the remote API. One drain
// cycle runs at a time and items are attempted serially, so at most one
// mutation per entity is ever in flight.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/relief-ops/fieldsync/internal/app/domain/syncqueue"
	"github.com/relief-ops/fieldsync/internal/app/metrics"
	"github.com/relief-ops/fieldsync/internal/app/services/drafts"
	"github.com/relief-ops/fieldsync/internal/app/services/queue"
	"github.com/relief-ops/fieldsync/internal/app/storage"
	"github.com/relief-ops/fieldsync/internal/app/system"
	"github.com/relief-ops/fieldsync/pkg/logger"
)

// ErrSyncInProgress is returned by StartSync while a drain cycle is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrNoRemote is returned by StartSync when no remote client is configured.
var ErrNoRemote = errors.New("remote client not configured")

var _ system.Service = (*Executor)(nil)

// Status is a snapshot of the executor state for the UI layer.
type Status struct {
	Syncing            bool      `json:"syncing"`
	Progress           int       `json:"progress"`
	Pending            int       `json:"pending"`
	LastSyncAttempt    time.Time `json:"last_sync_attempt,omitempty"`
	LastSuccessfulSync time.Time `json:"last_successful_sync,omitempty"`
}

// Executor drains the sync queue. It also runs as a lifecycle-managed
// poller that starts a cycle whenever the monitor reports online and the
// queue is non-empty.
type Executor struct {
	drafts   *drafts.Service
	queue    *queue.Service
	client   RemoteClient
	policy   Policy
	log      *logger.Logger
	interval time.Duration
	limiter  *rate.Limiter

	mu                 sync.Mutex
	online             func() bool
	syncing            bool
	progress           int
	lastSyncAttempt    time.Time
	lastSuccessfulSync time.Time
	cycleCancel        context.CancelFunc
	cancel             context.CancelFunc
	wg                 sync.WaitGroup
	running            bool
}

// NewExecutor constructs a sync executor.
func NewExecutor(draftSvc *drafts.Service, queueSvc *queue.Service, client RemoteClient, policy Policy, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NewDefault("sync-executor")
	}
	return &Executor{
		drafts:   draftSvc,
		queue:    queueSvc,
		client:   client,
		policy:   policy,
		log:      log,
		interval: 15 * time.Second,
	}
}

// WithInterval overrides the background drain interval.
func (e *Executor) WithInterval(interval time.Duration) {
	if interval > 0 {
		e.interval = interval
	}
}

// WithRateLimit paces remote calls during a drain cycle.
func (e *Executor) WithRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		return
	}
	if burst < 1 {
		burst = 1
	}
	e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// WithOnlineCheck gates the background drain on connectivity.
func (e *Executor) WithOnlineCheck(online func() bool) {
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()
}

func (e *Executor) Name() string { return "sync-executor" }

func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.client == nil {
		e.mu.Unlock()
		e.log.Warn("remote client not configured; sync executor disabled")
		return nil
	}
	if e.running {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				e.tick(runCtx)
			}
		}
	}()

	e.log.Info("sync executor started")
	return nil
}

func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.log.Info("sync executor stopped")
	return nil
}

func (e *Executor) tick(ctx context.Context) {
	e.mu.Lock()
	online := e.online
	e.mu.Unlock()

	if online != nil && !online() {
		return
	}
	if e.queue.Pending() == 0 {
		return
	}
	if err := e.StartSync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
		e.log.WithError(err).Warn("background sync failed")
	}
}

// StartSync runs one drain cycle. It returns ErrSyncInProgress when a cycle
// is already running; there is never more than one. A cycle stopped via
// StopSync ends normally.
func (e *Executor) StartSync(ctx context.Context) error {
	e.mu.Lock()
	if e.client == nil {
		e.mu.Unlock()
		return ErrNoRemote
	}
	if e.syncing {
		e.mu.Unlock()
		return ErrSyncInProgress
	}
	cycleCtx, cancel := context.WithCancel(ctx)
	e.cycleCancel = cancel
	e.syncing = true
	e.progress = 0
	e.lastSyncAttempt = time.Now().UTC()
	e.mu.Unlock()

	started := time.Now()
	err := e.drain(cycleCtx)
	cancel()
	e.finishCycle()

	outcome := "complete"
	if errors.Is(err, context.Canceled) {
		outcome = "stopped"
		err = nil
	} else if err != nil {
		outcome = "aborted"
	}
	metrics.RecordSyncCycle(outcome, time.Since(started))
	return err
}

// StopSync requests cancellation of the running cycle. The syncing flag is
// owned by the drain and only clears when the cycle goroutine actually
// exits, so a StartSync racing a stop still sees the cycle as in progress.
// Stopping an idle executor is a no-op.
func (e *Executor) StopSync() {
	e.mu.Lock()
	cancel := e.cycleCancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// finishCycle ends the current cycle: syncing off, progress reset, and the
// last-successful-sync stamp recorded when the queue drained empty.
func (e *Executor) finishCycle() {
	pending := e.queue.Pending()

	e.mu.Lock()
	e.syncing = false
	e.progress = 0
	e.cycleCancel = nil
	if pending == 0 {
		e.lastSuccessfulSync = time.Now().UTC()
	}
	e.mu.Unlock()
}

// SetProgress stores the drain progress, clamped to [0,100].
func (e *Executor) SetProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	e.mu.Lock()
	e.progress = percent
	e.mu.Unlock()
}

// Status returns a snapshot of the executor state.
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Syncing:            e.syncing,
		Progress:           e.progress,
		Pending:            e.queue.Pending(),
		LastSyncAttempt:    e.lastSyncAttempt,
		LastSuccessfulSync: e.lastSuccessfulSync,
	}
}

// RetryItem clears the failure state of a parked item so the next drain
// picks it up again, and returns the originating draft to pending.
func (e *Executor) RetryItem(ctx context.Context, id string) (syncqueue.Item, error) {
	zero := 0
	empty := ""
	kind := syncqueue.ErrorNone
	failed := false
	var never time.Time

	item, err := e.queue.Update(ctx, id, syncqueue.Update{
		Attempts:  &zero,
		Error:     &empty,
		ErrorKind: &kind,
		Failed:    &failed,
		NextRetry: &never,
	})
	if err != nil {
		return syncqueue.Item{}, err
	}

	if item.EntityType == syncqueue.EntityAssessment {
		if err := e.drafts.MarkSyncFailed(ctx, item.EntityUUID, 0, "", false); err != nil && !errors.Is(err, storage.ErrNotFound) {
			e.log.WithError(err).WithField("draft_id", item.EntityUUID).Warn("reset draft for retry failed")
		}
	}
	return item, nil
}

func (e *Executor) drain(ctx context.Context) error {
	now := time.Now().UTC()
	items := e.queue.Due(now)
	total := len(items)
	if total == 0 {
		return nil
	}

	e.log.WithField("items", total).Info("sync cycle started")

	for i, item := range items {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		e.attempt(ctx, item)
		e.SetProgress((i + 1) * 100 / total)
	}

	e.log.WithField("remaining", e.queue.Pending()).Info("sync cycle finished")
	return nil
}

// attempt pushes one item. Success removes it from the queue and marks the
// originating draft synced; failure records the classified error and either
// schedules a retry or parks the item permanently.
func (e *Executor) attempt(ctx context.Context, item syncqueue.Item) {
	isDraft := item.EntityType == syncqueue.EntityAssessment

	if isDraft {
		if err := e.drafts.MarkSyncing(ctx, item.EntityUUID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			e.log.WithError(err).WithField("draft_id", item.EntityUUID).Warn("mark draft syncing failed")
		}
	}

	pushErr := e.client.Push(ctx, item)
	now := time.Now().UTC()

	if pushErr == nil {
		if err := e.queue.Remove(ctx, item.UUID); err != nil {
			e.log.WithError(err).WithField("uuid", item.UUID).Warn("remove synced queue item failed")
		}
		if isDraft {
			if err := e.drafts.MarkSynced(ctx, item.EntityUUID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				e.log.WithError(err).WithField("draft_id", item.EntityUUID).Warn("mark draft synced failed")
			}
		}
		metrics.RecordSyncAttempt("success")
		return
	}

	attempts := item.Attempts + 1
	kind := ClassifyError(pushErr)
	message := pushErr.Error()
	permanent := !kind.Retryable() || e.policy.Exhausted(attempts)

	update := syncqueue.Update{
		Attempts:    &attempts,
		LastAttempt: &now,
		Error:       &message,
		ErrorKind:   &kind,
		Failed:      &permanent,
	}
	if !permanent {
		next := now.Add(e.policy.Delay(attempts))
		update.NextRetry = &next
	}

	if _, err := e.queue.Update(ctx, item.UUID, update); err != nil {
		e.log.WithError(err).WithField("uuid", item.UUID).Warn("record sync failure failed")
	}
	if isDraft {
		if err := e.drafts.MarkSyncFailed(ctx, item.EntityUUID, attempts, message, permanent); err != nil && !errors.Is(err, storage.ErrNotFound) {
			e.log.WithError(err).WithField("draft_id", item.EntityUUID).Warn("mark draft failed failed")
		}
	}

	metrics.RecordSyncAttempt(string(kind))
	e.log.WithError(pushErr).
		WithField("uuid", item.UUID).
		WithField("attempts", attempts).
		WithField("kind", kind).
		WithField("permanent", permanent).
		Warn("sync attempt failed")
}
