package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/relief-ops/fieldsync/internal/app/services/connectivity"
	"github.com/relief-ops/fieldsync/internal/app/services/drafts"
	"github.com/relief-ops/fieldsync/internal/app/services/gapanalysis"
	"github.com/relief-ops/fieldsync/internal/app/services/queue"
	"github.com/relief-ops/fieldsync/internal/app/services/syncer"
	"github.com/relief-ops/fieldsync/internal/app/storage"
	"github.com/relief-ops/fieldsync/internal/app/storage/memory"
	"github.com/relief-ops/fieldsync/internal/app/system"
	"github.com/relief-ops/fieldsync/internal/config"
	"github.com/relief-ops/fieldsync/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Drafts storage.DraftStore
	Queue  storage.QueueStore
	Usage  storage.UsageReporter
}

// Application ties the sync subsystem together and manages its lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Drafts      *drafts.Service
	Queue       *queue.Service
	Executor    *syncer.Executor
	Monitor     *connectivity.Monitor
	GapAnalysis *gapanalysis.Service
	Usage       storage.UsageReporter
}

// New builds a fully initialised application with the provided stores.
func New(cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Drafts == nil {
		stores.Drafts = mem
	}
	if stores.Queue == nil {
		stores.Queue = mem
	}
	if stores.Usage == nil {
		stores.Usage = mem
	}

	manager := system.NewManager()

	draftService := drafts.New(stores.Drafts, log)
	queueService := queue.New(stores.Queue, log)
	draftService.AttachEnqueuer(queueService)
	gapService := gapanalysis.New(stores.Drafts, log)

	httpClient := &http.Client{Timeout: cfg.Sync.RequestTimeout.Std()}

	policy := syncer.Policy{
		Initial:     cfg.Sync.InitialBackoff.Std(),
		Max:         cfg.Sync.MaxBackoff.Std(),
		Factor:      cfg.Sync.BackoffFactor,
		Jitter:      cfg.Sync.BackoffJitter,
		MaxAttempts: cfg.Sync.MaxAttempts,
	}

	var remoteClient syncer.RemoteClient
	if endpoint := strings.TrimSpace(cfg.RemoteBaseURL); endpoint != "" {
		client, err := syncer.NewHTTPClient(httpClient, endpoint, log)
		if err != nil {
			return nil, fmt.Errorf("configure remote client: %w", err)
		}
		remoteClient = client
	} else {
		log.Warn("remote_base_url not set; sync executor disabled")
	}

	executor := syncer.NewExecutor(draftService, queueService, remoteClient, policy, log)
	executor.WithInterval(cfg.Sync.DrainInterval.Std())
	executor.WithRateLimit(cfg.Sync.RatePerSecond, cfg.Sync.RateBurst)

	var monitor *connectivity.Monitor
	if endpoint := strings.TrimSpace(cfg.RemoteBaseURL); endpoint != "" {
		prober, err := connectivity.NewHTTPProber(httpClient, strings.TrimRight(endpoint, "/")+cfg.Connectivity.ProbePath)
		if err != nil {
			return nil, fmt.Errorf("configure connectivity prober: %w", err)
		}
		monitor = connectivity.NewMonitor(prober, cfg.Connectivity.ProbeInterval.Std(), log)
	} else {
		monitor = connectivity.NewMonitor(nil, cfg.Connectivity.ProbeInterval.Std(), log)
	}

	monitor.WithOnOnline(func(ctx context.Context) {
		if queueService.Pending() == 0 {
			return
		}
		if err := executor.StartSync(ctx); err != nil && !errors.Is(err, syncer.ErrSyncInProgress) {
			log.WithError(err).Warn("sync after reconnect failed")
		}
	})
	executor.WithOnlineCheck(monitor.Online)

	autoSaver := drafts.NewAutoSaver(draftService, cfg.AutosaveInterval.Std(), log)

	for _, name := range []string{"drafts", "sync-queue", "gap-analysis"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	for _, svc := range []system.Service{monitor, executor, autoSaver} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		Drafts:      draftService,
		Queue:       queueService,
		Executor:    executor,
		Monitor:     monitor,
		GapAnalysis: gapService,
		Usage:       stores.Usage,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start reconciles the queue from durable storage and begins all registered
// services.
func (a *Application) Start(ctx context.Context) error {
	if err := a.Queue.Refresh(ctx); err != nil {
		return fmt.Errorf("restore sync queue: %w", err)
	}
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
