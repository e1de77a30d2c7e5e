package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"loom/internal/blob"
	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/dispatch"
	"loom/internal/encoding"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/pipeline"
	"loom/internal/queue"
	"loom/internal/stages"
	"loom/internal/upload"
)

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *catalog.Store
	queue      *queue.Queue
	dispatcher *dispatch.Dispatcher
	uploads    *upload.Manager
	coord      *pipeline.Coordinator
	notifier   notifications.Service

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	sweepWG sync.WaitGroup
}

// Status is the daemon's runtime summary.
type Status struct {
	Running       bool                        `json:"running"`
	QueueDepth    int                         `json:"queue_depth"`
	QueueCapacity int                         `json:"queue_capacity"`
	Assets        map[catalog.AssetStatus]int `json:"assets"`
	CatalogDBPath string                      `json:"catalog_db_path"`
	LockFilePath  string                      `json:"lock_file_path"`
}

// New constructs a daemon with all dependencies wired from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := catalog.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	blobs, err := blob.NewLocalStore(cfg.Paths.BlobDir, cfg.Paths.StagingDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	q := queue.New(cfg.Queue.Capacity)
	service := notifications.NewService(cfg)
	notifier := notifications.NewNotifier(service, store, logger)

	coord := pipeline.NewCoordinator(store, q, cfg, notifier, logger)
	orch := encoding.NewOrchestrator(store, coord, q, cfg, logger)
	uploads := upload.NewManager(store, blobs, q, cfg, notifier, logger)

	dispatcher := dispatch.New(q, cfg.Queue.Workers, logger)
	dispatcher.SetPanicHook(panicFailureHook(coord, orch, logger))
	deps := stages.NewDeps(cfg, store, coord, orch, blobs, logger)
	if err := stages.Register(dispatcher, deps); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("register handlers: %w", err)
	}

	lockPath := cfg.LockFilePath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		queue:      q,
		dispatcher: dispatcher,
		uploads:    uploads,
		coord:      coord,
		notifier:   service,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock, recovers interrupted work, and launches
// the worker pool, the session sweeper, and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another loom daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	// The in-process queue did not survive the last shutdown; return
	// orphaned in-progress jobs to pending and requeue whatever is eligible.
	reset, err := d.store.ResetStuckJobs(runCtx)
	if err != nil {
		d.releaseLock()
		cancel()
		return fmt.Errorf("reset stuck jobs: %w", err)
	}
	resumed, err := d.coord.ResumePending(runCtx)
	if err != nil {
		d.releaseLock()
		cancel()
		return fmt.Errorf("resume pending stages: %w", err)
	}
	if reset > 0 || resumed > 0 {
		d.logger.Info("recovered interrupted work",
			logging.Int64("jobs_reset", reset),
			logging.Int("stages_resumed", resumed))
	}

	go func() {
		defer close(d.done)
		if err := d.dispatcher.Run(runCtx); err != nil {
			d.logger.Error("dispatcher stopped", logging.Error(err))
		}
	}()

	d.sweepWG.Add(1)
	go d.sweepSessions(runCtx)

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.Stop()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("loom daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop halts intake, drains the worker pool, and releases the lock.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.api != nil {
		d.api.stop()
	}
	d.queue.Close()
	if d.done != nil {
		<-d.done
		d.done = nil
	}
	d.sweepWG.Wait()
	d.releaseLock()
	if d.running.Swap(false) {
		d.logger.Info("loom daemon stopped")
	}
}

// Close stops the daemon and releases held resources.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Status reports runtime and queue information.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.store.AssetStats(ctx)
	if err != nil {
		stats = nil
	}
	return Status{
		Running:       d.running.Load(),
		QueueDepth:    d.queue.Len(),
		QueueCapacity: d.queue.Cap(),
		Assets:        stats,
		CatalogDBPath: d.cfg.CatalogDBPath(),
		LockFilePath:  d.lockPath,
	}
}

// APIAddr reports the bound API address, or "" when the API is disabled
// or not yet started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Uploads exposes the upload manager for the HTTP API.
func (d *Daemon) Uploads() *upload.Manager {
	return d.uploads
}

// Store exposes the catalog store for the HTTP API.
func (d *Daemon) Store() *catalog.Store {
	return d.store
}

// TestNotification sends a test push using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.TestNotification(ctx)
}

// sweepSessions expires stale upload sessions in the background. Lazy
// expiry on access remains authoritative; the sweep just keeps listings
// tidy.
func (d *Daemon) sweepSessions(ctx context.Context) {
	defer d.sweepWG.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := d.uploads.SweepExpired(ctx)
			if err != nil {
				d.logger.Warn("session sweep failed", logging.Error(err))
				continue
			}
			if swept > 0 {
				d.logger.Info("expired upload sessions", logging.Int64("count", swept))
			}
		}
	}
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}
