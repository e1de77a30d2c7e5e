package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
)

var (
	// ErrAssetTerminal indicates the asset already reached a terminal status
	// and no further stage work may start or complete for it.
	ErrAssetTerminal = errors.New("asset is in a terminal status")
	// ErrStageNotPending indicates the stage job is not in the pending state.
	ErrStageNotPending = errors.New("stage job is not pending")
	// ErrStageNotReady indicates at least one prerequisite stage has not
	// completed yet.
	ErrStageNotReady = errors.New("stage prerequisites incomplete")
)

// Notifier receives terminal pipeline events. Implementations must not block
// the pipeline; failures are the notifier's problem.
type Notifier interface {
	AssetPublished(ctx context.Context, asset *catalog.VideoAsset)
	AssetQuarantined(ctx context.Context, asset *catalog.VideoAsset, reasons []string)
	AssetFailed(ctx context.Context, asset *catalog.VideoAsset, stage catalog.Stage, message string)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) AssetPublished(context.Context, *catalog.VideoAsset) {}

func (NopNotifier) AssetQuarantined(context.Context, *catalog.VideoAsset, []string) {}

func (NopNotifier) AssetFailed(context.Context, *catalog.VideoAsset, catalog.Stage, string) {}

// stageKinds maps each pipeline stage to the queue kind that runs it.
var stageKinds = map[catalog.Stage]queue.Kind{
	catalog.StageMalwareScan:         queue.KindScanVideo,
	catalog.StageContentModeration:   queue.KindModerateContent,
	catalog.StageTranscription:       queue.KindTranscribeVideo,
	catalog.StageThumbnailGeneration: queue.KindGenerateThumbnail,
	catalog.StageAIHighlights:        queue.KindExtractHighlights,
	catalog.StageEncoding:            queue.KindEncodeVideo,
	catalog.StageSearchIndexing:      queue.KindIndexVideo,
}

// KindForStage returns the queue kind that executes a stage.
func KindForStage(stage catalog.Stage) (queue.Kind, bool) {
	kind, ok := stageKinds[stage]
	return kind, ok
}

// StageForKind returns the stage a queue kind executes, if any.
func StageForKind(kind queue.Kind) (catalog.Stage, bool) {
	for stage, k := range stageKinds {
		if k == kind {
			return stage, true
		}
	}
	return "", false
}

// Coordinator serializes all stage and status updates for each asset. Every
// logical update (read, decide, write, enqueue) runs under that asset's lock,
// so concurrent handlers observe each other's updates in full.
type Coordinator struct {
	store          *catalog.Store
	producer       queue.Producer
	notifier       Notifier
	logger         *slog.Logger
	maxAttempts    int
	enqueueTimeout time.Duration
	locks          *keyedLocks
}

// NewCoordinator builds a pipeline coordinator.
func NewCoordinator(store *catalog.Store, producer queue.Producer, cfg *config.Config, notifier Notifier, logger *slog.Logger) *Coordinator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		store:          store,
		producer:       producer,
		notifier:       notifier,
		logger:         logger.With(logging.String(logging.FieldComponent, "pipeline")),
		maxAttempts:    cfg.Pipeline.MaxAttempts,
		enqueueTimeout: time.Duration(cfg.Pipeline.EnqueueTimeoutSecs) * time.Second,
		locks:          newKeyedLocks(),
	}
}

// WithAssetLock runs fn while holding the asset's pipeline lock. Handlers
// that maintain their own multi-record state (the encoding fan-in) use this
// to join the same serialization domain as the coordinator.
func (c *Coordinator) WithAssetLock(assetID string, fn func() error) error {
	entry := c.locks.lock(assetID)
	defer c.locks.unlock(assetID, entry)
	return fn()
}

// StartProcessing moves a queued asset into processing and enqueues the
// first stage. Called by the process-video handler once per asset.
func (c *Coordinator) StartProcessing(ctx context.Context, assetID string) error {
	return c.WithAssetLock(assetID, func() error {
		asset, err := c.store.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if catalog.IsTerminalAssetStatus(asset.Status) {
			return fmt.Errorf("asset %s is %s: %w", assetID, asset.Status, ErrAssetTerminal)
		}
		if catalog.CanTransitionAsset(asset.Status, catalog.AssetProcessing) {
			asset.Status = catalog.AssetProcessing
			if err := c.store.UpdateAsset(ctx, asset); err != nil {
				return err
			}
		}
		return c.enqueueStageLocked(ctx, assetID, catalog.StageMalwareScan)
	})
}

// BeginStage claims a pending stage job for execution: it verifies the asset
// is live and the prerequisites are satisfied, increments the attempt
// counter, and marks the job in progress. The returned job reflects the
// claimed state.
func (c *Coordinator) BeginStage(ctx context.Context, assetID string, stage catalog.Stage) (*catalog.ProcessingJob, error) {
	var claimed *catalog.ProcessingJob
	err := c.WithAssetLock(assetID, func() error {
		asset, err := c.store.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if catalog.IsTerminalAssetStatus(asset.Status) {
			return fmt.Errorf("asset %s is %s: %w", assetID, asset.Status, ErrAssetTerminal)
		}

		job, err := c.store.GetJob(ctx, assetID, stage)
		if err != nil {
			return err
		}
		if job.Status != catalog.JobPending {
			return fmt.Errorf("stage %s is %s: %w", stage, job.Status, ErrStageNotPending)
		}
		if err := c.prerequisitesMetLocked(ctx, assetID, stage); err != nil {
			return err
		}

		now := time.Now().UTC()
		job.Status = catalog.JobInProgress
		job.Attempts++
		job.ProgressPercent = 0
		job.StartedAt = &now
		if err := c.store.UpdateJob(ctx, job); err != nil {
			return err
		}

		if status, ok := catalog.AssetStatusForStage(stage); ok && catalog.CanTransitionAsset(asset.Status, status) {
			asset.Status = status
			if err := c.store.UpdateAsset(ctx, asset); err != nil {
				return err
			}
		}

		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("stage started",
		logging.String(logging.FieldAssetID, assetID),
		logging.String(logging.FieldStage, string(stage)),
		logging.Int("attempt", claimed.Attempts))
	return claimed, nil
}

// RecordProgress updates the stage job's progress percentage.
func (c *Coordinator) RecordProgress(ctx context.Context, assetID string, stage catalog.Stage, percent float64) error {
	return c.WithAssetLock(assetID, func() error {
		job, err := c.store.GetJob(ctx, assetID, stage)
		if err != nil {
			return err
		}
		if job.Status != catalog.JobInProgress {
			return nil
		}
		job.ProgressPercent = percent
		return c.store.UpdateJob(ctx, job)
	})
}

// CompleteStage marks a stage completed and enqueues every stage that became
// eligible as a result. Completing the last stage publishes the asset.
func (c *Coordinator) CompleteStage(ctx context.Context, assetID string, stage catalog.Stage) error {
	var published *catalog.VideoAsset
	err := c.WithAssetLock(assetID, func() error {
		asset, err := c.store.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if catalog.IsTerminalAssetStatus(asset.Status) {
			return fmt.Errorf("asset %s is %s: %w", assetID, asset.Status, ErrAssetTerminal)
		}

		job, err := c.store.GetJob(ctx, assetID, stage)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			// Re-delivery of an already finished stage is a no-op.
			return nil
		}
		now := time.Now().UTC()
		job.Status = catalog.JobCompleted
		job.ProgressPercent = 100
		job.CompletedAt = &now
		job.LastError = ""
		if err := c.store.UpdateJob(ctx, job); err != nil {
			return err
		}

		if stage == catalog.TerminalStage {
			asset.Status = catalog.AssetPublished
			asset.ErrorMessage = ""
			if err := c.store.UpdateAsset(ctx, asset); err != nil {
				return err
			}
			published = asset
			return nil
		}
		return c.enqueueEligibleSuccessorsLocked(ctx, assetID, stage)
	})
	if err != nil {
		return err
	}
	c.logger.Info("stage completed",
		logging.String(logging.FieldAssetID, assetID),
		logging.String(logging.FieldStage, string(stage)))
	if published != nil {
		c.logger.Info("asset published", logging.String(logging.FieldAssetID, assetID))
		c.notifier.AssetPublished(ctx, published)
	}
	return nil
}

// FailStage records a stage failure. Transient failures below the attempt
// budget re-enqueue the same stage; everything else fails the asset. A
// content-policy failure quarantines instead.
func (c *Coordinator) FailStage(ctx context.Context, assetID string, stage catalog.Stage, cause error) error {
	if services.IsContentPolicy(cause) {
		return c.Quarantine(ctx, assetID, []string{cause.Error()})
	}

	var (
		failed  *catalog.VideoAsset
		retried bool
	)
	err := c.WithAssetLock(assetID, func() error {
		asset, err := c.store.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if catalog.IsTerminalAssetStatus(asset.Status) {
			// The asset was quarantined or failed while this stage ran;
			// nothing further to record.
			return nil
		}

		job, err := c.store.GetJob(ctx, assetID, stage)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return nil
		}
		job.LastError = cause.Error()

		if services.Retryable(cause) && job.Attempts < c.maxAttempts {
			job.Status = catalog.JobPending
			job.ProgressPercent = 0
			if err := c.store.UpdateJob(ctx, job); err != nil {
				return err
			}
			retried = true
			return c.enqueueStageLocked(ctx, assetID, stage)
		}

		now := time.Now().UTC()
		job.Status = catalog.JobFailed
		job.CompletedAt = &now
		if err := c.store.UpdateJob(ctx, job); err != nil {
			return err
		}

		asset.Status = catalog.AssetFailed
		asset.ErrorMessage = fmt.Sprintf("%s: %s", stage, cause.Error())
		if err := c.store.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		if err := c.skipLiveJobsLocked(ctx, assetID); err != nil {
			return err
		}
		failed = asset
		return nil
	})
	if err != nil {
		return err
	}
	if retried {
		c.logger.Warn("stage retry scheduled",
			logging.String(logging.FieldAssetID, assetID),
			logging.String(logging.FieldStage, string(stage)),
			logging.Error(cause))
	}
	if failed != nil {
		c.logger.Error("asset failed",
			logging.String(logging.FieldAssetID, assetID),
			logging.String(logging.FieldStage, string(stage)),
			logging.Error(cause))
		c.notifier.AssetFailed(ctx, failed, stage, cause.Error())
	}
	return nil
}

// Quarantine moves the asset to quarantined, skips all unfinished stages,
// and notifies. Safe to call from any stage; repeated calls are no-ops.
func (c *Coordinator) Quarantine(ctx context.Context, assetID string, reasons []string) error {
	var quarantined *catalog.VideoAsset
	err := c.WithAssetLock(assetID, func() error {
		asset, err := c.store.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if asset.Status == catalog.AssetQuarantined {
			return nil
		}
		if catalog.IsTerminalAssetStatus(asset.Status) {
			return fmt.Errorf("asset %s is %s: %w", assetID, asset.Status, ErrAssetTerminal)
		}
		asset.Status = catalog.AssetQuarantined
		asset.ErrorMessage = strings.Join(reasons, "; ")
		if err := c.store.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		if err := c.skipLiveJobsLocked(ctx, assetID); err != nil {
			return err
		}
		quarantined = asset
		return nil
	})
	if err != nil {
		return err
	}
	if quarantined != nil {
		c.logger.Warn("asset quarantined",
			logging.String(logging.FieldAssetID, assetID),
			logging.String("reasons", strings.Join(reasons, "; ")))
		c.notifier.AssetQuarantined(ctx, quarantined, reasons)
	}
	return nil
}

// Reject records a human review rejection for an asset.
func (c *Coordinator) Reject(ctx context.Context, assetID, reason string) error {
	return c.WithAssetLock(assetID, func() error {
		asset, err := c.store.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if catalog.IsTerminalAssetStatus(asset.Status) {
			return fmt.Errorf("asset %s is %s: %w", assetID, asset.Status, ErrAssetTerminal)
		}
		asset.Status = catalog.AssetRejected
		asset.ErrorMessage = reason
		if err := c.store.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		return c.skipLiveJobsLocked(ctx, assetID)
	})
}

// ResumePending re-enqueues every eligible pending stage for live assets.
// The daemon calls this at startup after resetting orphaned in-progress
// jobs, since the in-process queue does not survive restarts.
func (c *Coordinator) ResumePending(ctx context.Context) (int, error) {
	assets, err := c.store.ListAssets(ctx,
		catalog.AssetQueued,
		catalog.AssetProcessing,
		catalog.AssetScanning,
		catalog.AssetModerating,
		catalog.AssetIndexing,
	)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, asset := range assets {
		err := c.WithAssetLock(asset.ID, func() error {
			jobs, err := c.store.JobsForAsset(ctx, asset.ID)
			if err != nil {
				return err
			}
			for _, job := range jobs {
				if job.Status != catalog.JobPending {
					continue
				}
				if err := c.prerequisitesMetLocked(ctx, asset.ID, job.Stage); err != nil {
					if errors.Is(err, ErrStageNotReady) {
						continue
					}
					return err
				}
				if err := c.enqueueStageLocked(ctx, asset.ID, job.Stage); err != nil {
					return err
				}
				resumed++
			}
			return nil
		})
		if err != nil {
			return resumed, err
		}
	}
	return resumed, nil
}

// prerequisitesMetLocked verifies every prerequisite stage finished
// successfully. Caller holds the asset lock.
func (c *Coordinator) prerequisitesMetLocked(ctx context.Context, assetID string, stage catalog.Stage) error {
	for _, prereq := range catalog.StagePrerequisites(stage) {
		job, err := c.store.GetJob(ctx, assetID, prereq)
		if err != nil {
			return err
		}
		if job.Status != catalog.JobCompleted && job.Status != catalog.JobSkipped {
			return fmt.Errorf("stage %s requires %s (currently %s): %w", stage, prereq, job.Status, ErrStageNotReady)
		}
	}
	return nil
}

// enqueueEligibleSuccessorsLocked enqueues every stage whose prerequisites
// include the just-completed stage and are now all satisfied. Only direct
// successors are considered, so a stage is enqueued exactly once: by the
// completion of its last outstanding prerequisite. Caller holds the asset
// lock.
func (c *Coordinator) enqueueEligibleSuccessorsLocked(ctx context.Context, assetID string, completed catalog.Stage) error {
	for _, candidate := range catalog.PipelineStages {
		direct := false
		for _, prereq := range catalog.StagePrerequisites(candidate) {
			if prereq == completed {
				direct = true
				break
			}
		}
		if !direct {
			continue
		}
		job, err := c.store.GetJob(ctx, assetID, candidate)
		if err != nil {
			return err
		}
		if job.Status != catalog.JobPending {
			continue
		}
		if err := c.prerequisitesMetLocked(ctx, assetID, candidate); err != nil {
			if errors.Is(err, ErrStageNotReady) {
				continue
			}
			return err
		}
		if err := c.enqueueStageLocked(ctx, assetID, candidate); err != nil {
			return err
		}
	}
	return nil
}

// enqueueStageLocked submits a stage job envelope. Caller holds the asset
// lock; the envelope carries the stage job identifier and attempt count for
// log correlation.
func (c *Coordinator) enqueueStageLocked(ctx context.Context, assetID string, stage catalog.Stage) error {
	kind, ok := stageKinds[stage]
	if !ok {
		return fmt.Errorf("no queue kind for stage %s", stage)
	}
	job, err := c.store.GetJob(ctx, assetID, stage)
	if err != nil {
		return err
	}
	env := queue.NewEnvelope(kind, assetID).WithStageJob(job.ID)
	env.Attempt = job.Attempts

	if c.enqueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.enqueueTimeout)
		defer cancel()
	}
	if err := c.producer.Enqueue(ctx, env); err != nil {
		return services.Wrap(services.ErrUnavailable, string(stage), "enqueue", "submit stage job", err)
	}
	return nil
}

// skipLiveJobsLocked marks every non-terminal stage job skipped. Caller
// holds the asset lock.
func (c *Coordinator) skipLiveJobsLocked(ctx context.Context, assetID string) error {
	jobs, err := c.store.JobsForAsset(ctx, assetID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, job := range jobs {
		if job.Status.IsTerminal() {
			continue
		}
		job.Status = catalog.JobSkipped
		job.CompletedAt = &now
		if err := c.store.UpdateJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}
