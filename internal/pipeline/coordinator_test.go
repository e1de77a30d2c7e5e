package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"loom/internal/catalog"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/testsupport"
)

type captureProducer struct {
	mu        sync.Mutex
	envelopes []queue.Envelope
}

func (p *captureProducer) Enqueue(_ context.Context, env queue.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, env)
	return nil
}

func (p *captureProducer) kinds() []queue.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]queue.Kind, len(p.envelopes))
	for i, env := range p.envelopes {
		kinds[i] = env.Kind
	}
	return kinds
}

func (p *captureProducer) countKind(kind queue.Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, env := range p.envelopes {
		if env.Kind == kind {
			n++
		}
	}
	return n
}

type captureNotifier struct {
	mu          sync.Mutex
	published   []string
	quarantined []string
	failed      []string
}

func (n *captureNotifier) AssetPublished(_ context.Context, asset *catalog.VideoAsset) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, asset.ID)
}

func (n *captureNotifier) AssetQuarantined(_ context.Context, asset *catalog.VideoAsset, _ []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.quarantined = append(n.quarantined, asset.ID)
}

func (n *captureNotifier) AssetFailed(_ context.Context, asset *catalog.VideoAsset, _ catalog.Stage, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, asset.ID)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *catalog.Store, *captureProducer, *captureNotifier) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	producer := &captureProducer{}
	notifier := &captureNotifier{}
	coord := NewCoordinator(store, producer, cfg, notifier, logging.NewNop())
	return coord, store, producer, notifier
}

func seedAsset(t *testing.T, store *catalog.Store) string {
	t.Helper()
	ctx := context.Background()
	asset := &catalog.VideoAsset{
		ID:     uuid.NewString(),
		Title:  "clip",
		Status: catalog.AssetQueued,
	}
	if err := store.InsertAsset(ctx, asset); err != nil {
		t.Fatalf("insert asset: %v", err)
	}
	for _, stage := range catalog.PipelineStages {
		job := &catalog.ProcessingJob{
			ID:      uuid.NewString(),
			AssetID: asset.ID,
			Stage:   stage,
			Status:  catalog.JobPending,
		}
		if err := store.InsertJob(ctx, job); err != nil {
			t.Fatalf("insert job %s: %v", stage, err)
		}
	}
	return asset.ID
}

// runStage claims and completes one stage.
func runStage(t *testing.T, coord *Coordinator, assetID string, stage catalog.Stage) {
	t.Helper()
	ctx := context.Background()
	if _, err := coord.BeginStage(ctx, assetID, stage); err != nil {
		t.Fatalf("begin %s: %v", stage, err)
	}
	if err := coord.CompleteStage(ctx, assetID, stage); err != nil {
		t.Fatalf("complete %s: %v", stage, err)
	}
}

func TestStartProcessingEnqueuesMalwareScan(t *testing.T) {
	coord, store, producer, _ := newTestCoordinator(t)
	assetID := seedAsset(t, store)
	ctx := context.Background()

	if err := coord.StartProcessing(ctx, assetID); err != nil {
		t.Fatalf("start processing: %v", err)
	}

	asset, err := store.GetAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != catalog.AssetProcessing {
		t.Errorf("asset status = %s, want %s", asset.Status, catalog.AssetProcessing)
	}
	if got := producer.kinds(); len(got) != 1 || got[0] != queue.KindScanVideo {
		t.Errorf("enqueued kinds = %v, want [%s]", got, queue.KindScanVideo)
	}
}

func TestBeginStageRequiresPrerequisites(t *testing.T) {
	coord, store, _, _ := newTestCoordinator(t)
	assetID := seedAsset(t, store)

	_, err := coord.BeginStage(context.Background(), assetID, catalog.StageTranscription)
	if !errors.Is(err, ErrStageNotReady) {
		t.Fatalf("begin transcription before moderation: err = %v, want ErrStageNotReady", err)
	}
}

func TestBeginStageRejectsDoubleClaim(t *testing.T) {
	coord, store, _, _ := newTestCoordinator(t)
	assetID := seedAsset(t, store)
	ctx := context.Background()

	if _, err := coord.BeginStage(ctx, assetID, catalog.StageMalwareScan); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := coord.BeginStage(ctx, assetID, catalog.StageMalwareScan); !errors.Is(err, ErrStageNotPending) {
		t.Fatalf("second claim: err = %v, want ErrStageNotPending", err)
	}
}

func TestEncodingWaitsForBothBranches(t *testing.T) {
	coord, store, producer, _ := newTestCoordinator(t)
	assetID := seedAsset(t, store)

	runStage(t, coord, assetID, catalog.StageMalwareScan)
	runStage(t, coord, assetID, catalog.StageContentModeration)
	runStage(t, coord, assetID, catalog.StageTranscription)

	// Transcription fans out to both branches.
	if got := producer.countKind(queue.KindGenerateThumbnail); got != 1 {
		t.Errorf("thumbnail enqueues = %d, want 1", got)
	}
	if got := producer.countKind(queue.KindExtractHighlights); got != 1 {
		t.Errorf("highlights enqueues = %d, want 1", got)
	}

	runStage(t, coord, assetID, catalog.StageThumbnailGeneration)
	if got := producer.countKind(queue.KindEncodeVideo); got != 0 {
		t.Fatalf("encoding enqueued after one branch, count = %d", got)
	}

	runStage(t, coord, assetID, catalog.StageAIHighlights)
	if got := producer.countKind(queue.KindEncodeVideo); got != 1 {
		t.Fatalf("encoding enqueues after both branches = %d, want 1", got)
	}
}

func TestCompleteTerminalStagePublishes(t *testing.T) {
	coord, store, _, notifier := newTestCoordinator(t)
	assetID := seedAsset(t, store)

	for _, stage := range catalog.PipelineStages {
		runStage(t, coord, assetID, stage)
	}

	asset, err := store.GetAsset(context.Background(), assetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != catalog.AssetPublished {
		t.Errorf("asset status = %s, want %s", asset.Status, catalog.AssetPublished)
	}
	if len(notifier.published) != 1 || notifier.published[0] != assetID {
		t.Errorf("published notifications = %v, want [%s]", notifier.published, assetID)
	}
}

func TestQuarantineShortCircuitsRemainingStages(t *testing.T) {
	coord, store, producer, notifier := newTestCoordinator(t)
	assetID := seedAsset(t, store)
	ctx := context.Background()

	runStage(t, coord, assetID, catalog.StageMalwareScan)
	if _, err := coord.BeginStage(ctx, assetID, catalog.StageContentModeration); err != nil {
		t.Fatalf("begin moderation: %v", err)
	}

	before := producer.countKind(queue.KindTranscribeVideo)
	if err := coord.Quarantine(ctx, assetID, []string{"nudity", "violence"}); err != nil {
		t.Fatalf("quarantine: %v", err)
	}

	asset, err := store.GetAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != catalog.AssetQuarantined {
		t.Errorf("asset status = %s, want %s", asset.Status, catalog.AssetQuarantined)
	}
	if asset.ErrorMessage != "nudity; violence" {
		t.Errorf("error message = %q", asset.ErrorMessage)
	}

	jobs, err := store.JobsForAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("jobs for asset: %v", err)
	}
	for _, job := range jobs {
		if job.Stage == catalog.StageMalwareScan {
			if job.Status != catalog.JobCompleted {
				t.Errorf("%s status = %s, want completed", job.Stage, job.Status)
			}
			continue
		}
		if job.Status != catalog.JobSkipped {
			t.Errorf("%s status = %s, want skipped", job.Stage, job.Status)
		}
	}
	if got := producer.countKind(queue.KindTranscribeVideo); got != before {
		t.Errorf("transcription enqueued after quarantine")
	}
	if len(notifier.quarantined) != 1 {
		t.Errorf("quarantine notifications = %v", notifier.quarantined)
	}

	// A worker finishing a stage after quarantine must not resurrect the asset.
	if err := coord.CompleteStage(ctx, assetID, catalog.StageContentModeration); !errors.Is(err, ErrAssetTerminal) {
		t.Errorf("complete after quarantine: err = %v, want ErrAssetTerminal", err)
	}
}

func TestContentPolicyFailureQuarantines(t *testing.T) {
	coord, store, _, notifier := newTestCoordinator(t)
	assetID := seedAsset(t, store)
	ctx := context.Background()

	if _, err := coord.BeginStage(ctx, assetID, catalog.StageMalwareScan); err != nil {
		t.Fatalf("begin scan: %v", err)
	}
	cause := services.Wrap(services.ErrContentPolicy, "malware_scan", "scan", "infected payload", nil)
	if err := coord.FailStage(ctx, assetID, catalog.StageMalwareScan, cause); err != nil {
		t.Fatalf("fail stage: %v", err)
	}

	asset, err := store.GetAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != catalog.AssetQuarantined {
		t.Errorf("asset status = %s, want %s", asset.Status, catalog.AssetQuarantined)
	}
	if len(notifier.quarantined) != 1 {
		t.Errorf("quarantine notifications = %v", notifier.quarantined)
	}
}

func TestTransientFailureRetriesUntilExhausted(t *testing.T) {
	coord, store, producer, notifier := newTestCoordinator(t)
	assetID := seedAsset(t, store)
	ctx := context.Background()

	cause := services.Wrap(services.ErrTransient, "malware_scan", "scan", "scanner timeout", nil)

	// Default budget is three attempts; the first two failures re-enqueue.
	for attempt := 1; attempt <= 2; attempt++ {
		job, err := coord.BeginStage(ctx, assetID, catalog.StageMalwareScan)
		if err != nil {
			t.Fatalf("begin attempt %d: %v", attempt, err)
		}
		if job.Attempts != attempt {
			t.Fatalf("attempt counter = %d, want %d", job.Attempts, attempt)
		}
		if err := coord.FailStage(ctx, assetID, catalog.StageMalwareScan, cause); err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
		if got := producer.countKind(queue.KindScanVideo); got != attempt {
			t.Fatalf("re-enqueues after attempt %d = %d, want %d", attempt, got, attempt)
		}
		asset, err := store.GetAsset(ctx, assetID)
		if err != nil {
			t.Fatalf("get asset: %v", err)
		}
		if catalog.IsTerminalAssetStatus(asset.Status) {
			t.Fatalf("asset terminal after attempt %d", attempt)
		}
	}

	// Third failure exhausts the budget.
	if _, err := coord.BeginStage(ctx, assetID, catalog.StageMalwareScan); err != nil {
		t.Fatalf("begin final attempt: %v", err)
	}
	if err := coord.FailStage(ctx, assetID, catalog.StageMalwareScan, cause); err != nil {
		t.Fatalf("fail final attempt: %v", err)
	}

	asset, err := store.GetAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != catalog.AssetFailed {
		t.Errorf("asset status = %s, want %s", asset.Status, catalog.AssetFailed)
	}
	job, err := store.GetJob(ctx, assetID, catalog.StageMalwareScan)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != catalog.JobFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
	if job.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", job.Attempts)
	}
	if got := producer.countKind(queue.KindScanVideo); got != 2 {
		t.Errorf("total re-enqueues = %d, want 2", got)
	}
	if len(notifier.failed) != 1 {
		t.Errorf("failure notifications = %v", notifier.failed)
	}
}

func TestNonRetryableFailureFailsImmediately(t *testing.T) {
	coord, store, producer, _ := newTestCoordinator(t)
	assetID := seedAsset(t, store)
	ctx := context.Background()

	if _, err := coord.BeginStage(ctx, assetID, catalog.StageMalwareScan); err != nil {
		t.Fatalf("begin: %v", err)
	}
	cause := services.Wrap(services.ErrValidation, "malware_scan", "scan", "unsupported container", nil)
	if err := coord.FailStage(ctx, assetID, catalog.StageMalwareScan, cause); err != nil {
		t.Fatalf("fail: %v", err)
	}

	asset, err := store.GetAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != catalog.AssetFailed {
		t.Errorf("asset status = %s, want %s", asset.Status, catalog.AssetFailed)
	}
	if got := producer.countKind(queue.KindScanVideo); got != 0 {
		t.Errorf("re-enqueues = %d, want 0", got)
	}
}

func TestResumePendingRequeuesEligibleStages(t *testing.T) {
	coord, store, producer, _ := newTestCoordinator(t)
	assetID := seedAsset(t, store)
	ctx := context.Background()

	// Simulate a restart after malware scan completed: moderation is the
	// only pending stage with satisfied prerequisites.
	runStage(t, coord, assetID, catalog.StageMalwareScan)
	asset, err := store.GetAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	asset.Status = catalog.AssetProcessing
	if err := store.UpdateAsset(ctx, asset); err != nil {
		t.Fatalf("update asset: %v", err)
	}
	before := producer.countKind(queue.KindModerateContent)

	resumed, err := coord.ResumePending(ctx)
	if err != nil {
		t.Fatalf("resume pending: %v", err)
	}
	if resumed != 1 {
		t.Errorf("resumed = %d, want 1", resumed)
	}
	if got := producer.countKind(queue.KindModerateContent); got != before+1 {
		t.Errorf("moderation enqueues = %d, want %d", got, before+1)
	}
	if got := producer.countKind(queue.KindTranscribeVideo); got != 0 {
		t.Errorf("transcription enqueued with unmet prerequisites")
	}
}
