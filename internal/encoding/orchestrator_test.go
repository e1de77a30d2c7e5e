package encoding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"loom/internal/catalog"
	"loom/internal/logging"
	"loom/internal/pipeline"
	"loom/internal/queue"
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

func newTestOrchestrator(t *testing.T) (*Orchestrator, *catalog.Store, *captureProducer) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	producer := &captureProducer{}
	coord := pipeline.NewCoordinator(store, producer, cfg, nil, logging.NewNop())
	orch := NewOrchestrator(store, coord, producer, cfg, logging.NewNop())
	return orch, store, producer
}

func seedEncodingAsset(t *testing.T, store *catalog.Store) string {
	t.Helper()
	ctx := context.Background()
	asset := &catalog.VideoAsset{
		ID:     uuid.NewString(),
		Title:  "clip",
		Status: catalog.AssetProcessing,
	}
	if err := store.InsertAsset(ctx, asset); err != nil {
		t.Fatalf("insert asset: %v", err)
	}
	for _, stage := range catalog.PipelineStages {
		status := catalog.JobCompleted
		attempts := 1
		switch stage {
		case catalog.StageEncoding:
			status = catalog.JobInProgress
		case catalog.StageSearchIndexing:
			status = catalog.JobPending
			attempts = 0
		}
		job := &catalog.ProcessingJob{
			ID:       uuid.NewString(),
			AssetID:  asset.ID,
			Stage:    stage,
			Status:   status,
			Attempts: attempts,
		}
		if err := store.InsertJob(ctx, job); err != nil {
			t.Fatalf("insert job %s: %v", stage, err)
		}
	}
	return asset.ID
}

func TestFanOutCreatesLadderAndEnqueuesEachVariant(t *testing.T) {
	orch, store, producer := newTestOrchestrator(t)
	assetID := seedEncodingAsset(t, store)
	ctx := context.Background()

	if err := orch.FanOut(ctx, assetID); err != nil {
		t.Fatalf("fan out: %v", err)
	}

	variants, err := store.VariantsForAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	if len(variants) != 4 {
		t.Fatalf("variant count = %d, want 4", len(variants))
	}
	for _, variant := range variants {
		if variant.Status != catalog.VariantPending {
			t.Errorf("%s status = %s, want pending", variant.Quality, variant.Status)
		}
	}
	if got := producer.countKind(queue.KindEncodeVariant); got != 4 {
		t.Errorf("encode envelopes = %d, want 4", got)
	}
}

func TestFanOutRedeliveryDoesNotDuplicateVariants(t *testing.T) {
	orch, store, producer := newTestOrchestrator(t)
	assetID := seedEncodingAsset(t, store)
	ctx := context.Background()

	if err := orch.FanOut(ctx, assetID); err != nil {
		t.Fatalf("first fan out: %v", err)
	}

	// Finish one variant, then simulate a duplicate encode-video delivery.
	variants, err := store.VariantsForAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	if err := orch.RecordVariantResult(ctx, assetID, variants[0].ID, VariantResult{
		PlaylistPath: variants[0].Quality + "/playlist.m3u8",
		SegmentCount: 10,
		ByteSize:     1 << 20,
	}); err != nil {
		t.Fatalf("record result: %v", err)
	}

	if err := orch.FanOut(ctx, assetID); err != nil {
		t.Fatalf("second fan out: %v", err)
	}
	variants, err = store.VariantsForAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	if len(variants) != 4 {
		t.Fatalf("variant count after redelivery = %d, want 4", len(variants))
	}
	// 4 initial envelopes + 3 re-enqueued non-terminal variants.
	if got := producer.countKind(queue.KindEncodeVariant); got != 7 {
		t.Errorf("encode envelopes = %d, want 7", got)
	}
}

func TestFanInEnqueuesManifestExactlyOnceUnderRacingCompletions(t *testing.T) {
	orch, store, producer := newTestOrchestrator(t)
	assetID := seedEncodingAsset(t, store)
	ctx := context.Background()

	if err := orch.FanOut(ctx, assetID); err != nil {
		t.Fatalf("fan out: %v", err)
	}
	variants, err := store.VariantsForAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}

	var wg sync.WaitGroup
	for _, variant := range variants {
		wg.Add(1)
		go func(v *catalog.VideoVariant) {
			defer wg.Done()
			err := orch.RecordVariantResult(ctx, assetID, v.ID, VariantResult{
				PlaylistPath: v.Quality + "/playlist.m3u8",
				SegmentCount: 12,
				ByteSize:     2 << 20,
			})
			if err != nil {
				t.Errorf("record %s: %v", v.Quality, err)
			}
		}(variant)
	}
	wg.Wait()

	if got := producer.countKind(queue.KindGenerateManifest); got != 1 {
		t.Fatalf("manifest envelopes = %d, want exactly 1", got)
	}
}

func TestFanInPublishesPartialSuccess(t *testing.T) {
	orch, store, producer := newTestOrchestrator(t)
	assetID := seedEncodingAsset(t, store)
	ctx := context.Background()

	if err := orch.FanOut(ctx, assetID); err != nil {
		t.Fatalf("fan out: %v", err)
	}
	variants, err := store.VariantsForAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}

	for i, variant := range variants {
		result := VariantResult{
			PlaylistPath: variant.Quality + "/playlist.m3u8",
			SegmentCount: 12,
			ByteSize:     2 << 20,
		}
		if i == len(variants)-1 {
			result = VariantResult{Err: errors.New("encoder crashed")}
		}
		if err := orch.RecordVariantResult(ctx, assetID, variant.ID, result); err != nil {
			t.Fatalf("record %s: %v", variant.Quality, err)
		}
	}

	if got := producer.countKind(queue.KindGenerateManifest); got != 1 {
		t.Fatalf("manifest envelopes = %d, want 1", got)
	}
	completed, err := orch.CompletedVariants(ctx, assetID)
	if err != nil {
		t.Fatalf("completed variants: %v", err)
	}
	if len(completed) != len(variants)-1 {
		t.Errorf("completed = %d, want %d", len(completed), len(variants)-1)
	}
}

func TestFanInAllFailedFailsEncodingStage(t *testing.T) {
	orch, store, producer := newTestOrchestrator(t)
	assetID := seedEncodingAsset(t, store)
	ctx := context.Background()

	if err := orch.FanOut(ctx, assetID); err != nil {
		t.Fatalf("fan out: %v", err)
	}
	variants, err := store.VariantsForAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	for _, variant := range variants {
		err := orch.RecordVariantResult(ctx, assetID, variant.ID, VariantResult{Err: errors.New("encoder crashed")})
		if err != nil {
			t.Fatalf("record %s: %v", variant.Quality, err)
		}
	}

	if got := producer.countKind(queue.KindGenerateManifest); got != 0 {
		t.Errorf("manifest envelopes = %d, want 0", got)
	}
	asset, err := store.GetAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != catalog.AssetFailed {
		t.Errorf("asset status = %s, want %s", asset.Status, catalog.AssetFailed)
	}
	job, err := store.GetJob(ctx, assetID, catalog.StageEncoding)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != catalog.JobFailed {
		t.Errorf("encoding job status = %s, want failed", job.Status)
	}
}

func TestFanOutRedeliveryRecoversLostFanIn(t *testing.T) {
	orch, store, producer := newTestOrchestrator(t)
	assetID := seedEncodingAsset(t, store)
	ctx := context.Background()

	if err := orch.FanOut(ctx, assetID); err != nil {
		t.Fatalf("fan out: %v", err)
	}

	// Every variant finished, but the process died before the fan-in
	// decision was delivered anywhere.
	variants, err := store.VariantsForAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	for _, variant := range variants {
		variant.Status = catalog.VariantCompleted
		variant.PlaylistPath = variant.Quality + "/playlist.m3u8"
		if err := store.UpdateVariant(ctx, variant); err != nil {
			t.Fatalf("update variant: %v", err)
		}
	}

	if err := orch.FanOut(ctx, assetID); err != nil {
		t.Fatalf("resumed fan out: %v", err)
	}
	if got := producer.countKind(queue.KindGenerateManifest); got != 1 {
		t.Fatalf("manifest envelopes = %d, want 1", got)
	}
	if got := producer.countKind(queue.KindEncodeVariant); got != 4 {
		t.Errorf("encode envelopes = %d, want 4 (no variant re-enqueued)", got)
	}
}

func TestFanOutRedeliveryFailsStageWhenAllVariantsFailed(t *testing.T) {
	orch, store, producer := newTestOrchestrator(t)
	assetID := seedEncodingAsset(t, store)
	ctx := context.Background()

	if err := orch.FanOut(ctx, assetID); err != nil {
		t.Fatalf("fan out: %v", err)
	}
	variants, err := store.VariantsForAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	for _, variant := range variants {
		variant.Status = catalog.VariantFailed
		variant.LastError = "encoder crashed"
		if err := store.UpdateVariant(ctx, variant); err != nil {
			t.Fatalf("update variant: %v", err)
		}
	}

	if err := orch.FanOut(ctx, assetID); err != nil {
		t.Fatalf("resumed fan out: %v", err)
	}
	if got := producer.countKind(queue.KindGenerateManifest); got != 0 {
		t.Errorf("manifest envelopes = %d, want 0", got)
	}
	asset, err := store.GetAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != catalog.AssetFailed {
		t.Errorf("asset status = %s, want %s", asset.Status, catalog.AssetFailed)
	}
}

func TestDuplicateVariantResultIsNoOp(t *testing.T) {
	orch, store, producer := newTestOrchestrator(t)
	assetID := seedEncodingAsset(t, store)
	ctx := context.Background()

	if err := orch.FanOut(ctx, assetID); err != nil {
		t.Fatalf("fan out: %v", err)
	}
	variants, err := store.VariantsForAsset(ctx, assetID)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	for _, variant := range variants {
		result := VariantResult{PlaylistPath: variant.Quality + "/playlist.m3u8", SegmentCount: 12}
		if err := orch.RecordVariantResult(ctx, assetID, variant.ID, result); err != nil {
			t.Fatalf("record %s: %v", variant.Quality, err)
		}
	}
	// Re-deliver the last result; the fan-in must not run again.
	last := variants[len(variants)-1]
	if err := orch.RecordVariantResult(ctx, assetID, last.ID, VariantResult{PlaylistPath: "dup"}); err != nil {
		t.Fatalf("duplicate record: %v", err)
	}
	if got := producer.countKind(queue.KindGenerateManifest); got != 1 {
		t.Fatalf("manifest envelopes after duplicate = %d, want 1", got)
	}
}
