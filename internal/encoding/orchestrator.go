// Package encoding fans one source video out into a ladder of quality
// variants and gathers the results back into a single manifest job.
package encoding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/pipeline"
	"loom/internal/queue"
	"loom/internal/services"
)

// VariantResult reports the outcome of one variant encode.
type VariantResult struct {
	PlaylistPath string
	SegmentCount int
	ByteSize     int64
	Err          error
}

// Orchestrator owns the encoding stage fan-out and fan-in. All multi-record
// decisions run under the coordinator's per-asset lock, so concurrent
// variant completions are serialized with each other and with pipeline
// status updates.
type Orchestrator struct {
	store    *catalog.Store
	coord    *pipeline.Coordinator
	producer queue.Producer
	profiles []catalog.QualityProfile
	logger   *slog.Logger
}

// NewOrchestrator builds an encoding orchestrator using the configured
// quality ladder.
func NewOrchestrator(store *catalog.Store, coord *pipeline.Coordinator, producer queue.Producer, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	profiles := make([]catalog.QualityProfile, 0, len(cfg.Encoding.Profiles))
	for _, p := range cfg.Encoding.Profiles {
		profiles = append(profiles, catalog.QualityProfile{
			Label:            p.Label,
			Width:            p.Width,
			Height:           p.Height,
			VideoBitrateKbps: p.VideoBitrateKbps,
			AudioBitrateKbps: p.AudioBitrateKbps,
		})
	}
	if len(profiles) == 0 {
		profiles = catalog.DefaultQualityProfiles()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		store:    store,
		coord:    coord,
		producer: producer,
		profiles: profiles,
		logger:   logger.With(logging.String(logging.FieldComponent, "encoding")),
	}
}

// FanOut creates one variant record per quality profile and enqueues an
// encode job for each. Re-delivery is safe: existing variant rows are kept
// and only non-terminal ones are re-enqueued. When every variant already
// reached a terminal state the fan-in decision is made again instead, so a
// manifest envelope lost with the process is recovered on resume.
func (o *Orchestrator) FanOut(ctx context.Context, assetID string) error {
	var (
		toEnqueue []*catalog.VideoVariant
		completed int
		total     int
	)
	err := o.coord.WithAssetLock(assetID, func() error {
		existing, err := o.store.VariantsForAsset(ctx, assetID)
		if err != nil {
			return err
		}
		byQuality := make(map[string]*catalog.VideoVariant, len(existing))
		for _, variant := range existing {
			byQuality[variant.Quality] = variant
		}

		for _, profile := range o.profiles {
			total++
			if variant, ok := byQuality[profile.Label]; ok {
				if variant.Status == catalog.VariantCompleted {
					completed++
				}
				if !variant.Status.IsTerminal() {
					toEnqueue = append(toEnqueue, variant)
				}
				continue
			}
			variant := &catalog.VideoVariant{
				ID:               uuid.NewString(),
				AssetID:          assetID,
				Quality:          profile.Label,
				Width:            profile.Width,
				Height:           profile.Height,
				VideoBitrateKbps: profile.VideoBitrateKbps,
				AudioBitrateKbps: profile.AudioBitrateKbps,
				Status:           catalog.VariantPending,
			}
			if err := o.store.InsertVariant(ctx, variant); err != nil {
				return err
			}
			toEnqueue = append(toEnqueue, variant)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(toEnqueue) == 0 {
		return o.fanIn(ctx, assetID, completed, total)
	}
	for _, variant := range toEnqueue {
		env := queue.NewEnvelope(queue.KindEncodeVariant, assetID).WithVariant(variant.ID)
		if err := o.producer.Enqueue(ctx, env); err != nil {
			return fmt.Errorf("enqueue variant %s: %w", variant.Quality, err)
		}
	}
	o.logger.Info("encode fan-out",
		logging.String(logging.FieldAssetID, assetID),
		logging.Int("variants", len(toEnqueue)))
	return nil
}

// MarkVariantEncoding moves a variant to the encoding state when a worker
// picks it up.
func (o *Orchestrator) MarkVariantEncoding(ctx context.Context, assetID, variantID string) (*catalog.VideoVariant, error) {
	var claimed *catalog.VideoVariant
	err := o.coord.WithAssetLock(assetID, func() error {
		variant, err := o.store.GetVariant(ctx, variantID)
		if err != nil {
			return err
		}
		if variant.Status.IsTerminal() {
			return fmt.Errorf("variant %s already %s", variant.Quality, variant.Status)
		}
		variant.Status = catalog.VariantEncoding
		if err := o.store.UpdateVariant(ctx, variant); err != nil {
			return err
		}
		claimed = variant
		return nil
	})
	return claimed, err
}

// RecordVariantResult stores one variant's outcome and, when it was the last
// outstanding variant, performs the fan-in: at least one success enqueues
// the manifest job once; zero successes fail the encoding stage. Because the
// decision runs under the asset lock and only the call that performed the
// final pending-to-terminal transition can observe the all-terminal state,
// the manifest job is enqueued exactly once no matter how variant
// completions race.
func (o *Orchestrator) RecordVariantResult(ctx context.Context, assetID, variantID string, result VariantResult) error {
	var (
		fanIn     bool
		completed int
		total     int
	)
	err := o.coord.WithAssetLock(assetID, func() error {
		variant, err := o.store.GetVariant(ctx, variantID)
		if err != nil {
			return err
		}
		if variant.Status.IsTerminal() {
			// Duplicate delivery of a finished variant.
			return nil
		}

		if result.Err != nil {
			variant.Status = catalog.VariantFailed
			variant.LastError = result.Err.Error()
		} else {
			variant.Status = catalog.VariantCompleted
			variant.ProgressPercent = 100
			variant.PlaylistPath = result.PlaylistPath
			variant.SegmentCount = result.SegmentCount
			variant.ByteSize = result.ByteSize
			variant.LastError = ""
		}
		if err := o.store.UpdateVariant(ctx, variant); err != nil {
			return err
		}

		variants, err := o.store.VariantsForAsset(ctx, assetID)
		if err != nil {
			return err
		}
		for _, v := range variants {
			total++
			switch v.Status {
			case catalog.VariantCompleted:
				completed++
			case catalog.VariantFailed:
			default:
				// Still outstanding; a later completion performs the fan-in.
				return nil
			}
		}
		fanIn = true
		return nil
	})
	if err != nil || !fanIn {
		return err
	}
	return o.fanIn(ctx, assetID, completed, total)
}

// fanIn makes the all-terminal decision: at least one completed variant
// enqueues the manifest job, zero completed fails the encoding stage as
// exhausted rather than retryable, since every variant already spent its
// attempts. If the enqueue is lost, a redelivered encode job lands back
// here through FanOut and makes the decision again.
func (o *Orchestrator) fanIn(ctx context.Context, assetID string, completed, total int) error {
	o.logger.Info("encode fan-in",
		logging.String(logging.FieldAssetID, assetID),
		logging.Int("completed", completed),
		logging.Int("total", total))

	if completed == 0 {
		return o.coord.FailStage(ctx, assetID, catalog.StageEncoding,
			services.Wrap(services.ErrUnavailable, string(catalog.StageEncoding), "fan-in", "all variant encodes failed", nil))
	}
	env := queue.NewEnvelope(queue.KindGenerateManifest, assetID)
	if err := o.producer.Enqueue(ctx, env); err != nil {
		return fmt.Errorf("enqueue manifest job: %w", err)
	}
	return nil
}

// CompletedVariants returns the asset's successfully encoded variants in
// ladder order.
func (o *Orchestrator) CompletedVariants(ctx context.Context, assetID string) ([]*catalog.VideoVariant, error) {
	variants, err := o.store.VariantsForAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	out := variants[:0]
	for _, variant := range variants {
		if variant.Status == catalog.VariantCompleted {
			out = append(out, variant)
		}
	}
	return out, nil
}
