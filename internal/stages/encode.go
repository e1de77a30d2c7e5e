package stages

import (
	"context"
	"fmt"

	"loom/internal/catalog"
	"loom/internal/encoding"
	"loom/internal/logging"
	"loom/internal/manifest"
	"loom/internal/queue"
	"loom/internal/services/encoder"
)

// handleEncodeVideo claims the encoding stage and fans out one encode job
// per quality profile. The stage is completed later by the manifest handler
// after the fan-in.
func (d *Deps) handleEncodeVideo(ctx context.Context, env queue.Envelope) error {
	claimed, err := d.claimStage(ctx, env.AssetID, catalog.StageEncoding)
	if err != nil || !claimed {
		return err
	}
	if err := d.Orchestrator.FanOut(ctx, env.AssetID); err != nil {
		return d.Coordinator.FailStage(ctx, env.AssetID, catalog.StageEncoding, err)
	}
	return nil
}

// handleEncodeVariant encodes one rendition, writes its media playlist, and
// reports the result to the fan-in.
func (d *Deps) handleEncodeVariant(ctx context.Context, env queue.Envelope) error {
	variant, err := d.Orchestrator.MarkVariantEncoding(ctx, env.AssetID, env.VariantID)
	if err != nil {
		// Duplicate delivery of a finished variant.
		d.logger().Debug("variant claim dropped",
			logging.String(logging.FieldAssetID, env.AssetID),
			logging.String(logging.FieldVariantID, env.VariantID),
			logging.Error(err))
		return nil
	}

	asset, err := d.Store.GetAsset(ctx, env.AssetID)
	if err != nil {
		return d.Orchestrator.RecordVariantResult(ctx, env.AssetID, env.VariantID, encoding.VariantResult{Err: err})
	}

	segmentSeconds := d.Config.Encoding.SegmentSeconds
	result, err := d.Encoder.Encode(ctx, encoder.Request{
		SourcePath:       asset.SourcePath,
		OutputPrefix:     fmt.Sprintf("%s/%s/%s", streamContainer, env.AssetID, variant.Quality),
		Quality:          variant.Quality,
		Width:            variant.Width,
		Height:           variant.Height,
		VideoBitrateKbps: variant.VideoBitrateKbps,
		AudioBitrateKbps: variant.AudioBitrateKbps,
		SegmentSeconds:   segmentSeconds,
		DurationSecs:     asset.DurationSecs,
	})
	if err != nil {
		return d.Orchestrator.RecordVariantResult(ctx, env.AssetID, env.VariantID, encoding.VariantResult{Err: err})
	}

	playlist := manifest.Media(manifest.Variant{
		Quality:          variant.Quality,
		Width:            variant.Width,
		Height:           variant.Height,
		VideoBitrateKbps: variant.VideoBitrateKbps,
		AudioBitrateKbps: variant.AudioBitrateKbps,
		SegmentCount:     result.SegmentCount,
		SegmentSeconds:   segmentSeconds,
	})
	playlistName := fmt.Sprintf("%s/%s/%s", env.AssetID, variant.Quality, manifest.PlaylistName)
	if err := d.Blobs.Put(ctx, streamContainer, playlistName, []byte(playlist), "application/vnd.apple.mpegurl"); err != nil {
		return d.Orchestrator.RecordVariantResult(ctx, env.AssetID, env.VariantID, encoding.VariantResult{Err: err})
	}

	return d.Orchestrator.RecordVariantResult(ctx, env.AssetID, env.VariantID, encoding.VariantResult{
		PlaylistPath: playlistName,
		SegmentCount: result.SegmentCount,
		ByteSize:     result.ByteSize,
	})
}

// handleGenerateManifest synthesizes the master playlist from the completed
// variants and completes the encoding stage.
func (d *Deps) handleGenerateManifest(ctx context.Context, env queue.Envelope) error {
	variants, err := d.Orchestrator.CompletedVariants(ctx, env.AssetID)
	if err != nil {
		return d.Coordinator.FailStage(ctx, env.AssetID, catalog.StageEncoding, err)
	}

	descriptors := make([]manifest.Variant, 0, len(variants))
	for _, variant := range variants {
		descriptors = append(descriptors, manifest.Variant{
			Quality:          variant.Quality,
			Width:            variant.Width,
			Height:           variant.Height,
			VideoBitrateKbps: variant.VideoBitrateKbps,
			AudioBitrateKbps: variant.AudioBitrateKbps,
			SegmentCount:     variant.SegmentCount,
			SegmentSeconds:   d.Config.Encoding.SegmentSeconds,
		})
	}
	master := manifest.Master(descriptors)
	masterName := env.AssetID + "/" + manifest.MasterName
	if err := d.Blobs.Put(ctx, streamContainer, masterName, []byte(master), "application/vnd.apple.mpegurl"); err != nil {
		return d.Coordinator.FailStage(ctx, env.AssetID, catalog.StageEncoding, err)
	}

	err = d.Coordinator.WithAssetLock(env.AssetID, func() error {
		asset, err := d.Store.GetAsset(ctx, env.AssetID)
		if err != nil {
			return err
		}
		asset.ManifestPath = streamContainer + "/" + masterName
		return d.Store.UpdateAsset(ctx, asset)
	})
	if err != nil {
		return d.Coordinator.FailStage(ctx, env.AssetID, catalog.StageEncoding, err)
	}
	return d.finishStage(ctx, env.AssetID, catalog.StageEncoding, nil)
}
