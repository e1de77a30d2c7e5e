package stages

import (
	"context"
	"fmt"

	"loom/internal/catalog"
	"loom/internal/queue"
	"loom/internal/services/encoder"
)

// handleGenerateThumbnail captures a poster frame from the source video.
// The capture point is a quarter of the way in, clamped to the first ten
// seconds for long videos.
func (d *Deps) handleGenerateThumbnail(ctx context.Context, env queue.Envelope) error {
	claimed, err := d.claimStage(ctx, env.AssetID, catalog.StageThumbnailGeneration)
	if err != nil || !claimed {
		return err
	}

	asset, err := d.Store.GetAsset(ctx, env.AssetID)
	if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageThumbnailGeneration, err)
	}

	timestamp := asset.DurationSecs / 4
	if timestamp > 10 {
		timestamp = 10
	}
	outputPath := fmt.Sprintf("%s/%s/poster.jpg", thumbnailContainer, env.AssetID)
	result, err := d.Encoder.Thumbnail(ctx, encoder.ThumbnailRequest{
		SourcePath:    asset.SourcePath,
		OutputPath:    outputPath,
		TimestampSecs: timestamp,
		Width:         1280,
		Height:        720,
	})
	if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageThumbnailGeneration, err)
	}
	if err := d.putJSON(ctx, metaContainer, env.AssetID+"/thumbnail.json", result); err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageThumbnailGeneration, err)
	}
	return d.finishStage(ctx, env.AssetID, catalog.StageThumbnailGeneration, nil)
}

// handleExtractHighlights extracts notable moments from the transcript.
func (d *Deps) handleExtractHighlights(ctx context.Context, env queue.Envelope) error {
	claimed, err := d.claimStage(ctx, env.AssetID, catalog.StageAIHighlights)
	if err != nil || !claimed {
		return err
	}

	transcript, err := d.loadTranscript(ctx, env.AssetID)
	if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageAIHighlights, err)
	}

	text := ""
	duration := 0.0
	if transcript != nil {
		text = transcript.Text
		duration = transcript.DurationSecs
	}
	highlights, err := d.Highlighter.Extract(ctx, text, duration)
	if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageAIHighlights, err)
	}
	if err := d.putJSON(ctx, metaContainer, env.AssetID+"/highlights.json", highlights); err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageAIHighlights, err)
	}
	return d.finishStage(ctx, env.AssetID, catalog.StageAIHighlights, nil)
}
