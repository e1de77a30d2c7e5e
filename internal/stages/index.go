package stages

import (
	"context"

	"loom/internal/catalog"
	"loom/internal/queue"
	"loom/internal/services/indexer"
)

// handleIndexVideo projects the finished asset into the search index.
// Completing this stage publishes the asset.
func (d *Deps) handleIndexVideo(ctx context.Context, env queue.Envelope) error {
	claimed, err := d.claimStage(ctx, env.AssetID, catalog.StageSearchIndexing)
	if err != nil || !claimed {
		return err
	}

	asset, err := d.Store.GetAsset(ctx, env.AssetID)
	if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageSearchIndexing, err)
	}

	doc := indexer.Document{
		AssetID:      asset.ID,
		Title:        asset.Title,
		Description:  asset.Description,
		Tags:         asset.Tags,
		DurationSecs: asset.DurationSecs,
		ManifestPath: asset.ManifestPath,
	}
	if transcript, err := d.loadTranscript(ctx, env.AssetID); err == nil && transcript != nil {
		doc.Transcript = transcript.Text
		doc.Language = transcript.Language
	} else if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageSearchIndexing, err)
	}

	if err := d.Indexer.Index(ctx, doc); err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageSearchIndexing, err)
	}
	return d.finishStage(ctx, env.AssetID, catalog.StageSearchIndexing, nil)
}
