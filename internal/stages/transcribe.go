package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"loom/internal/blob"
	"loom/internal/catalog"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services/transcriber"
)

// transcriptName returns the blob name of an asset's transcript document.
func transcriptName(assetID string) string {
	return assetID + "/transcript.json"
}

// translationName returns the blob name of one translated transcript.
func translationName(assetID, language string) string {
	return fmt.Sprintf("%s/transcript.%s.json", assetID, language)
}

// handleTranscribeVideo produces the transcript, records the measured
// duration on the asset, and renders any configured translations. A failed
// translation is logged and skipped rather than failing the stage; the
// original transcript is what downstream stages need.
func (d *Deps) handleTranscribeVideo(ctx context.Context, env queue.Envelope) error {
	claimed, err := d.claimStage(ctx, env.AssetID, catalog.StageTranscription)
	if err != nil || !claimed {
		return err
	}

	asset, err := d.Store.GetAsset(ctx, env.AssetID)
	if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageTranscription, err)
	}

	transcript, err := d.Transcriber.Transcribe(ctx, asset.SourcePath)
	if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageTranscription, err)
	}

	if err := d.putJSON(ctx, metaContainer, transcriptName(env.AssetID), transcript); err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageTranscription, err)
	}

	for _, language := range d.Config.Services.TranslationLanguages {
		if language == transcript.Language {
			continue
		}
		translation, err := d.Translator.Translate(ctx, transcript.Text, language)
		if err != nil {
			d.logger().Warn("translation skipped",
				logging.String(logging.FieldAssetID, env.AssetID),
				logging.String("language", language),
				logging.Error(err))
			continue
		}
		if err := d.putJSON(ctx, metaContainer, translationName(env.AssetID, language), translation); err != nil {
			return d.finishStage(ctx, env.AssetID, catalog.StageTranscription, err)
		}
	}

	err = d.Coordinator.WithAssetLock(env.AssetID, func() error {
		current, err := d.Store.GetAsset(ctx, env.AssetID)
		if err != nil {
			return err
		}
		current.DurationSecs = transcript.DurationSecs
		return d.Store.UpdateAsset(ctx, current)
	})
	if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageTranscription, err)
	}
	return d.finishStage(ctx, env.AssetID, catalog.StageTranscription, nil)
}

// loadTranscript fetches the stored transcript; a missing document returns
// nil without error so callers can degrade.
func (d *Deps) loadTranscript(ctx context.Context, assetID string) (*transcriber.Transcript, error) {
	data, err := d.Blobs.Get(ctx, metaContainer, transcriptName(assetID))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var transcript transcriber.Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return &transcript, nil
}

func (d *Deps) putJSON(ctx context.Context, container, name string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return d.Blobs.Put(ctx, container, name, data, "application/json")
}
