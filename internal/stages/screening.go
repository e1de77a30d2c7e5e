package stages

import (
	"context"
	"fmt"
	"strings"

	"loom/internal/catalog"
	"loom/internal/queue"
	"loom/internal/services"
)

// handleScanVideo runs the malware scan. An infected verdict quarantines the
// asset immediately; nothing downstream runs for it.
func (d *Deps) handleScanVideo(ctx context.Context, env queue.Envelope) error {
	claimed, err := d.claimStage(ctx, env.AssetID, catalog.StageMalwareScan)
	if err != nil || !claimed {
		return err
	}

	asset, err := d.Store.GetAsset(ctx, env.AssetID)
	if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageMalwareScan, err)
	}

	report, err := d.Scanner.Scan(ctx, asset.SourcePath)
	if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageMalwareScan, err)
	}

	verdict := catalog.MalwareClean
	if report.Infected() {
		verdict = catalog.MalwareInfected
	}
	if err := d.recordMalwareVerdict(ctx, env.AssetID, verdict, report.Threats); err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageMalwareScan, err)
	}

	if report.Infected() {
		cause := services.Wrap(services.ErrContentPolicy, string(catalog.StageMalwareScan), "scan",
			fmt.Sprintf("malware detected: %s", strings.Join(report.Threats, ", ")), nil)
		return d.finishStage(ctx, env.AssetID, catalog.StageMalwareScan, cause)
	}
	return d.finishStage(ctx, env.AssetID, catalog.StageMalwareScan, nil)
}

// handleModerateContent runs content moderation. A flagged verdict
// quarantines the asset.
func (d *Deps) handleModerateContent(ctx context.Context, env queue.Envelope) error {
	claimed, err := d.claimStage(ctx, env.AssetID, catalog.StageContentModeration)
	if err != nil || !claimed {
		return err
	}

	asset, err := d.Store.GetAsset(ctx, env.AssetID)
	if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageContentModeration, err)
	}

	report, err := d.Moderator.Moderate(ctx, asset.SourcePath, asset.Title)
	if err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageContentModeration, err)
	}

	verdict := catalog.SafetySafe
	if report.Flagged() {
		verdict = catalog.SafetyFlagged
	}
	if err := d.recordSafetyVerdict(ctx, env.AssetID, verdict, report.Reasons, report.HighestSeverity); err != nil {
		return d.finishStage(ctx, env.AssetID, catalog.StageContentModeration, err)
	}

	if report.Flagged() {
		cause := services.Wrap(services.ErrContentPolicy, string(catalog.StageContentModeration), "moderate",
			fmt.Sprintf("content flagged: %s", strings.Join(report.Reasons, ", ")), nil)
		return d.finishStage(ctx, env.AssetID, catalog.StageContentModeration, cause)
	}
	return d.finishStage(ctx, env.AssetID, catalog.StageContentModeration, nil)
}

func (d *Deps) recordMalwareVerdict(ctx context.Context, assetID string, verdict catalog.MalwareStatus, threats []string) error {
	return d.Coordinator.WithAssetLock(assetID, func() error {
		result, err := d.Store.GetModeration(ctx, assetID)
		if err != nil {
			return err
		}
		result.Malware = verdict
		if len(threats) > 0 {
			result.Reasons = append(result.Reasons, threats...)
			result.HighestSeverity = "critical"
		}
		return d.Store.UpdateModeration(ctx, result)
	})
}

func (d *Deps) recordSafetyVerdict(ctx context.Context, assetID string, verdict catalog.SafetyStatus, reasons []string, severity string) error {
	return d.Coordinator.WithAssetLock(assetID, func() error {
		result, err := d.Store.GetModeration(ctx, assetID)
		if err != nil {
			return err
		}
		result.Safety = verdict
		result.Reasons = append(result.Reasons, reasons...)
		if severity != "" {
			result.HighestSeverity = severity
		}
		return d.Store.UpdateModeration(ctx, result)
	})
}
