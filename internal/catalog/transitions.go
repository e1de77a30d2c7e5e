package catalog

// assetRank orders the forward progression of asset statuses. Branch exits
// (quarantined, rejected, failed) are handled separately.
var assetRank = map[AssetStatus]int{
	AssetUploading:  0,
	AssetQueued:     1,
	AssetProcessing: 2,
	AssetScanning:   3,
	AssetModerating: 4,
	AssetIndexing:   5,
	AssetPublished:  6,
}

// IsTerminalAssetStatus reports whether an asset can no longer change status.
func IsTerminalAssetStatus(status AssetStatus) bool {
	switch status {
	case AssetPublished, AssetQuarantined, AssetRejected, AssetFailed:
		return true
	default:
		return false
	}
}

// CanTransitionAsset reports whether moving an asset from one status to
// another is legal. The progression is strictly forward; quarantined,
// rejected, and failed are reachable from any non-terminal status. A
// same-status transition is legal so stages that share a display status
// do not need special cases.
func CanTransitionAsset(from, to AssetStatus) bool {
	if from == to {
		return !IsTerminalAssetStatus(from)
	}
	if IsTerminalAssetStatus(from) {
		return false
	}
	switch to {
	case AssetQuarantined, AssetRejected, AssetFailed:
		return true
	}
	fromRank, ok := assetRank[from]
	if !ok {
		return false
	}
	toRank, ok := assetRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// stagePrerequisites declares, per stage, the stages that must be completed
// or skipped before the stage may run or complete.
var stagePrerequisites = map[Stage][]Stage{
	StageMalwareScan:         nil,
	StageContentModeration:   {StageMalwareScan},
	StageTranscription:       {StageContentModeration},
	StageThumbnailGeneration: {StageTranscription},
	StageAIHighlights:        {StageTranscription},
	StageEncoding:            {StageThumbnailGeneration, StageAIHighlights},
	StageSearchIndexing:      {StageEncoding},
}

// StagePrerequisites returns the declared prerequisite stages for a stage.
func StagePrerequisites(stage Stage) []Stage {
	prereqs := stagePrerequisites[stage]
	cp := make([]Stage, len(prereqs))
	copy(cp, prereqs)
	return cp
}

// TerminalStage is the last pipeline stage; completing it publishes the asset.
const TerminalStage = StageSearchIndexing

// AssetStatusForStage maps a running stage to the asset display status the
// progression prescribes while that stage is in flight. Stages between
// moderation and indexing keep the asset at its current status.
func AssetStatusForStage(stage Stage) (AssetStatus, bool) {
	switch stage {
	case StageMalwareScan:
		return AssetScanning, true
	case StageContentModeration:
		return AssetModerating, true
	case StageSearchIndexing:
		return AssetIndexing, true
	default:
		return "", false
	}
}
