package catalog

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AssetStatus represents the lifecycle of a video asset.
type AssetStatus string

const (
	AssetUploading   AssetStatus = "uploading"
	AssetQueued      AssetStatus = "queued"
	AssetProcessing  AssetStatus = "processing"
	AssetScanning    AssetStatus = "scanning"
	AssetModerating  AssetStatus = "moderating"
	AssetIndexing    AssetStatus = "indexing"
	AssetPublished   AssetStatus = "published"
	AssetQuarantined AssetStatus = "quarantined"
	AssetRejected    AssetStatus = "rejected"
	AssetFailed      AssetStatus = "failed"
)

var allAssetStatuses = []AssetStatus{
	AssetUploading,
	AssetQueued,
	AssetProcessing,
	AssetScanning,
	AssetModerating,
	AssetIndexing,
	AssetPublished,
	AssetQuarantined,
	AssetRejected,
	AssetFailed,
}

// AllAssetStatuses returns the ordered list of known asset statuses.
func AllAssetStatuses() []AssetStatus {
	cp := make([]AssetStatus, len(allAssetStatuses))
	copy(cp, allAssetStatuses)
	return cp
}

// ParseAssetStatus converts a string into a known AssetStatus.
func ParseAssetStatus(value string) (AssetStatus, bool) {
	normalized := AssetStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allAssetStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// Stage identifies one unit of pipeline work tracked by its own job record.
type Stage string

const (
	StageMalwareScan         Stage = "malware_scan"
	StageContentModeration   Stage = "content_moderation"
	StageTranscription       Stage = "transcription"
	StageThumbnailGeneration Stage = "thumbnail_generation"
	StageEncoding            Stage = "encoding"
	StageSearchIndexing      Stage = "search_indexing"
	StageAIHighlights        Stage = "ai_highlights"
)

// PipelineStages lists every stage in pipeline order. Thumbnailing and
// highlight extraction both become eligible once transcription completes.
var PipelineStages = []Stage{
	StageMalwareScan,
	StageContentModeration,
	StageTranscription,
	StageThumbnailGeneration,
	StageAIHighlights,
	StageEncoding,
	StageSearchIndexing,
}

var stageTitle = cases.Title(language.English)

// Label returns the human-readable form of the stage for progress display.
func (s Stage) Label() string {
	return stageTitle.String(strings.ReplaceAll(string(s), "_", " "))
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, stage := range PipelineStages {
		if stage == normalized {
			return stage, true
		}
	}
	return "", false
}

// JobStatus represents the lifecycle of a per-stage processing job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobSkipped    JobStatus = "skipped"
)

// IsTerminal reports whether the job can no longer change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobSkipped:
		return true
	default:
		return false
	}
}

// VariantStatus represents the lifecycle of an encode variant.
type VariantStatus string

const (
	VariantPending   VariantStatus = "pending"
	VariantEncoding  VariantStatus = "encoding"
	VariantCompleted VariantStatus = "completed"
	VariantFailed    VariantStatus = "failed"
)

// IsTerminal reports whether the variant can no longer change.
func (s VariantStatus) IsTerminal() bool {
	return s == VariantCompleted || s == VariantFailed
}

// MalwareStatus records the malware scan verdict for an asset.
type MalwareStatus string

const (
	MalwarePending  MalwareStatus = "pending"
	MalwareClean    MalwareStatus = "clean"
	MalwareInfected MalwareStatus = "infected"
	MalwareError    MalwareStatus = "error"
)

// SafetyStatus records the content-safety verdict for an asset.
type SafetyStatus string

const (
	SafetyPending SafetyStatus = "pending"
	SafetySafe    SafetyStatus = "safe"
	SafetyFlagged SafetyStatus = "flagged"
	SafetyError   SafetyStatus = "error"
)

// ReviewDecision is an optional human override recorded on moderation results.
type ReviewDecision string

const (
	ReviewNone     ReviewDecision = ""
	ReviewApproved ReviewDecision = "approved"
	ReviewRejected ReviewDecision = "rejected"
)

// VideoAsset is the per-video authoritative pipeline record.
type VideoAsset struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	Tags         []string    `json:"tags,omitempty"`
	Status       AssetStatus `json:"status"`
	SourcePath   string      `json:"source_path"`
	ManifestPath string      `json:"manifest_path,omitempty"`
	DurationSecs float64     `json:"duration_secs,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// ProcessingJob tracks one pipeline stage for one asset.
type ProcessingJob struct {
	ID              string     `json:"id"`
	AssetID         string     `json:"asset_id"`
	Stage           Stage      `json:"stage"`
	Status          JobStatus  `json:"status"`
	Attempts        int        `json:"attempts"`
	ProgressPercent float64    `json:"progress_percent"`
	LastError       string     `json:"last_error,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// VideoVariant is one quality rendition produced by the encoding fan-out.
type VideoVariant struct {
	ID               string        `json:"id"`
	AssetID          string        `json:"asset_id"`
	Quality          string        `json:"quality"`
	Width            int           `json:"width"`
	Height           int           `json:"height"`
	VideoBitrateKbps int           `json:"video_bitrate_kbps"`
	AudioBitrateKbps int           `json:"audio_bitrate_kbps"`
	PlaylistPath     string        `json:"playlist_path,omitempty"`
	SegmentCount     int           `json:"segment_count"`
	SegmentSeconds   float64       `json:"segment_seconds"`
	ByteSize         int64         `json:"byte_size"`
	Status           VariantStatus `json:"status"`
	ProgressPercent  float64       `json:"progress_percent"`
	LastError        string        `json:"last_error,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// ModerationResult aggregates the scan and safety verdicts for one asset.
type ModerationResult struct {
	AssetID         string         `json:"asset_id"`
	Malware         MalwareStatus  `json:"malware"`
	Safety          SafetyStatus   `json:"safety"`
	Reasons         []string       `json:"reasons,omitempty"`
	HighestSeverity string         `json:"highest_severity,omitempty"`
	Reviewer        ReviewDecision `json:"reviewer,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Blocked reports whether the recorded verdicts require quarantine.
func (m *ModerationResult) Blocked() bool {
	if m == nil {
		return false
	}
	return m.Malware == MalwareInfected || m.Safety == SafetyFlagged
}

// QualityProfile describes one target rendition for the encoding fan-out.
type QualityProfile struct {
	Label            string
	Width            int
	Height           int
	VideoBitrateKbps int
	AudioBitrateKbps int
}

// DefaultQualityProfiles returns the fixed ladder used when the
// configuration does not override it.
func DefaultQualityProfiles() []QualityProfile {
	return []QualityProfile{
		{Label: "1080p", Width: 1920, Height: 1080, VideoBitrateKbps: 4500, AudioBitrateKbps: 128},
		{Label: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2500, AudioBitrateKbps: 128},
		{Label: "480p", Width: 854, Height: 480, VideoBitrateKbps: 1000, AudioBitrateKbps: 96},
		{Label: "360p", Width: 640, Height: 360, VideoBitrateKbps: 600, AudioBitrateKbps: 64},
	}
}
