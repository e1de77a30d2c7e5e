package queue

import (
	"strings"

	"github.com/google/uuid"
)

// Kind tags the type of work an envelope carries. The dispatcher resolves
// handlers by kind from a static registry built at startup.
type Kind string

const (
	KindProcessVideo      Kind = "process_video"
	KindScanVideo         Kind = "scan_video"
	KindModerateContent   Kind = "moderate_content"
	KindTranscribeVideo   Kind = "transcribe_video"
	KindGenerateThumbnail Kind = "generate_thumbnail"
	KindExtractHighlights Kind = "extract_highlights"
	KindEncodeVideo       Kind = "encode_video"
	KindEncodeVariant     Kind = "encode_variant"
	KindGenerateManifest  Kind = "generate_master_playlist"
	KindIndexVideo        Kind = "index_video"
)

var allKinds = []Kind{
	KindProcessVideo,
	KindScanVideo,
	KindModerateContent,
	KindTranscribeVideo,
	KindGenerateThumbnail,
	KindExtractHighlights,
	KindEncodeVideo,
	KindEncodeVariant,
	KindGenerateManifest,
	KindIndexVideo,
}

// AllKinds returns the ordered list of known job kinds.
func AllKinds() []Kind {
	cp := make([]Kind, len(allKinds))
	copy(cp, allKinds)
	return cp
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range allKinds {
		if kind == normalized {
			return kind, true
		}
	}
	return "", false
}

// Envelope is one unit of queued work. The ID is stable across re-enqueues
// of the same logical job for log correlation; AssetID is always set,
// StageJobID and VariantID where applicable.
type Envelope struct {
	ID         string
	Kind       Kind
	AssetID    string
	StageJobID string
	VariantID  string
	Attempt    int
}

// NewEnvelope builds an envelope with a fresh identifier.
func NewEnvelope(kind Kind, assetID string) Envelope {
	return Envelope{
		ID:      uuid.NewString(),
		Kind:    kind,
		AssetID: assetID,
	}
}

// WithStageJob returns a copy annotated with the stage job identifier.
func (e Envelope) WithStageJob(jobID string) Envelope {
	e.StageJobID = jobID
	return e
}

// WithVariant returns a copy annotated with the variant identifier.
func (e Envelope) WithVariant(variantID string) Envelope {
	e.VariantID = variantID
	return e
}
