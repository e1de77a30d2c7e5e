package catalog

import (
	"strings"
	"time"
)

// SessionStatus represents the lifecycle of a chunked upload session.
type SessionStatus string

const (
	SessionCreated    SessionStatus = "created"
	SessionUploading  SessionStatus = "uploading"
	SessionCompleting SessionStatus = "completing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionExpired    SessionStatus = "expired"
)

// IsTerminal reports whether the session can no longer accept chunks.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionExpired:
		return true
	default:
		return false
	}
}

// ParseSessionStatus converts a string into a known SessionStatus.
func ParseSessionStatus(value string) (SessionStatus, bool) {
	normalized := SessionStatus(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case SessionCreated, SessionUploading, SessionCompleting, SessionCompleted, SessionFailed, SessionExpired:
		return normalized, true
	default:
		return "", false
	}
}

// UploadSession tracks a chunked upload and its committed byte ranges.
type UploadSession struct {
	ID              string `json:"id"`
	FileName        string `json:"file_name"`
	ContentType     string `json:"content_type"`
	FileSize        int64  `json:"file_size"`
	ChunkSize       int64  `json:"chunk_size"`
	TotalChunks     int    `json:"total_chunks"`
	CommittedChunks int    `json:"committed_chunks"`
	// CommittedSizes maps committed chunk index to the byte length recorded
	// for it, so re-commits can be checked for idempotency.
	CommittedSizes map[int]int64 `json:"-"`
	// BlockIDs holds the staged block identifier per chunk index; blocks are
	// committed to the blob adapter in index order at completion.
	BlockIDs  map[int]string `json:"-"`
	Status    SessionStatus  `json:"status"`
	Owner     string         `json:"owner,omitempty"`
	BlobPath  string         `json:"blob_path"`
	AssetID   string         `json:"asset_id,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ExpiredAt reports whether the session has passed its expiry at the given
// instant. Expiry is evaluated lazily on access; terminal sessions never
// expire retroactively.
func (s *UploadSession) ExpiredAt(now time.Time) bool {
	if s == nil || s.Status.IsTerminal() {
		return false
	}
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
