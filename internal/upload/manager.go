// Package upload implements the chunked-upload session protocol: session
// creation, idempotent chunk commits, and the single completion that turns
// a finished session into a queued pipeline asset.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"loom/internal/blob"
	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/queue"
)

var (
	// ErrSessionNotFound is returned when no session exists for an identifier.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrSessionExpired is returned when a session passed its expiry before
	// the operation. Expiry is checked lazily on access.
	ErrSessionExpired = errors.New("upload session expired")
	// ErrSessionNotActive is returned when a chunk arrives for a session that
	// is completing, completed, or failed.
	ErrSessionNotActive = errors.New("upload session is not accepting chunks")
	// ErrChunkOutOfRange is returned for a chunk index outside the session's
	// declared chunk count.
	ErrChunkOutOfRange = errors.New("chunk index out of range")
	// ErrChunkSizeMismatch is returned when a chunk's length does not match
	// what the session geometry prescribes for its index.
	ErrChunkSizeMismatch = errors.New("chunk length does not match session geometry")
	// ErrChunkConflict is returned when a chunk index is re-committed with a
	// different length than previously recorded.
	ErrChunkConflict = errors.New("chunk re-committed with different length")
	// ErrIncompleteUpload is returned by completion when chunks are missing.
	ErrIncompleteUpload = errors.New("upload is missing chunks")
	// ErrAlreadyCompleted is returned when completion is requested for a
	// session that already completed or is completing.
	ErrAlreadyCompleted = errors.New("upload session already completed")
	// ErrFileTooLarge is returned at session creation for oversized files.
	ErrFileTooLarge = errors.New("file exceeds the configured size limit")
	// ErrUnsupportedType is returned at session creation for content types
	// outside the configured allow list.
	ErrUnsupportedType = errors.New("content type is not allowed")
)

// sourceContainer is the blob container that holds original uploads.
const sourceContainer = "source"

// Notifier receives upload lifecycle events.
type Notifier interface {
	UploadReceived(ctx context.Context, asset *catalog.VideoAsset)
}

type nopNotifier struct{}

func (nopNotifier) UploadReceived(context.Context, *catalog.VideoAsset) {}

// CreateSessionRequest carries the caller-supplied parameters for a new
// upload session.
type CreateSessionRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	FileSize    int64  `json:"file_size"`
	// ChunkSize is optional; zero selects the configured default.
	ChunkSize int64  `json:"chunk_size,omitempty"`
	Owner     string `json:"owner,omitempty"`
}

// Manager owns upload sessions. Chunk commits for one session are
// serialized behind a per-session lock; distinct sessions proceed in
// parallel.
type Manager struct {
	store    *catalog.Store
	blobs    blob.Adapter
	producer queue.Producer
	notifier Notifier
	logger   *slog.Logger

	maxFileSize  int64
	defaultChunk int64
	sessionTTL   time.Duration
	allowedTypes []string

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager builds an upload manager.
func NewManager(store *catalog.Store, blobs blob.Adapter, producer queue.Producer, cfg *config.Config, notifier Notifier, logger *slog.Logger) *Manager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		store:        store,
		blobs:        blobs,
		producer:     producer,
		notifier:     notifier,
		logger:       logger.With(logging.String(logging.FieldComponent, "upload")),
		maxFileSize:  cfg.MaxFileSizeBytes(),
		defaultChunk: cfg.DefaultChunkSizeBytes(),
		sessionTTL:   time.Duration(cfg.Upload.SessionTTLMinutes) * time.Minute,
		allowedTypes: cfg.Upload.AllowedContentTypes,
		locks:        make(map[string]*sessionLock),
	}
}

// CreateSession validates the declared file and opens a new upload session.
func (m *Manager) CreateSession(ctx context.Context, req CreateSessionRequest) (*catalog.UploadSession, error) {
	if strings.TrimSpace(req.FileName) == "" {
		return nil, errors.New("file name is required")
	}
	if req.FileSize <= 0 {
		return nil, errors.New("file size must be positive")
	}
	if m.maxFileSize > 0 && req.FileSize > m.maxFileSize {
		return nil, fmt.Errorf("%d bytes: %w", req.FileSize, ErrFileTooLarge)
	}
	if !m.contentTypeAllowed(req.ContentType) {
		return nil, fmt.Errorf("%s: %w", req.ContentType, ErrUnsupportedType)
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = m.defaultChunk
	}
	totalChunks := int((req.FileSize + chunkSize - 1) / chunkSize)

	now := time.Now().UTC()
	id := uuid.NewString()
	session := &catalog.UploadSession{
		ID:             id,
		FileName:       filepath.Base(req.FileName),
		ContentType:    req.ContentType,
		FileSize:       req.FileSize,
		ChunkSize:      chunkSize,
		TotalChunks:    totalChunks,
		CommittedSizes: make(map[int]int64),
		BlockIDs:       make(map[int]string),
		Status:         catalog.SessionCreated,
		Owner:          req.Owner,
		BlobPath:       id + filepath.Ext(req.FileName),
		ExpiresAt:      now.Add(m.sessionTTL),
	}
	if err := m.store.InsertSession(ctx, session); err != nil {
		return nil, err
	}
	m.logger.Info("session created",
		logging.String(logging.FieldSessionID, session.ID),
		logging.String("file_name", session.FileName),
		logging.Int64("file_size", session.FileSize),
		logging.Int("total_chunks", session.TotalChunks))
	return session, nil
}

// CommitChunk stages one chunk of the session's file. Re-committing an index
// with the same length is an acknowledged no-op; a different length is a
// conflict.
func (m *Manager) CommitChunk(ctx context.Context, sessionID string, index int, data []byte) (*catalog.UploadSession, error) {
	lock := m.acquire(sessionID)
	defer m.release(sessionID, lock)

	session, err := m.loadLive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == catalog.SessionCompleting {
		return nil, fmt.Errorf("session %s is completing: %w", sessionID, ErrSessionNotActive)
	}
	if index < 0 || index >= session.TotalChunks {
		return nil, fmt.Errorf("index %d of %d chunks: %w", index, session.TotalChunks, ErrChunkOutOfRange)
	}

	expected := m.chunkLength(session, index)
	if prev, ok := session.CommittedSizes[index]; ok {
		if prev == int64(len(data)) {
			// Idempotent re-commit.
			return session, nil
		}
		return nil, fmt.Errorf("index %d previously %d bytes, now %d: %w", index, prev, len(data), ErrChunkConflict)
	}
	if int64(len(data)) != expected {
		return nil, fmt.Errorf("index %d got %d bytes, want %d: %w", index, len(data), expected, ErrChunkSizeMismatch)
	}

	blockID := fmt.Sprintf("block-%06d", index)
	if err := m.blobs.StageBlock(ctx, sourceContainer, session.BlobPath, blockID, data); err != nil {
		return nil, fmt.Errorf("stage chunk %d: %w", index, err)
	}

	session.CommittedSizes[index] = int64(len(data))
	session.BlockIDs[index] = blockID
	session.CommittedChunks = len(session.CommittedSizes)
	session.Status = catalog.SessionUploading
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// CompleteSession finalizes the upload: it atomically claims the session so
// exactly one completion wins, assembles the blob from the staged blocks,
// creates the asset with its stage jobs, and enqueues pipeline intake.
func (m *Manager) CompleteSession(ctx context.Context, sessionID string) (*catalog.VideoAsset, error) {
	lock := m.acquire(sessionID)
	defer m.release(sessionID, lock)

	session, err := m.loadLive(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotActive) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyCompleted)
		}
		return nil, err
	}

	claimed, err := m.store.ClaimSessionCompletion(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyCompleted)
	}
	session.Status = catalog.SessionCompleting

	asset, err := m.finalizeSession(ctx, session)
	if err != nil {
		// Release the claim so the client can retry. A held claim would map
		// every later completion attempt to ErrAlreadyCompleted even though
		// no asset was created.
		session.Status = catalog.SessionUploading
		session.AssetID = ""
		if updateErr := m.store.UpdateSession(ctx, session); updateErr != nil {
			m.logger.Error("release completion claim",
				logging.String(logging.FieldSessionID, sessionID),
				logging.Error(updateErr))
		}
		return nil, err
	}

	m.logger.Info("session completed",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldAssetID, asset.ID))
	m.notifier.UploadReceived(ctx, asset)
	return asset, nil
}

// finalizeSession assembles the blob, creates the asset with its stage jobs
// and moderation record, marks the session completed, and enqueues pipeline
// intake. The caller owns the completion claim and releases it when this
// fails. A blob already committed by an earlier attempt is reused, since the
// commit consumed the staged blocks.
func (m *Manager) finalizeSession(ctx context.Context, session *catalog.UploadSession) (*catalog.VideoAsset, error) {
	if err := m.verifyComplete(session); err != nil {
		return nil, err
	}

	committed, err := m.blobs.Exists(ctx, sourceContainer, session.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("check blob: %w", err)
	}
	if !committed {
		blockIDs := make([]string, session.TotalChunks)
		for i := 0; i < session.TotalChunks; i++ {
			blockIDs[i] = session.BlockIDs[i]
		}
		if err := m.blobs.CommitBlocks(ctx, sourceContainer, session.BlobPath, blockIDs, session.ContentType); err != nil {
			return nil, fmt.Errorf("commit blocks: %w", err)
		}
	}

	asset := &catalog.VideoAsset{
		ID:         uuid.NewString(),
		Title:      strings.TrimSuffix(session.FileName, filepath.Ext(session.FileName)),
		Status:     catalog.AssetQueued,
		SourcePath: sourceContainer + "/" + session.BlobPath,
	}
	if err := m.store.InsertAsset(ctx, asset); err != nil {
		return nil, err
	}
	for _, stage := range catalog.PipelineStages {
		job := &catalog.ProcessingJob{
			ID:      uuid.NewString(),
			AssetID: asset.ID,
			Stage:   stage,
			Status:  catalog.JobPending,
		}
		if err := m.store.InsertJob(ctx, job); err != nil {
			return nil, err
		}
	}
	moderation := &catalog.ModerationResult{
		AssetID: asset.ID,
		Malware: catalog.MalwarePending,
		Safety:  catalog.SafetyPending,
	}
	if err := m.store.InsertModeration(ctx, moderation); err != nil {
		return nil, err
	}

	session.Status = catalog.SessionCompleted
	session.AssetID = asset.ID
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	if err := m.producer.Enqueue(ctx, queue.NewEnvelope(queue.KindProcessVideo, asset.ID)); err != nil {
		return nil, fmt.Errorf("enqueue intake: %w", err)
	}
	return asset, nil
}

// GetSession fetches a session, applying lazy expiry.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*catalog.UploadSession, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, err
	}
	if session.ExpiredAt(time.Now().UTC()) {
		session.Status = catalog.SessionExpired
		if err := m.store.UpdateSession(ctx, session); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// ListSessions returns all sessions.
func (m *Manager) ListSessions(ctx context.Context) ([]*catalog.UploadSession, error) {
	return m.store.ListSessions(ctx)
}

// SweepExpired marks every live session past its expiry as expired and
// returns how many were swept.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	return m.store.ExpireSessions(ctx, time.Now().UTC())
}

// loadLive fetches a session and rejects missing, expired, and terminal ones.
func (m *Manager) loadLive(ctx context.Context, sessionID string) (*catalog.UploadSession, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, err
	}
	if session.ExpiredAt(time.Now().UTC()) {
		session.Status = catalog.SessionExpired
		if err := m.store.UpdateSession(ctx, session); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionExpired)
	}
	if session.Status.IsTerminal() {
		if session.Status == catalog.SessionExpired {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionExpired)
		}
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, session.Status, ErrSessionNotActive)
	}
	return session, nil
}

// verifyComplete checks that every chunk was committed and the recorded
// bytes sum to the declared file size.
func (m *Manager) verifyComplete(session *catalog.UploadSession) error {
	if session.CommittedChunks != session.TotalChunks {
		return fmt.Errorf("%d of %d chunks committed: %w", session.CommittedChunks, session.TotalChunks, ErrIncompleteUpload)
	}
	var total int64
	for i := 0; i < session.TotalChunks; i++ {
		size, ok := session.CommittedSizes[i]
		if !ok {
			return fmt.Errorf("chunk %d missing: %w", i, ErrIncompleteUpload)
		}
		total += size
	}
	if total != session.FileSize {
		return fmt.Errorf("committed %d bytes, declared %d: %w", total, session.FileSize, ErrIncompleteUpload)
	}
	return nil
}

// chunkLength returns the byte length the session geometry prescribes for a
// chunk index; only the final chunk may be short.
func (m *Manager) chunkLength(session *catalog.UploadSession, index int) int64 {
	if index == session.TotalChunks-1 {
		return session.FileSize - int64(session.TotalChunks-1)*session.ChunkSize
	}
	return session.ChunkSize
}

func (m *Manager) contentTypeAllowed(contentType string) bool {
	if len(m.allowedTypes) == 0 {
		return true
	}
	for _, allowed := range m.allowedTypes {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

func (m *Manager) acquire(sessionID string) *sessionLock {
	m.mu.Lock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		m.locks[sessionID] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (m *Manager) release(sessionID string, lock *sessionLock) {
	lock.mu.Unlock()

	m.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(m.locks, sessionID)
	}
	m.mu.Unlock()
}
