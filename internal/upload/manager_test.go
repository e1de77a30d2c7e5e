package upload

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loom/internal/blob"
	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/testsupport"
)

type captureProducer struct {
	mu        sync.Mutex
	envelopes []queue.Envelope
}

func (p *captureProducer) Enqueue(_ context.Context, env queue.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, env)
	return nil
}

func (p *captureProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envelopes)
}

func newTestManager(t *testing.T) (*Manager, *catalog.Store, blob.Adapter, *captureProducer, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs, err := blob.NewLocalStore(cfg.Paths.BlobDir, cfg.Paths.StagingDir)
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	producer := &captureProducer{}
	mgr := NewManager(store, blobs, producer, cfg, nil, logging.NewNop())
	return mgr, store, blobs, producer, cfg
}

func createSession(t *testing.T, mgr *Manager, fileSize, chunkSize int64) *catalog.UploadSession {
	t.Helper()
	session, err := mgr.CreateSession(context.Background(), CreateSessionRequest{
		FileName:    "lecture.mp4",
		ContentType: "video/mp4",
		FileSize:    fileSize,
		ChunkSize:   chunkSize,
		Owner:       "uploader-1",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func chunkPayload(session *catalog.UploadSession, index int) []byte {
	size := session.ChunkSize
	if index == session.TotalChunks-1 {
		size = session.FileSize - int64(session.TotalChunks-1)*session.ChunkSize
	}
	return bytes.Repeat([]byte{byte('a' + index)}, int(size))
}

func TestCreateSessionComputesChunkCount(t *testing.T) {
	mgr, _, _, _, _ := newTestManager(t)
	session := createSession(t, mgr, 10, 4)
	if session.TotalChunks != 3 {
		t.Errorf("total chunks = %d, want 3", session.TotalChunks)
	}
	if session.Status != catalog.SessionCreated {
		t.Errorf("status = %s, want created", session.Status)
	}
}

func TestCreateSessionRejectsOversizedFile(t *testing.T) {
	mgr, _, _, _, cfg := newTestManager(t)
	_, err := mgr.CreateSession(context.Background(), CreateSessionRequest{
		FileName:    "huge.mp4",
		ContentType: "video/mp4",
		FileSize:    cfg.MaxFileSizeBytes() + 1,
	})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("err = %v, want ErrFileTooLarge", err)
	}
}

func TestCommitChunkIsIdempotent(t *testing.T) {
	mgr, _, _, _, _ := newTestManager(t)
	session := createSession(t, mgr, 10, 4)
	ctx := context.Background()

	payload := chunkPayload(session, 0)
	if _, err := mgr.CommitChunk(ctx, session.ID, 0, payload); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	updated, err := mgr.CommitChunk(ctx, session.ID, 0, payload)
	if err != nil {
		t.Fatalf("re-commit same length: %v", err)
	}
	if updated.CommittedChunks != 1 {
		t.Errorf("committed chunks = %d, want 1", updated.CommittedChunks)
	}

	// Same index with a different length is a conflict.
	if _, err := mgr.CommitChunk(ctx, session.ID, 0, payload[:1]); !errors.Is(err, ErrChunkConflict) {
		t.Fatalf("conflicting re-commit: err = %v, want ErrChunkConflict", err)
	}
}

func TestCommitChunkValidatesGeometry(t *testing.T) {
	mgr, _, _, _, _ := newTestManager(t)
	session := createSession(t, mgr, 10, 4)
	ctx := context.Background()

	if _, err := mgr.CommitChunk(ctx, session.ID, 5, []byte("abcd")); !errors.Is(err, ErrChunkOutOfRange) {
		t.Errorf("out of range: err = %v", err)
	}
	if _, err := mgr.CommitChunk(ctx, session.ID, 0, []byte("abc")); !errors.Is(err, ErrChunkSizeMismatch) {
		t.Errorf("short interior chunk: err = %v", err)
	}
	// Final chunk is 2 bytes for a 10-byte file in 4-byte chunks.
	if _, err := mgr.CommitChunk(ctx, session.ID, 2, []byte("xy")); err != nil {
		t.Errorf("final short chunk: %v", err)
	}
}

func TestCompleteSessionRequiresAllChunks(t *testing.T) {
	mgr, _, _, _, _ := newTestManager(t)
	session := createSession(t, mgr, 10, 4)
	ctx := context.Background()

	if _, err := mgr.CommitChunk(ctx, session.ID, 0, chunkPayload(session, 0)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := mgr.CompleteSession(ctx, session.ID); !errors.Is(err, ErrIncompleteUpload) {
		t.Fatalf("incomplete completion: err = %v, want ErrIncompleteUpload", err)
	}

	// The failed completion releases its claim; uploading can finish.
	for i := 1; i < session.TotalChunks; i++ {
		if _, err := mgr.CommitChunk(ctx, session.ID, i, chunkPayload(session, i)); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	if _, err := mgr.CompleteSession(ctx, session.ID); err != nil {
		t.Fatalf("completion after backfill: %v", err)
	}
}

func TestCompleteSessionCreatesAssetAndJobs(t *testing.T) {
	mgr, store, blobs, producer, _ := newTestManager(t)
	session := createSession(t, mgr, 10, 4)
	ctx := context.Background()

	var want []byte
	for i := 0; i < session.TotalChunks; i++ {
		payload := chunkPayload(session, i)
		want = append(want, payload...)
		if _, err := mgr.CommitChunk(ctx, session.ID, i, payload); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	asset, err := mgr.CompleteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if asset.Status != catalog.AssetQueued {
		t.Errorf("asset status = %s, want queued", asset.Status)
	}
	if asset.Title != "lecture" {
		t.Errorf("asset title = %q, want %q", asset.Title, "lecture")
	}

	jobs, err := store.JobsForAsset(ctx, asset.ID)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != len(catalog.PipelineStages) {
		t.Errorf("jobs = %d, want %d", len(jobs), len(catalog.PipelineStages))
	}
	for _, job := range jobs {
		if job.Status != catalog.JobPending {
			t.Errorf("%s status = %s, want pending", job.Stage, job.Status)
		}
	}

	moderation, err := store.GetModeration(ctx, asset.ID)
	if err != nil {
		t.Fatalf("moderation: %v", err)
	}
	if moderation.Malware != catalog.MalwarePending || moderation.Safety != catalog.SafetyPending {
		t.Errorf("moderation verdicts = %s/%s, want pending/pending", moderation.Malware, moderation.Safety)
	}

	stored, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if stored.Status != catalog.SessionCompleted {
		t.Errorf("session status = %s, want completed", stored.Status)
	}
	if stored.AssetID != asset.ID {
		t.Errorf("session asset = %q, want %q", stored.AssetID, asset.ID)
	}

	got, err := blobs.Get(ctx, "source", session.BlobPath)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("assembled blob differs: got %d bytes, want %d", len(got), len(want))
	}

	if producer.count() != 1 {
		t.Errorf("enqueued envelopes = %d, want 1", producer.count())
	}
}

func TestCompleteSessionExactlyOnceUnderRace(t *testing.T) {
	mgr, store, _, producer, _ := newTestManager(t)
	session := createSession(t, mgr, 10, 4)
	ctx := context.Background()

	for i := 0; i < session.TotalChunks; i++ {
		if _, err := mgr.CommitChunk(ctx, session.ID, i, chunkPayload(session, i)); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		duplicate int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.CompleteSession(ctx, session.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrAlreadyCompleted):
				duplicate++
			default:
				t.Errorf("unexpected completion error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("successful completions = %d, want exactly 1", succeeded)
	}
	if duplicate != racers-1 {
		t.Errorf("duplicate rejections = %d, want %d", duplicate, racers-1)
	}
	if producer.count() != 1 {
		t.Errorf("intake envelopes = %d, want 1", producer.count())
	}

	assets, err := store.ListAssets(ctx)
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	if len(assets) != 1 {
		t.Errorf("assets created = %d, want 1", len(assets))
	}
}

// flakyCommitAdapter fails CommitBlocks a set number of times before
// delegating to the real adapter.
type flakyCommitAdapter struct {
	blob.Adapter
	mu       sync.Mutex
	failures int
}

func (a *flakyCommitAdapter) CommitBlocks(ctx context.Context, container, name string, blockIDs []string, contentType string) error {
	a.mu.Lock()
	fail := a.failures > 0
	if fail {
		a.failures--
	}
	a.mu.Unlock()
	if fail {
		return errors.New("blob backend unavailable")
	}
	return a.Adapter.CommitBlocks(ctx, container, name, blockIDs, contentType)
}

func TestCompleteSessionReleasesClaimOnFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	local, err := blob.NewLocalStore(cfg.Paths.BlobDir, cfg.Paths.StagingDir)
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	blobs := &flakyCommitAdapter{Adapter: local, failures: 1}
	producer := &captureProducer{}
	mgr := NewManager(store, blobs, producer, cfg, nil, logging.NewNop())

	session := createSession(t, mgr, 10, 4)
	ctx := context.Background()
	for i := 0; i < session.TotalChunks; i++ {
		if _, err := mgr.CommitChunk(ctx, session.ID, i, chunkPayload(session, i)); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	if _, err := mgr.CompleteSession(ctx, session.ID); err == nil {
		t.Fatal("completion should surface the blob failure")
	}

	// The failed completion releases its claim instead of stranding the
	// session in completing.
	stored, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != catalog.SessionUploading {
		t.Fatalf("session status after failure = %s, want uploading", stored.Status)
	}

	asset, err := mgr.CompleteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("retry after transient blob failure: %v", err)
	}
	stored, err = store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != catalog.SessionCompleted || stored.AssetID != asset.ID {
		t.Errorf("session = %s/%q, want completed/%q", stored.Status, stored.AssetID, asset.ID)
	}
	if producer.count() != 1 {
		t.Errorf("intake envelopes = %d, want 1", producer.count())
	}
}

func TestSessionExpiresLazily(t *testing.T) {
	mgr, store, _, _, _ := newTestManager(t)
	session := createSession(t, mgr, 10, 4)
	ctx := context.Background()

	// Force the expiry into the past.
	session.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("update session: %v", err)
	}

	if _, err := mgr.CommitChunk(ctx, session.ID, 0, chunkPayload(session, 0)); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("commit on expired session: err = %v, want ErrSessionExpired", err)
	}
	stored, err := mgr.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != catalog.SessionExpired {
		t.Errorf("status = %s, want expired", stored.Status)
	}
}
