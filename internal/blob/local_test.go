package blob

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := []byte("frame data")
	if err := store.Put(ctx, "uploads", "asset-1/source.mp4", payload, "video/mp4"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := store.Get(ctx, "uploads", "asset-1/source.mp4")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("Get = %q", data)
	}

	meta, err := store.GetMetadata(ctx, "uploads", "asset-1/source.mp4")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.Size != int64(len(payload)) {
		t.Errorf("size = %d", meta.Size)
	}
	if meta.ContentType != "video/mp4" {
		t.Errorf("content type = %q", meta.ContentType)
	}
	if meta.LastModified.IsZero() || meta.LastModified.After(time.Now().UTC().Add(time.Minute)) {
		t.Errorf("last modified = %v", meta.LastModified)
	}
}

func TestGetMissingBlobReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "uploads", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v", err)
	}
	if _, err := store.GetMetadata(ctx, "uploads", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMetadata error = %v", err)
	}
	if _, err := store.GenerateReadURL(ctx, "uploads", "missing", time.Minute); !errors.Is(err, ErrNotFound) {
		t.Errorf("GenerateReadURL error = %v", err)
	}
}

func TestCommitBlocksAssemblesInOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Stage out of order; commit order controls assembly.
	if err := store.StageBlock(ctx, "uploads", "sess/video.mp4", "block-2", []byte("world")); err != nil {
		t.Fatalf("StageBlock: %v", err)
	}
	if err := store.StageBlock(ctx, "uploads", "sess/video.mp4", "block-1", []byte("hello ")); err != nil {
		t.Fatalf("StageBlock: %v", err)
	}

	if err := store.CommitBlocks(ctx, "uploads", "sess/video.mp4", []string{"block-1", "block-2"}, "video/mp4"); err != nil {
		t.Fatalf("CommitBlocks: %v", err)
	}

	data, err := store.Get(ctx, "uploads", "sess/video.mp4")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("blob = %q", data)
	}

	meta, err := store.GetMetadata(ctx, "uploads", "sess/video.mp4")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.ContentType != "video/mp4" {
		t.Errorf("content type = %q", meta.ContentType)
	}

	// Committed blocks are gone; a second commit cannot find them.
	if err := store.CommitBlocks(ctx, "uploads", "sess/video.mp4", []string{"block-1"}, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("recommit error = %v", err)
	}
}

func TestCommitBlocksMissingBlockFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.StageBlock(ctx, "uploads", "video.mp4", "block-1", []byte("a")); err != nil {
		t.Fatalf("StageBlock: %v", err)
	}
	err := store.CommitBlocks(ctx, "uploads", "video.mp4", []string{"block-1", "block-9"}, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CommitBlocks error = %v", err)
	}
	// The failed commit must not leave a partial blob behind.
	if ok, err := store.Exists(ctx, "uploads", "video.mp4"); err != nil || ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
}

func TestStageBlockOverwriteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.StageBlock(ctx, "uploads", "v.mp4", "b1", []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := store.StageBlock(ctx, "uploads", "v.mp4", "b1", []byte("again")); err != nil {
		t.Fatal(err)
	}
	if err := store.CommitBlocks(ctx, "uploads", "v.mp4", []string{"b1"}, ""); err != nil {
		t.Fatal(err)
	}
	data, err := store.Get(ctx, "uploads", "v.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "again" {
		t.Errorf("blob = %q", data)
	}
}

func TestMoveCarriesContentType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "assets", "pending/a.mp4", []byte("x"), "video/webm"); err != nil {
		t.Fatal(err)
	}
	if err := store.Move(ctx, "assets", "pending/a.mp4", "published/a.mp4"); err != nil {
		t.Fatalf("Move: %v", err)
	}

	if ok, _ := store.Exists(ctx, "assets", "pending/a.mp4"); ok {
		t.Error("old name should be gone")
	}
	meta, err := store.GetMetadata(ctx, "assets", "published/a.mp4")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.ContentType != "video/webm" {
		t.Errorf("content type = %q", meta.ContentType)
	}

	if err := store.Move(ctx, "assets", "pending/a.mp4", "elsewhere/a.mp4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Move missing error = %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "assets", "a.mp4", []byte("x"), ""); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "assets", "a.mp4"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "assets", "a.mp4"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if ok, err := store.Exists(ctx, "assets", "a.mp4"); err != nil || ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
}

func TestURLsUseFileScheme(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	upload, err := store.GenerateUploadURL(ctx, "assets", "a.mp4", time.Minute)
	if err != nil {
		t.Fatalf("GenerateUploadURL: %v", err)
	}
	if !strings.HasPrefix(upload, "file://") {
		t.Errorf("upload url = %q", upload)
	}

	if err := store.Put(ctx, "assets", "a.mp4", []byte("x"), ""); err != nil {
		t.Fatal(err)
	}
	read, err := store.GenerateReadURL(ctx, "assets", "a.mp4", time.Minute)
	if err != nil {
		t.Fatalf("GenerateReadURL: %v", err)
	}
	if !strings.HasPrefix(read, "file://") {
		t.Errorf("read url = %q", read)
	}
}

func TestOperationsHonorContextCancellation(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, "a", "b", nil, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("Put error = %v", err)
	}
	if _, err := store.Get(ctx, "a", "b"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get error = %v", err)
	}
	if err := store.StageBlock(ctx, "a", "b", "c", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("StageBlock error = %v", err)
	}
}
