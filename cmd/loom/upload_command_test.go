package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"loom/internal/catalog"
	"loom/internal/config"
)

// fakeUploadAPI mimics the daemon upload endpoints and assembles chunk
// bodies in order.
type fakeUploadAPI struct {
	session  catalog.UploadSession
	chunks   map[int][]byte
	complete bool
}

func (f *fakeUploadAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/uploads", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FileName    string `json:"file_name"`
			ContentType string `json:"content_type"`
			FileSize    int64  `json:"file_size"`
			ChunkSize   int64  `json:"chunk_size"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode create request: %v", err)
		}
		chunkSize := req.ChunkSize
		if chunkSize <= 0 {
			chunkSize = 8
		}
		f.session = catalog.UploadSession{
			ID:          "sess-1",
			FileName:    req.FileName,
			ContentType: req.ContentType,
			FileSize:    req.FileSize,
			ChunkSize:   chunkSize,
			TotalChunks: int((req.FileSize + chunkSize - 1) / chunkSize),
			Status:      catalog.SessionCreated,
		}
		f.chunks = make(map[int][]byte)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(f.session)
	})
	mux.HandleFunc("PUT /api/uploads/sess-1/chunks/{index}", func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(r.PathValue("index"))
		if err != nil {
			t.Errorf("bad chunk index: %v", err)
		}
		data, _ := io.ReadAll(r.Body)
		f.chunks[index] = data
		json.NewEncoder(w).Encode(f.session)
	})
	mux.HandleFunc("POST /api/uploads/sess-1/complete", func(w http.ResponseWriter, r *http.Request) {
		f.complete = true
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(catalog.VideoAsset{ID: "asset-1", Status: catalog.AssetQueued})
	})
	return mux
}

func (f *fakeUploadAPI) assembled() []byte {
	var buf bytes.Buffer
	for i := 0; i < len(f.chunks); i++ {
		buf.Write(f.chunks[i])
	}
	return buf.Bytes()
}

func TestUploadCommandStreamsChunks(t *testing.T) {
	t.Setenv(config.EnvConfigPath, filepath.Join(t.TempDir(), "missing.toml"))

	fake := &fakeUploadAPI{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	content := []byte("twenty-one byte file!")
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"upload", path, "--address", server.URL})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("upload command: %v\n%s", err, out.String())
	}

	if !fake.complete {
		t.Fatal("completion endpoint was never called")
	}
	if len(fake.chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(fake.chunks))
	}
	if !bytes.Equal(fake.assembled(), content) {
		t.Fatalf("assembled bytes differ: %q", fake.assembled())
	}
	if !strings.Contains(out.String(), "asset-1") {
		t.Fatalf("output does not mention the asset: %s", out.String())
	}
}

func TestUploadCommandRejectsUnknownContentType(t *testing.T) {
	t.Setenv(config.EnvConfigPath, filepath.Join(t.TempDir(), "missing.toml"))

	path := filepath.Join(t.TempDir(), "mystery.blob0")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"upload", path, "--address", "127.0.0.1:1"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "content type") {
		t.Fatalf("expected a content type error, got %v", err)
	}
}
