package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/upload"
)

// assetView is the detail document returned for one asset: enough for an
// operator to reconstruct what happened from the record alone.
type assetView struct {
	Asset      *catalog.VideoAsset       `json:"asset"`
	Jobs       []*catalog.ProcessingJob  `json:"jobs"`
	Variants   []*catalog.VideoVariant   `json:"variants,omitempty"`
	Moderation *catalog.ModerationResult `json:"moderation,omitempty"`
}

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	srv := &apiServer{
		bind:   bind,
		token:  strings.TrimSpace(cfg.Paths.APIToken),
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", srv.auth(srv.handleHealth))
	mux.HandleFunc("GET /api/status", srv.auth(srv.handleStatus))
	mux.HandleFunc("GET /api/assets", srv.auth(srv.handleAssets))
	mux.HandleFunc("GET /api/assets/{id}", srv.auth(srv.handleAsset))
	mux.HandleFunc("GET /api/sessions", srv.auth(srv.handleSessions))
	mux.HandleFunc("POST /api/uploads", srv.auth(srv.handleCreateUpload))
	mux.HandleFunc("PUT /api/uploads/{id}/chunks/{index}", srv.auth(srv.handleCommitChunk))
	mux.HandleFunc("POST /api/uploads/{id}/complete", srv.auth(srv.handleCompleteUpload))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// auth validates bearer tokens. An empty configured token disables
// authentication.
func (s *apiServer) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.token {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleAssets(w http.ResponseWriter, r *http.Request) {
	var statuses []catalog.AssetStatus
	for _, raw := range r.URL.Query()["status"] {
		status, ok := catalog.ParseAssetStatus(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
		statuses = append(statuses, status)
	}
	assets, err := s.daemon.Store().ListAssets(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, assets)
}

func (s *apiServer) handleAsset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	store := s.daemon.Store()

	asset, err := store.GetAsset(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	jobs, err := store.JobsForAsset(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	variants, err := store.VariantsForAsset(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	moderation, err := store.GetModeration(r.Context(), id)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, assetView{
		Asset:      asset,
		Jobs:       jobs,
		Variants:   variants,
		Moderation: moderation,
	})
}

func (s *apiServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.daemon.Uploads().ListSessions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *apiServer) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	var req upload.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.daemon.Uploads().CreateSession(r.Context(), req)
	if err != nil {
		s.writeError(w, uploadErrorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, session)
}

func (s *apiServer) handleCommitChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid chunk index")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read chunk body")
		return
	}
	session, err := s.daemon.Uploads().CommitChunk(r.Context(), r.PathValue("id"), index, data)
	if err != nil {
		s.writeError(w, uploadErrorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *apiServer) handleCompleteUpload(w http.ResponseWriter, r *http.Request) {
	asset, err := s.daemon.Uploads().CompleteSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, uploadErrorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, asset)
}

// uploadErrorStatus maps upload manager sentinels to HTTP statuses.
func uploadErrorStatus(err error) int {
	switch {
	case errors.Is(err, upload.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, upload.ErrAlreadyCompleted),
		errors.Is(err, upload.ErrChunkConflict),
		errors.Is(err, upload.ErrSessionNotActive):
		return http.StatusConflict
	case errors.Is(err, upload.ErrIncompleteUpload),
		errors.Is(err, upload.ErrChunkOutOfRange),
		errors.Is(err, upload.ErrChunkSizeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
