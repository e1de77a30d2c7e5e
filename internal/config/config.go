package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// EnvConfigPath overrides the configuration file location when set.
const EnvConfigPath = "LOOM_CONFIG"

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	BlobDir    string `toml:"blob_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Upload contains limits for the chunked-upload session protocol.
type Upload struct {
	MaxFileSizeMiB      int64    `toml:"max_file_size_mib"`
	DefaultChunkSizeMiB int64    `toml:"default_chunk_size_mib"`
	SessionTTLMinutes   int      `toml:"session_ttl_minutes"`
	AllowedContentTypes []string `toml:"allowed_content_types"`
}

// Queue contains sizing for the in-process job queue and its worker pool.
type Queue struct {
	Capacity int `toml:"capacity"`
	Workers  int `toml:"workers"`
}

// Pipeline contains retry policy for stage handlers.
type Pipeline struct {
	MaxAttempts        int `toml:"max_attempts"`
	RetryDelaySeconds  int `toml:"retry_delay_seconds"`
	EnqueueTimeoutSecs int `toml:"enqueue_timeout_seconds"`
}

// Profile describes one encoding rendition in the quality ladder.
type Profile struct {
	Label            string `toml:"label"`
	Width            int    `toml:"width"`
	Height           int    `toml:"height"`
	VideoBitrateKbps int    `toml:"video_bitrate_kbps"`
	AudioBitrateKbps int    `toml:"audio_bitrate_kbps"`
}

// Encoding contains the variant ladder and segmenting parameters.
type Encoding struct {
	SegmentSeconds float64   `toml:"segment_seconds"`
	Profiles       []Profile `toml:"profiles"`
}

// Services contains endpoints for the external collaborators.
type Services struct {
	ScannerURL            string   `toml:"scanner_url"`
	ModeratorURL          string   `toml:"moderator_url"`
	TranscriberURL        string   `toml:"transcriber_url"`
	EncoderURL            string   `toml:"encoder_url"`
	TranslatorURL         string   `toml:"translator_url"`
	HighlighterURL        string   `toml:"highlighter_url"`
	IndexerURL            string   `toml:"indexer_url"`
	RequestTimeoutSeconds int      `toml:"request_timeout_seconds"`
	PollIntervalMillis    int      `toml:"poll_interval_millis"`
	TranslationLanguages  []string `toml:"translation_languages"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Uploads        bool   `toml:"uploads"`
	Published      bool   `toml:"published"`
	Quarantined    bool   `toml:"quarantined"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for loom.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Upload: chunked-upload limits and session expiry
//   - Queue: job queue capacity and worker pool size
//   - Pipeline: stage retry policy
//   - Encoding: quality ladder and segment duration
//   - Services: external collaborator endpoints
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Upload        Upload        `toml:"upload"`
	Queue         Queue         `toml:"queue"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Encoding      Encoding      `toml:"encoding"`
	Services      Services      `toml:"services"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/loom/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return is
// the resolved path, the third whether a file existed there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the given path,
// refusing to overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.BlobDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// CatalogDBPath returns the location of the SQLite catalog database.
func (c *Config) CatalogDBPath() string {
	return filepath.Join(c.Paths.DataDir, "catalog.db")
}

// LockFilePath returns the daemon single-instance lock location.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.DataDir, "loomd.lock")
}

// MaxFileSizeBytes returns the upload size ceiling in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.Upload.MaxFileSizeMiB * 1024 * 1024
}

// DefaultChunkSizeBytes returns the default chunk size in bytes.
func (c *Config) DefaultChunkSizeBytes() int64 {
	return c.Upload.DefaultChunkSizeMiB * 1024 * 1024
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.BlobDir, err = expandPath(c.Paths.BlobDir); err != nil {
		return err
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	for i, ct := range c.Upload.AllowedContentTypes {
		c.Upload.AllowedContentTypes[i] = strings.ToLower(strings.TrimSpace(ct))
	}
	return nil
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
