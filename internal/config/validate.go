package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.BlobDir == "" {
		return errors.New("paths.blob_dir must be set")
	}
	if c.Paths.APIBind == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxFileSizeMiB <= 0 {
		return errors.New("upload.max_file_size_mib must be positive")
	}
	if c.Upload.DefaultChunkSizeMiB <= 0 {
		return errors.New("upload.default_chunk_size_mib must be positive")
	}
	if c.Upload.SessionTTLMinutes <= 0 {
		return errors.New("upload.session_ttl_minutes must be positive")
	}
	if len(c.Upload.AllowedContentTypes) == 0 {
		return errors.New("upload.allowed_content_types must not be empty")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.Capacity <= 0 {
		return errors.New("queue.capacity must be positive")
	}
	if c.Queue.Workers <= 0 {
		return errors.New("queue.workers must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxAttempts <= 0 {
		return errors.New("pipeline.max_attempts must be positive")
	}
	return nil
}

func (c *Config) validateEncoding() error {
	if c.Encoding.SegmentSeconds <= 0 {
		return errors.New("encoding.segment_seconds must be positive")
	}
	if len(c.Encoding.Profiles) == 0 {
		return errors.New("encoding.profiles must declare at least one rendition")
	}
	seen := make(map[string]struct{}, len(c.Encoding.Profiles))
	for _, profile := range c.Encoding.Profiles {
		label := strings.TrimSpace(profile.Label)
		if label == "" {
			return errors.New("encoding.profiles entries must set label")
		}
		if _, dup := seen[label]; dup {
			return fmt.Errorf("encoding.profiles label %q declared twice", label)
		}
		seen[label] = struct{}{}
		if profile.Width <= 0 || profile.Height <= 0 {
			return fmt.Errorf("encoding profile %q must set a positive resolution", label)
		}
		if profile.VideoBitrateKbps <= 0 {
			return fmt.Errorf("encoding profile %q must set a positive video bitrate", label)
		}
	}
	return nil
}
