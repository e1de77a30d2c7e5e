// Package encoder is the client for the external variant encoding service.
package encoder

import (
	"context"
	"math"
	"time"

	"loom/internal/services/asyncjob"
)

// Request describes one variant encode.
type Request struct {
	SourcePath       string  `json:"source_path"`
	OutputPrefix     string  `json:"output_prefix"`
	Quality          string  `json:"quality"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	VideoBitrateKbps int     `json:"video_bitrate_kbps"`
	AudioBitrateKbps int     `json:"audio_bitrate_kbps"`
	SegmentSeconds   float64 `json:"segment_seconds"`
	DurationSecs     float64 `json:"duration_secs,omitempty"`
}

// Result reports a finished variant encode.
type Result struct {
	SegmentCount int     `json:"segment_count"`
	ByteSize     int64   `json:"byte_size"`
	DurationSecs float64 `json:"duration_secs"`
}

// Client calls the encoding service. An empty base URL selects a built-in
// stand-in that derives segment geometry from the requested parameters.
type Client struct {
	api *asyncjob.Client
}

// New builds an encoder client.
func New(baseURL string, requestTimeout, pollInterval time.Duration) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{api: asyncjob.New(baseURL, requestTimeout, pollInterval)}
}

// Encode submits one variant encode and waits for it to finish.
func (c *Client) Encode(ctx context.Context, req Request) (*Result, error) {
	if c.api == nil {
		return fakeEncode(req), nil
	}
	var result Result
	if err := c.api.Run(ctx, "encode", "/v1/encodes", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ThumbnailRequest describes one still-frame capture.
type ThumbnailRequest struct {
	SourcePath    string  `json:"source_path"`
	OutputPath    string  `json:"output_path"`
	TimestampSecs float64 `json:"timestamp_secs"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
}

// ThumbnailResult reports a finished capture.
type ThumbnailResult struct {
	Path     string `json:"path"`
	ByteSize int64  `json:"byte_size"`
}

// Thumbnail captures one still frame from the source video.
func (c *Client) Thumbnail(ctx context.Context, req ThumbnailRequest) (*ThumbnailResult, error) {
	if c.api == nil {
		return &ThumbnailResult{Path: req.OutputPath, ByteSize: 48 * 1024}, nil
	}
	var result ThumbnailResult
	if err := c.api.Run(ctx, "thumbnail", "/v1/thumbnails", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func fakeEncode(req Request) *Result {
	duration := req.DurationSecs
	if duration <= 0 {
		duration = 60
	}
	segmentSeconds := req.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = 4
	}
	totalKbps := req.VideoBitrateKbps + req.AudioBitrateKbps
	return &Result{
		SegmentCount: int(math.Ceil(duration / segmentSeconds)),
		ByteSize:     int64(duration * float64(totalKbps) * 1000 / 8),
		DurationSecs: duration,
	}
}
