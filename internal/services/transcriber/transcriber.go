// Package transcriber is the client for the external speech-to-text service.
package transcriber

import (
	"context"
	"time"

	"loom/internal/services/asyncjob"
)

// Segment is one timed span of transcript text.
type Segment struct {
	StartSecs float64 `json:"start_secs"`
	EndSecs   float64 `json:"end_secs"`
	Text      string  `json:"text"`
}

// Transcript is the speech-to-text result for one asset.
type Transcript struct {
	Language     string    `json:"language"`
	DurationSecs float64   `json:"duration_secs"`
	Text         string    `json:"text"`
	Segments     []Segment `json:"segments,omitempty"`
}

// Client calls the transcription service. An empty base URL selects a
// built-in stand-in producing a fixed transcript.
type Client struct {
	api *asyncjob.Client
}

// New builds a transcriber client.
func New(baseURL string, requestTimeout, pollInterval time.Duration) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{api: asyncjob.New(baseURL, requestTimeout, pollInterval)}
}

type transcribeRequest struct {
	SourcePath string `json:"source_path"`
}

// Transcribe submits a blob for transcription and waits for the transcript.
func (c *Client) Transcribe(ctx context.Context, sourcePath string) (*Transcript, error) {
	if c.api == nil {
		return &Transcript{
			Language:     "en",
			DurationSecs: 120,
			Text:         "(no transcription service configured)",
			Segments: []Segment{
				{StartSecs: 0, EndSecs: 120, Text: "(no transcription service configured)"},
			},
		}, nil
	}
	var transcript Transcript
	if err := c.api.Run(ctx, "transcribe", "/v1/transcriptions", transcribeRequest{SourcePath: sourcePath}, &transcript); err != nil {
		return nil, err
	}
	return &transcript, nil
}
