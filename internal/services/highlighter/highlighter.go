// Package highlighter is the client for the external highlight extraction
// service, which picks notable moments out of a transcript.
package highlighter

import (
	"context"
	"time"

	"loom/internal/services/asyncjob"
)

// Highlight is one notable moment in a video.
type Highlight struct {
	StartSecs float64 `json:"start_secs"`
	EndSecs   float64 `json:"end_secs"`
	Summary   string  `json:"summary"`
}

// Client calls the highlight service. An empty base URL selects a built-in
// stand-in that marks the opening of the video.
type Client struct {
	api *asyncjob.Client
}

// New builds a highlighter client.
func New(baseURL string, requestTimeout, pollInterval time.Duration) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{api: asyncjob.New(baseURL, requestTimeout, pollInterval)}
}

type extractRequest struct {
	Transcript   string  `json:"transcript"`
	DurationSecs float64 `json:"duration_secs"`
}

type extractResponse struct {
	Highlights []Highlight `json:"highlights"`
}

// Extract submits a transcript and waits for the extracted highlights.
func (c *Client) Extract(ctx context.Context, transcript string, durationSecs float64) ([]Highlight, error) {
	if c.api == nil {
		end := durationSecs
		if end > 30 {
			end = 30
		}
		return []Highlight{{StartSecs: 0, EndSecs: end, Summary: "opening"}}, nil
	}
	var resp extractResponse
	req := extractRequest{Transcript: transcript, DurationSecs: durationSecs}
	if err := c.api.Run(ctx, "extract_highlights", "/v1/highlights", req, &resp); err != nil {
		return nil, err
	}
	return resp.Highlights, nil
}
