// Package moderator is the client for the external content moderation service.
package moderator

import (
	"context"
	"strings"
	"time"

	"loom/internal/services/asyncjob"
)

// Verdict values reported by the moderator.
const (
	VerdictSafe    = "safe"
	VerdictFlagged = "flagged"
)

// Report is the moderation outcome for one asset.
type Report struct {
	Verdict         string   `json:"verdict"`
	Reasons         []string `json:"reasons,omitempty"`
	HighestSeverity string   `json:"highest_severity,omitempty"`
}

// Flagged reports whether the verdict requires quarantine.
func (r *Report) Flagged() bool {
	return r != nil && r.Verdict == VerdictFlagged
}

// Client calls the moderation service. An empty base URL selects a built-in
// stand-in that passes everything except known test markers.
type Client struct {
	api *asyncjob.Client
}

// New builds a moderator client.
func New(baseURL string, requestTimeout, pollInterval time.Duration) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{api: asyncjob.New(baseURL, requestTimeout, pollInterval)}
}

type moderateRequest struct {
	SourcePath string `json:"source_path"`
	Title      string `json:"title,omitempty"`
}

// Moderate submits an asset for content review and waits for the verdict.
func (c *Client) Moderate(ctx context.Context, sourcePath, title string) (*Report, error) {
	if c.api == nil {
		return fakeModerate(sourcePath, title), nil
	}
	var report Report
	if err := c.api.Run(ctx, "moderate", "/v1/moderations", moderateRequest{SourcePath: sourcePath, Title: title}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func fakeModerate(sourcePath, title string) *Report {
	lower := strings.ToLower(sourcePath + " " + title)
	if strings.Contains(lower, "unsafe") || strings.Contains(lower, "nsfw") {
		return &Report{Verdict: VerdictFlagged, Reasons: []string{"test marker"}, HighestSeverity: "high"}
	}
	return &Report{Verdict: VerdictSafe}
}
