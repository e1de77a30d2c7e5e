// Package scanner is the client for the external malware scanning service.
package scanner

import (
	"context"
	"strings"
	"time"

	"loom/internal/services/asyncjob"
)

// Verdict values reported by the scanner.
const (
	VerdictClean    = "clean"
	VerdictInfected = "infected"
)

// Report is the scan outcome for one blob.
type Report struct {
	Verdict string   `json:"verdict"`
	Threats []string `json:"threats,omitempty"`
}

// Infected reports whether the verdict requires quarantine.
func (r *Report) Infected() bool {
	return r != nil && r.Verdict == VerdictInfected
}

// Client calls the scanning service. An empty base URL selects a built-in
// stand-in so the daemon runs without external services configured.
type Client struct {
	api *asyncjob.Client
}

// New builds a scanner client.
func New(baseURL string, requestTimeout, pollInterval time.Duration) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{api: asyncjob.New(baseURL, requestTimeout, pollInterval)}
}

type scanRequest struct {
	SourcePath string `json:"source_path"`
}

// Scan submits a blob path for scanning and waits for the verdict.
func (c *Client) Scan(ctx context.Context, sourcePath string) (*Report, error) {
	if c.api == nil {
		return fakeScan(sourcePath), nil
	}
	var report Report
	if err := c.api.Run(ctx, "scan", "/v1/scans", scanRequest{SourcePath: sourcePath}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// fakeScan flags paths that name a known test signature and passes the rest.
func fakeScan(sourcePath string) *Report {
	lower := strings.ToLower(sourcePath)
	if strings.Contains(lower, "eicar") || strings.Contains(lower, "malware") {
		return &Report{Verdict: VerdictInfected, Threats: []string{"EICAR-Test-Signature"}}
	}
	return &Report{Verdict: VerdictClean}
}
