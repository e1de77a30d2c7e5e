// Package indexer is the client for the external search index service.
package indexer

import (
	"context"
	"time"

	"loom/internal/services/asyncjob"
)

// Document is the searchable projection of a published asset.
type Document struct {
	AssetID      string   `json:"asset_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Transcript   string   `json:"transcript,omitempty"`
	Language     string   `json:"language,omitempty"`
	DurationSecs float64  `json:"duration_secs,omitempty"`
	ManifestPath string   `json:"manifest_path,omitempty"`
}

// Client calls the search index service. An empty base URL selects a no-op
// stand-in.
type Client struct {
	api *asyncjob.Client
}

// New builds an indexer client.
func New(baseURL string, requestTimeout, pollInterval time.Duration) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{api: asyncjob.New(baseURL, requestTimeout, pollInterval)}
}

// Index upserts the document into the search index.
func (c *Client) Index(ctx context.Context, doc Document) error {
	if c.api == nil {
		return nil
	}
	return c.api.Run(ctx, "index", "/v1/documents", doc, nil)
}
