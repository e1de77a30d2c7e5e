package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"loom/internal/catalog"
	"loom/internal/daemon"
)

// apiClient is a thin HTTP client for the loomd API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

// assetDetail mirrors the daemon's per-asset detail document.
type assetDetail struct {
	Asset      *catalog.VideoAsset       `json:"asset"`
	Jobs       []*catalog.ProcessingJob  `json:"jobs"`
	Variants   []*catalog.VideoVariant   `json:"variants"`
	Moderation *catalog.ModerationResult `json:"moderation"`
}

func newAPIClient(address, token string) (*apiClient, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("no daemon API address configured; set paths.api_bind or pass --address")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	return &apiClient{
		base:  strings.TrimRight(address, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) status(ctx context.Context) (*daemon.Status, error) {
	var status daemon.Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, "", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *apiClient) assets(ctx context.Context, statuses []string) ([]*catalog.VideoAsset, error) {
	path := "/api/assets"
	if len(statuses) > 0 {
		query := url.Values{}
		for _, status := range statuses {
			query.Add("status", status)
		}
		path += "?" + query.Encode()
	}
	var assets []*catalog.VideoAsset
	if err := c.do(ctx, http.MethodGet, path, nil, "", &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func (c *apiClient) asset(ctx context.Context, id string) (*assetDetail, error) {
	var detail assetDetail
	if err := c.do(ctx, http.MethodGet, "/api/assets/"+url.PathEscape(id), nil, "", &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *apiClient) sessions(ctx context.Context) ([]*catalog.UploadSession, error) {
	var sessions []*catalog.UploadSession
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, "", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *apiClient) createUpload(ctx context.Context, req map[string]any) (*catalog.UploadSession, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var session catalog.UploadSession
	if err := c.do(ctx, http.MethodPost, "/api/uploads", body, "application/json", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *apiClient) commitChunk(ctx context.Context, sessionID string, index int, chunk []byte) (*catalog.UploadSession, error) {
	path := fmt.Sprintf("/api/uploads/%s/chunks/%d", url.PathEscape(sessionID), index)
	var session catalog.UploadSession
	if err := c.do(ctx, http.MethodPut, path, chunk, "application/octet-stream", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *apiClient) completeUpload(ctx context.Context, sessionID string) (*catalog.VideoAsset, error) {
	path := "/api/uploads/" + url.PathEscape(sessionID) + "/complete"
	var asset catalog.VideoAsset
	if err := c.do(ctx, http.MethodPost, path, nil, "", &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.base)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(status int, payload []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Error != "" {
		return fmt.Errorf("daemon: %s (%s)", body.Error, http.StatusText(status))
	}
	return fmt.Errorf("daemon returned %s", http.StatusText(status))
}

func wrapDialError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; verify loomd is running", base)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}
