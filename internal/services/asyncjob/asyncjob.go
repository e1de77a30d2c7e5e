// Package asyncjob implements the submit-and-poll HTTP protocol shared by
// the external processing services: POST a job, then poll its status URL
// until the job reaches a terminal state.
package asyncjob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loom/internal/services"
)

// Status values reported by the polling endpoint.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// submitResponse is the accepted-job acknowledgement.
type submitResponse struct {
	JobID string `json:"job_id"`
}

// pollResponse is the status document returned while polling.
type pollResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Client runs asynchronous jobs against one service base URL.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
}

// New builds a client. The request timeout bounds each HTTP call, not the
// whole job; pollInterval is the delay between status polls.
func New(baseURL string, requestTimeout, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: requestTimeout},
		pollInterval: pollInterval,
	}
}

// Run submits payload to path, polls until the job finishes, and decodes the
// result into out. Service and transport failures map onto the shared error
// markers so callers can apply the retry policy uniformly.
func (c *Client) Run(ctx context.Context, operation, path string, payload, out any) error {
	jobID, done, err := c.submit(ctx, operation, path, payload, out)
	if err != nil || done {
		return err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		finished, err := c.poll(ctx, operation, path, jobID, out)
		if err != nil {
			return err
		}
		if finished {
			return nil
		}
	}
}

// submit posts the job. A 200 carries the result inline; a 202 returns a job
// identifier to poll.
func (c *Client) submit(ctx context.Context, operation, path string, payload, out any) (string, bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", false, services.Wrap(services.ErrValidation, "", operation, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", false, services.Wrap(services.ErrValidation, "", operation, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, services.Wrap(services.ErrTransient, "", operation, "submit job", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return "", false, services.Wrap(services.ErrTransient, "", operation, "decode result", err)
			}
		}
		return "", true, nil
	case http.StatusAccepted:
		var ack submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
			return "", false, services.Wrap(services.ErrTransient, "", operation, "decode acknowledgement", err)
		}
		if ack.JobID == "" {
			return "", false, services.Wrap(services.ErrTransient, "", operation, "acknowledgement missing job id", nil)
		}
		return ack.JobID, false, nil
	default:
		return "", false, statusError(operation, resp)
	}
}

// poll fetches job status once. Returns true when the job completed and out
// was populated.
func (c *Client) poll(ctx context.Context, operation, path, jobID string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"/"+jobID, nil)
	if err != nil {
		return false, services.Wrap(services.ErrValidation, "", operation, "build poll request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, services.Wrap(services.ErrTransient, "", operation, "poll job", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, statusError(operation, resp)
	}
	var status pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, services.Wrap(services.ErrTransient, "", operation, "decode status", err)
	}

	switch status.Status {
	case StatusPending, StatusRunning:
		return false, nil
	case StatusFailed:
		return false, services.Wrap(services.ErrTransient, "", operation, status.Error, nil)
	case StatusCompleted:
		if out != nil && len(status.Result) > 0 {
			if err := json.Unmarshal(status.Result, out); err != nil {
				return false, services.Wrap(services.ErrTransient, "", operation, "decode result", err)
			}
		}
		return true, nil
	default:
		return false, services.Wrap(services.ErrTransient, "", operation, fmt.Sprintf("unknown job status %q", status.Status), nil)
	}
}

// statusError maps an HTTP failure to a shared error marker: server errors
// and throttling are transient, everything else is a validation failure.
func statusError(operation string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	message := fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return services.Wrap(services.ErrTransient, "", operation, message, nil)
	}
	return services.Wrap(services.ErrValidation, "", operation, message, nil)
}
