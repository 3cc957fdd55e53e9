package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/travelog/travelog-core/internal/models"
)

// Remote is the client-side contract of the remote sync service. Push
// is compare-and-swap on version; Pull returns changes in the remote
// log's sequence order.
type Remote interface {
	Push(ctx context.Context, req models.PushRequest) (*models.PushResponse, error)
	Pull(ctx context.Context, deviceID string, since int64) (*models.PullResponse, error)
}

// transientError marks failures worth retrying: network errors and
// remote 5xx responses.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps an error as retryable.
func Transient(err error) error {
	return &transientError{err: err}
}

// IsTransient reports whether the error should be retried with backoff.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// HTTPClient talks to a remote sync service over HTTP with a bearer
// device token.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a sync client for the given base URL.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Push sends local changes; the remote answers with per-entity accepts
// and conflicts.
func (c *HTTPClient) Push(ctx context.Context, req models.PushRequest) (*models.PushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/changes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	var resp models.PushResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches remote changes newer than the cursor.
func (c *HTTPClient) Pull(ctx context.Context, deviceID string, since int64) (*models.PullResponse, error) {
	url := c.baseURL + "/api/v1/changes?since=" + strconv.FormatInt(since, 10) + "&deviceId=" + deviceID

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pull request: %w", err)
	}
	c.authorize(httpReq)

	var resp models.PullResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("sync request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Transient(fmt.Errorf("remote returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote returned status %d", resp.StatusCode)
	}

	// The response envelope follows the API convention {code, message, data}.
	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode sync response: %w", err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("remote error: %s", envelope.Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode sync payload: %w", err)
	}

	return nil
}
