package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"newsq/pkg/backoff"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var _ ports.Submitter = (*Client)(nil)

// Client submits jobs to the dispatcher API.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	// Attempts bounds retries of transport errors and 5xx replies.
	Attempts  int
	RetryBase time.Duration
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		Attempts:  3,
		RetryBase: time.Second,
	}
}

type submitRequest struct {
	SourceURL  string `json:"source_url"`
	MaxRetries int    `json:"max_retries"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// errPermanent marks replies that are not worth retrying.
var errPermanent = errors.New("permanent")

func (c *Client) Submit(ctx context.Context, sourceURL string, maxRetries int) (string, error) {
	body, err := json.Marshal(submitRequest{SourceURL: sourceURL, MaxRetries: maxRetries})
	if err != nil {
		return "", err
	}

	attempts := max(c.Attempts, 1)
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		id, err := c.post(ctx, body)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, errPermanent) || ctx.Err() != nil {
			return "", err
		}
		last = err
		if attempt == attempts {
			break
		}
		log.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Str("url", sourceURL).Msg("submit failed, retrying")
		t := time.NewTimer(backoff.ExponentialJitter(c.RetryBase, 30*time.Second, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
	return "", last
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/submit-job", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w: %w", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusConflict:
		return "", fmt.Errorf("%w: %w", errPermanent, domain.ErrDuplicate)
	case resp.StatusCode == http.StatusBadRequest:
		return "", fmt.Errorf("%w: %w: %s", errPermanent, domain.ErrInvalidInput, message(raw))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("submit job: status %d: %s", resp.StatusCode, message(raw))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: submit job: status %d: %s", errPermanent, resp.StatusCode, message(raw))
	}

	var out submitResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.JobID == "" {
		return "", fmt.Errorf("%w: malformed submit reply: %s", errPermanent, message(raw))
	}
	return out.JobID, nil
}

func message(raw []byte) string {
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
