package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"newsq/internal/config"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"strings"
	"time"
)

var _ ports.Processor = (*Client)(nil)

type invokeRequest struct {
	Input invokeInput `json:"input"`
}

type invokeInput struct {
	SourceURL  string `json:"source_url"`
	MaxRetries int    `json:"max_retries"`
}

type invokeResponse struct {
	Output json.RawMessage `json:"output"`
}

// Client runs jobs through the article processing workflow service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(cfg config.Workflow) *Client {
	return &Client{
		BaseURL: strings.TrimRight(cfg.URL, "/"),
		HTTP:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Process invokes the workflow and returns its output. Any failure is a
// *domain.ProcessingError.
func (c *Client) Process(ctx context.Context, j domain.Job) (json.RawMessage, error) {
	out, err := c.invoke(ctx, j)
	if err != nil {
		return nil, &domain.ProcessingError{JobID: j.ID, Err: err}
	}
	return out, nil
}

func (c *Client) invoke(ctx context.Context, j domain.Job) (json.RawMessage, error) {
	body, err := json.Marshal(invokeRequest{Input: invokeInput{SourceURL: j.SourceURL, MaxRetries: j.MaxRetries}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke workflow: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read workflow reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("workflow returned status %d: %s", resp.StatusCode, snippet(raw))
	}

	var reply invokeResponse
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode workflow reply: %w", err)
	}
	if len(reply.Output) == 0 || string(reply.Output) == "null" {
		return nil, errors.New("workflow reply has no output")
	}

	var status struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(reply.Output, &status); err == nil && status.ErrorMessage != "" {
		return nil, fmt.Errorf("workflow error after %s: %s", time.Since(started).Round(time.Millisecond), status.ErrorMessage)
	}
	return reply.Output, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}
