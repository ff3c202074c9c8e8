package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"newsq/internal/config"
	"newsq/internal/domain"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var job = domain.Job{ID: "job-1", SourceURL: "https://example.com/a", MaxRetries: 2}

func serve(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.Workflow{URL: srv.URL + "/", Timeout: time.Second})
}

func TestProcess_Success(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/invoke", r.URL.Path)
		var req invokeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/a", req.Input.SourceURL)
		assert.Equal(t, 2, req.Input.MaxRetries)
		_, _ = w.Write([]byte(`{"output":{"title":"Hello","summary":"World"}}`))
	})

	out, err := c.Process(context.Background(), job)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Hello","summary":"World"}`, string(out))
}

func TestProcess_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, `boom`, "status 500"},
		{"workflow error message", http.StatusOK, `{"output":{"error_message":"paywall"}}`, "paywall"},
		{"missing output", http.StatusOK, `{}`, "no output"},
		{"not json", http.StatusOK, `<html>`, "decode workflow reply"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Process(context.Background(), job)
			var perr *domain.ProcessingError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "job-1", perr.JobID)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestProcess_ContextTimeout(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Process(ctx, job)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
