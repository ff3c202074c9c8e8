package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"newsq/internal/config"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"newsq/pkg/backoff"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	HeaderSecret    = "X-Webhook-Secret"
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	userAgent       = "newsq/1.0"

	// MaxSkew is how far a signed delivery's timestamp may be from the
	// receiver's clock.
	MaxSkew = 5 * time.Minute
)

var _ ports.Notifier = (*Notifier)(nil)

// Payload is the body posted for every completed job.
type Payload struct {
	JobID     string          `json:"job_id"`
	SourceURL string          `json:"source_url"`
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
}

// Notifier posts completed job results to a webhook. Deliveries run in the
// background and are retried with jittered exponential backoff.
type Notifier struct {
	URL      string
	Secret   string
	Attempts int
	Client   *http.Client
	// RetryBase and RetryMax bound the wait between attempts.
	RetryBase time.Duration
	RetryMax  time.Duration
	Now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.Webhook) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		URL:       cfg.URL,
		Secret:    cfg.Secret,
		Attempts:  cfg.Attempts,
		Client:    &http.Client{Timeout: cfg.Timeout},
		RetryBase: time.Second,
		RetryMax:  time.Minute,
		Now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Notify schedules delivery of j's result and returns immediately.
func (n *Notifier) Notify(ctx context.Context, j domain.Job) error {
	if n.URL == "" {
		log.Ctx(ctx).Debug().Str("job_id", j.ID).Msg("webhook not configured, result not forwarded")
		return nil
	}
	body, err := json.Marshal(Payload{JobID: j.ID, SourceURL: j.SourceURL, Status: "success", Data: j.Result})
	if err != nil {
		return &domain.DeliveryError{Sink: "webhook", Err: err}
	}

	logger := log.Ctx(ctx).With().Str("job_id", j.ID).Logger()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.deliver(logger.WithContext(n.ctx), body); err != nil {
			logger.Error().Err(err).Msg("webhook delivery abandoned")
		}
	}()
	return nil
}

// send delivers j's result synchronously.
func (n *Notifier) send(ctx context.Context, j domain.Job) error {
	body, err := json.Marshal(Payload{JobID: j.ID, SourceURL: j.SourceURL, Status: "success", Data: j.Result})
	if err != nil {
		return &domain.DeliveryError{Sink: "webhook", Err: err}
	}
	return n.deliver(ctx, body)
}

// Close stops pending retries and waits for in-flight deliveries, or until
// ctx is done.
func (n *Notifier) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}

func (n *Notifier) deliver(ctx context.Context, body []byte) error {
	attempts := max(n.Attempts, 1)
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := n.post(ctx, body)
		if err == nil {
			log.Ctx(ctx).Info().Int("attempt", attempt).Msg("webhook delivered")
			return nil
		}
		last = &domain.DeliveryError{Sink: "webhook", Attempt: attempt, Err: err}
		log.Ctx(ctx).Warn().Err(last).Msg("webhook attempt failed")

		if attempt == attempts {
			break
		}
		t := time.NewTimer(backoff.ExponentialJitter(n.RetryBase, n.RetryMax, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return last
		case <-t.C:
		}
	}
	return last
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	ts := strconv.FormatInt(n.now().Unix(), 10)
	req.Header.Set(HeaderTimestamp, ts)
	if n.Secret != "" {
		req.Header.Set(HeaderSecret, n.Secret)
		req.Header.Set(HeaderSignature, Sign(n.Secret, ts, body))
	}

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

func (n *Notifier) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// Sign returns the signature header value for body sent at timestamp ts
// (unix seconds). The MAC covers "ts.body".
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an incoming request against secret at time now. A signed
// request must carry a timestamp within MaxSkew of now. Senders that only
// have the shared secret may present it in the secret header instead.
func Verify(secret string, body []byte, h http.Header, now time.Time) bool {
	if secret == "" {
		return true
	}
	if sig := h.Get(HeaderSignature); sig != "" {
		ts := h.Get(HeaderTimestamp)
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return false
		}
		if skew := now.Sub(time.Unix(sec, 0)); skew > MaxSkew || skew < -MaxSkew {
			return false
		}
		return hmac.Equal([]byte(sig), []byte(Sign(secret, ts, body)))
	}
	got := strings.TrimSpace(h.Get(HeaderSecret))
	return got != "" && hmac.Equal([]byte(got), []byte(secret))
}
