package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"newsq/internal/config"
	"newsq/internal/domain"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	addr string
	from string
	to   []string
	msg  string
}

type outbox struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (o *outbox) send(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, sent{addr, from, to, string(msg)})
	return nil
}

func (o *outbox) all() []sent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sent(nil), o.msgs...)
}

type staticRecipients []string

func (s staticRecipients) ActiveRecipients(context.Context) ([]string, error) { return s, nil }

func smtpConfig() config.SMTP {
	return config.SMTP{
		Host:       "mail.example.com",
		Port:       587,
		From:       "newsq@example.com",
		Recipients: []string{"ops@example.com", " Editor@example.com "},
	}
}

var alert = domain.Alert{
	JobID:     "job-1",
	SourceURL: "https://example.com/a",
	Error:     "llm <timeout>",
	At:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
}

func TestAlert_Immediate(t *testing.T) {
	box := &outbox{}
	m := New(smtpConfig(), staticRecipients{"editor@example.com", "desk@example.com"})
	m.Send = box.send

	require.NoError(t, m.Alert(context.Background(), alert))

	msgs := box.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "mail.example.com:587", msgs[0].addr)
	assert.Equal(t, "newsq@example.com", msgs[0].from)
	assert.Equal(t, []string{"ops@example.com", "editor@example.com", "desk@example.com"}, msgs[0].to)
	assert.Contains(t, msgs[0].msg, "Subject: [newsq] Job job-1 failed")
	assert.Contains(t, msgs[0].msg, "Content-Type: text/html")
	assert.Contains(t, msgs[0].msg, "https://example.com/a")
	assert.Contains(t, msgs[0].msg, "llm &lt;timeout&gt;")
}

func TestAlert_Batched(t *testing.T) {
	box := &outbox{}
	cfg := smtpConfig()
	cfg.BatchWindow = time.Hour
	m := New(cfg, nil)
	m.Send = box.send

	require.NoError(t, m.Alert(context.Background(), alert))
	second := alert
	second.JobID = "job-2"
	require.NoError(t, m.Alert(context.Background(), second))
	assert.Empty(t, box.all())

	require.NoError(t, m.Flush(context.Background()))
	msgs := box.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].msg, "Subject: [newsq] 2 jobs failed")
	assert.Contains(t, msgs[0].msg, "job-1")
	assert.Contains(t, msgs[0].msg, "job-2")

	require.NoError(t, m.Flush(context.Background()))
	assert.Len(t, box.all(), 1)
}

func TestAlert_BatchWindowElapses(t *testing.T) {
	box := &outbox{}
	cfg := smtpConfig()
	cfg.BatchWindow = 10 * time.Millisecond
	m := New(cfg, nil)
	m.Send = box.send

	require.NoError(t, m.Alert(context.Background(), alert))
	assert.Eventually(t, func() bool { return len(box.all()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestAlert_SendFailure(t *testing.T) {
	box := &outbox{err: errors.New("535 auth failed")}
	m := New(smtpConfig(), nil)
	m.Send = box.send

	err := m.Alert(context.Background(), alert)
	var derr *domain.DeliveryError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "email", derr.Sink)
}

func TestAlert_NoRecipients(t *testing.T) {
	cfg := smtpConfig()
	cfg.Recipients = nil
	m := New(cfg, staticRecipients{})
	m.Send = (&outbox{}).send

	err := m.Alert(context.Background(), alert)
	assert.ErrorContains(t, err, "no recipients")
}

func TestAlert_Disabled(t *testing.T) {
	box := &outbox{}
	m := New(config.SMTP{}, nil)
	m.Send = box.send

	require.NoError(t, m.Alert(context.Background(), alert))
	assert.Empty(t, box.all())
}
