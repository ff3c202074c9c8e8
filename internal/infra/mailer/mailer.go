package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"newsq/internal/config"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var _ ports.Alerter = (*Mailer)(nil)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer emails operator alerts. With a batch window, alerts raised within
// the window go out as one message.
type Mailer struct {
	cfg        config.SMTP
	Recipients ports.RecipientRepository
	Send       SendFunc

	mu      sync.Mutex
	pending []domain.Alert
	timer   *time.Timer
}

func New(cfg config.SMTP, recipients ports.RecipientRepository) *Mailer {
	return &Mailer{cfg: cfg, Recipients: recipients, Send: smtp.SendMail}
}

func (m *Mailer) Alert(ctx context.Context, a domain.Alert) error {
	if m.cfg.BatchWindow <= 0 {
		return m.deliver(ctx, []domain.Alert{a})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, a)
	if m.timer == nil {
		m.timer = time.AfterFunc(m.cfg.BatchWindow, func() {
			ctx := log.Logger.WithContext(context.Background())
			if err := m.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("alert batch not sent")
			}
		})
	}
	return nil
}

// Flush sends every pending alert now.
func (m *Mailer) Flush(ctx context.Context) error {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return m.deliver(ctx, batch)
}

func (m *Mailer) deliver(ctx context.Context, alerts []domain.Alert) error {
	if !m.cfg.Enabled() {
		log.Ctx(ctx).Warn().Int("alerts", len(alerts)).Msg("smtp not configured, alert dropped")
		return nil
	}
	to, err := m.recipients(ctx)
	if err != nil {
		return &domain.DeliveryError{Sink: "email", Attempt: 1, Err: err}
	}
	if len(to) == 0 {
		return &domain.DeliveryError{Sink: "email", Attempt: 1, Err: fmt.Errorf("no recipients")}
	}

	msg, err := compose(m.cfg.From, to, alerts)
	if err != nil {
		return &domain.DeliveryError{Sink: "email", Attempt: 1, Err: err}
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.Send(addr, auth, m.cfg.From, to, msg); err != nil {
		return &domain.DeliveryError{Sink: "email", Attempt: 1, Err: err}
	}
	log.Ctx(ctx).Info().Int("alerts", len(alerts)).Strs("to", to).Msg("alert email sent")
	return nil
}

// recipients merges the configured addresses with the active ones stored in
// the archive.
func (m *Mailer) recipients(ctx context.Context) ([]string, error) {
	all := slices.Clone(m.cfg.Recipients)
	if m.Recipients != nil {
		stored, err := m.Recipients.ActiveRecipients(ctx)
		if err != nil {
			return nil, fmt.Errorf("load recipients: %w", err)
		}
		all = append(all, stored...)
	}

	seen := make(map[string]struct{}, len(all))
	out := make([]string, 0, len(all))
	for _, r := range all {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

var body = template.Must(template.New("alert").Parse(`<html><body>
<h2>{{len .}} job(s) need attention</h2>
<table border="1" cellpadding="6" cellspacing="0">
<tr><th>Job</th><th>Source URL</th><th>Error</th><th>Time</th></tr>
{{range .}}<tr><td>{{.JobID}}</td><td><a href="{{.SourceURL}}">{{.SourceURL}}</a></td><td><pre>{{.Error}}</pre></td><td>{{.At.UTC.Format "2006-01-02 15:04:05 MST"}}</td></tr>
{{end}}</table>
</body></html>
`))

func compose(from string, to []string, alerts []domain.Alert) ([]byte, error) {
	subject := fmt.Sprintf("[newsq] Job %s failed", alerts[0].JobID)
	if len(alerts) > 1 {
		subject = fmt.Sprintf("[newsq] %d jobs failed", len(alerts))
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	if err := body.Execute(&buf, alerts); err != nil {
		return nil, fmt.Errorf("render alert: %w", err)
	}
	return buf.Bytes(), nil
}
