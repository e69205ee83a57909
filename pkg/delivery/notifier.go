package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/reachvector/leadpipe/pkg/config"
	"github.com/reachvector/leadpipe/pkg/models"
)

// Notifier sends run lifecycle mail. A nil Notifier is valid and drops
// every send, so callers never branch on whether mail is configured.
// Sending is best-effort; failures are logged and returned but never roll
// back the state change that triggered them.
type Notifier struct {
	cfg    *config.DeliveryConfig
	send   sendFunc
	logger *slog.Logger
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// NewNotifier creates a Notifier, or nil when no SMTP address is
// configured.
func NewNotifier(cfg *config.DeliveryConfig) *Notifier {
	if cfg == nil || cfg.SMTPAddr == "" {
		slog.Default().Info("Delivery notifier disabled, no SMTP address configured")
		return nil
	}
	return &Notifier{
		cfg:    cfg,
		send:   smtp.SendMail,
		logger: slog.Default().With("component", "notifier"),
	}
}

// Attachment is one file carried by a message.
type Attachment struct {
	Filename string
	Body     []byte
}

// SendDelivery mails the final exports to the run's notification address.
func (n *Notifier) SendDelivery(ctx context.Context, run *models.Run, companyCount int, companyCSV, contactCSV []byte) error {
	if n == nil {
		return nil
	}
	to := run.Criteria.NotificationEmail
	if to == "" {
		to = n.cfg.OperatorEmail
	}
	if to == "" {
		n.logger.Warn("No delivery recipient configured, skipping", "run_id", run.ID)
		return nil
	}

	subject := fmt.Sprintf("Lead run %s complete: %d companies", shortID(run.ID), companyCount)
	body := fmt.Sprintf(
		"Run %s finished.\n\nCriteria: %s\nCompanies delivered: %d\n\nThe company and contact exports are attached.\n",
		run.ID, describeCriteria(run.Criteria), companyCount)

	return n.sendMail(ctx, to, subject, body, []Attachment{
		{Filename: fmt.Sprintf("companies-%s.csv", shortID(run.ID)), Body: companyCSV},
		{Filename: fmt.Sprintf("contacts-%s.csv", shortID(run.ID)), Body: contactCSV},
	})
}

// SendDecisionNeeded alerts the operator that a run is parked waiting for
// a routing choice.
func (n *Notifier) SendDecisionNeeded(ctx context.Context, run *models.Run, summary string) error {
	if n == nil {
		return nil
	}
	to := n.cfg.OperatorEmail
	if to == "" {
		to = run.Criteria.NotificationEmail
	}
	if to == "" {
		return nil
	}
	subject := fmt.Sprintf("Lead run %s needs a decision", shortID(run.ID))
	body := fmt.Sprintf(
		"Run %s stopped short of its targets.\n\n%s\n\nOptions: accept_partial, expand_geography, loosen_pms.\n",
		run.ID, summary)
	return n.sendMail(ctx, to, subject, body, nil)
}

// SendRunError alerts the operator that a run failed hard.
func (n *Notifier) SendRunError(ctx context.Context, run *models.Run, reason string) error {
	if n == nil {
		return nil
	}
	to := n.cfg.OperatorEmail
	if to == "" {
		return nil
	}
	subject := fmt.Sprintf("Lead run %s failed", shortID(run.ID))
	body := fmt.Sprintf("Run %s ended in error.\n\nReason: %s\n", run.ID, reason)
	return n.sendMail(ctx, to, subject, body, nil)
}

func (n *Notifier) sendMail(ctx context.Context, to, subject, body string, attachments []Attachment) error {
	msg, err := buildMessage(n.cfg.From, to, subject, body, attachments)
	if err != nil {
		n.logger.Error("Failed to build mail message", "to", to, "error", err)
		return err
	}

	var auth smtp.Auth
	if n.cfg.SMTPUser != "" {
		host := n.cfg.SMTPAddr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPassword, host)
	}

	// smtp.SendMail has no context support; run it in a goroutine so a
	// hung server cannot stall the worker past the caller's deadline.
	done := make(chan error, 1)
	go func() {
		done <- n.send(n.cfg.SMTPAddr, auth, n.cfg.From, []string{to}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			n.logger.Error("Failed to send mail", "to", to, "subject", subject, "error", err)
			return fmt.Errorf("failed to send mail: %w", err)
		}
		n.logger.Info("Mail sent", "to", to, "subject", subject, "attachments", len(attachments))
		return nil
	case <-ctx.Done():
		n.logger.Error("Mail send cancelled", "to", to, "error", ctx.Err())
		return ctx.Err()
	}
}

// buildMessage renders an RFC 2045 multipart/mixed message with a plain
// text body and base64 CSV attachments.
func buildMessage(from, to, subject, body string, attachments []Attachment) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nMIME-Version: 1.0\r\nContent-Type: multipart/mixed; boundary=%q\r\n\r\n",
		from, to, subject, time.Now().UTC().Format(time.RFC1123Z), mw.Boundary())

	textPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	if _, err := textPart.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("failed to write text part: %w", err)
	}

	for _, a := range attachments {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"text/csv; charset=utf-8"},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", a.Filename)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		encoded := base64.StdEncoding.EncodeToString(a.Body)
		if _, err := part.Write([]byte(wrapBase64(encoded))); err != nil {
			return nil, fmt.Errorf("failed to write attachment: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

// wrapBase64 folds encoded content at 76 characters per RFC 2045.
func wrapBase64(s string) string {
	const width = 76
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteString("\r\n")
		s = s[width:]
	}
	b.WriteString(s)
	b.WriteString("\r\n")
	return b.String()
}

func describeCriteria(c models.Criteria) string {
	var parts []string
	if c.PMS != "" {
		parts = append(parts, "PMS "+c.PMS)
	}
	if geo := c.GeoSummary(); geo != "" {
		parts = append(parts, geo)
	}
	if c.UnitsMin > 0 {
		parts = append(parts, fmt.Sprintf("%d+ units", c.UnitsMin))
	}
	if len(parts) == 0 {
		return "nationwide, no PMS constraint"
	}
	return strings.Join(parts, ", ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
