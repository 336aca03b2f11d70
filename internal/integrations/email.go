package integrations

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/secrets"
)

// SMTP failure classes surfaced to the dispatcher.
var (
	ErrSMTPAuth    = errors.New("smtp authentication failed")
	ErrSMTPRelay   = errors.New("smtp relay rejected")
	ErrSMTPTimeout = errors.New("smtp connection timed out")
)

const smtpDialTimeout = 10 * time.Second

// EmailAdapter sends mail over SMTP with optional STARTTLS. Connection
// parameters come from the resolved action parameters; the password is
// expected to arrive through a key_vault parameter.
type EmailAdapter struct {
	vault  *secrets.Vault
	logger *slog.Logger
}

// NewEmailAdapter creates the SMTP adapter.
func NewEmailAdapter(vault *secrets.Vault, logger *slog.Logger) *EmailAdapter {
	return &EmailAdapter{vault: vault, logger: logger}
}

func (a *EmailAdapter) Kind() domain.Kind { return domain.KindEmail }

func (a *EmailAdapter) ValidateCredentials(ctx context.Context, bot string) error {
	var creds struct {
		SMTPURL  string `json:"smtp_url"`
		SMTPPort int    `json:"smtp_port"`
	}
	if err := credentials(ctx, a.vault, bot, domain.KindEmail, &creds); err != nil {
		return err
	}
	addr := net.JoinHostPort(creds.SMTPURL, strconv.Itoa(creds.SMTPPort))
	conn, err := net.DialTimeout("tcp", addr, smtpDialTimeout)
	if err != nil {
		return domain.Wrap(domain.KindUpstream, err, "smtp server %s unreachable", addr)
	}
	return conn.Close()
}

func (a *EmailAdapter) Prepare(_ context.Context, _ string) (map[string]any, error) {
	return nil, nil
}

func (a *EmailAdapter) Execute(ctx context.Context, req ExecRequest) (*Result, error) {
	host := param(req.Params, "smtp_url")
	portStr := param(req.Params, "smtp_port")
	userID := param(req.Params, "userid")
	password := param(req.Params, "password")
	from := param(req.Params, "from")
	subject := param(req.Params, "subject")
	body := param(req.Params, "body")

	if host == "" || from == "" {
		return nil, domain.E(domain.KindValidation, "email action requires smtp_url and from parameters")
	}
	port := 587
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, domain.E(domain.KindValidation, "invalid smtp_port %q", portStr)
		}
		port = p
	}

	recipients := recipientList(req.Params["to"])
	if len(recipients) == 0 {
		return nil, domain.E(domain.KindValidation, "email action requires at least one recipient")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var auth smtp.Auth
	if userID != "" && password != "" {
		auth = smtp.PlainAuth("", userID, password, host)
	}

	msg := buildMessage(from, recipients, subject, body)
	if err := a.send(ctx, addr, host, auth, from, recipients, msg); err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "email sent",
		slog.String("bot", req.Bot),
		slog.Int("recipients", len(recipients)),
	)
	return &Result{Data: map[string]any{"status": "sent", "recipients": len(recipients)}}, nil
}

// send connects, upgrades to TLS when the server offers STARTTLS, and
// delivers the message. SMTP failures are classified into the three
// adapter failure modes.
func (a *EmailAdapter) send(ctx context.Context, addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classifySMTP(err)
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return classifySMTP(err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsConfig); err != nil {
			return classifySMTP(err)
		}
	}
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return domain.Wrap(domain.KindUnauthorized, ErrSMTPAuth, "%v", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return domain.Wrap(domain.KindUpstream, ErrSMTPRelay, "MAIL FROM: %v", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return domain.Wrap(domain.KindUpstream, ErrSMTPRelay, "RCPT TO %s: %v", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return domain.Wrap(domain.KindUpstream, ErrSMTPRelay, "DATA: %v", err)
	}
	if _, err := w.Write(msg); err != nil {
		return domain.Wrap(domain.KindUpstream, ErrSMTPRelay, "writing body: %v", err)
	}
	if err := w.Close(); err != nil {
		return domain.Wrap(domain.KindUpstream, ErrSMTPRelay, "closing data: %v", err)
	}
	return client.Quit()
}

func classifySMTP(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.Wrap(domain.KindTimeout, ErrSMTPTimeout, "%v", err)
	}
	return domain.Wrap(domain.KindUpstream, err, "smtp connection failed")
}

// recipientList accepts a comma-separated string or a list value.
func recipientList(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			raw = append(raw, fmt.Sprintf("%v", item))
		}
	}
	out := raw[:0]
	for _, r := range raw {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func buildMessage(from string, to []string, subject, text string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(text)
	return []byte(b.String())
}
