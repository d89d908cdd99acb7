package sender

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taumail/mailsync/internal/model"
)

const dialTimeout = 30 * time.Second

// SMTPTransport delivers composed messages over authenticated SMTP
// submission, either TLS-on-connect or STARTTLS.
type SMTPTransport struct {
	cfg model.SubmissionConfig
}

// NewSMTPTransport creates a transport for the given submission settings.
func NewSMTPTransport(cfg model.SubmissionConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg}
}

// Deliver composes and transmits msg. It stamps a Message-ID header
// before transmission and returns that ID on confirmed acceptance.
func (t *SMTPTransport) Deliver(
	ctx context.Context,
	msg model.OutgoingMessage,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	from := msg.From
	if from == "" {
		from = t.cfg.Username
	}

	messageID := newMessageID(from)
	body := composeMessage(messageID, from, msg)

	addr := t.cfg.Host + ":" + t.cfg.Port

	var err error
	if t.cfg.ImplicitTLS {
		err = t.sendWithTLS(addr, from, msg.To, body)
	} else {
		err = t.sendWithStartTLS(addr, from, msg.To, body)
	}
	if err != nil {
		return "", err
	}

	return messageID, nil
}

// newMessageID synthesizes a globally unique Message-ID using the
// sender's domain.
func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}

// composeMessage renders the RFC 5322 message. When both text and HTML
// bodies are present they are wrapped in a multipart/alternative
// container.
func composeMessage(messageID, from string, msg model.OutgoingMessage) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case msg.Text != "" && msg.HTML != "":
		boundary := uuid.New().String()
		b.WriteString(fmt.Sprintf(
			"Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary,
		))
		b.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.Text)
		b.WriteString(fmt.Sprintf("\r\n--%s\r\n", boundary))
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.HTML)
		b.WriteString(fmt.Sprintf("\r\n--%s--\r\n", boundary))
	case msg.HTML != "":
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.HTML)
	default:
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.Text)
	}

	return b.String()
}

// sendWithTLS submits the message over an implicit TLS connection.
func (t *SMTPTransport) sendWithTLS(addr, from string, to []string, body string) error {
	tlsConfig := &tls.Config{ServerName: t.cfg.Host}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("TLS dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return submit(client, from, to, body)
}

// sendWithStartTLS submits the message using STARTTLS.
func (t *SMTPTransport) sendWithStartTLS(addr, from string, to []string, body string) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: t.cfg.Host}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("SMTP STARTTLS: %w", err)
	}

	auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return submit(client, from, to, body)
}

// submit sends a message using an already-authenticated SMTP client.
func submit(client *smtp.Client, from string, to []string, body string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write([]byte(body)); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing message body: %w", err)
	}

	return client.Quit()
}
