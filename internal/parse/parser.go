// Package parse converts raw message bodies into structured envelopes.
// Parsing is a pure transform: it performs no lookups and no I/O
// beyond reading the input stream.
package parse

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/taumail/mailsync/internal/model"
)

// ParseError indicates a message body could not be parsed at all.
// Individual missing fields (Message-ID, HTML body, headers) are not
// errors; they resolve to empty values.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err (or any error in its chain) is a
// ParseError.
func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

// Message parses a raw RFC 5322 message stream into an Envelope.
// Attachments contribute name/size/content-type descriptors only;
// their bytes are discarded.
func Message(r io.Reader) (*model.Envelope, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, &ParseError{Reason: "reading message header", Err: err}
	}
	defer mr.Close()

	env := &model.Envelope{
		Headers: make(map[string]string),
	}

	h := mr.Header

	// Each of these may legitimately be absent on malformed mail;
	// absence resolves to the zero value.
	if msgID, err := h.MessageID(); err == nil {
		env.MessageID = msgID
	}
	if subject, err := h.Subject(); err == nil {
		env.Subject = subject
	}
	if date, err := h.Date(); err == nil {
		env.ReceivedAt = date
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		env.From = formatAddress(from[0])
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, addr := range to {
			env.To = append(env.To, addr.Address)
		}
	}

	fields := h.Fields()
	for fields.Next() {
		text, err := fields.Text()
		if err != nil {
			text = fields.Value()
		}
		env.Headers[fields.Key()] = text
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken part does not invalidate what was already
			// extracted.
			break
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				env.BodyText = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				env.BodyHTML = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			contentType, _, _ := ph.ContentType()

			// Count the size without keeping the content.
			size, readErr := io.Copy(io.Discard, part.Body)
			if readErr != nil {
				continue
			}

			env.Attachments = append(env.Attachments, model.Attachment{
				Filename: filename,
				Size:     size,
				MIMEType: contentType,
			})
		}
	}

	return env, nil
}

// formatAddress renders a sender address with its display name when
// one is present.
func formatAddress(addr *mail.Address) string {
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
	}
	return addr.Address
}
