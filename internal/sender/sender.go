// Package sender transmits composed messages through an outbound
// transport and records accepted messages as sent mail.
package sender

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taumail/mailsync/internal/model"
	"github.com/taumail/mailsync/internal/store"
)

// Transport delivers a composed message and reports the message ID the
// transport assigned (or stamped) on confirmed acceptance.
type Transport interface {
	Deliver(ctx context.Context, msg model.OutgoingMessage) (messageID string, err error)
}

// Result is returned only on confirmed transport acceptance.
type Result struct {
	MessageID string
}

// Sender validates, transmits, and persists outbound mail.
type Sender struct {
	transport Transport
	store     store.EnvelopeStore
	log       zerolog.Logger
}

// New creates a Sender.
func New(transport Transport, st store.EnvelopeStore, log zerolog.Logger) *Sender {
	return &Sender{
		transport: transport,
		store:     st,
		log:       log,
	}
}

// Send validates msg, delivers it, and persists it into the sender's
// sent folder. Validation failures reject before any network attempt;
// transport failures leave nothing persisted.
func (s *Sender) Send(
	ctx context.Context,
	userID string,
	msg model.OutgoingMessage,
) (*Result, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}

	messageID, err := s.transport.Deliver(ctx, msg)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	// The transport normally supplies the ID it stamped; synthesize
	// one only if it did not. The persisted form is canonical
	// (no angle brackets), so an ingested copy of this message from
	// the remote sent folder dedupes against this row.
	messageID = canonicalMessageID(messageID)
	if messageID == "" {
		messageID = fmt.Sprintf("%s@mailsync", uuid.New().String())
	}

	env := model.Envelope{
		MessageID:  messageID,
		From:       msg.From,
		To:         msg.To,
		Subject:    msg.Subject,
		BodyText:   msg.Text,
		BodyHTML:   msg.HTML,
		Folder:     model.FolderSent,
		ReceivedAt: time.Now(),
	}

	inserted, err := s.store.UpsertEnvelope(ctx, env, userID)
	if err != nil {
		// The message left the building; the record did not. Surface
		// the persistence failure rather than pretending it is clean.
		return nil, fmt.Errorf("recording sent message %s: %w", messageID, err)
	}

	s.log.Info().
		Str("user", userID).
		Str("message_id", messageID).
		Bool("recorded", inserted).
		Msg("message sent")

	return &Result{MessageID: messageID}, nil
}

// canonicalMessageID strips the RFC 5322 angle brackets from a
// Message-ID header value. Parsed inbound messages carry the ID
// bracket-less, so persisted identities must match that form.
func canonicalMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}

// validate enforces the send preconditions: at least one non-empty
// recipient, a subject, and a body.
func validate(msg model.OutgoingMessage) error {
	recipient := false
	for _, to := range msg.To {
		if strings.TrimSpace(to) != "" {
			recipient = true
			break
		}
	}
	if !recipient {
		return &ValidationError{
			Field:   "to",
			Message: "at least one recipient is required",
		}
	}

	if strings.TrimSpace(msg.Subject) == "" {
		return &ValidationError{
			Field:   "subject",
			Message: "subject must not be empty",
		}
	}

	if strings.TrimSpace(msg.Text) == "" && strings.TrimSpace(msg.HTML) == "" {
		return &ValidationError{
			Field:   "body",
			Message: "message body must not be empty",
		}
	}

	return nil
}
