package model

import "time"

// Folder classifies an envelope within a user's mailbox. The set is
// open: the well-known folders below are defaults, custom names are
// stored as-is.
type Folder string

const (
	FolderInbox Folder = "inbox"
	FolderSent  Folder = "sent"
	FolderTrash Folder = "trash"
)

// Envelope is the structured representation of one email message,
// independent of transport format. Attachment content is never stored
// on the envelope, only descriptors.
type Envelope struct {
	// ID is the local row identifier (UUID), assigned on persist.
	ID string

	// UserID is the owning account. Envelopes are never shared.
	UserID string

	// MessageID is the protocol-assigned globally unique identity.
	// Empty on malformed mail; empty IDs are never deduplicated.
	MessageID string

	From    string
	To      []string
	Subject string

	BodyText string
	BodyHTML string

	// ReceivedAt is the server-provided timestamp.
	ReceivedAt time.Time

	// Headers is an opaque key/value bag of raw message headers.
	Headers map[string]string

	Attachments []Attachment

	Folder    Folder
	IsRead    bool
	IsStarred bool
}

// Attachment describes one message attachment by reference. The
// attachment bytes themselves are out of scope for ingestion.
type Attachment struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
}

// OutgoingMessage is a composed message handed to the outbound sender.
type OutgoingMessage struct {
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
}
