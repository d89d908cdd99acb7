package store

import (
	"context"
	"errors"

	"github.com/taumail/mailsync/internal/model"
)

// ErrEnvelopeNotFound is returned when an envelope ID does not exist
// for the given user.
var ErrEnvelopeNotFound = errors.New("envelope not found")

// ListOptions controls folder listing: offset pagination plus an
// optional case-insensitive substring search over subject, body, and
// sender.
type ListOptions struct {
	Folder model.Folder
	Limit  int
	Offset int
	Search string
}

// FolderCount is one folder's envelope tally for a user.
type FolderCount struct {
	Folder model.Folder `db:"folder"`
	Total  int          `db:"total"`
	Unread int          `db:"unread"`
}

// FlagUpdate carries partial updates to an envelope's mutable flags.
// Nil fields are left unchanged.
type FlagUpdate struct {
	IsRead    *bool
	IsStarred *bool
}

// EnvelopeStore defines the relational persistence interface for email
// envelopes.
type EnvelopeStore interface {
	// UpsertEnvelope writes one envelope owned by userID. When the
	// envelope carries a message ID that already exists, the write is
	// a confirmed no-op and inserted is false. Envelopes without a
	// message ID always insert.
	UpsertEnvelope(ctx context.Context, env model.Envelope, userID string) (inserted bool, err error)

	ListEnvelopes(ctx context.Context, userID string, opts ListOptions) ([]model.Envelope, error)

	// CountEnvelopes counts the envelopes a ListEnvelopes call with the
	// same options would page over. Limit and Offset are ignored.
	CountEnvelopes(ctx context.Context, userID string, opts ListOptions) (int, error)

	// FolderCounts reports per-folder totals and unread counts for the
	// user. The standard folders are always present, even when empty.
	FolderCounts(ctx context.Context, userID string) ([]FolderCount, error)

	GetEnvelope(ctx context.Context, userID, id string) (*model.Envelope, error)

	UpdateFlags(ctx context.Context, userID, id string, update FlagUpdate) error

	// MoveFolder reclassifies an envelope. Deletion is a move to
	// trash; rows are never physically removed.
	MoveFolder(ctx context.Context, userID, id string, folder model.Folder) error
}
