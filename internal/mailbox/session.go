package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"
)

// FolderStatus describes the selected folder at the time of selection.
// NumMessages is a snapshot; messages arriving after selection are not
// guaranteed to be visible within the current session.
type FolderStatus struct {
	Name        string
	NumMessages uint32
}

// RawMessage is one fetched message body plus the server-provided
// receive timestamp.
type RawMessage struct {
	Seq          uint32
	Raw          []byte
	InternalDate time.Time
}

// Session is a single authenticated connection to a remote mailbox.
// It is exclusively owned by its opener and must not be shared across
// goroutines.
type Session struct {
	client       *imapclient.Client
	dialer       *Dialer
	key          string
	userID       string
	fetchTimeout time.Duration
	log          zerolog.Logger

	closed bool
}

// SelectFolder selects the named folder and returns its status. A
// selection failure is reported as FolderNotFoundError.
func (s *Session) SelectFolder(name string) (FolderStatus, error) {
	data, err := s.client.Select(name, nil).Wait()
	if err != nil {
		return FolderStatus{}, &FolderNotFoundError{Folder: name, Err: err}
	}

	return FolderStatus{
		Name:        name,
		NumMessages: data.NumMessages,
	}, nil
}

// FetchMessage retrieves the full body of the message at the given
// sequence number. The fetch is bounded by the configured per-message
// timeout; a timeout surfaces as an error for this message only and
// leaves the session usable for the next one.
func (s *Session) FetchMessage(ctx context.Context, seq uint32) (*RawMessage, error) {
	var raw RawMessage
	raw.Seq = seq

	err := withTimeout(ctx, s.fetchTimeout, func() error {
		seqSet := imap.SeqSetNum(seq)
		bodySection := &imap.FetchItemBodySection{Peek: true}

		fetchOpts := &imap.FetchOptions{
			InternalDate: true,
			BodySection:  []*imap.FetchItemBodySection{bodySection},
		}

		fetchCmd := s.client.Fetch(seqSet, fetchOpts)
		defer fetchCmd.Close()

		msg := fetchCmd.Next()
		if msg == nil {
			return fmt.Errorf("message %d not found", seq)
		}

		buf, err := msg.Collect()
		if err != nil {
			return fmt.Errorf("collecting message %d: %w", seq, err)
		}

		raw.Raw = buf.FindBodySection(bodySection)
		raw.InternalDate = buf.InternalDate

		return fetchCmd.Close()
	})
	if err != nil {
		return nil, err
	}

	return &raw, nil
}

// Close logs out, closes the connection, and releases the session's
// exclusivity slot. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	defer s.dialer.release(s.key)

	if err := s.client.Logout().Wait(); err != nil {
		s.log.Debug().Err(err).Msg("mailbox logout failed")
	}

	return s.client.Close()
}
