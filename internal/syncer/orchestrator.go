// Package syncer coordinates one bounded sync run per (user, folder):
// open a mailbox session, enumerate the folder snapshot, and pull each
// message through fetch, parse, and persist.
package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/taumail/mailsync/internal/credential"
	"github.com/taumail/mailsync/internal/mailbox"
	"github.com/taumail/mailsync/internal/model"
	"github.com/taumail/mailsync/internal/parse"
	"github.com/taumail/mailsync/internal/store"
)

// ErrSyncInFlight is returned when a sync run is already active for
// the same (user, folder). Concurrent runs against one folder would
// require a second session against the same mailbox, which the
// connection layer forbids.
var ErrSyncInFlight = errors.New("sync already in flight for this user and folder")

// Session is the subset of a mailbox session the orchestrator drives.
type Session interface {
	SelectFolder(name string) (mailbox.FolderStatus, error)
	FetchMessage(ctx context.Context, seq uint32) (*mailbox.RawMessage, error)
	Close() error
}

// Opener opens authenticated mailbox sessions.
type Opener interface {
	OpenSession(
		ctx context.Context,
		userID, purpose string,
		creds credential.Credentials,
	) (Session, error)
}

// DialerOpener adapts a mailbox.Dialer to the Opener interface.
type DialerOpener struct {
	Dialer *mailbox.Dialer
}

func (d DialerOpener) OpenSession(
	ctx context.Context,
	userID, purpose string,
	creds credential.Credentials,
) (Session, error) {
	sess, err := d.Dialer.Open(ctx, userID, purpose, creds)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Result summarizes a completed sync run.
type Result struct {
	// Persisted counts envelopes durably accounted for during the
	// run: freshly inserted plus confirmed duplicates.
	Persisted int

	// Inserted counts only the new rows.
	Inserted int

	// Skipped counts messages dropped for per-message reasons (parse
	// failure, fetch timeout). Skips never fail the run.
	Skipped int
}

// Orchestrator runs sync operations against injected collaborators.
// All dependencies are constructed explicitly and passed in; there is
// no module-level client or pool.
type Orchestrator struct {
	creds  credential.Store
	opener Opener
	store  store.EnvelopeStore
	log    zerolog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates an Orchestrator.
func New(
	creds credential.Store,
	opener Opener,
	st store.EnvelopeStore,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		creds:  creds,
		opener: opener,
		store:  st,
		log:    log,
		active: make(map[string]struct{}),
	}
}

// Sync executes one run for the given user and folder and reports how
// many envelopes were persisted. At most one run per (user, folder) is
// active at a time; a concurrent trigger fails with ErrSyncInFlight.
// Cancellation is honored between message iterations; rows persisted
// before cancellation stay committed.
func (o *Orchestrator) Sync(
	ctx context.Context,
	userID string,
	folder model.Folder,
) (*Result, error) {
	if folder == "" {
		folder = model.FolderInbox
	}

	key := runKey(userID, folder)
	o.mu.Lock()
	if _, busy := o.active[key]; busy {
		o.mu.Unlock()
		return nil, ErrSyncInFlight
	}
	o.active[key] = struct{}{}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.active, key)
		o.mu.Unlock()
	}()

	run := newRun(o.log, userID, folder)
	return o.runSync(ctx, run, userID, folder)
}

func (o *Orchestrator) runSync(
	ctx context.Context,
	run *run,
	userID string,
	folder model.Folder,
) (*Result, error) {
	// Credential resolution happens before any connection attempt; a
	// missing configuration is fatal with nothing to clean up.
	creds, err := o.creds.MailboxCredentials(userID)
	if err != nil {
		run.fail(err)
		return nil, err
	}

	run.transition(StateConnecting)
	sess, err := o.opener.OpenSession(
		ctx, userID, "sync/"+string(folder), creds,
	)
	if err != nil {
		run.fail(err)
		return nil, err
	}
	defer sess.Close()

	status, err := sess.SelectFolder(remoteFolderName(folder))
	if err != nil {
		run.fail(err)
		return nil, err
	}
	run.transition(StateFolderSelected)

	// The message count is a snapshot at selection time. Messages
	// arriving mid-run are picked up by the next run.
	run.transition(StateEnumerating)
	total := status.NumMessages

	res := &Result{}
	for seq := uint32(1); seq <= total; seq++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			run.fail(ctxErr)
			return res, ctxErr
		}

		run.transition(StateFetching)
		raw, err := sess.FetchMessage(ctx, seq)
		if err != nil {
			if ctx.Err() != nil {
				run.fail(ctx.Err())
				return res, ctx.Err()
			}
			res.Skipped++
			run.log.Warn().
				Uint32("seq", seq).
				Err(err).
				Msg("fetch failed, skipping message")
			continue
		}

		run.transition(StateParsing)
		env, err := parse.Message(bytes.NewReader(raw.Raw))
		if err != nil {
			res.Skipped++
			run.log.Warn().
				Uint32("seq", seq).
				Err(err).
				Msg("parse failed, skipping message")
			continue
		}

		env.Folder = folder
		if !raw.InternalDate.IsZero() {
			env.ReceivedAt = raw.InternalDate
		}

		run.transition(StatePersisting)
		inserted, err := o.store.UpsertEnvelope(ctx, *env, userID)
		if err != nil {
			// A storage failure is systemic, not per-message.
			run.fail(err)
			return res, fmt.Errorf("persisting message %d: %w", seq, err)
		}

		res.Persisted++
		if inserted {
			res.Inserted++
		}
	}

	run.complete(res)
	return res, nil
}

func runKey(userID string, folder model.Folder) string {
	return userID + "/" + string(folder)
}

// remoteFolderName maps a local folder classification to the
// conventional IMAP mailbox name. Custom folder names pass through
// unchanged.
func remoteFolderName(folder model.Folder) string {
	switch folder {
	case model.FolderInbox:
		return "INBOX"
	case model.FolderSent:
		return "Sent"
	case model.FolderTrash:
		return "Trash"
	default:
		return string(folder)
	}
}
