package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/taumail/mailsync/internal/credential"
	"github.com/taumail/mailsync/internal/model"
)

// Dialer opens authenticated sessions against remote mailboxes. It
// enforces session exclusivity: at most one open session per
// (user, purpose) pair at a time. A Dialer is safe for concurrent use;
// the Sessions it returns are not.
type Dialer struct {
	log            zerolog.Logger
	connectTimeout time.Duration
	fetchTimeout   time.Duration

	mu     sync.Mutex
	active map[string]struct{}
}

// NewDialer creates a Dialer with timeouts taken from cfg.
func NewDialer(log zerolog.Logger, cfg model.MailboxConfig) *Dialer {
	connectTimeout := time.Duration(cfg.ConnectTimeoutSec) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	fetchTimeout := time.Duration(cfg.FetchTimeoutSec) * time.Second
	if fetchTimeout <= 0 {
		fetchTimeout = 60 * time.Second
	}

	return &Dialer{
		log:            log,
		connectTimeout: connectTimeout,
		fetchTimeout:   fetchTimeout,
		active:         make(map[string]struct{}),
	}
}

// Open connects to the user's mailbox, authenticates, and returns an
// exclusively owned session. The caller must call Close on the
// returned session. A second Open for the same (user, purpose) while a
// session is open fails with AlreadyConnectedError.
func (d *Dialer) Open(
	ctx context.Context,
	userID, purpose string,
	creds credential.Credentials,
) (*Session, error) {
	key := sessionKey(userID, purpose)

	d.mu.Lock()
	if _, busy := d.active[key]; busy {
		d.mu.Unlock()
		return nil, &AlreadyConnectedError{UserID: userID, Purpose: purpose}
	}
	d.active[key] = struct{}{}
	d.mu.Unlock()

	client, err := d.connect(ctx, userID, creds)
	if err != nil {
		d.release(key)
		return nil, err
	}

	return &Session{
		client:       client,
		dialer:       d,
		key:          key,
		userID:       userID,
		fetchTimeout: d.fetchTimeout,
		log: d.log.With().
			Str("user", userID).
			Str("purpose", purpose).Logger(),
	}, nil
}

// connect dials, secures, and authenticates the connection within the
// configured connect timeout.
func (d *Dialer) connect(
	ctx context.Context,
	userID string,
	creds credential.Credentials,
) (*imapclient.Client, error) {
	addr := net.JoinHostPort(creds.Host, creds.Port)

	options := &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: creds.Host},
	}

	if creds.InsecureSkipVerify {
		// Relaxed verification is an explicit opt-in and must never
		// pass silently.
		d.log.Warn().
			Str("user", userID).
			Str("host", creds.Host).
			Msg("TLS certificate verification disabled for mailbox connection")
		options.TLSConfig.InsecureSkipVerify = true
	}

	// On timeout the dial keeps running in its abandoned goroutine; if
	// it still manages to authenticate, the session is closed there
	// rather than left open against the server.
	client, err := acquireWithTimeout(ctx, d.connectTimeout,
		func() (*imapclient.Client, error) {
			var c *imapclient.Client
			var dialErr error
			if creds.TLSRequired {
				c, dialErr = imapclient.DialTLS(addr, options)
			} else {
				c, dialErr = imapclient.DialStartTLS(addr, options)
			}
			if dialErr != nil {
				return nil, &ConnectionError{Addr: addr, Err: dialErr}
			}

			if loginErr := c.Login(creds.Username, creds.Password).Wait(); loginErr != nil {
				_ = c.Close()
				return nil, &AuthError{
					Username: creds.Username,
					Message: fmt.Sprintf(
						"authentication failed: %v", loginErr,
					),
				}
			}
			return c, nil
		},
		func(c *imapclient.Client) {
			_ = c.Close()
		},
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &ConnectionError{Addr: addr, Err: err}
		}
		return nil, err
	}

	d.log.Debug().
		Str("user", userID).
		Str("addr", addr).
		Bool("tls", creds.TLSRequired).
		Msg("mailbox session established")

	return client, nil
}

// release frees the exclusivity slot for a session key.
func (d *Dialer) release(key string) {
	d.mu.Lock()
	delete(d.active, key)
	d.mu.Unlock()
}

func sessionKey(userID, purpose string) string {
	return userID + "/" + purpose
}
