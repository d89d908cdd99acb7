package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taumail/mailsync/internal/credential"
	"github.com/taumail/mailsync/internal/model"
)

func TestNewDialer_TimeoutDefaults(t *testing.T) {
	d := NewDialer(zerolog.Nop(), model.MailboxConfig{})
	assert.Equal(t, 30*time.Second, d.connectTimeout)
	assert.Equal(t, 60*time.Second, d.fetchTimeout)

	d = NewDialer(zerolog.Nop(), model.MailboxConfig{
		ConnectTimeoutSec: 5,
		FetchTimeoutSec:   10,
	})
	assert.Equal(t, 5*time.Second, d.connectTimeout)
	assert.Equal(t, 10*time.Second, d.fetchTimeout)
}

func TestOpen_RejectsSecondSessionForSameUserAndPurpose(t *testing.T) {
	d := NewDialer(zerolog.Nop(), model.MailboxConfig{})

	// Claim the slot as an open session would.
	key := sessionKey("user-1", "sync/inbox")
	d.mu.Lock()
	d.active[key] = struct{}{}
	d.mu.Unlock()

	_, err := d.Open(context.Background(), "user-1", "sync/inbox", credential.Credentials{
		Host: "mail.example.com", Port: "993",
	})
	require.Error(t, err)
	assert.True(t, IsAlreadyConnected(err))

	var acErr *AlreadyConnectedError
	require.ErrorAs(t, err, &acErr)
	assert.Equal(t, "user-1", acErr.UserID)
	assert.Equal(t, "sync/inbox", acErr.Purpose)
}

func TestOpen_ReleasesSlotOnConnectFailure(t *testing.T) {
	d := NewDialer(zerolog.Nop(), model.MailboxConfig{ConnectTimeoutSec: 1})

	// No listener on this address; the dial fails fast and the slot
	// must be reusable afterwards.
	creds := credential.Credentials{
		Host: "127.0.0.1", Port: "1", TLSRequired: true,
	}

	_, err := d.Open(context.Background(), "user-1", "sync/inbox", creds)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))

	d.mu.Lock()
	_, busy := d.active[sessionKey("user-1", "sync/inbox")]
	d.mu.Unlock()
	assert.False(t, busy, "a failed connect must not leave the slot claimed")
}

func TestWithTimeout_ReturnsFnResult(t *testing.T) {
	sentinel := errors.New("fn failed")
	err := withTimeout(context.Background(), time.Second, func() error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	err = withTimeout(context.Background(), time.Second, func() error {
		return nil
	})
	assert.NoError(t, err)
}

func TestWithTimeout_ExpiresOnSlowFn(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	err := withTimeout(context.Background(), 10*time.Millisecond, func() error {
		<-block
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireWithTimeout_ReturnsAcquiredValue(t *testing.T) {
	released := false
	v, err := acquireWithTimeout(context.Background(), time.Second,
		func() (int, error) { return 42, nil },
		func(int) { released = true },
	)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.False(t, released)
}

func TestAcquireWithTimeout_ReleasesLateAcquisition(t *testing.T) {
	gate := make(chan struct{})
	released := make(chan int, 1)

	_, err := acquireWithTimeout(context.Background(), 10*time.Millisecond,
		func() (int, error) {
			<-gate
			return 42, nil
		},
		func(v int) { released <- v },
	)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The acquisition completes after the caller has given up; the
	// abandoned goroutine must hand the resource to release.
	close(gate)
	select {
	case v := <-released:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("late acquisition was never released")
	}
}

func TestAcquireWithTimeout_DoesNotReleaseLateFailure(t *testing.T) {
	gate := make(chan struct{})
	released := make(chan int, 1)

	_, err := acquireWithTimeout(context.Background(), 10*time.Millisecond,
		func() (int, error) {
			<-gate
			return 0, errors.New("acquire failed")
		},
		func(v int) { released <- v },
	)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	select {
	case <-released:
		t.Fatal("a failed acquisition has nothing to release")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWithTimeout_HonorsCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	defer close(block)

	err := withTimeout(ctx, time.Minute, func() error {
		<-block
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
