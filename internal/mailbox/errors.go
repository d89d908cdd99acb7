package mailbox

import (
	"errors"
	"fmt"
)

// AuthError indicates the remote mailbox rejected the credentials.
// It is fatal for the current run; a later run may retry.
type AuthError struct {
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Username, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ConnectionError indicates a transport-level failure while opening or
// securing the mailbox connection.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is a ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// AlreadyConnectedError is returned when a session is already open for
// the same (user, purpose) pair. Sessions are exclusively owned and
// never shared across concurrent callers.
type AlreadyConnectedError struct {
	UserID  string
	Purpose string
}

func (e *AlreadyConnectedError) Error() string {
	return fmt.Sprintf(
		"session already open for user %s (%s)", e.UserID, e.Purpose,
	)
}

// IsAlreadyConnected reports whether err is an AlreadyConnectedError.
func IsAlreadyConnected(err error) bool {
	var acErr *AlreadyConnectedError
	return errors.As(err, &acErr)
}

// FolderNotFoundError indicates the requested folder does not exist on
// the remote mailbox.
type FolderNotFoundError struct {
	Folder string
	Err    error
}

func (e *FolderNotFoundError) Error() string {
	return fmt.Sprintf("folder %q not found: %v", e.Folder, e.Err)
}

func (e *FolderNotFoundError) Unwrap() error { return e.Err }

// IsFolderNotFound reports whether err is a FolderNotFoundError.
func IsFolderNotFound(err error) bool {
	var nfErr *FolderNotFoundError
	return errors.As(err, &nfErr)
}
