package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailsync"

// Credentials holds everything needed to open an authenticated session
// against a user's remote mailbox.
type Credentials struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`

	// TLSRequired selects implicit TLS on connect. STARTTLS is used
	// otherwise.
	TLSRequired bool `json:"tls_required"`

	// InsecureSkipVerify relaxes certificate verification. This is an
	// explicit opt-in and is logged as a security-relevant event by
	// the dialer; it is never the default.
	InsecureSkipVerify bool `json:"insecure_skip_verify"`
}

// ConfigurationError indicates that mailbox credentials for a user are
// missing or unusable. It is fatal for a sync run; there is nothing to
// retry until configuration changes.
type ConfigurationError struct {
	UserID  string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (user %s): %s", e.UserID, e.Message)
}

// IsConfigurationError reports whether err (or any error in its chain)
// is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// Store resolves mailbox credentials per user account.
type Store interface {
	// MailboxCredentials returns the connection parameters for the
	// given user, or a ConfigurationError when none are stored.
	MailboxCredentials(userID string) (Credentials, error)
}

// KeyringStore keeps per-user mailbox credentials in the system
// keyring, serialized as JSON.
type KeyringStore struct{}

// NewKeyringStore returns a Store backed by the system keyring.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailsync/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailsync-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// MailboxCredentials retrieves and decodes the stored credentials for
// userID.
func (s *KeyringStore) MailboxCredentials(userID string) (Credentials, error) {
	ring, err := openKeyring()
	if err != nil {
		return Credentials{}, err
	}

	item, err := ring.Get(credentialKey(userID))
	if err != nil {
		return Credentials{}, &ConfigurationError{
			UserID:  userID,
			Message: fmt.Sprintf("no mailbox credentials stored: %v", err),
		}
	}

	var creds Credentials
	if err := json.Unmarshal(item.Data, &creds); err != nil {
		return Credentials{}, &ConfigurationError{
			UserID:  userID,
			Message: fmt.Sprintf("stored credentials are unreadable: %v", err),
		}
	}

	if creds.Host == "" || creds.Username == "" {
		return Credentials{}, &ConfigurationError{
			UserID:  userID,
			Message: "stored credentials are incomplete (host and username required)",
		}
	}
	if creds.Port == "" {
		creds.Port = "993"
	}

	return creds, nil
}

// SetMailboxCredentials stores credentials for userID in the keyring.
func (s *KeyringStore) SetMailboxCredentials(userID string, creds Credentials) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials for %q: %w", userID, err)
	}

	err = ring.Set(keyring.Item{
		Key:  credentialKey(userID),
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("setting credentials for %q: %w", userID, err)
	}

	return nil
}

// DeleteMailboxCredentials removes the stored credentials for userID.
func (s *KeyringStore) DeleteMailboxCredentials(userID string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	if err := ring.Remove(credentialKey(userID)); err != nil {
		return fmt.Errorf("deleting credentials for %q: %w", userID, err)
	}

	return nil
}

func credentialKey(userID string) string {
	return "mailbox/" + userID
}
