// Package credential stores per-account mailbox passwords in the system
// keyring, falling back to an encrypted file when no native backend is
// available.
package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailfeed"

// passwordKey builds the keyring key for one account's mailbox password.
func passwordKey(accountID string) string {
	return "account-password-" + accountID
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
		FileDir:                  "~/.config/mailfeed/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailfeed-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Password retrieves the stored mailbox password for an account.
func Password(accountID string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(passwordKey(accountID))
	if err != nil {
		return "", fmt.Errorf("getting password for account %q: %w", accountID, err)
	}

	return string(item.Data), nil
}

// StorePassword saves an account's mailbox password in the system keyring.
func StorePassword(accountID, password string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  passwordKey(accountID),
		Data: []byte(password),
	})
	if err != nil {
		return fmt.Errorf("storing password for account %q: %w", accountID, err)
	}

	return nil
}

// DeletePassword removes an account's stored password, typically when the
// account is removed from the configuration.
func DeletePassword(accountID string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(passwordKey(accountID))
	if err != nil {
		return fmt.Errorf("deleting password for account %q: %w", accountID, err)
	}

	return nil
}
