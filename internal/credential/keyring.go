// Package credential keeps secrets (the session token, the mailbox
// password and the push keys) in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"path/filepath"
	gosync "sync"

	"github.com/99designs/keyring"
)

const serviceName = "eventdesk"

// Well-known credential keys.
const (
	KeySessionToken    = "session-token"
	KeyMailboxPassword = "mailbox-password"
	KeyPushPrivateKey  = "push-p256dh-private"
	KeyPushAuthSecret  = "push-auth-secret"
)

// ErrNotFound is returned when no credential is stored under a key.
var ErrNotFound = errors.New("credential not found")

// Vault stores string secrets by key.
type Vault interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Keyring is a Vault backed by 99designs/keyring. The underlying ring is
// opened on first use.
type Keyring struct {
	open func() (keyring.Keyring, error)

	once gosync.Once
	ring keyring.Keyring
	err  error
}

var _ Vault = (*Keyring)(nil)

// NewKeyring returns a Vault using the platform keyring. When no system
// backend is available the encrypted file backend under dir is used.
func NewKeyring(dir string) *Keyring {
	return &Keyring{open: func() (keyring.Keyring, error) {
		return keyring.Open(keyring.Config{
			ServiceName: serviceName,
			AllowedBackends: []keyring.BackendType{
				keyring.KeychainBackend,
				keyring.SecretServiceBackend,
				keyring.WinCredBackend,
				keyring.PassBackend,
				keyring.FileBackend,
			},
			FileDir:                  filepath.Join(dir, "credentials"),
			FilePasswordFunc:         keyring.FixedStringPrompt("eventdesk-file-key"),
			KeychainTrustApplication: true,
		})
	}}
}

// NewMemory returns a Vault that keeps secrets in process memory.
func NewMemory() *Keyring {
	return &Keyring{open: func() (keyring.Keyring, error) {
		return keyring.NewArrayKeyring(nil), nil
	}}
}

func (k *Keyring) keyring() (keyring.Keyring, error) {
	k.once.Do(func() {
		k.ring, k.err = k.open()
		if k.err != nil {
			k.err = fmt.Errorf("opening keyring: %w", k.err)
		}
	})
	return k.ring, k.err
}

// Get retrieves a credential value by key.
func (k *Keyring) Get(key string) (string, error) {
	ring, err := k.keyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key.
func (k *Keyring) Set(key string, value string) error {
	ring, err := k.keyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key. Deleting a missing key is not an
// error.
func (k *Keyring) Delete(key string) error {
	ring, err := k.keyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
