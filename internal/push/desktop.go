package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/eventdesk/internal/credential"
	"github.com/nhle/eventdesk/internal/model"
)

// Setting keys used by the desktop platform.
const (
	settingDeviceID   = "push.device_id"
	settingPermission = "push.permission"
)

const authSecretLen = 16

// Store is the local persistence the desktop platform needs. The SQLite
// store implements it.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
	SavePushSubscription(ctx context.Context, sub model.PushSubscription) error
	GetPushSubscription(ctx context.Context) (*model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context) error
}

// Desktop is the Platform for a terminal client. The capability is a
// device identity: an ID plus a P-256 key pair and an auth secret kept
// in the credential vault. Permission is the user's recorded consent.
// The subscription points at the push relay's websocket for the device.
type Desktop struct {
	relayURL string
	vault    credential.Vault
	store    Store
	prompt   Prompter
	now      func() time.Time
}

var _ Platform = (*Desktop)(nil)

// NewDesktop creates the desktop platform. An empty relayURL makes push
// unsupported.
func NewDesktop(relayURL string, vault credential.Vault, store Store, prompt Prompter) *Desktop {
	return &Desktop{
		relayURL: strings.TrimRight(relayURL, "/"),
		vault:    vault,
		store:    store,
		prompt:   prompt,
		now:      time.Now,
	}
}

// Supported reports whether a relay is configured.
func (d *Desktop) Supported() bool {
	return d.relayURL != ""
}

// HasCapability reports whether the device identity exists.
func (d *Desktop) HasCapability(ctx context.Context) (bool, error) {
	_, ok, err := d.store.GetSetting(ctx, settingDeviceID)
	if err != nil || !ok {
		return false, err
	}
	for _, key := range []string{credential.KeyPushPrivateKey, credential.KeyPushAuthSecret} {
		if _, err := d.vault.Get(key); err != nil {
			if errors.Is(err, credential.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// RegisterCapability creates the device identity. It is idempotent.
func (d *Desktop) RegisterCapability(ctx context.Context) error {
	has, err := d.HasCapability(ctx)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generating device key: %w", err)
	}
	secret := make([]byte, authSecretLen)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating auth secret: %w", err)
	}

	if err := d.vault.Set(credential.KeyPushPrivateKey, encodeKey(priv.Bytes())); err != nil {
		return err
	}
	if err := d.vault.Set(credential.KeyPushAuthSecret, encodeKey(secret)); err != nil {
		return err
	}

	deviceID, ok, err := d.store.GetSetting(ctx, settingDeviceID)
	if err != nil {
		return err
	}
	if !ok {
		deviceID = uuid.New().String()
		if err := d.store.SetSetting(ctx, settingDeviceID, deviceID); err != nil {
			return err
		}
	}
	return nil
}

// Permission returns the recorded consent.
func (d *Desktop) Permission(ctx context.Context) (Permission, error) {
	v, ok, err := d.store.GetSetting(ctx, settingPermission)
	if err != nil {
		return "", err
	}
	if !ok {
		return PermissionDefault, nil
	}
	switch Permission(v) {
	case PermissionGranted, PermissionDenied:
		return Permission(v), nil
	default:
		return PermissionDefault, nil
	}
}

// RequestPermission asks the user and records the answer.
func (d *Desktop) RequestPermission(ctx context.Context) (Permission, error) {
	if d.prompt == nil {
		return PermissionDefault, errors.New("no way to ask for permission")
	}

	allow, err := d.prompt.Confirm(ctx,
		"Allow desktop notifications?",
		"eventdesk will receive pushed notifications from the event platform on this device.",
	)
	if err != nil {
		return PermissionDefault, fmt.Errorf("asking for permission: %w", err)
	}

	perm := PermissionDenied
	if allow {
		perm = PermissionGranted
	}
	if err := d.store.SetSetting(ctx, settingPermission, string(perm)); err != nil {
		return perm, err
	}
	return perm, nil
}

// ResetPermission forgets a previous answer so the next enable asks
// again.
func (d *Desktop) ResetPermission(ctx context.Context) error {
	return d.store.DeleteSetting(ctx, settingPermission)
}

// Subscription returns the stored subscription, or nil.
func (d *Desktop) Subscription(ctx context.Context) (*model.PushSubscription, error) {
	return d.store.GetPushSubscription(ctx)
}

// Subscribe creates the relay subscription for this device.
func (d *Desktop) Subscribe(ctx context.Context) (*model.PushSubscription, error) {
	deviceID, ok, err := d.store.GetSetting(ctx, settingDeviceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("device is not registered")
	}

	raw, err := d.vault.Get(credential.KeyPushPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("reading device key: %w", err)
	}
	keyBytes, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding device key: %w", err)
	}
	priv, err := ecdh.P256().NewPrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing device key: %w", err)
	}
	secret, err := d.vault.Get(credential.KeyPushAuthSecret)
	if err != nil {
		return nil, fmt.Errorf("reading auth secret: %w", err)
	}

	sub := model.PushSubscription{
		DeviceID:  deviceID,
		Endpoint:  d.relayURL + "/push/" + deviceID,
		P256dh:    encodeKey(priv.PublicKey().Bytes()),
		Auth:      secret,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.SavePushSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Unsubscribe removes the stored subscription.
func (d *Desktop) Unsubscribe(ctx context.Context) error {
	return d.store.DeletePushSubscription(ctx)
}

func encodeKey(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
