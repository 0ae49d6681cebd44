package model

import "time"

// PushSubscription is the device's registration with the push relay. Its
// shape mirrors the platform's subscribe request: an endpoint plus the
// p256dh and auth keys, both base64url encoded.
type PushSubscription struct {
	DeviceID  string    `json:"device_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}

// Keys returns the subscription keys in the platform's wire layout.
func (s PushSubscription) Keys() map[string]string {
	return map[string]string{
		"p256dh": s.P256dh,
		"auth":   s.Auth,
	}
}
