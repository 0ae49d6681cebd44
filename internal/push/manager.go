// Package push manages this device's push subscription.
//
// Enabling push is three independent steps: register the device's
// delivery capability, obtain the user's permission, then subscribe and
// register the subscription with the platform. A failing step aborts the
// flow and is reported by name; earlier steps keep their effect.
package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/eventdesk/internal/model"
)

var (
	// ErrUnsupported is returned when the device cannot receive push.
	ErrUnsupported = errors.New("push notifications are not supported on this device")

	// ErrPermissionDenied is returned when the user refused permission.
	ErrPermissionDenied = errors.New("notification permission denied")

	// ErrNotReady is returned by SendTest before push is fully enabled.
	ErrNotReady = errors.New("push notifications are not enabled")
)

// Step names a stage of the enable flow.
type Step string

const (
	StepCapability Step = "capability"
	StepPermission Step = "permission"
	StepSubscribe  Step = "subscribe"
	StepRegister   Step = "register"
)

// StepError reports which step of the enable flow failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("push %s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// FailedStep returns the step recorded in err, if any.
func FailedStep(err error) (Step, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}

// Permission is the user's answer to the notification prompt.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Status summarises the device's push state.
type Status string

const (
	StatusUnsupported        Status = "unsupported"
	StatusBlocked            Status = "blocked"
	StatusCapabilityNeeded   Status = "capability-needed"
	StatusPermissionNeeded   Status = "permission-needed"
	StatusSubscriptionNeeded Status = "subscription-needed"
	StatusReady              Status = "ready"
)

// Platform is the device's notification facility.
type Platform interface {
	Supported() bool
	HasCapability(ctx context.Context) (bool, error)
	RegisterCapability(ctx context.Context) error
	Permission(ctx context.Context) (Permission, error)
	RequestPermission(ctx context.Context) (Permission, error)
	Subscription(ctx context.Context) (*model.PushSubscription, error)
	Subscribe(ctx context.Context) (*model.PushSubscription, error)
	Unsubscribe(ctx context.Context) error
}

// Registrar records subscriptions with the platform API.
type Registrar interface {
	RegisterSubscription(ctx context.Context, sub model.PushSubscription) error
	UnregisterSubscription(ctx context.Context, sub model.PushSubscription) error
}

// Sink receives locally generated notifications.
type Sink interface {
	Add(n model.Notification) model.Notification
}

// Manager orchestrates the enable and disable flows.
type Manager struct {
	platform  Platform
	registrar Registrar
	sink      Sink
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a Manager. registrar and sink may be nil.
func NewManager(platform Platform, registrar Registrar, sink Sink, opts ...Option) *Manager {
	m := &Manager{
		platform:  platform,
		registrar: registrar,
		sink:      sink,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enable runs the three-step enable flow and returns the active
// subscription.
func (m *Manager) Enable(ctx context.Context) (*model.PushSubscription, error) {
	if !m.platform.Supported() {
		return nil, &StepError{Step: StepCapability, Err: ErrUnsupported}
	}

	has, err := m.platform.HasCapability(ctx)
	if err != nil {
		return nil, &StepError{Step: StepCapability, Err: err}
	}
	if !has {
		if err := m.platform.RegisterCapability(ctx); err != nil {
			return nil, &StepError{Step: StepCapability, Err: err}
		}
		m.log.Info().Msg("push capability registered")
	}

	perm, err := m.platform.Permission(ctx)
	if err != nil {
		return nil, &StepError{Step: StepPermission, Err: err}
	}
	if perm == PermissionDefault {
		perm, err = m.platform.RequestPermission(ctx)
		if err != nil {
			return nil, &StepError{Step: StepPermission, Err: err}
		}
	}
	if perm != PermissionGranted {
		return nil, &StepError{Step: StepPermission, Err: ErrPermissionDenied}
	}

	sub, err := m.platform.Subscription(ctx)
	if err != nil {
		return nil, &StepError{Step: StepSubscribe, Err: err}
	}
	if sub == nil {
		sub, err = m.platform.Subscribe(ctx)
		if err != nil {
			return nil, &StepError{Step: StepSubscribe, Err: err}
		}
	}

	if m.registrar != nil {
		if err := m.registrar.RegisterSubscription(ctx, *sub); err != nil {
			return sub, &StepError{Step: StepRegister, Err: err}
		}
	}

	m.log.Info().Str("endpoint", sub.Endpoint).Msg("push enabled")
	return sub, nil
}

// Disable removes the subscription. Unregistering with the platform API is
// best effort; the device capability is kept.
func (m *Manager) Disable(ctx context.Context) error {
	sub, err := m.platform.Subscription(ctx)
	if err != nil {
		return fmt.Errorf("reading push subscription: %w", err)
	}
	if sub == nil {
		return nil
	}

	if m.registrar != nil {
		if err := m.registrar.UnregisterSubscription(ctx, *sub); err != nil {
			m.log.Warn().Err(err).Msg("unregistering push subscription")
		}
	}

	if err := m.platform.Unsubscribe(ctx); err != nil {
		return fmt.Errorf("unsubscribing: %w", err)
	}

	m.log.Info().Msg("push disabled")
	return nil
}

// Status reports the first unmet precondition, in the order unsupported,
// blocked, capability, permission, subscription.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if !m.platform.Supported() {
		return StatusUnsupported, nil
	}

	perm, err := m.platform.Permission(ctx)
	if err != nil {
		return "", fmt.Errorf("reading permission: %w", err)
	}
	if perm == PermissionDenied {
		return StatusBlocked, nil
	}

	has, err := m.platform.HasCapability(ctx)
	if err != nil {
		return "", fmt.Errorf("reading capability: %w", err)
	}
	if !has {
		return StatusCapabilityNeeded, nil
	}

	if perm != PermissionGranted {
		return StatusPermissionNeeded, nil
	}

	sub, err := m.platform.Subscription(ctx)
	if err != nil {
		return "", fmt.Errorf("reading subscription: %w", err)
	}
	if sub == nil {
		return StatusSubscriptionNeeded, nil
	}

	return StatusReady, nil
}

// SendTest delivers a local test notification.
func (m *Manager) SendTest(ctx context.Context) (model.Notification, error) {
	st, err := m.Status(ctx)
	if err != nil {
		return model.Notification{}, err
	}
	if st != StatusReady {
		return model.Notification{}, fmt.Errorf("%w (status %s)", ErrNotReady, st)
	}
	if m.sink == nil {
		return model.Notification{}, errors.New("no inbox to deliver to")
	}

	n := m.sink.Add(model.Notification{
		Type:      model.NotificationInfo,
		Priority:  model.PriorityLow,
		Title:     "Test notification",
		Message:   "Push notifications are working on this device.",
		Category:  "push",
		Timestamp: m.now(),
	})
	return n, nil
}
