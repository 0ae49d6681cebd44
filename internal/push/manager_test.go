package push

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/eventdesk/internal/inbox"
	"github.com/nhle/eventdesk/internal/model"
)

type fakePlatform struct {
	unsupported bool
	capability  bool
	permission  Permission
	answer      Permission
	sub         *model.PushSubscription

	capErr, permErr, subErr, unsubErr error

	calls []string
}

func (p *fakePlatform) Supported() bool { return !p.unsupported }

func (p *fakePlatform) HasCapability(context.Context) (bool, error) {
	return p.capability, nil
}

func (p *fakePlatform) RegisterCapability(context.Context) error {
	p.calls = append(p.calls, "register-capability")
	if p.capErr != nil {
		return p.capErr
	}
	p.capability = true
	return nil
}

func (p *fakePlatform) Permission(context.Context) (Permission, error) {
	if p.permission == "" {
		return PermissionDefault, nil
	}
	return p.permission, nil
}

func (p *fakePlatform) RequestPermission(context.Context) (Permission, error) {
	p.calls = append(p.calls, "request-permission")
	if p.permErr != nil {
		return PermissionDefault, p.permErr
	}
	p.permission = p.answer
	return p.answer, nil
}

func (p *fakePlatform) Subscription(context.Context) (*model.PushSubscription, error) {
	return p.sub, nil
}

func (p *fakePlatform) Subscribe(context.Context) (*model.PushSubscription, error) {
	p.calls = append(p.calls, "subscribe")
	if p.subErr != nil {
		return nil, p.subErr
	}
	p.sub = &model.PushSubscription{DeviceID: "dev-1", Endpoint: "ws://relay/push/dev-1", P256dh: "k", Auth: "a"}
	return p.sub, nil
}

func (p *fakePlatform) Unsubscribe(context.Context) error {
	p.calls = append(p.calls, "unsubscribe")
	if p.unsubErr != nil {
		return p.unsubErr
	}
	p.sub = nil
	return nil
}

type fakeRegistrar struct {
	registered []string
	err        error
}

func (r *fakeRegistrar) RegisterSubscription(_ context.Context, sub model.PushSubscription) error {
	if r.err != nil {
		return r.err
	}
	r.registered = append(r.registered, sub.Endpoint)
	return nil
}

func (r *fakeRegistrar) UnregisterSubscription(_ context.Context, sub model.PushSubscription) error {
	if r.err != nil {
		return r.err
	}
	for i, e := range r.registered {
		if e == sub.Endpoint {
			r.registered = append(r.registered[:i], r.registered[i+1:]...)
			break
		}
	}
	return nil
}

func TestStatusPriority(t *testing.T) {
	sub := &model.PushSubscription{Endpoint: "ws://relay/push/x"}
	cases := []struct {
		name string
		p    fakePlatform
		want Status
	}{
		{"unsupported wins", fakePlatform{unsupported: true, permission: PermissionDenied}, StatusUnsupported},
		{"blocked before capability", fakePlatform{permission: PermissionDenied}, StatusBlocked},
		{"capability needed", fakePlatform{permission: PermissionGranted, sub: sub}, StatusCapabilityNeeded},
		{"permission needed", fakePlatform{capability: true, sub: sub}, StatusPermissionNeeded},
		{"subscription needed", fakePlatform{capability: true, permission: PermissionGranted}, StatusSubscriptionNeeded},
		{"ready", fakePlatform{capability: true, permission: PermissionGranted, sub: sub}, StatusReady},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(&tc.p, nil, nil)
			got, err := m.Status(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEnableRunsAllSteps(t *testing.T) {
	p := &fakePlatform{answer: PermissionGranted}
	r := &fakeRegistrar{}
	m := NewManager(p, r, nil)

	sub, err := m.Enable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ws://relay/push/dev-1", sub.Endpoint)
	assert.Equal(t, []string{"register-capability", "request-permission", "subscribe"}, p.calls)
	assert.Equal(t, []string{sub.Endpoint}, r.registered)

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusReady, st)
}

func TestEnableIsIdempotent(t *testing.T) {
	p := &fakePlatform{answer: PermissionGranted}
	m := NewManager(p, nil, nil)

	_, err := m.Enable(context.Background())
	require.NoError(t, err)
	p.calls = nil

	_, err = m.Enable(context.Background())
	require.NoError(t, err)
	assert.Empty(t, p.calls)
}

func TestEnableUnsupported(t *testing.T) {
	m := NewManager(&fakePlatform{unsupported: true}, nil, nil)

	_, err := m.Enable(context.Background())
	step, ok := FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, StepCapability, step)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestEnablePermissionDeniedKeepsCapability(t *testing.T) {
	p := &fakePlatform{answer: PermissionDenied}
	m := NewManager(p, nil, nil)

	_, err := m.Enable(context.Background())
	step, ok := FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, StepPermission, step)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.True(t, p.capability)
	assert.NotContains(t, p.calls, "subscribe")

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, st)
}

func TestEnableAlreadyBlockedDoesNotPrompt(t *testing.T) {
	p := &fakePlatform{capability: true, permission: PermissionDenied}
	m := NewManager(p, nil, nil)

	_, err := m.Enable(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.NotContains(t, p.calls, "request-permission")
}

func TestEnableStepFailures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("capability", func(t *testing.T) {
		_, err := NewManager(&fakePlatform{capErr: boom}, nil, nil).Enable(context.Background())
		step, _ := FailedStep(err)
		assert.Equal(t, StepCapability, step)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("permission prompt", func(t *testing.T) {
		_, err := NewManager(&fakePlatform{permErr: boom}, nil, nil).Enable(context.Background())
		step, _ := FailedStep(err)
		assert.Equal(t, StepPermission, step)
	})

	t.Run("subscribe", func(t *testing.T) {
		p := &fakePlatform{answer: PermissionGranted, subErr: boom}
		_, err := NewManager(p, nil, nil).Enable(context.Background())
		step, _ := FailedStep(err)
		assert.Equal(t, StepSubscribe, step)
		assert.Equal(t, PermissionGranted, p.permission)
	})

	t.Run("register", func(t *testing.T) {
		p := &fakePlatform{answer: PermissionGranted}
		sub, err := NewManager(p, &fakeRegistrar{err: boom}, nil).Enable(context.Background())
		step, _ := FailedStep(err)
		assert.Equal(t, StepRegister, step)
		require.NotNil(t, sub)
		assert.NotNil(t, p.sub)
	})
}

func TestDisableKeepsCapability(t *testing.T) {
	p := &fakePlatform{answer: PermissionGranted}
	r := &fakeRegistrar{}
	m := NewManager(p, r, nil)
	_, err := m.Enable(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Disable(context.Background()))
	assert.Nil(t, p.sub)
	assert.Empty(t, r.registered)
	assert.True(t, p.capability)

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSubscriptionNeeded, st)
}

func TestDisableIgnoresRegistrarFailure(t *testing.T) {
	p := &fakePlatform{capability: true, permission: PermissionGranted,
		sub: &model.PushSubscription{Endpoint: "ws://relay/push/x"}}
	m := NewManager(p, &fakeRegistrar{err: errors.New("offline")}, nil)

	require.NoError(t, m.Disable(context.Background()))
	assert.Nil(t, p.sub)
}

func TestDisableReportsUnsubscribeFailure(t *testing.T) {
	p := &fakePlatform{sub: &model.PushSubscription{Endpoint: "x"}, unsubErr: errors.New("disk full")}
	assert.Error(t, NewManager(p, nil, nil).Disable(context.Background()))
}

func TestDisableWithoutSubscription(t *testing.T) {
	p := &fakePlatform{}
	require.NoError(t, NewManager(p, nil, nil).Disable(context.Background()))
	assert.Empty(t, p.calls)
}

func TestSendTest(t *testing.T) {
	store := inbox.New()
	p := &fakePlatform{answer: PermissionGranted}
	m := NewManager(p, nil, store)

	_, err := m.SendTest(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 0, store.Len())

	_, err = m.Enable(context.Background())
	require.NoError(t, err)

	n, err := m.SendTest(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.Timestamp.IsZero())
	assert.Equal(t, 1, store.UnreadCount())
}
