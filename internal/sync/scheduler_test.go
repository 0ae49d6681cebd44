package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/eventdesk/internal/clock"
	"github.com/nhle/eventdesk/internal/inbox"
	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/source"
	"github.com/nhle/eventdesk/tests/testutil"
)

var errUnreachable = errors.New("connection refused")

// fakeFetcher returns queued errors in order and succeeds once the queue
// is empty. When gate is set every fetch waits for a value on it.
type fakeFetcher struct {
	mu        gosync.Mutex
	errs      []error
	batch     []model.Notification
	gate      chan struct{}
	started   chan struct{}
	count     int
	active    int
	maxActive int
}

func newFakeFetcher(errs ...error) *fakeFetcher {
	return &fakeFetcher{errs: errs, started: make(chan struct{}, 64)}
}

func (f *fakeFetcher) Type() source.SourceType { return source.SourceTypeAPI }

func (f *fakeFetcher) FetchNotifications(ctx context.Context) ([]model.Notification, error) {
	f.mu.Lock()
	f.count++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	batch := append([]model.Notification(nil), f.batch...)
	gate := f.gate
	f.mu.Unlock()

	f.started <- struct{}{}

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeFetcher) failAlways() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = make([]error, 100)
	for i := range f.errs {
		f.errs[i] = errUnreachable
	}
}

func (f *fakeFetcher) succeed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = nil
}

type fakeAuth struct{ ok atomic.Bool }

func (a *fakeAuth) IsAuthenticated() bool { return a.ok.Load() }

type fixture struct {
	s     *Scheduler
	clk   *clock.FakeClock
	f     *fakeFetcher
	auth  *fakeAuth
	inbox *inbox.Store
}

func testConfig() Config {
	return Config{
		BaseInterval:           30 * time.Second,
		MaxInterval:            300 * time.Second,
		Multiplier:             2,
		MaxRetries:             5,
		VisibilityOptimization: true,
		FetchTimeout:           time.Minute,
	}
}

func newFixture(t *testing.T, f *fakeFetcher) *fixture {
	t.Helper()

	fx := &fixture{
		clk:   clock.Fake(testutil.Epoch),
		f:     f,
		auth:  &fakeAuth{},
		inbox: inbox.New(),
	}
	fx.auth.ok.Store(true)
	fx.s = New(testConfig(), f, fx.auth, fx.inbox, WithClock(fx.clk))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fx.s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return fx
}

// settle waits until the n-th fetch has completed. When polling is still
// active it also waits for the next timer to be armed.
func (fx *fixture) settle(t *testing.T, n int) Status {
	t.Helper()
	require.Eventually(t, func() bool {
		st := fx.s.Snapshot()
		return fx.f.calls() >= n && !st.InFlight && (!st.Polling || !st.NextPollAt.IsZero())
	}, 2*time.Second, time.Millisecond)

	st := fx.s.Snapshot()
	if st.Polling {
		fx.clk.WaitForTimers(1)
	}
	return st
}

func (fx *fixture) nextDeadline(t *testing.T) time.Duration {
	t.Helper()
	d, ok := fx.clk.NextDeadline()
	require.True(t, ok, "no poll scheduled")
	return d
}

func TestStartPollingRequiresSession(t *testing.T) {
	fx := newFixture(t, newFakeFetcher())
	fx.auth.ok.Store(false)

	assert.False(t, fx.s.StartPolling())
	st := fx.s.Snapshot()
	assert.Equal(t, StateIdle, st.State)
	assert.False(t, st.Polling)
	assert.Equal(t, 0, fx.f.calls())
}

func TestStartPollingFetchesImmediately(t *testing.T) {
	f := newFakeFetcher()
	f.batch = []model.Notification{testutil.Notification("a", 1), testutil.Notification("b", 2)}
	fx := newFixture(t, f)

	require.True(t, fx.s.StartPolling())
	st := fx.settle(t, 1)

	assert.Equal(t, StatePolling, st.State)
	assert.Equal(t, 30*time.Second, st.NextDelay)
	assert.Equal(t, 30*time.Second, fx.nextDeadline(t))
	assert.Equal(t, testutil.Epoch, st.LastSuccess)
	assert.Equal(t, 2, fx.inbox.Len())

	fx.clk.Advance(30 * time.Second)
	fx.settle(t, 2)
	assert.Equal(t, 2, fx.inbox.Len(), "merge is idempotent")
}

func TestBackoffUntilGiveUp(t *testing.T) {
	f := newFakeFetcher()
	f.failAlways()
	fx := newFixture(t, f)

	require.True(t, fx.s.StartPolling())

	want := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 300 * time.Second}
	for i, d := range want {
		st := fx.settle(t, i+1)
		assert.Equal(t, StateBackingOff, st.State)
		assert.Equal(t, i+1, st.Failures)
		assert.Equal(t, d, st.Interval)
		assert.Equal(t, d, fx.nextDeadline(t))
		fx.clk.Advance(d)
	}

	st := fx.settle(t, 5)
	assert.Equal(t, StateStopped, st.State)
	assert.False(t, st.Polling)
	assert.True(t, st.NextPollAt.IsZero())
	assert.ErrorIs(t, st.LastError, errUnreachable)
	assert.Equal(t, 0, fx.clk.PendingCount())

	var kinds []EventKind
	for len(fx.s.Events()) > 0 {
		kinds = append(kinds, (<-fx.s.Events()).Kind)
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, EventStarted, kinds[0])
	assert.Equal(t, EventGaveUp, kinds[len(kinds)-1])

	fx.clk.Advance(time.Hour)
	assert.Never(t, func() bool { return fx.f.calls() > 5 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestResetAfterGiveUpResumes(t *testing.T) {
	f := newFakeFetcher()
	f.failAlways()
	fx := newFixture(t, f)
	cfg := testConfig()
	cfg.MaxRetries = 2
	fx.s.Apply(cfg)

	require.True(t, fx.s.StartPolling())
	fx.settle(t, 1)
	fx.clk.Advance(fx.nextDeadline(t))
	st := fx.settle(t, 2)
	require.Equal(t, StateStopped, st.State)

	f.succeed()
	fx.s.ResetPolling()

	st = fx.settle(t, 3)
	assert.Equal(t, StatePolling, st.State)
	assert.True(t, st.Polling)
	assert.Equal(t, 0, st.Failures)
	assert.Equal(t, 30*time.Second, st.Interval)
	assert.Equal(t, 30*time.Second, fx.nextDeadline(t))
}

func TestResetWhileBackingOffPollsNow(t *testing.T) {
	f := newFakeFetcher(errUnreachable, errUnreachable)
	fx := newFixture(t, f)

	require.True(t, fx.s.StartPolling())
	fx.settle(t, 1)
	fx.clk.Advance(60 * time.Second)
	st := fx.settle(t, 2)
	require.Equal(t, 120*time.Second, st.Interval)

	fx.s.ResetPolling()
	st = fx.settle(t, 3)
	assert.Equal(t, 0, st.Failures)
	assert.Equal(t, 30*time.Second, st.NextDelay)
}

func TestResetWhileIdleDoesNotStart(t *testing.T) {
	fx := newFixture(t, newFakeFetcher())

	fx.s.ResetPolling()
	assert.Never(t, func() bool { return fx.f.calls() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, StateIdle, fx.s.Snapshot().State)
}

func TestSuccessResetsBackoff(t *testing.T) {
	f := newFakeFetcher(errUnreachable, errUnreachable)
	fx := newFixture(t, f)

	require.True(t, fx.s.StartPolling())
	fx.settle(t, 1)
	fx.clk.Advance(60 * time.Second)
	fx.settle(t, 2)
	fx.clk.Advance(120 * time.Second)

	st := fx.settle(t, 3)
	assert.Equal(t, StatePolling, st.State)
	assert.Equal(t, 0, st.Failures)
	assert.Equal(t, 30*time.Second, st.Interval)
	assert.Nil(t, st.LastError)
}

func TestHiddenFailureDoublesDelay(t *testing.T) {
	f := newFakeFetcher(errUnreachable)
	fx := newFixture(t, f)
	fx.s.SetVisible(false)

	require.True(t, fx.s.StartPolling())
	st := fx.settle(t, 1)
	assert.Equal(t, 60*time.Second, st.Interval)
	assert.Equal(t, 120*time.Second, st.NextDelay)
	assert.Equal(t, 120*time.Second, fx.nextDeadline(t))

	fx.clk.Advance(120 * time.Second)
	st = fx.settle(t, 2)
	assert.Equal(t, 30*time.Second, st.Interval)
	assert.Equal(t, 60*time.Second, st.NextDelay)
}

func TestHiddenDelayIsCappedAtMax(t *testing.T) {
	f := newFakeFetcher(errUnreachable, errUnreachable, errUnreachable)
	fx := newFixture(t, f)
	fx.s.SetVisible(false)

	require.True(t, fx.s.StartPolling())
	for i, d := range []time.Duration{120 * time.Second, 240 * time.Second, 300 * time.Second} {
		st := fx.settle(t, i+1)
		assert.Equal(t, d, st.NextDelay)
		fx.clk.Advance(d)
	}
}

func TestVisibleWithStaleDataPollsNow(t *testing.T) {
	fx := newFixture(t, newFakeFetcher())
	fx.s.SetVisible(false)

	require.True(t, fx.s.StartPolling())
	st := fx.settle(t, 1)
	require.Equal(t, 60*time.Second, st.NextDelay)

	fx.clk.Advance(10 * time.Second)
	fx.s.SetVisible(true)
	assert.Never(t, func() bool { return fx.f.calls() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	fx.s.SetVisible(false)
	fx.clk.Advance(35 * time.Second)
	fx.s.SetVisible(true)
	fx.settle(t, 2)
	assert.Equal(t, 2, fx.f.calls())
}

func TestBackOnlineResetsAndPolls(t *testing.T) {
	f := newFakeFetcher(errUnreachable, errUnreachable)
	fx := newFixture(t, f)

	require.True(t, fx.s.StartPolling())
	fx.settle(t, 1)
	fx.clk.Advance(60 * time.Second)
	st := fx.settle(t, 2)
	require.Equal(t, 2, st.Failures)

	fx.s.SetOnline(false)
	assert.False(t, fx.s.Snapshot().Online)
	fx.s.SetOnline(true)

	st = fx.settle(t, 3)
	assert.Equal(t, 0, st.Failures)
	assert.Equal(t, 30*time.Second, st.Interval)
	assert.True(t, st.Online)
}

func TestPollNowRequiresActivePolling(t *testing.T) {
	fx := newFixture(t, newFakeFetcher())
	assert.False(t, fx.s.PollNow())

	require.True(t, fx.s.StartPolling())
	fx.settle(t, 1)
	assert.True(t, fx.s.PollNow())
	st := fx.settle(t, 2)
	assert.Equal(t, 30*time.Second, st.NextDelay)
	assert.Equal(t, 30*time.Second, fx.nextDeadline(t))
}

func TestPollsNeverOverlap(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{})
	fx := newFixture(t, f)

	require.True(t, fx.s.StartPolling())
	<-f.started

	for i := 0; i < 5; i++ {
		fx.s.PollNow()
		fx.s.SetOnline(false)
		fx.s.SetOnline(true)
		fx.s.ResetPolling()
	}
	assert.Never(t, func() bool { return fx.f.calls() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	f.gate <- struct{}{}
	<-f.started
	f.gate <- struct{}{}
	fx.settle(t, 2)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.maxActive)
}

func TestStopDropsLateResult(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{})
	f.batch = []model.Notification{testutil.Notification("late", 1)}
	fx := newFixture(t, f)

	require.True(t, fx.s.StartPolling())
	<-f.started

	fx.s.StopPolling()
	f.gate <- struct{}{}

	require.Eventually(t, func() bool { return !fx.s.Snapshot().InFlight }, 2*time.Second, time.Millisecond)
	st := fx.s.Snapshot()
	assert.Equal(t, StateIdle, st.State)
	assert.True(t, st.NextPollAt.IsZero())
	assert.Equal(t, 0, fx.inbox.Len())
	assert.Equal(t, 0, fx.clk.PendingCount())
}

// blockingSink holds every merge at entry until release is closed.
type blockingSink struct {
	inner   *inbox.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSink) MergeIf(ns []model.Notification, current func() bool) (int, bool) {
	b.entered <- struct{}{}
	<-b.release
	return b.inner.MergeIf(ns, current)
}

func TestSignOutDuringMergeDropsBatch(t *testing.T) {
	f := newFakeFetcher()
	f.batch = []model.Notification{testutil.Notification("old-account", 1)}
	store := inbox.New()
	sink := &blockingSink{inner: store, entered: make(chan struct{}, 1), release: make(chan struct{})}
	auth := &fakeAuth{}
	auth.ok.Store(true)

	s := New(testConfig(), f, auth, sink, WithClock(clock.Fake(testutil.Epoch)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.True(t, s.StartPolling())
	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("poll never reached the sink")
	}

	auth.ok.Store(false)
	s.StopPolling()
	store.ClearAll()
	close(sink.release)

	require.Eventually(t, func() bool { return !s.Snapshot().InFlight }, 2*time.Second, time.Millisecond)
	assert.False(t, s.IsPolling())
	assert.Equal(t, 0, store.Len())
}

func TestStopIsIdempotent(t *testing.T) {
	fx := newFixture(t, newFakeFetcher())
	fx.s.StopPolling()

	require.True(t, fx.s.StartPolling())
	fx.settle(t, 1)
	fx.s.StopPolling()
	fx.s.StopPolling()

	assert.Equal(t, StateIdle, fx.s.Snapshot().State)
	assert.Eventually(t, func() bool { return fx.clk.PendingCount() == 0 }, time.Second, time.Millisecond)
}

func TestApplyReschedules(t *testing.T) {
	fx := newFixture(t, newFakeFetcher())

	require.True(t, fx.s.StartPolling())
	fx.settle(t, 1)

	cfg := testConfig()
	cfg.BaseInterval = 10 * time.Second
	fx.s.Apply(cfg)

	require.Eventually(t, func() bool {
		d, ok := fx.clk.NextDeadline()
		return ok && d == 10*time.Second
	}, time.Second, time.Millisecond)
	assert.Equal(t, 10*time.Second, fx.s.Snapshot().Interval)
}

func TestAuthFailureIsReported(t *testing.T) {
	authErr := &source.AuthError{SourceType: source.SourceTypeAPI, Message: "Token has expired"}
	fx := newFixture(t, newFakeFetcher(authErr))

	require.True(t, fx.s.StartPolling())
	fx.settle(t, 1)

	var failed StatusMsg
	for msg := range fx.s.Events() {
		if msg.Kind == EventFailed {
			failed = msg
			break
		}
	}
	assert.True(t, failed.AuthFailed())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{BaseInterval: 10 * time.Minute, MaxInterval: time.Minute}.withDefaults()
	assert.Equal(t, 10*time.Minute, cfg.MaxInterval)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Equal(t, 5, cfg.MaxRetries)

	from := ConfigFrom(model.DefaultAppConfig().Polling)
	assert.Equal(t, 30*time.Second, from.BaseInterval)
	assert.Equal(t, 300*time.Second, from.MaxInterval)
	assert.True(t, from.VisibilityOptimization)
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateIdle:       "idle",
		StatePolling:    "polling",
		StateBackingOff: "backing-off",
		StateStopped:    "stopped",
	} {
		assert.Equal(t, want, state.String(), fmt.Sprint(int(state)))
	}
}
