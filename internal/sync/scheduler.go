// Package sync keeps the notification inbox current by polling the
// configured sources on an adaptive schedule.
//
// A single control loop (Run) performs every fetch, so two polls are
// never in flight at once. The exported methods only change scheduling
// state and wake the loop; they never block on the network.
package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/eventdesk/internal/clock"
	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/source"
)

// State is the scheduler's lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateBackingOff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateBackingOff:
		return "backing-off"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds the polling parameters.
type Config struct {
	BaseInterval           time.Duration
	MaxInterval            time.Duration
	Multiplier             float64
	MaxRetries             int
	VisibilityOptimization bool
	FetchTimeout           time.Duration
}

// ConfigFrom converts the file configuration.
func ConfigFrom(p model.PollingConfig) Config {
	return Config{
		BaseInterval:           p.BaseInterval,
		MaxInterval:            p.MaxInterval,
		Multiplier:             p.BackoffMultiplier,
		MaxRetries:             p.MaxRetries,
		VisibilityOptimization: p.VisibilityOptimization,
		FetchTimeout:           p.FetchTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.BaseInterval <= 0 {
		c.BaseInterval = 30 * time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 300 * time.Second
	}
	if c.MaxInterval < c.BaseInterval {
		c.MaxInterval = c.BaseInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	return c
}

// AuthState reports whether a user session is active.
type AuthState interface {
	IsAuthenticated() bool
}

// Sink receives each successful poll's batch. MergeIf applies the batch
// only while current reports true, evaluating it under the sink's own
// lock, and returns how many of the records were new.
type Sink interface {
	MergeIf(ns []model.Notification, current func() bool) (added int, merged bool)
}

// Status is a snapshot of the scheduler.
type Status struct {
	State       State
	Polling     bool
	InFlight    bool
	Failures    int
	Interval    time.Duration // backoff interval, before the visibility penalty
	NextDelay   time.Duration // delay used for the pending poll
	NextPollAt  time.Time     // zero when nothing is scheduled
	LastSuccess time.Time
	LastError   error
	Visible     bool
	Online      bool
}

// EventKind identifies a scheduler event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventPolled
	EventFailed
	EventGaveUp
	EventStopped
)

// StatusMsg is a tea.Msg describing a scheduler event.
type StatusMsg struct {
	Kind     EventKind
	Status   Status
	NewCount int
	Err      error
}

// AuthFailed reports whether the event was caused by a rejected session.
func (m StatusMsg) AuthFailed() bool {
	return m.Err != nil && source.IsAuthError(m.Err)
}

// Scheduler polls a Fetcher and merges results into a Sink.
type Scheduler struct {
	fetcher source.Fetcher
	auth    AuthState
	sink    Sink
	clock   clock.Clock
	log     zerolog.Logger

	mu          gosync.Mutex
	cfg         Config
	state       State
	polling     bool
	inFlight    bool
	failures    int
	interval    time.Duration
	nextDelay   time.Duration
	nextAt      time.Time
	immediate   bool
	lastAttempt time.Time
	lastSuccess time.Time
	lastErr     error
	visible     bool
	online      bool
	gen         uint64

	wake     chan struct{}
	statusCh chan StatusMsg
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New creates an idle Scheduler. Call Run to start its control loop.
func New(cfg Config, fetcher source.Fetcher, auth AuthState, sink Sink, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		fetcher:  fetcher,
		auth:     auth,
		sink:     sink,
		clock:    clock.Real(),
		log:      zerolog.Nop(),
		cfg:      cfg,
		state:    StateIdle,
		interval: cfg.BaseInterval,
		visible:  true,
		online:   true,
		wake:     make(chan struct{}, 1),
		statusCh: make(chan StatusMsg, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run is the control loop. It returns when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var (
		timer   *clock.Timer
		armedAt time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}
	defer stopTimer()

	for {
		s.mu.Lock()
		now := s.clock.Now()
		fire := s.polling && (s.immediate || (!s.nextAt.IsZero() && !now.Before(s.nextAt)))
		nextAt := s.nextAt
		gen := s.gen
		if fire {
			s.immediate = false
			s.nextAt = time.Time{}
			s.inFlight = true
			s.lastAttempt = now
			if s.state == StateIdle {
				s.state = StatePolling
			}
		}
		if !s.polling {
			nextAt = time.Time{}
		}
		s.mu.Unlock()

		if fire {
			stopTimer()
			s.poll(ctx, gen)
			if ctx.Err() != nil {
				return
			}
			continue
		}

		switch {
		case nextAt.IsZero():
			stopTimer()
		case timer == nil || !armedAt.Equal(nextAt):
			stopTimer()
			timer = s.clock.NewTimer(nextAt.Sub(now))
			armedAt = nextAt
		}

		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timerC:
			timer = nil
		}
	}
}

// poll performs one fetch and applies its outcome.
func (s *Scheduler) poll(ctx context.Context, gen uint64) {
	s.mu.Lock()
	timeout := s.cfg.FetchTimeout
	s.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, timeout)
	ns, err := s.fetcher.FetchNotifications(fctx)
	cancel()

	if err == nil {
		current := func() bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			return gen == s.gen && s.polling
		}

		added, merged := 0, current()
		if merged && s.sink != nil {
			added, merged = s.sink.MergeIf(ns, current)
		}
		if !merged {
			s.finishDropped()
			return
		}

		s.mu.Lock()
		s.inFlight = false
		if gen != s.gen || !s.polling {
			s.mu.Unlock()
			return
		}
		s.failures = 0
		s.interval = s.cfg.BaseInterval
		s.lastSuccess = s.clock.Now()
		s.lastErr = nil
		s.state = StatePolling
		s.scheduleLocked()
		st := s.snapshotLocked()
		s.mu.Unlock()

		s.log.Debug().Int("fetched", len(ns)).Int("new", added).Dur("next", st.NextDelay).Msg("poll succeeded")
		s.emit(StatusMsg{Kind: EventPolled, Status: st, NewCount: added})
		return
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		s.finishDropped()
		return
	}

	s.mu.Lock()
	s.inFlight = false
	if gen != s.gen || !s.polling {
		s.mu.Unlock()
		s.log.Debug().Err(err).Msg("dropping result of cancelled poll")
		return
	}

	s.failures++
	s.lastErr = err

	if s.failures >= s.cfg.MaxRetries {
		s.polling = false
		s.state = StateStopped
		s.nextAt = time.Time{}
		s.nextDelay = 0
		s.immediate = false
		st := s.snapshotLocked()
		s.mu.Unlock()

		s.log.Error().Err(err).Int("failures", st.Failures).Msg("polling gave up")
		s.emit(StatusMsg{Kind: EventGaveUp, Status: st, Err: err})
		return
	}

	s.interval = s.backoffLocked()
	s.state = StateBackingOff
	s.scheduleLocked()
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Warn().Err(err).Int("failures", st.Failures).Dur("next", st.NextDelay).Msg("poll failed")
	s.emit(StatusMsg{Kind: EventFailed, Status: st, Err: err})
}

func (s *Scheduler) finishDropped() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
	s.log.Debug().Msg("dropping result of cancelled poll")
}

// backoffLocked returns the next backoff interval, capped at the maximum.
func (s *Scheduler) backoffLocked() time.Duration {
	next := time.Duration(float64(s.interval) * s.cfg.Multiplier)
	if next > s.cfg.MaxInterval || next <= 0 {
		next = s.cfg.MaxInterval
	}
	return next
}

// effectiveLocked applies the hidden-terminal penalty to the current
// interval. The product is clamped once, after compounding.
func (s *Scheduler) effectiveLocked() time.Duration {
	d := s.interval
	if !s.visible && s.cfg.VisibilityOptimization {
		d *= 2
		if d > s.cfg.MaxInterval {
			d = s.cfg.MaxInterval
		}
	}
	return d
}

func (s *Scheduler) scheduleLocked() {
	s.nextDelay = s.effectiveLocked()
	s.nextAt = s.clock.Now().Add(s.nextDelay)
}

// StartPolling begins polling immediately. It returns false, leaving the
// state unchanged, when no session is active.
func (s *Scheduler) StartPolling() bool {
	if s.auth == nil || !s.auth.IsAuthenticated() {
		s.log.Warn().Msg("not starting polling: no authenticated session")
		return false
	}

	s.mu.Lock()
	if s.polling {
		s.mu.Unlock()
		return true
	}
	s.polling = true
	s.gen++
	s.failures = 0
	s.interval = s.cfg.BaseInterval
	s.lastErr = nil
	s.state = StatePolling
	s.immediate = true
	s.nextAt = time.Time{}
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info().Msg("polling started")
	s.notify()
	s.emit(StatusMsg{Kind: EventStarted, Status: st})
	return true
}

// StopPolling cancels the pending poll. A fetch already in flight runs
// to completion but its result is discarded and nothing is rescheduled.
func (s *Scheduler) StopPolling() {
	s.mu.Lock()
	if !s.polling && s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.polling = false
	s.gen++
	s.immediate = false
	s.nextAt = time.Time{}
	s.nextDelay = 0
	s.state = StateIdle
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info().Msg("polling stopped")
	s.notify()
	s.emit(StatusMsg{Kind: EventStopped, Status: st})
}

// PollNow cancels the pending timer and polls immediately. It returns
// false when polling is not active.
func (s *Scheduler) PollNow() bool {
	s.mu.Lock()
	if !s.polling {
		s.mu.Unlock()
		s.log.Debug().Msg("poll now ignored: polling is not active")
		return false
	}
	s.immediate = true
	s.mu.Unlock()

	s.notify()
	return true
}

// ResetPolling clears failure and backoff state. If polling is active,
// or it stopped after exhausting its retries, it polls immediately.
func (s *Scheduler) ResetPolling() {
	s.mu.Lock()
	s.failures = 0
	s.interval = s.cfg.BaseInterval
	s.lastErr = nil

	resume := s.polling || s.state == StateStopped
	if resume && (s.auth == nil || !s.auth.IsAuthenticated()) {
		resume = false
		s.state = StateIdle
	}
	var st Status
	started := false
	if resume {
		if !s.polling {
			s.polling = true
			s.gen++
			started = true
		}
		s.state = StatePolling
		s.immediate = true
		s.nextAt = time.Time{}
		st = s.snapshotLocked()
	} else if s.state == StateBackingOff {
		s.state = StatePolling
	}
	s.mu.Unlock()

	if resume {
		s.log.Info().Msg("polling reset")
		s.notify()
		if started {
			s.emit(StatusMsg{Kind: EventStarted, Status: st})
		}
	}
}

// SetVisible records whether the terminal has focus. Regaining focus
// after more than one base interval without a successful poll triggers
// an immediate poll.
func (s *Scheduler) SetVisible(visible bool) {
	s.mu.Lock()
	was := s.visible
	s.visible = visible
	trigger := false
	if visible && !was && s.polling {
		stale := s.lastSuccess.IsZero() || s.clock.Now().Sub(s.lastSuccess) > s.cfg.BaseInterval
		if stale {
			s.immediate = true
			trigger = true
		}
	}
	s.mu.Unlock()

	if trigger {
		s.log.Debug().Msg("visible again with stale data: polling now")
		s.notify()
	}
}

// SetOnline records network connectivity. Coming back online while
// polling resets the backoff and polls immediately.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	was := s.online
	s.online = online
	trigger := false
	if online && !was && s.polling {
		s.failures = 0
		s.interval = s.cfg.BaseInterval
		s.state = StatePolling
		s.immediate = true
		trigger = true
	}
	s.mu.Unlock()

	if trigger {
		s.log.Info().Msg("back online: polling now")
		s.notify()
	}
}

// Apply swaps in new polling parameters. The pending poll is rescheduled
// against the new values.
func (s *Scheduler) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	s.cfg = cfg
	if s.failures == 0 {
		s.interval = cfg.BaseInterval
	}
	if s.interval > cfg.MaxInterval {
		s.interval = cfg.MaxInterval
	}
	if !s.nextAt.IsZero() {
		s.nextDelay = s.effectiveLocked()
		s.nextAt = s.lastAttempt.Add(s.nextDelay)
	}
	s.mu.Unlock()

	s.log.Info().Dur("base", cfg.BaseInterval).Dur("max", cfg.MaxInterval).Msg("polling config applied")
	s.notify()
}

// Snapshot returns the current status.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// IsPolling reports whether automatic polling is active.
func (s *Scheduler) IsPolling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polling
}

func (s *Scheduler) snapshotLocked() Status {
	return Status{
		State:       s.state,
		Polling:     s.polling,
		InFlight:    s.inFlight,
		Failures:    s.failures,
		Interval:    s.interval,
		NextDelay:   s.nextDelay,
		NextPollAt:  s.nextAt,
		LastSuccess: s.lastSuccess,
		LastError:   s.lastErr,
		Visible:     s.visible,
		Online:      s.online,
	}
}

// notify wakes the control loop without blocking.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// emit sends a StatusMsg on the status channel without blocking.
func (s *Scheduler) emit(msg StatusMsg) {
	select {
	case s.statusCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the scheduler
	}
}

// Events returns the status event channel.
func (s *Scheduler) Events() <-chan StatusMsg {
	return s.statusCh
}

// WaitForNextStatus returns a tea.Cmd that waits for the next scheduler
// event. Call it again after handling each StatusMsg to keep listening.
func (s *Scheduler) WaitForNextStatus() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-s.statusCh
		if !ok {
			return nil
		}
		return msg
	}
}
