// Package netwatch tracks whether the platform API is reachable by
// periodically opening a TCP connection to its host.
package netwatch

import (
	"context"
	"fmt"
	"net"
	"net/url"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/eventdesk/internal/clock"
	"github.com/nhle/eventdesk/internal/model"
)

// Dialer opens network connections. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Monitor probes an address on an interval and reports transitions
// between online and offline. It starts out assuming online.
type Monitor struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	dialer   Dialer
	clock    clock.Clock
	log      zerolog.Logger
	onChange func(online bool)

	mu     gosync.Mutex
	online bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) Option {
	return func(m *Monitor) { m.dialer = d }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// New creates a Monitor for addr (host:port). onChange is called from the
// Run goroutine on every transition.
func New(addr string, cfg model.NetwatchConfig, onChange func(online bool), opts ...Option) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	m := &Monitor{
		addr:     addr,
		interval: cfg.ProbeInterval,
		timeout:  cfg.ProbeTimeout,
		dialer:   &net.Dialer{},
		clock:    clock.Real(),
		log:      zerolog.Nop(),
		onChange: onChange,
		online:   true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HostPort derives the probe address from a base URL.
func HostPort(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", baseURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("no host in %q", baseURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Online returns the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Run probes immediately and then on every interval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.interval):
		}
	}
}

// Check runs one probe and reports a transition if the state changed.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.probe(ctx)
	if ctx.Err() != nil {
		return m.Online()
	}

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if changed {
		m.log.Info().Bool("online", online).Str("addr", m.addr).Msg("connectivity changed")
		if m.onChange != nil {
			m.onChange(online)
		}
	}
	return online
}

func (m *Monitor) probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.dialer.DialContext(pctx, "tcp", m.addr)
	if err != nil {
		m.log.Debug().Err(err).Str("addr", m.addr).Msg("probe failed")
		return false
	}
	_ = conn.Close()
	return true
}
