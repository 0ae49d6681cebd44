package netwatch

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/eventdesk/internal/clock"
	"github.com/nhle/eventdesk/internal/model"
)

type switchDialer struct {
	up    atomic.Bool
	dials atomic.Int32
}

func (d *switchDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	d.dials.Add(1)
	if !d.up.Load() {
		return nil, errors.New("network is unreachable")
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func TestHostPort(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000":         "localhost:8000",
		"https://events.example.org":    "events.example.org:443",
		"http://events.example.org/api": "events.example.org:80",
		"http://[::1]:9000":             "[::1]:9000",
	}
	for in, want := range cases {
		got, err := HostPort(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := HostPort("not a url")
	assert.Error(t, err)
}

func TestCheckReportsTransitionsOnly(t *testing.T) {
	d := &switchDialer{}
	d.up.Store(true)

	var changes []bool
	m := New("api:80", model.NetwatchConfig{}, func(online bool) { changes = append(changes, online) }, WithDialer(d))

	ctx := context.Background()
	assert.True(t, m.Check(ctx))
	assert.Empty(t, changes)

	d.up.Store(false)
	assert.False(t, m.Check(ctx))
	assert.False(t, m.Check(ctx))
	assert.Equal(t, []bool{false}, changes)
	assert.False(t, m.Online())

	d.up.Store(true)
	assert.True(t, m.Check(ctx))
	assert.Equal(t, []bool{false, true}, changes)
}

func TestRunProbesOnInterval(t *testing.T) {
	d := &switchDialer{}
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	changes := make(chan bool, 4)
	m := New("api:80", model.NetwatchConfig{ProbeInterval: 10 * time.Second},
		func(online bool) { changes <- online }, WithDialer(d), WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	assert.False(t, <-changes)

	clk.WaitForTimers(1)
	d.up.Store(true)
	clk.Advance(10 * time.Second)
	assert.True(t, <-changes)

	clk.WaitForTimers(1)
	assert.Equal(t, int32(2), d.dials.Load())
}
