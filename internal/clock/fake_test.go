package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	c := Fake(epoch)
	assert.Equal(t, epoch, c.Now())

	c.Advance(5 * time.Second)
	assert.Equal(t, epoch.Add(5*time.Second), c.Now())
}

func TestFakeTimerFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	timer := c.NewTimer(3 * time.Second)

	select {
	case <-timer.C:
		t.Fatal("timer fired before Advance")
	default:
	}

	c.Advance(2 * time.Second)
	select {
	case <-timer.C:
		t.Fatal("timer fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-timer.C:
		assert.Equal(t, epoch.Add(3*time.Second), got)
	default:
		t.Fatal("timer did not fire after Advance")
	}
	assert.Equal(t, 0, c.PendingCount())
}

func TestFakeTimerZeroDurationFiresImmediately(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
	assert.Equal(t, 0, c.PendingCount())
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(epoch)
	timer := c.NewTimer(time.Second)
	require.Equal(t, 1, c.PendingCount())

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	assert.Equal(t, 0, c.PendingCount())

	c.Advance(time.Minute)
	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})

	go func() {
		<-c.After(10 * time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	d, ok := c.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, d)

	c.Advance(10 * time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine was not released by Advance")
	}
}
