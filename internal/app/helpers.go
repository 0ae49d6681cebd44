package app

import (
	"fmt"
	"time"

	appsync "github.com/nhle/eventdesk/internal/sync"
)

// connectionLabel summarises the scheduler for the header. The second
// value is the theme.ConnectionStyle key.
func connectionLabel(st appsync.Status, now time.Time) (string, string) {
	switch {
	case !st.Online:
		return "offline", "offline"
	case st.State == appsync.StateStopped:
		return fmt.Sprintf("stopped after %d failures, :reconnect", st.Failures), "stopped"
	case !st.Polling:
		return "paused", "idle"
	case st.InFlight:
		return "checking...", "polling"
	case st.State == appsync.StateBackingOff:
		return fmt.Sprintf("retrying in %s (%d failed)", untilLabel(st.NextPollAt, now), st.Failures), "backing-off"
	case !st.NextPollAt.IsZero():
		return "next check in " + untilLabel(st.NextPollAt, now), "polling"
	default:
		return "polling", "polling"
	}
}

// untilLabel rounds the time left until t to whole seconds.
func untilLabel(t, now time.Time) string {
	d := t.Sub(now).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}
