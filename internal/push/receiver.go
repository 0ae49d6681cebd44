package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nhle/eventdesk/internal/clock"
	"github.com/nhle/eventdesk/internal/source/api"
)

const maxFrameSize = 64 * 1024

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Receiver holds a websocket open to the subscription endpoint and adds
// every delivered notification to the sink. Dropped connections are
// re-dialled with capped exponential backoff.
type Receiver struct {
	endpoint string
	sink     Sink
	dialer   *websocket.Dialer
	clock    clock.Clock
	log      zerolog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(min, max time.Duration) ReceiverOption {
	return func(r *Receiver) {
		r.minBackoff = min
		r.maxBackoff = max
	}
}

// WithReceiverLogger sets the logger.
func WithReceiverLogger(l zerolog.Logger) ReceiverOption {
	return func(r *Receiver) { r.log = l }
}

// WithReceiverClock replaces the clock used for backoff waits.
func WithReceiverClock(c clock.Clock) ReceiverOption {
	return func(r *Receiver) { r.clock = c }
}

// NewReceiver creates a Receiver for endpoint.
func NewReceiver(endpoint string, sink Sink, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		endpoint: endpoint,
		sink:     sink,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		clock:      clock.Real(),
		log:        zerolog.Nop(),
		minBackoff: time.Second,
		maxBackoff: time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run receives until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) {
	backoff := r.minBackoff
	for {
		connected, err := r.receive(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = r.minBackoff
		}
		r.log.Warn().Err(err).Dur("retry_in", backoff).Msg("push connection lost")

		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(backoff):
		}

		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// receive runs one connection. connected reports whether the dial
// succeeded.
func (r *Receiver) receive(ctx context.Context) (connected bool, err error) {
	conn, _, err := r.dialer.DialContext(ctx, r.endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("dialing %s: %w", r.endpoint, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	conn.SetReadLimit(maxFrameSize)
	r.log.Info().Str("endpoint", r.endpoint).Msg("push connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		r.handle(data)
	}
}

func (r *Receiver) handle(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		r.log.Warn().Err(err).Msg("malformed push frame")
		return
	}
	if f.Type != "notification" {
		r.log.Debug().Str("type", f.Type).Msg("ignoring push frame")
		return
	}

	var dto api.NotificationDTO
	if err := json.Unmarshal(f.Data, &dto); err != nil {
		r.log.Warn().Err(err).Msg("malformed pushed notification")
		return
	}

	n := r.sink.Add(api.ToNotification(dto))
	r.log.Debug().Str("id", n.ID).Msg("pushed notification received")
}
