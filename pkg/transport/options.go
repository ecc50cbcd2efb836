package transport

import (
	"net/http"
	"time"
)

const (
	// DefaultOutboundQueue bounds the outbound queue in messages.
	DefaultOutboundQueue = 8

	// DefaultDialTimeout bounds the opening handshake.
	DefaultDialTimeout = 10 * time.Second

	// maxMessageSize caps inbound messages; a 4096-sample frame is 8 KiB.
	maxMessageSize = 1 << 20
)

// Option configures a [Channel].
type Option func(*Channel)

// WithStateHandler registers fn to be called on every state transition. err
// is non-nil only for transitions to [StateDisconnected] caused by a failure
// and is then a [*ConnectionError].
func WithStateHandler(fn func(s State, err error)) Option {
	return func(c *Channel) { c.onState = fn }
}

// WithTextHandler registers fn to receive text messages. Text is an
// informational side channel and never reaches the frame sink.
func WithTextHandler(fn func(msg string)) Option {
	return func(c *Channel) { c.onText = fn }
}

// WithErrorHandler registers fn to receive non-fatal errors such as
// [ErrMalformedFrame] and outbound queue overflows.
func WithErrorHandler(fn func(err error)) Option {
	return func(c *Channel) { c.onError = fn }
}

// WithOutboundQueue bounds the outbound queue to n messages. When the writer
// falls behind the oldest queued message is dropped.
func WithOutboundQueue(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.outboundCap = n
		}
	}
}

// WithDialTimeout bounds the opening handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithSampleRate sets the rate stamped on inbound frames.
func WithSampleRate(rate int) Option {
	return func(c *Channel) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// WithHTTPClient sets the client used for the opening handshake, for example
// one trusting a private CA for wss:// addresses.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Channel) { c.httpClient = hc }
}

// WithHTTPHeader adds headers to the opening handshake.
func WithHTTPHeader(h http.Header) Option {
	return func(c *Channel) { c.header = h }
}
