package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAddress is returned for addresses that are not ws:// or
	// wss:// URLs with a host.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrAlreadyConnected is returned by Connect unless the channel is
	// disconnected.
	ErrAlreadyConnected = errors.New("transport: already connected or connecting")

	// ErrNotConnected is returned by the send methods outside the connected
	// state.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrMalformedFrame is reported for binary payloads that are empty or do
	// not hold a whole number of samples. The payload is dropped and the
	// connection stays open.
	ErrMalformedFrame = errors.New("transport: malformed frame")
)

// ConnectionError describes why a connection attempt failed or why an open
// connection was lost.
type ConnectionError struct {
	// Op is the failing operation: "dial", "read" or "write".
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ValidatePayload checks that a binary message can be decoded as 16-bit PCM.
func ValidatePayload(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	if len(payload)%2 != 0 {
		return fmt.Errorf("%w: odd length %d", ErrMalformedFrame, len(payload))
	}
	return nil
}
