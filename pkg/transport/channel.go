// Package transport carries PCM frames over a persistent duplex WebSocket
// connection.
//
// Each outbound frame becomes one binary message holding contiguous 16-bit
// little-endian mono samples with no header. Text messages form a separate
// informational side channel. Inbound binary messages are validated, decoded
// and delivered in arrival order to a [FrameSink], usually the playback
// scheduler.
//
// A [Channel] moves through Disconnected, Connecting and Connected. Connect
// returns as soon as the attempt has started; its outcome is reported through
// the state handler. Nothing is reconnected automatically.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// FrameSink receives decoded inbound frames. Enqueue must not block. Stop is
// called whenever the connection goes away and must be idempotent.
type FrameSink interface {
	Enqueue(frame audio.Frame)
	Stop() error
}

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats is a snapshot of channel counters. Counters accumulate across
// connections.
type Stats struct {
	State           State
	FramesSent      uint64
	FramesReceived  uint64
	BytesSent       uint64
	BytesReceived   uint64
	TextReceived    uint64
	Malformed       uint64
	OutboundDropped uint64
}

type message struct {
	typ  websocket.MessageType
	data []byte
}

// link is the state of one connection attempt.
type link struct {
	addr   *url.URL
	ctx    context.Context
	cancel context.CancelFunc
	conn   *websocket.Conn // set once connected, guarded by Channel.mu

	out    *audio.Queue[message]
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (l *link) stop() {
	l.once.Do(func() {
		close(l.done)
		l.cancel()
	})
}

// Channel is a client-side duplex PCM connection.
//
// All exported methods are safe for concurrent use.
type Channel struct {
	sink        FrameSink
	sampleRate  int
	dialTimeout time.Duration
	outboundCap int
	httpClient  *http.Client
	header      http.Header

	onState func(State, error)
	onText  func(string)
	onError func(error)

	mu    sync.Mutex
	state atomic.Int32
	link  *link

	framesSent, framesReceived atomic.Uint64
	bytesSent, bytesReceived   atomic.Uint64
	textReceived, malformed    atomic.Uint64
	outboundDropped            atomic.Uint64
}

// New creates a disconnected channel delivering inbound frames to sink.
func New(sink FrameSink, opts ...Option) *Channel {
	c := &Channel{
		sink:        sink,
		sampleRate:  audio.DefaultSampleRate,
		dialTimeout: DefaultDialTimeout,
		outboundCap: DefaultOutboundQueue,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current connection state.
func (c *Channel) State() State { return State(c.state.Load()) }

// Connect starts connecting to address. It fails immediately with
// [ErrInvalidAddress] or [ErrAlreadyConnected]; otherwise the channel enters
// [StateConnecting] and the attempt resolves in the background.
//
// Cancelling ctx aborts the attempt or, once connected, closes the
// connection.
func (c *Channel) Connect(ctx context.Context, address string) error {
	u, err := ParseAddress(address)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.State() != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	lctx, cancel := context.WithCancel(ctx)
	l := &link{
		addr:   u,
		ctx:    lctx,
		cancel: cancel,
		out:    audio.NewQueue[message](c.outboundCap),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c.link = l
	c.state.Store(int32(StateConnecting))
	l.wg.Add(1)
	c.mu.Unlock()

	c.emitState(StateConnecting, nil)
	go c.dial(l)
	return nil
}

func (c *Channel) dial(l *link) {
	defer l.wg.Done()

	dctx, cancel := context.WithTimeout(l.ctx, c.dialTimeout)
	conn, _, err := websocket.Dial(dctx, l.addr.String(), &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: c.header,
	})
	cancel()
	if err != nil {
		c.teardown(l, &ConnectionError{Op: "dial", Addr: l.addr.Redacted(), Err: err})
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	if c.link != l {
		// Closed while the handshake was in flight.
		c.mu.Unlock()
		_ = conn.CloseNow()
		return
	}
	l.conn = conn
	c.state.Store(int32(StateConnected))
	l.wg.Add(2)
	c.mu.Unlock()

	slog.Debug("transport: connected", "addr", l.addr.Redacted(), "tls", IsSecure(l.addr))
	c.emitState(StateConnected, nil)
	go c.readLoop(l, conn)
	go c.writeLoop(l, conn)
}

// Send encodes frame and queues it for transmission as one binary message.
func (c *Channel) Send(frame audio.Frame) error {
	if len(frame.Samples) == 0 {
		return nil
	}
	return c.SendPCM(audio.AppendPCM16(make([]byte, 0, len(frame.Samples)*audio.BytesPerSample), frame.Samples))
}

// SendPCM queues an already encoded payload. The channel takes ownership of
// payload.
func (c *Channel) SendPCM(payload []byte) error {
	if err := ValidatePayload(payload); err != nil {
		return err
	}
	return c.enqueue(message{typ: websocket.MessageBinary, data: payload})
}

// SendText queues an informational text message.
func (c *Channel) SendText(msg string) error {
	return c.enqueue(message{typ: websocket.MessageText, data: []byte(msg)})
}

func (c *Channel) enqueue(m message) error {
	c.mu.Lock()
	l := c.link
	connected := c.State() == StateConnected
	c.mu.Unlock()
	if !connected || l == nil {
		return ErrNotConnected
	}

	if _, evicted := l.out.Push(m); evicted {
		c.outboundDropped.Add(1)
		c.report(fmt.Errorf("transport: outbound: %w", audio.ErrOverflow))
	}
	select {
	case l.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close disconnects and stops the frame sink. It is idempotent and safe in
// any state; it returns once the connection goroutines have exited.
func (c *Channel) Close() error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()

	if l == nil {
		return c.stopSink()
	}
	c.teardown(l, nil)
	l.wg.Wait()
	return nil
}

// teardown ends l. Only the first call for a given link has any effect.
func (c *Channel) teardown(l *link, cause error) {
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	conn := l.conn
	c.state.Store(int32(StateDisconnected))
	c.mu.Unlock()

	if conn != nil {
		if cause == nil {
			_ = conn.Close(websocket.StatusNormalClosure, "closing")
		} else {
			_ = conn.CloseNow()
		}
	}
	l.stop()

	if err := c.stopSink(); err != nil {
		c.report(err)
	}
	c.emitState(StateDisconnected, cause)
	if cause != nil {
		c.report(cause)
	}
}

func (c *Channel) stopSink() error {
	if c.sink == nil {
		return nil
	}
	if err := c.sink.Stop(); err != nil {
		return fmt.Errorf("transport: stop sink: %w", err)
	}
	return nil
}

func (c *Channel) readLoop(l *link, conn *websocket.Conn) {
	defer l.wg.Done()
	for {
		typ, data, err := conn.Read(l.ctx)
		if err != nil {
			c.teardown(l, readError(l, err))
			return
		}
		switch typ {
		case websocket.MessageText:
			c.textReceived.Add(1)
			if c.onText != nil {
				c.onText(string(data))
			}
		case websocket.MessageBinary:
			c.handleBinary(data)
		}
	}
}

// readError maps the end of the read loop to a teardown cause. A normal close
// by the peer or a local close is not a failure.
func readError(l *link, err error) error {
	select {
	case <-l.done:
		return nil
	default:
	}
	if l.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	return &ConnectionError{Op: "read", Addr: l.addr.Redacted(), Err: err}
}

func (c *Channel) handleBinary(data []byte) {
	if err := ValidatePayload(data); err != nil {
		c.malformed.Add(1)
		c.report(err)
		return
	}
	samples, err := audio.DecodePCM16(data)
	if err != nil {
		c.malformed.Add(1)
		c.report(fmt.Errorf("%w: %v", ErrMalformedFrame, err))
		return
	}
	c.framesReceived.Add(1)
	c.bytesReceived.Add(uint64(len(data)))
	if c.sink != nil {
		c.sink.Enqueue(audio.Frame{Samples: samples, SampleRate: c.sampleRate})
	}
}

func (c *Channel) writeLoop(l *link, conn *websocket.Conn) {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case <-l.notify:
		}
		for {
			m, ok := l.out.Pop()
			if !ok {
				break
			}
			if err := conn.Write(l.ctx, m.typ, m.data); err != nil {
				c.teardown(l, writeError(l, err))
				return
			}
			if m.typ == websocket.MessageBinary {
				c.framesSent.Add(1)
				c.bytesSent.Add(uint64(len(m.data)))
			}
		}
	}
}

func writeError(l *link, err error) error {
	select {
	case <-l.done:
		return nil
	default:
	}
	if l.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return &ConnectionError{Op: "write", Addr: l.addr.Redacted(), Err: err}
}

// Address returns the address of the current connection attempt, or "" when
// disconnected.
func (c *Channel) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return ""
	}
	return c.link.addr.Redacted()
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		State:           c.State(),
		FramesSent:      c.framesSent.Load(),
		FramesReceived:  c.framesReceived.Load(),
		BytesSent:       c.bytesSent.Load(),
		BytesReceived:   c.bytesReceived.Load(),
		TextReceived:    c.textReceived.Load(),
		Malformed:       c.malformed.Load(),
		OutboundDropped: c.outboundDropped.Load(),
	}
}

func (c *Channel) emitState(s State, err error) {
	if c.onState != nil {
		c.onState(s, err)
	}
}

func (c *Channel) report(err error) {
	if c.onError != nil && err != nil {
		c.onError(err)
	}
}
