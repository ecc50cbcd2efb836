package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/recording"
	"github.com/MrWong99/voxlink/pkg/transport"
)

const (
	maxMessageSize = 1 << 20
	writeTimeout   = 5 * time.Second
)

// Message is the JSON body of every text message the relay sends.
type Message struct {
	// Type is "info" or "error".
	Type string `json:"type"`

	// Event names what happened for info messages: "joined", "peer_joined"
	// or "peer_left".
	Event   string `json:"event,omitempty"`
	Message string `json:"message,omitempty"`

	Room        string `json:"room,omitempty"`
	Peer        string `json:"peer,omitempty"`
	Peers       int    `json:"peers,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	RecordingID string `json:"recording_id,omitempty"`
}

// Message types and events.
const (
	TypeInfo  = "info"
	TypeError = "error"

	EventJoined     = "joined"
	EventPeerJoined = "peer_joined"
	EventPeerLeft   = "peer_left"
)

type outMsg struct {
	typ  websocket.MessageType
	data []byte
}

// peer is one WebSocket connection in a room.
type peer struct {
	id   string
	srv  *Server
	conn *websocket.Conn
	room *room // set by Server.join
	log  *slog.Logger

	out    *audio.Queue[outMsg]
	notify chan struct{}
	once   sync.Once

	recorder *recording.Recorder

	received  atomic.Uint64
	sent      atomic.Uint64
	malformed atomic.Uint64
}

func newPeer(s *Server, conn *websocket.Conn, queue int) *peer {
	return &peer{
		id:     uuid.NewString(),
		srv:    s,
		conn:   conn,
		log:    slog.Default(),
		out:    audio.NewQueue[outMsg](queue),
		notify: make(chan struct{}, 1),
	}
}

// run serves the peer until its connection ends.
func (p *peer) run(ctx context.Context, rm *room, others int) {
	s := p.srv
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.log = observe.Logger(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.writeLoop(ctx)
	}()

	if s.record.Load() && s.store != nil {
		p.startRecording(ctx, &wg)
	}

	joined := Message{
		Type:       TypeInfo,
		Event:      EventJoined,
		Room:       rm.name,
		Peer:       p.id,
		Peers:      others + 1,
		SampleRate: s.sampleRate,
	}
	if p.recorder != nil {
		joined.RecordingID = p.recorder.ID()
		ctx = observe.Annotate(ctx, observe.Pipeline{RecordingID: joined.RecordingID})
	}
	log := observe.Logger(ctx)
	p.sendText(joined)
	s.broadcast(rm, p, Message{Type: TypeInfo, Event: EventPeerJoined, Room: rm.name, Peer: p.id, Peers: others + 1})
	log.Info("relay: peer joined", "peers", others+1)

	err := p.readLoop(ctx)

	s.leave(p)
	s.broadcast(rm, p, Message{Type: TypeInfo, Event: EventPeerLeft, Room: rm.name, Peer: p.id})
	cancel()
	_ = p.conn.CloseNow()
	if p.recorder != nil {
		p.recorder.Close()
	}
	wg.Wait()

	attrs := []any{
		"received", p.received.Load(),
		"sent", p.sent.Load(),
		"malformed", p.malformed.Load(),
		"dropped", p.out.Dropped(),
	}
	if p.recorder != nil {
		st := p.recorder.Stats()
		s.metrics.RecordRecording(context.Background(), int64(st.Chunks), 0)
		attrs = append(attrs, "recorded_bytes", st.Bytes)
	}
	if status := websocket.CloseStatus(err); status != -1 {
		attrs = append(attrs, "close_status", status)
	} else if err != nil && ctx.Err() == nil {
		attrs = append(attrs, "err", err)
	}
	log.Info("relay: peer left", attrs...)
}

func (p *peer) startRecording(ctx context.Context, wg *sync.WaitGroup) {
	s := p.srv
	id := recording.NewID()
	if _, err := s.store.CreateRecording(ctx, id); err != nil {
		p.log.Warn("relay: create recording failed", "err", err)
		return
	}
	opts := append([]recording.RecorderOption{}, s.recorderOpts...)
	opts = append(opts, recording.WithErrorHandler(func(err error) {
		p.log.Warn("relay: recording write failed", "err", err)
		s.metrics.RecordRecording(context.Background(), 0, 1)
	}))
	p.recorder = recording.NewRecorder(s.store, id, opts...)

	wg.Add(1)
	go func() {
		defer wg.Done()
		// Outlives the request so queued frames are flushed after disconnect.
		_ = p.recorder.Run(context.WithoutCancel(ctx))
	}()
}

func (p *peer) readLoop(ctx context.Context) error {
	s := p.srv
	for {
		typ, data, err := p.conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			if err := transport.ValidatePayload(data); err != nil {
				p.malformed.Add(1)
				s.metrics.RecordMalformed(ctx, "relay", 1)
				p.sendText(Message{Type: TypeError, Message: err.Error()})
				continue
			}
			p.received.Add(1)
			s.metrics.RecordFrames(ctx, "relay", 0, 1)
			if p.recorder != nil {
				p.recorder.Write(data)
			}
			s.forward(p, data)
		case websocket.MessageText:
			p.log.Debug("relay: text from peer", "bytes", len(data))
		}
	}
}

func (p *peer) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
		}
		for {
			m, ok := p.out.Pop()
			if !ok {
				break
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := p.conn.Write(wctx, m.typ, m.data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					p.log.Debug("relay: write failed", "err", err)
					_ = p.conn.CloseNow()
				}
				return
			}
			if m.typ == websocket.MessageBinary {
				p.sent.Add(1)
				p.srv.metrics.RecordFrames(ctx, "relay", 1, 0)
			}
		}
	}
}

// sendBinary queues payload for this peer. It never blocks; when the queue is
// full the oldest message is dropped.
func (p *peer) sendBinary(payload []byte) {
	p.push(outMsg{typ: websocket.MessageBinary, data: payload})
}

func (p *peer) sendText(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn("relay: encode message", "err", err)
		return
	}
	p.push(outMsg{typ: websocket.MessageText, data: data})
}

func (p *peer) push(m outMsg) {
	if _, evicted := p.out.Push(m); evicted {
		p.srv.metrics.RecordDropped(context.Background(), observe.StageRelay, 1)
	}
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// close starts the closing handshake with the given status. Only the first
// call has an effect.
func (p *peer) close(code websocket.StatusCode, reason string) {
	p.once.Do(func() {
		go func() { _ = p.conn.Close(code, reason) }()
	})
}
