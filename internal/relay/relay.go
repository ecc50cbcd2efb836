// Package relay implements the server side of the duplex PCM connection.
//
// Peers connect to /ws/{room}. Every binary frame a peer sends is validated
// and forwarded, unchanged, to the other peers of the room. A peer alone in a
// room hears itself when echo is enabled. With recording enabled each peer's
// inbound audio is stored as its own recording. Text messages sent by the
// relay are informational JSON objects (see [Message]).
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxlink/internal/health"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/recording"
)

// ErrClosed is returned for connections attempted after [Server.Close].
var ErrClosed = errors.New("relay: server closed")

// DefaultPeerQueue bounds the frames waiting to be written to one peer.
const DefaultPeerQueue = 16

// Option configures a [Server].
type Option func(*Server)

// WithEcho sends a lone peer's frames back to it.
func WithEcho(on bool) Option {
	return func(s *Server) { s.echo.Store(on) }
}

// WithRecording stores every peer's inbound audio in the recording store.
func WithRecording(on bool) Option {
	return func(s *Server) { s.record.Store(on) }
}

// WithSampleRate sets the sample rate announced to peers and stamped on
// exported WAV files.
func WithSampleRate(rate int) Option {
	return func(s *Server) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// WithPeerQueue bounds each peer's outbound queue to n frames.
func WithPeerQueue(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.peerQueue = n
		}
	}
}

// WithRecorderOptions configures the per-peer recorders.
func WithRecorderOptions(opts ...recording.RecorderOption) Option {
	return func(s *Server) { s.recorderOpts = append(s.recorderOpts, opts...) }
}

// WithMetrics reports relay counters to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthChecks adds readiness checks served on /readyz next to the
// relay's own.
func WithHealthChecks(checks ...health.Checker) Option {
	return func(s *Server) { s.checks = append(s.checks, checks...) }
}

// WithOriginPatterns allows browser clients from the given origins.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// Server routes PCM frames between the peers of a room.
type Server struct {
	store        recording.Store
	metrics      *observe.Metrics
	checks       []health.Checker
	origins      []string
	sampleRate   int
	peerQueue    int
	recorderOpts []recording.RecorderOption

	echo   atomic.Bool
	record atomic.Bool

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
	peers  sync.WaitGroup
}

// New creates a relay that keeps recordings in store. A nil store disables
// recording and the recordings API.
func New(store recording.Store, opts ...Option) *Server {
	s := &Server{
		store:      store,
		sampleRate: audio.DefaultSampleRate,
		peerQueue:  DefaultPeerQueue,
		rooms:      make(map[string]*room),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetEcho toggles echo mode for frames received from now on.
func (s *Server) SetEcho(on bool) { s.echo.Store(on) }

// SetRecording toggles recording for peers that join from now on.
func (s *Server) SetRecording(on bool) { s.record.Store(on) }

// Handler returns the HTTP routes of the relay.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	checks := append([]health.Checker{{Name: "relay", Check: s.Ready}}, s.checks...)
	health.New(checks...).Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/{room}", s.handleWS)
	r.Get("/rooms", s.handleRooms)

	if s.store != nil {
		api := &recordingsAPI{store: s.store, sampleRate: s.sampleRate}
		r.Route("/recordings", api.routes)
	}
	return r
}

// RoomInfo describes one room.
type RoomInfo struct {
	Name  string   `json:"name"`
	Peers []string `json:"peers"`
}

// Rooms lists the rooms that currently have peers, sorted by name.
func (s *Server) Rooms() []RoomInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RoomInfo, 0, len(s.rooms))
	for name, rm := range s.rooms {
		info := RoomInfo{Name: name}
		for _, p := range rm.peers {
			info.Peers = append(info.Peers, p.id)
		}
		slices.Sort(info.Peers)
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b RoomInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Close disconnects every peer and waits for their recorders to flush.
// New connections are refused afterwards. Close is idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	var all []*peer
	for _, rm := range s.rooms {
		all = append(all, rm.peers...)
	}
	s.mu.Unlock()

	for _, p := range all {
		p.close(websocket.StatusGoingAway, "server shutting down")
	}
	s.peers.Wait()
	return nil
}

// Ready reports an error once the server is closed. It backs /readyz.
func (s *Server) Ready(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "room")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Debug("relay: accept failed", "room", name, "err", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	p := newPeer(s, conn, s.peerQueue)
	rm, others, err := s.join(name, p)
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, err.Error())
		return
	}
	defer s.peers.Done()

	ctx := observe.WithPipeline(r.Context(), observe.Pipeline{Room: name, Peer: p.id})
	ctx, span := observe.StartSpan(ctx, "relay.peer")
	defer span.End()
	p.run(ctx, rm, others)
}

// join adds p to the named room, creating it if needed, and returns the
// number of peers that were already there.
func (s *Server) join(name string, p *peer) (*room, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, ErrClosed
	}
	rm, ok := s.rooms[name]
	if !ok {
		rm = &room{name: name}
		s.rooms[name] = rm
		s.metrics.ActiveRooms.Add(context.Background(), 1)
	}
	others := len(rm.peers)
	rm.peers = append(rm.peers, p)
	p.room = rm
	s.peers.Add(1)
	s.metrics.ActivePeers.Add(context.Background(), 1)
	return rm, others, nil
}

// leave removes p from its room and deletes the room when it is empty.
func (s *Server) leave(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := p.room
	if i := slices.Index(rm.peers, p); i >= 0 {
		rm.peers = slices.Delete(rm.peers, i, i+1)
		s.metrics.ActivePeers.Add(context.Background(), -1)
	}
	if len(rm.peers) == 0 && s.rooms[rm.name] == rm {
		delete(s.rooms, rm.name)
		s.metrics.ActiveRooms.Add(context.Background(), -1)
	}
}

// room is a set of peers that hear each other.
type room struct {
	name  string
	peers []*peer // guarded by Server.mu
}

// forward delivers payload from src to every other peer of its room, or back
// to src when it is alone and echo is on.
func (s *Server) forward(src *peer, payload []byte) {
	s.mu.Lock()
	targets := make([]*peer, 0, len(src.room.peers))
	for _, p := range src.room.peers {
		if p != src {
			targets = append(targets, p)
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 && s.echo.Load() {
		targets = append(targets, src)
	}
	for _, p := range targets {
		p.sendBinary(payload)
	}
}

// broadcast sends an informational message to every peer of rm except skip.
func (s *Server) broadcast(rm *room, skip *peer, msg Message) {
	s.mu.Lock()
	targets := slices.Clone(rm.peers)
	s.mu.Unlock()
	for _, p := range targets {
		if p != skip {
			p.sendText(msg)
		}
	}
}
