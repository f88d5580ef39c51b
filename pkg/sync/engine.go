// Package sync moves operations and presence between replicas. There is no
// central broadcaster: each peer floods new operations to its connections,
// which is safe because operations are idempotent and causally
// self-describing. Divergence after a partition heals with one version
// vector exchange per connection.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/telescrawl/telescrawl/pkg/op"
	"github.com/telescrawl/telescrawl/pkg/wire"
)

// Delegate receives inbound traffic. Implementations hand everything off to
// the session's serialized event loop and never block the read pumps.
type Delegate interface {
	PeerConnected(p *Peer)
	PeerClosed(p *Peer)
	HandleHello(p *Peer, h wire.Hello)
	HandleOps(p *Peer, ops []*op.Operation)
	HandlePresence(u wire.PresenceUpdate)
}

// Engine owns the peer connections for one session: the HTTP listener that
// accepts them, the dialer that initiates them, and fan-out to all of them.
type Engine struct {
	delegate Delegate
	upgrader websocket.Upgrader

	mu     sync.Mutex
	peers  map[*Peer]struct{}
	closed bool

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

func NewEngine(delegate Delegate) *Engine {
	return &Engine{
		delegate: delegate,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		peers:    make(map[*Peer]struct{}),
	}
}

// Router exposes the peer endpoints with request logging.
func (e *Engine) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(e.acceptPeer)
	return r
}

// Listen binds the peer listener and serves it in the background. The bound
// address is returned so tickets can embed ephemeral ports.
func (e *Engine) Listen(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	e.listener = ln
	e.server = &http.Server{Handler: e.Router()}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("peer listener failed", "err", err)
		}
	}()
	return ln.Addr().String(), nil
}

// Addr returns the bound listener address, or "" when not listening.
func (e *Engine) Addr() string {
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

func (e *Engine) acceptPeer(writer http.ResponseWriter, request *http.Request) {
	conn, err := e.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	e.adoptConn(conn)
}

// Dial connects out to a peer endpoint, retrying with exponential backoff
// until the context is cancelled. A peer being unreachable never affects
// local document state.
func (e *Engine) Dial(ctx context.Context, endpoint string) error {
	u := url.URL{Scheme: "ws", Host: endpoint, Path: "/ws"}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			slog.Info("failed to dial peer, retrying", "endpoint", endpoint, "err", err)
			return err
		}
		e.adoptConn(conn)
		return nil
	}, bo)
}

func (e *Engine) adoptConn(conn *websocket.Conn) {
	p := newPeer(e, conn)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = conn.Close()
		return
	}
	e.peers[p] = struct{}{}
	// Registered under the same lock as the closed check, so Close cannot
	// observe a zero WaitGroup while an accept is still in flight.
	e.wg.Add(2)
	e.mu.Unlock()

	go func() { defer e.wg.Done(); p.readPump() }()
	go func() { defer e.wg.Done(); p.writePump() }()
	slog.Info("peer connected", "peer", p.RemoteAddr())
	e.delegate.PeerConnected(p)
}

func (e *Engine) removePeer(p *Peer) {
	e.mu.Lock()
	_, known := e.peers[p]
	delete(e.peers, p)
	e.mu.Unlock()
	if !known {
		return
	}
	close(p.done)
	_ = p.conn.Close()
	slog.Info("peer disconnected", "peer", p.RemoteAddr())
	e.delegate.PeerClosed(p)
}

// SendTo queues a message for one peer.
func (e *Engine) SendTo(p *Peer, m *wire.Message) {
	raw, err := wire.Encode(m)
	if err != nil {
		slog.Error("failed to encode message", "err", err)
		return
	}
	p.enqueue(raw)
}

// Broadcast queues a message for every connected peer except the given one
// (typically the source of the data being re-flooded).
func (e *Engine) Broadcast(m *wire.Message, except *Peer) {
	raw, err := wire.Encode(m)
	if err != nil {
		slog.Error("failed to encode message", "err", err)
		return
	}
	e.mu.Lock()
	peers := make([]*Peer, 0, len(e.peers))
	for p := range e.peers {
		if p != except {
			peers = append(peers, p)
		}
	}
	e.mu.Unlock()
	for _, p := range peers {
		p.enqueue(raw)
	}
}

// Drop disconnects one peer, e.g. when it turns out to hold a different
// document.
func (e *Engine) Drop(p *Peer) {
	e.removePeer(p)
}

// Peers returns a snapshot of the live connections.
func (e *Engine) Peers() []*Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Peer, 0, len(e.peers))
	for p := range e.peers {
		out = append(out, p)
	}
	return out
}

// PeerCount returns the number of live connections.
func (e *Engine) PeerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.peers)
}

// Close tears down the listener and every peer connection. Buffered frames
// are dropped; reconnecting peers recover via a fresh vector exchange.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	peers := make([]*Peer, 0, len(e.peers))
	for p := range e.peers {
		peers = append(peers, p)
	}
	e.peers = make(map[*Peer]struct{})
	e.mu.Unlock()

	for _, p := range peers {
		close(p.done)
		_ = p.conn.Close()
	}
	if e.server != nil {
		_ = e.server.Close()
	}
	e.wg.Wait()
}
