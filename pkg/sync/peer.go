package sync

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/telescrawl/telescrawl/pkg/op"
	"github.com/telescrawl/telescrawl/pkg/wire"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

// Peer is one live websocket connection to another replica. The engine owns
// the connection; the session only ever sees the peer as an opaque handle
// plus its sync progress.
type Peer struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	engine *Engine

	// Vector tracks what the peer is known to hold: seeded by its hello,
	// raised by every operation sent to or received from it. Read and
	// written from the session loop only.
	Actor  op.ActorID
	Name   string
	Vector op.Vector
}

func newPeer(e *Engine, conn *websocket.Conn) *Peer {
	return &Peer{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		engine: e,
		Vector: op.Vector{},
	}
}

// RemoteAddr names the peer for logs.
func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

// enqueue hands a frame to the write pump without blocking. The send
// channel is never closed; removal signals through done, so a broadcast
// holding a stale handle to a disconnecting peer cannot panic. A peer that
// cannot drain its buffer is dropped; it will recover everything it missed
// from a fresh vector exchange on reconnect.
func (p *Peer) enqueue(raw []byte) {
	select {
	case <-p.done:
	case p.send <- raw:
	default:
		slog.Warn("peer send buffer full, dropping connection", "peer", p.RemoteAddr())
		p.engine.removePeer(p)
	}
}

func (p *Peer) readPump() {
	defer p.engine.removePeer(p)
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		m, err := wire.Decode(raw)
		if err != nil {
			slog.Warn("failed to decode frame", "peer", p.RemoteAddr(), "err", err)
			continue
		}
		switch m.Kind {
		case wire.KindHello:
			p.engine.delegate.HandleHello(p, *m.Hello)
		case wire.KindOps:
			p.engine.delegate.HandleOps(p, m.Ops.Ops)
		case wire.KindPresence:
			p.engine.delegate.HandlePresence(*m.Presence)
		}
	}
}

func (p *Peer) writePump() {
	defer p.conn.Close()
	for {
		select {
		case raw := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-p.done:
			_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
