// Package session ties the engine together: it owns the operation log, the
// document store, undo, and presence for one document, and serializes every
// mutation onto a single event loop. Network goroutines only ever post
// closures into that loop, so there are no shared mutable structures and no
// intra-process races by construction.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telescrawl/telescrawl/pkg/doc"
	"github.com/telescrawl/telescrawl/pkg/op"
	"github.com/telescrawl/telescrawl/pkg/presence"
	"github.com/telescrawl/telescrawl/pkg/store"
	enginepkg "github.com/telescrawl/telescrawl/pkg/sync"
	"github.com/telescrawl/telescrawl/pkg/undo"
	"github.com/telescrawl/telescrawl/pkg/wire"
)

// Session is the local runtime's view of one shared document.
type Session struct {
	cfg   Config
	docID string
	actor op.ActorID

	// Owned exclusively by the event loop.
	seq        uint64
	log        *op.Log
	store      *doc.Store
	undo       *undo.Controller
	view       *presence.View
	pending    *wire.PresenceUpdate
	savedCount int

	engine *enginepkg.Engine
	db     *store.DB

	cmds      chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	loopDone  chan struct{}
	closeOnce sync.Once
}

func newSession(cfg Config, docID string, seed []*op.Operation, db *store.DB) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		docID:    docID,
		db:       db,
		actor:    op.ActorID(uuid.NewString()),
		log:      op.NewLog(),
		store:    doc.NewStore(),
		undo:     undo.NewController(),
		cmds:     make(chan func(), 256),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	s.view = presence.NewView(s.actor, cfg.PresenceTTL)
	for _, o := range seed {
		if res := s.log.Append(o); len(res.Applied) > 0 {
			s.store.Apply(res.Applied)
		}
	}
	s.savedCount = s.log.Len()
	return s
}

// start launches the event loop. Called once by the manager after the
// network engine (if any) is wired up, so the loop never observes a
// half-initialized session.
func (s *Session) start() {
	s.started = true
	go s.run()
}

// Actor returns this session's stable actor id.
func (s *Session) Actor() op.ActorID { return s.actor }

// DocID returns the shared document's id.
func (s *Session) DocID() string { return s.docID }

// Offline reports whether the session was created with networking disabled.
func (s *Session) Offline() bool { return s.engine == nil }

// post hands a closure to the event loop. After Close it is a silent no-op,
// matching "cancellation discards buffered work".
func (s *Session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.ctx.Done():
	}
}

// call posts a closure and waits for it, for read paths like Snapshot.
func call[T any](s *Session, fn func() T) T {
	res := make(chan T, 1)
	s.post(func() { res <- fn() })
	select {
	case v := <-res:
		return v
	case <-s.ctx.Done():
		var zero T
		return zero
	}
}

func (s *Session) run() {
	defer close(s.loopDone)
	presenceTicker := time.NewTicker(s.cfg.PresenceInterval)
	defer presenceTicker.Stop()
	saveTicker := time.NewTicker(s.cfg.SaveInterval)
	defer saveTicker.Stop()
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case now := <-presenceTicker.C:
			s.flushPresence()
			s.view.Prune(now)
		case <-saveTicker.C:
			s.saveLog()
		case <-s.ctx.Done():
			return
		}
	}
}

// Subscribe registers a change callback invoked after every applied batch,
// local or remote. Callbacks run on the event loop and must not block.
func (s *Session) Subscribe(fn func()) {
	s.post(func() { s.store.Subscribe(fn) })
}

// Snapshot returns an immutable view of the canvas.
func (s *Session) Snapshot() *doc.Snapshot {
	return call(s, func() *doc.Snapshot { return s.store.Snapshot() })
}

// Vector returns the log's current version vector.
func (s *Session) Vector() op.Vector {
	return call(s, func() op.Vector { return s.log.Vector() })
}

// History exports every operation in the log, ids and dependencies
// verbatim, for persistence and visualization.
func (s *Session) History() []*op.Operation {
	return call(s, func() []*op.Operation { return s.log.All() })
}

// Submit applies one local action as a Change: every payload becomes an
// operation stamped with this actor's next sequence numbers and the log's
// vector as causal dependencies. The inverse lands on the undo stack.
func (s *Session) Submit(payloads []op.Payload) {
	if len(payloads) == 0 {
		return
	}
	s.post(func() {
		payloads = doc.FreshenShapeIDs(s.store, payloads)
		inverse := doc.Invert(s.store, payloads)
		s.applyLocal(payloads)
		s.undo.Record(inverse)
	})
}

// Undo reverts this actor's most recent not-yet-undone change by submitting
// compensating operations. Returns false when there is nothing to undo.
func (s *Session) Undo() bool {
	return call(s, func() bool {
		inv, ok := s.undo.PopUndo()
		if !ok {
			slog.Info("nothing to undo")
			return false
		}
		redoInv := doc.Invert(s.store, inv)
		s.applyLocal(inv)
		s.undo.PushRedo(redoInv)
		return true
	})
}

// Redo re-applies the most recently undone change as a new forward change.
func (s *Session) Redo() bool {
	return call(s, func() bool {
		inv, ok := s.undo.PopRedo()
		if !ok {
			slog.Info("nothing to redo")
			return false
		}
		undoInv := doc.Invert(s.store, inv)
		s.applyLocal(inv)
		s.undo.PushUndo(undoInv)
		return true
	})
}

// applyLocal mints operations for the payloads, applies them, and floods
// them to every connected peer. Loop context only.
func (s *Session) applyLocal(payloads []op.Payload) *op.Change {
	change := &op.Change{Actor: s.actor}
	for _, p := range payloads {
		s.seq++
		o := &op.Operation{
			ID:      op.ID{Actor: s.actor, Seq: s.seq},
			Deps:    s.log.Vector(),
			Payload: p,
		}
		res := s.log.Append(o)
		s.store.Apply(res.Applied)
		change.Ops = append(change.Ops, o)
	}
	s.floodOps(change.Ops, nil)
	return change
}

// floodOps sends operations to every connected peer not already known to
// hold them, per the peer's tracked vector, and records what was sent so a
// re-flood does not repeat it. Loop context only.
func (s *Session) floodOps(ops []*op.Operation, except *enginepkg.Peer) {
	if s.engine == nil || len(ops) == 0 {
		return
	}
	for _, p := range s.engine.Peers() {
		if p == except {
			continue
		}
		var missing []*op.Operation
		for _, o := range ops {
			if !p.Vector.Includes(o.ID) {
				missing = append(missing, o)
			}
		}
		if len(missing) == 0 {
			continue
		}
		s.engine.SendTo(p, &wire.Message{Kind: wire.KindOps, Ops: &wire.OpBatch{Ops: missing}})
		for _, o := range missing {
			p.Vector.Observe(o.ID)
		}
	}
}

// PublishPresence records the local cursor state for the next coalesced
// broadcast. Calls faster than the configured interval collapse into one.
func (s *Session) PublishPresence(cursor op.Point, tool string) {
	s.post(func() {
		s.pending = &wire.PresenceUpdate{
			Actor:  s.actor,
			Name:   s.cfg.Name,
			Cursor: cursor,
			Tool:   tool,
		}
	})
}

func (s *Session) flushPresence() {
	if s.pending == nil || s.engine == nil {
		s.pending = nil
		return
	}
	s.pending.SentAt = time.Now().UnixMilli()
	s.engine.Broadcast(&wire.Message{Kind: wire.KindPresence, Presence: s.pending}, nil)
	s.pending = nil
}

// Peers returns the current presence view for participant panels.
func (s *Session) Peers() []presence.Entry {
	return call(s, func() []presence.Entry { return s.view.Peers() })
}

// Ticket encodes a joinable token for this session's document.
func (s *Session) Ticket() string {
	t := Ticket{DocID: s.docID}
	if s.engine != nil {
		if addr := s.engine.Addr(); addr != "" {
			t.Endpoints = []string{addr}
		}
	}
	return t.Encode()
}

func (s *Session) saveLog() {
	if s.db == nil || s.log.Len() == s.savedCount {
		return
	}
	if err := s.db.SaveOps(s.docID, s.log.All()); err != nil {
		slog.Error("failed to persist operation log", "err", err)
		return
	}
	s.savedCount = s.log.Len()
	slog.Info("persisted operation log", "ops", s.savedCount)
}

func (s *Session) broadcastLeave() {
	if s.engine == nil {
		return
	}
	s.engine.Broadcast(&wire.Message{Kind: wire.KindPresence, Presence: &wire.PresenceUpdate{
		Actor:  s.actor,
		SentAt: time.Now().UnixMilli(),
		Leave:  true,
	}}, nil)
}

// Close shuts the session down: a final presence leave and log flush, then
// the loop, the peer connections, and the storage handle. Buffered
// causally-not-ready operations are discarded with the log.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.started {
			done := make(chan struct{})
			s.post(func() {
				s.broadcastLeave()
				s.saveLog()
				close(done)
			})
			select {
			case <-done:
			case <-time.After(2 * time.Second):
			}
		}
		s.cancel()
		if s.started {
			<-s.loopDone
		}
		if s.engine != nil {
			s.engine.Close()
		}
		if s.db != nil {
			if err := s.db.Close(); err != nil {
				slog.Error("failed to close storage", "err", err)
			}
		}
	})
}

// PeerConnected implements sync.Delegate: greet the new connection with our
// vector so both sides can compute what the other is missing.
func (s *Session) PeerConnected(p *enginepkg.Peer) {
	s.post(func() {
		s.engine.SendTo(p, &wire.Message{Kind: wire.KindHello, Hello: &wire.Hello{
			DocID:  s.docID,
			Actor:  s.actor,
			Name:   s.cfg.Name,
			Vector: s.log.Vector(),
		}})
	})
}

// PeerClosed implements sync.Delegate.
func (s *Session) PeerClosed(p *enginepkg.Peer) {
	// Posted from a goroutine because the engine may drop a peer while the
	// loop itself is broadcasting.
	go s.post(func() {
		if p.Actor != "" {
			s.view.Drop(p.Actor)
		}
	})
}

// HandleHello implements sync.Delegate.
func (s *Session) HandleHello(p *enginepkg.Peer, h wire.Hello) {
	s.post(func() {
		if h.DocID != s.docID {
			slog.Warn("peer holds a different document, dropping", "peer", p.RemoteAddr(), "doc", h.DocID)
			s.engine.Drop(p)
			return
		}
		p.Actor = h.Actor
		p.Name = h.Name
		p.Vector = h.Vector.Clone()
		missing := s.log.MissingSince(h.Vector)
		slog.Info("peer hello", "peer", p.RemoteAddr(), "actor", h.Actor, "missing", len(missing))
		if len(missing) > 0 {
			s.engine.SendTo(p, &wire.Message{Kind: wire.KindOps, Ops: &wire.OpBatch{Ops: missing}})
			for _, o := range missing {
				p.Vector.Observe(o.ID)
			}
		}
	})
}

// HandleOps implements sync.Delegate: fold a remote batch into the log,
// materialize whatever became causally ready, and re-flood the newly
// applied operations to every peer not already known to hold them.
func (s *Session) HandleOps(p *enginepkg.Peer, ops []*op.Operation) {
	s.post(func() {
		var applied []*op.Operation
		for _, o := range ops {
			p.Vector.Observe(o.ID)
			res := s.log.Append(o)
			applied = append(applied, res.Applied...)
		}
		if len(applied) == 0 {
			return
		}
		s.store.Apply(applied)
		s.floodOps(applied, p)
	})
}

// HandlePresence implements sync.Delegate.
func (s *Session) HandlePresence(u wire.PresenceUpdate) {
	s.post(func() { s.view.Apply(u, time.Now()) })
}

// startNetwork brings up the listener, discovery, and outbound dials.
func (s *Session) startNetwork(endpoints []string) error {
	s.engine = enginepkg.NewEngine(s)
	addr, err := s.engine.Listen(s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen for peers: %w", err)
	}
	slog.Info("listening for peers", "addr", addr, "doc", s.docID)
	if s.cfg.Discovery {
		advertise(s.ctx, s.docID, addr)
		found, err := browse(s.ctx, s.docID)
		if err != nil {
			slog.Warn("failed to start discovery browse", "err", err)
		} else {
			go func() {
				for ep := range found {
					if ep == addr {
						continue
					}
					s.dialPeer(ep)
				}
			}()
		}
	}
	for _, ep := range endpoints {
		s.dialPeer(ep)
	}
	return nil
}

func (s *Session) dialPeer(endpoint string) {
	go func() {
		if err := s.engine.Dial(s.ctx, endpoint); err != nil && s.ctx.Err() == nil {
			slog.Error("failed to connect to peer", "endpoint", endpoint, "err", err)
		}
	}()
}
