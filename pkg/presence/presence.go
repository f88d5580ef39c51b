// Package presence tracks the ephemeral per-peer state that rides on the
// same connections as document sync but carries no causal ordering: cursor
// position, active tool, display name. Last update wins, nothing merges,
// and entries expire when a peer goes quiet.
package presence

import (
	"time"

	"github.com/telescrawl/telescrawl/pkg/op"
	"github.com/telescrawl/telescrawl/pkg/wire"
)

// DefaultTTL is how long a peer's cursor stays visible without an update.
const DefaultTTL = 5 * time.Second

// paletteSize is the number of distinct cursor colors participant panels
// can assign; the index is derived from the actor id so every replica
// agrees without coordination.
const paletteSize = 8

// Entry is the last-known presence of one remote peer.
type Entry struct {
	Actor      op.ActorID
	Name       string
	Cursor     op.Point
	Tool       string
	ColorIndex int
	UpdatedAt  time.Time
}

// View holds the presence entries for one session. It is owned by the
// session event loop and needs no locking.
type View struct {
	local op.ActorID
	ttl   time.Duration
	peers map[op.ActorID]Entry
}

func NewView(local op.ActorID, ttl time.Duration) *View {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &View{local: local, ttl: ttl, peers: make(map[op.ActorID]Entry)}
}

// Apply folds a received update into the view. Our own echoes are ignored
// and a leave removes the peer immediately.
func (v *View) Apply(u wire.PresenceUpdate, now time.Time) {
	if u.Actor == v.local {
		return
	}
	if u.Leave {
		delete(v.peers, u.Actor)
		return
	}
	v.peers[u.Actor] = Entry{
		Actor:      u.Actor,
		Name:       u.Name,
		Cursor:     u.Cursor,
		Tool:       u.Tool,
		ColorIndex: ColorIndex(u.Actor),
		UpdatedAt:  now,
	}
}

// Drop removes a peer, used when its connection closes.
func (v *View) Drop(actor op.ActorID) {
	delete(v.peers, actor)
}

// Prune removes entries older than the TTL and returns the actors dropped.
func (v *View) Prune(now time.Time) []op.ActorID {
	var removed []op.ActorID
	for actor, e := range v.peers {
		if now.Sub(e.UpdatedAt) >= v.ttl {
			delete(v.peers, actor)
			removed = append(removed, actor)
		}
	}
	return removed
}

// Peers returns the current entries in no particular order.
func (v *View) Peers() []Entry {
	out := make([]Entry, 0, len(v.peers))
	for _, e := range v.peers {
		out = append(out, e)
	}
	return out
}

func (v *View) Count() int { return len(v.peers) }

// ColorIndex derives a stable palette slot from an actor id.
func ColorIndex(actor op.ActorID) int {
	var sum int
	for _, b := range []byte(actor) {
		sum += int(b)
	}
	return sum % paletteSize
}
