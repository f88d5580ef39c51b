package op

import "sort"

// Log is the append-only record of every operation the local replica has
// observed, plus a buffer of operations whose causal dependencies have not
// arrived yet. It is not safe for concurrent use; the owning session
// serializes all access onto its event loop.
type Log struct {
	ops     map[ID]*Operation
	byActor map[ActorID][]*Operation
	vector  Vector
	pending []*Operation
}

// AppendResult reports what an Append actually did. Applied contains the
// operation itself plus any previously buffered operations that became
// causally ready because of it, in application order.
type AppendResult struct {
	Known   bool
	Applied []*Operation
}

func NewLog() *Log {
	return &Log{
		ops:     make(map[ID]*Operation),
		byActor: make(map[ActorID][]*Operation),
		vector:  make(Vector),
	}
}

// Contains reports whether the operation id is already in the log.
func (l *Log) Contains(id ID) bool {
	_, ok := l.ops[id]
	return ok
}

// Vector returns a copy of the log's version vector.
func (l *Log) Vector() Vector {
	return l.vector.Clone()
}

// Len returns the number of applied operations.
func (l *Log) Len() int {
	return len(l.ops)
}

// Ready reports whether the operation's declared dependencies, including
// its implicit predecessor by the same actor, are all present.
func (l *Log) Ready(o *Operation) bool {
	if o.ID.Seq > 1 && l.vector[o.ID.Actor] < o.ID.Seq-1 {
		return false
	}
	return l.vector.Covers(o.Deps)
}

// Append stores the operation if it is new and causally ready. Duplicates
// are a no-op. Not-yet-ready operations are buffered and drained as their
// dependencies arrive, classic causal-delivery style.
func (l *Log) Append(o *Operation) AppendResult {
	if l.Contains(o.ID) {
		return AppendResult{Known: true}
	}
	if !l.Ready(o) {
		for _, p := range l.pending {
			if p.ID == o.ID {
				return AppendResult{Known: true}
			}
		}
		l.pending = append(l.pending, o)
		return AppendResult{}
	}
	applied := []*Operation{l.admit(o)}
	applied = append(applied, l.drainPending()...)
	return AppendResult{Applied: applied}
}

func (l *Log) admit(o *Operation) *Operation {
	l.ops[o.ID] = o
	l.byActor[o.ID.Actor] = append(l.byActor[o.ID.Actor], o)
	l.vector.Observe(o.ID)
	return o
}

// drainPending repeatedly flushes buffered operations that have become
// ready. Each admitted operation can unblock further ones.
func (l *Log) drainPending() []*Operation {
	var applied []*Operation
	for {
		progressed := false
		remaining := l.pending[:0]
		for _, p := range l.pending {
			if l.Contains(p.ID) {
				continue
			}
			if l.Ready(p) {
				applied = append(applied, l.admit(p))
				progressed = true
			} else {
				remaining = append(remaining, p)
			}
		}
		l.pending = remaining
		if !progressed {
			return applied
		}
	}
}

// PendingLen returns the number of buffered causally-not-ready operations.
func (l *Log) PendingLen() int {
	return len(l.pending)
}

// MissingSince returns every applied operation a peer with the given vector
// is missing, ordered so that the receiver can apply them directly: by
// actor, then by sequence. Per-actor order is the only ordering requirement;
// cross-actor interleaving is free because deps are re-checked on arrival.
func (l *Log) MissingSince(v Vector) []*Operation {
	var out []*Operation
	actors := make([]ActorID, 0, len(l.byActor))
	for actor := range l.byActor {
		actors = append(actors, actor)
	}
	sort.Slice(actors, func(i, j int) bool { return actors[i] < actors[j] })
	for _, actor := range actors {
		have := v[actor]
		for _, o := range l.byActor[actor] {
			if o.ID.Seq > have {
				out = append(out, o)
			}
		}
	}
	return out
}

// All returns every applied operation in the same deterministic order as
// MissingSince with an empty vector. Used for persistence and export; ids
// and dependencies must round-trip verbatim.
func (l *Log) All() []*Operation {
	return l.MissingSince(Vector{})
}
