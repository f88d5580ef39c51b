package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/telescrawl/telescrawl/pkg/op"
	"github.com/telescrawl/telescrawl/pkg/store"
)

// joinTimeout bounds how long Join waits for the first peer connection
// before reporting the ticket's endpoints unreachable.
const joinTimeout = 30 * time.Second

// Manager issues and redeems tickets and builds sessions.
type Manager struct {
	cfg Config
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Create starts a session for a fresh document, or for the document found
// in the configured storage path if one was persisted there before.
func (m *Manager) Create() (*Session, error) {
	docID := uuid.NewString()
	db, storedID, seed, err := m.openStorage()
	if err != nil {
		return nil, err
	}
	if storedID != "" {
		docID = storedID
		slog.Info("resuming persisted document", "doc", docID, "ops", len(seed))
	}
	s := newSession(m.cfg, docID, seed, db)
	if !m.cfg.Offline {
		if err := s.startNetwork(nil); err != nil {
			s.Close()
			return nil, err
		}
	}
	s.start()
	return s, nil
}

// Join redeems a ticket: decode it, start a session for its document, and
// connect to at least one embedded endpoint. The newcomer's hello carries
// whatever vector it already has (empty for a true newcomer), so the peer
// streams the missing history and the full bootstrap falls out of the
// normal sync exchange. In offline mode the session is created without
// connecting.
func (m *Manager) Join(ticket string) (*Session, error) {
	t, err := DecodeTicket(ticket)
	if err != nil {
		return nil, err
	}
	docID := t.DocID
	db, storedID, seed, err := m.openStorage()
	if err != nil {
		return nil, err
	}
	if storedID != "" && storedID != docID {
		_ = db.Close()
		return nil, fmt.Errorf("storage holds document %s, ticket names %s", storedID, docID)
	}
	s := newSession(m.cfg, docID, seed, db)
	if m.cfg.Offline {
		slog.Info("offline mode, not connecting", "doc", docID)
		s.start()
		return s, nil
	}
	if err := s.startNetwork(nil); err != nil {
		s.Close()
		return nil, err
	}
	s.start()
	if len(t.Endpoints) == 0 {
		slog.Warn("ticket carries no endpoints, waiting for inbound peers", "doc", docID)
		return s, nil
	}
	ctx, cancel := context.WithTimeout(s.ctx, joinTimeout)
	defer cancel()
	var lastErr error
	for _, ep := range t.Endpoints {
		if err := s.engine.Dial(ctx, ep); err != nil {
			lastErr = err
			continue
		}
		return s, nil
	}
	s.Close()
	return nil, fmt.Errorf("failed to connect to any ticket endpoint: %w", lastErr)
}

// openStorage opens the configured sqlite log and returns whatever document
// it already holds. Ids and dependencies come back verbatim so convergence
// stays valid across restarts.
func (m *Manager) openStorage() (*store.DB, string, []*op.Operation, error) {
	if m.cfg.StoragePath == "" {
		return nil, "", nil, nil
	}
	db, err := store.Open(m.cfg.StoragePath)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to open storage: %w", err)
	}
	storedID, seed, err := db.LoadOps()
	if err != nil {
		_ = db.Close()
		return nil, "", nil, fmt.Errorf("failed to load stored operations: %w", err)
	}
	return db, storedID, seed, nil
}
