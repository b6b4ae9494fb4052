package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/interviewcoach/server/internal/agent/budget"
	logx "github.com/interviewcoach/server/pkg/logger"
)

// Manager owns the live session actors. Sessions are created on first
// use and disposed explicitly; all state shared across sessions lives in
// the injected components, not in package globals.
type Manager struct {
	deps    Deps
	builder *budget.Builder

	mu      sync.Mutex
	actors  map[string]*actorHandle
	closed  bool
	rootCtx context.Context
	cancel  context.CancelFunc
}

type actorHandle struct {
	actor  *Actor
	cancel context.CancelFunc
}

func NewManager(ctx context.Context, deps Deps, builder *budget.Builder) *Manager {
	rootCtx, cancel := context.WithCancel(ctx)
	return &Manager{
		deps:    deps,
		builder: builder,
		actors:  make(map[string]*actorHandle),
		rootCtx: rootCtx,
		cancel:  cancel,
	}
}

// Open creates the session's actor, starting its loop. Opening an
// already open session returns the existing actor.
func (m *Manager) Open(settings Settings) (*Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("session manager closed")
	}
	if h, ok := m.actors[settings.SessionID]; ok {
		return h.actor, nil
	}

	actor := newActor(m.deps, settings)
	actorCtx, cancel := context.WithCancel(m.rootCtx)
	m.actors[settings.SessionID] = &actorHandle{actor: actor, cancel: cancel}
	go actor.run(actorCtx)

	logx.Info().Str("session_id", settings.SessionID).Msg("Session opened")
	return actor, nil
}

// Get returns the running actor for a session, nil when not open.
func (m *Manager) Get(sessionID string) *Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.actors[sessionID]; ok {
		return h.actor
	}
	return nil
}

// Close stops a session's actor and drops its cached summary.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	h, ok := m.actors[sessionID]
	if ok {
		delete(m.actors, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	h.cancel()
	m.builder.ClearSession(sessionID)
	logx.Info().Str("session_id", sessionID).Msg("Session closed")
}

// Shutdown stops every actor and refuses further opens.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	actors := m.actors
	m.actors = make(map[string]*actorHandle)
	m.mu.Unlock()

	m.cancel()
	for id := range actors {
		m.builder.ClearSession(id)
	}
}
