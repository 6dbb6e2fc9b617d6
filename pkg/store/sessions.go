package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcpden/mcpden/pkg/log"
	"github.com/mcpden/mcpden/pkg/types"
)

const (
	// DefaultSessionTTL applies to workspaces without a per-workspace TTL
	DefaultSessionTTL = 30 * time.Minute
	// DefaultSweepInterval is how often the expiry sweep runs
	DefaultSweepInterval = 30 * time.Second
)

// ExpiredFunc is invoked by the sweep for every expired session, after the
// session has been removed from the store. Workspace auto-cleanup hangs off
// this hook.
type ExpiredFunc func(sessionID, workspaceID string)

// TTLFunc resolves the idle TTL for a workspace. Returning zero selects the
// default TTL.
type TTLFunc func(workspaceID string) time.Duration

// SessionStore tracks client activity per workspace, in memory only.
// Sessions are created on first gateway contact, refreshed on every request
// and expired by a periodic sweep.
type SessionStore struct {
	mu          sync.RWMutex
	sessions    map[string]*types.Session
	byWorkspace map[string]string // workspaceID -> sessionID

	defaultTTL time.Duration
	ttlFor     TTLFunc
	onExpired  ExpiredFunc

	sweepEvery time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewSessionStore creates a session store. Zero arguments select defaults.
func NewSessionStore(defaultTTL, sweepEvery time.Duration) *SessionStore {
	if defaultTTL <= 0 {
		defaultTTL = DefaultSessionTTL
	}
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepInterval
	}
	return &SessionStore{
		sessions:    make(map[string]*types.Session),
		byWorkspace: make(map[string]string),
		defaultTTL:  defaultTTL,
		sweepEvery:  sweepEvery,
		stopCh:      make(chan struct{}),
	}
}

// OnExpired registers the expiry callback. Must be called before Start.
func (s *SessionStore) OnExpired(fn ExpiredFunc) {
	s.onExpired = fn
}

// TTLResolver registers the per-workspace TTL lookup. Must be called before
// Start.
func (s *SessionStore) TTLResolver(fn TTLFunc) {
	s.ttlFor = fn
}

// Start launches the sweep loop
func (s *SessionStore) Start() {
	go s.sweepLoop()
}

// Stop halts the sweep loop
func (s *SessionStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Touch refreshes the workspace's session, creating one if absent, and
// returns a snapshot of it.
func (s *SessionStore) Touch(workspaceID string) *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if id, ok := s.byWorkspace[workspaceID]; ok {
		session := s.sessions[id]
		session.LastActivityAt = now
		copied := *session
		return &copied
	}

	session := &types.Session{
		ID:             uuid.New().String(),
		WorkspaceID:    workspaceID,
		CreatedAt:      now,
		LastActivityAt: now,
		TTL:            s.resolveTTL(workspaceID),
	}
	s.sessions[session.ID] = session
	s.byWorkspace[workspaceID] = session.ID
	return session
}

// Get returns a session snapshot by id
func (s *SessionStore) Get(id string) (*types.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	copied := *session
	return &copied, true
}

// List returns snapshots of all live sessions
func (s *SessionStore) List() []*types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		copied := *session
		out = append(out, &copied)
	}
	return out
}

// CountForWorkspace returns the number of live sessions for a workspace
func (s *SessionStore) CountForWorkspace(workspaceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.byWorkspace[workspaceID]; ok {
		return 1
	}
	return 0
}

// Remove deletes a session by id. Idempotent.
func (s *SessionStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		if s.byWorkspace[session.WorkspaceID] == id {
			delete(s.byWorkspace, session.WorkspaceID)
		}
	}
}

// Sweep expires every session idle past its TTL and invokes the expiry
// callback for each, outside the store lock. Exposed for tests; the sweep
// loop calls it on a timer.
func (s *SessionStore) Sweep() {
	now := time.Now()

	s.mu.Lock()
	var expired []*types.Session
	for id, session := range s.sessions {
		if now.Sub(session.LastActivityAt) > session.TTL {
			expired = append(expired, session)
			delete(s.sessions, id)
			if s.byWorkspace[session.WorkspaceID] == id {
				delete(s.byWorkspace, session.WorkspaceID)
			}
		}
	}
	callback := s.onExpired
	s.mu.Unlock()

	if callback == nil {
		return
	}
	for _, session := range expired {
		callback(session.ID, session.WorkspaceID)
	}
}

func (s *SessionStore) sweepLoop() {
	logger := log.WithComponent("sessions")
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			logger.Debug().Msg("session sweep stopped")
			return
		}
	}
}

func (s *SessionStore) resolveTTL(workspaceID string) time.Duration {
	if s.ttlFor != nil {
		if ttl := s.ttlFor(workspaceID); ttl > 0 {
			return ttl
		}
	}
	return s.defaultTTL
}
