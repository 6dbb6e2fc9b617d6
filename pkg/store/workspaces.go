package store

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/types"
)

// workspaceState is the persisted shape of workspaces.json
type workspaceState struct {
	Workspaces map[string]*types.Workspace             `json:"workspaces"`
	Configs    map[string]*types.WorkspaceServerConfig `json:"configs"`
}

// WorkspaceStore persists workspaces and their per-server configs. The
// global workspace is seeded on first start and can never be deleted.
type WorkspaceStore struct {
	mu    sync.RWMutex
	path  string
	state workspaceState
}

// NewWorkspaceStore loads (or creates) workspaces.json under dataDir
func NewWorkspaceStore(dataDir string) (*WorkspaceStore, error) {
	s := &WorkspaceStore{
		path: filepath.Join(dataDir, "workspaces.json"),
		state: workspaceState{
			Workspaces: make(map[string]*types.Workspace),
			Configs:    make(map[string]*types.WorkspaceServerConfig),
		},
	}
	if _, err := loadJSON(s.path, &s.state); err != nil {
		return nil, errdefs.Persisted(err, "loading workspaces")
	}
	if s.state.Workspaces == nil {
		s.state.Workspaces = make(map[string]*types.Workspace)
	}
	if s.state.Configs == nil {
		s.state.Configs = make(map[string]*types.WorkspaceServerConfig)
	}

	if _, ok := s.state.Workspaces[types.GlobalWorkspaceID]; !ok {
		now := time.Now()
		s.state.Workspaces[types.GlobalWorkspaceID] = &types.Workspace{
			ID:        types.GlobalWorkspaceID,
			Label:     "Global",
			Source:    "builtin",
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := saveJSON(s.path, &s.state); err != nil {
			return nil, errdefs.Persisted(err, "seeding global workspace")
		}
	}
	return s, nil
}

func configKey(workspaceID, serverID string) string {
	return workspaceID + "/" + serverID
}

// Create adds a workspace. An empty ID is assigned a fresh uuid.
func (s *WorkspaceStore) Create(ws *types.Workspace) error {
	if ws.ProjectRoot == "" {
		return errdefs.InvalidArgument("workspace requires projectRoot")
	}
	if !filepath.IsAbs(ws.ProjectRoot) {
		return errdefs.InvalidArgument("projectRoot must be absolute: %s", ws.ProjectRoot)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ws.ID == "" {
		ws.ID = uuid.New().String()
	}
	if ws.ID == types.GlobalWorkspaceID {
		return errdefs.AlreadyExists("workspace id %q is reserved", ws.ID)
	}
	if _, exists := s.state.Workspaces[ws.ID]; exists {
		return errdefs.AlreadyExists("workspace %s already exists", ws.ID)
	}
	if ws.Label == "" {
		ws.Label = filepath.Base(ws.ProjectRoot)
	}
	now := time.Now()
	ws.CreatedAt = now
	ws.UpdatedAt = now

	s.state.Workspaces[ws.ID] = ws
	if err := saveJSON(s.path, &s.state); err != nil {
		delete(s.state.Workspaces, ws.ID)
		return errdefs.Persisted(err, "writing workspaces")
	}
	return nil
}

// Get returns the workspace for id
func (s *WorkspaceStore) Get(id string) (*types.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.state.Workspaces[id]
	if !ok {
		return nil, errdefs.NotFound("workspace %s not found", id)
	}
	copied := *ws
	return &copied, nil
}

// List returns all workspaces, global first, the rest sorted by label
func (s *WorkspaceStore) List() []*types.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Workspace, 0, len(s.state.Workspaces))
	for _, ws := range s.state.Workspaces {
		copied := *ws
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsGlobal() != out[j].IsGlobal() {
			return out[i].IsGlobal()
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Update applies a mutation to the stored workspace under the write lock
func (s *WorkspaceStore) Update(id string, mutate func(*types.Workspace) error) (*types.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.state.Workspaces[id]
	if !ok {
		return nil, errdefs.NotFound("workspace %s not found", id)
	}

	next := *prev
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.ID = id
	next.CreatedAt = prev.CreatedAt
	next.UpdatedAt = time.Now()

	s.state.Workspaces[id] = &next
	if err := saveJSON(s.path, &s.state); err != nil {
		s.state.Workspaces[id] = prev
		return nil, errdefs.Persisted(err, "writing workspaces")
	}
	copied := next
	return &copied, nil
}

// Delete removes the workspace and every per-server config under it. The
// caller stops instances and cascades secret deletion first. Deleting the
// global workspace always fails.
func (s *WorkspaceStore) Delete(id string) error {
	if id == types.GlobalWorkspaceID {
		return errdefs.InvalidArgument("the global workspace cannot be deleted")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.state.Workspaces[id]
	if !ok {
		return errdefs.NotFound("workspace %s not found", id)
	}

	removed := make(map[string]*types.WorkspaceServerConfig)
	for key, cfg := range s.state.Configs {
		if cfg.WorkspaceID == id {
			removed[key] = cfg
			delete(s.state.Configs, key)
		}
	}
	delete(s.state.Workspaces, id)

	if err := saveJSON(s.path, &s.state); err != nil {
		s.state.Workspaces[id] = prev
		for key, cfg := range removed {
			s.state.Configs[key] = cfg
		}
		return errdefs.Persisted(err, "writing workspaces")
	}
	return nil
}

// GetConfig returns the per-(workspace, server) config. When none is stored
// the default (enabled, no overrides) is returned.
func (s *WorkspaceStore) GetConfig(workspaceID, serverID string) *types.WorkspaceServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cfg, ok := s.state.Configs[configKey(workspaceID, serverID)]; ok {
		copied := *cfg
		return &copied
	}
	return &types.WorkspaceServerConfig{
		WorkspaceID: workspaceID,
		ServerID:    serverID,
		Enabled:     true,
	}
}

// SetConfig upserts the per-(workspace, server) config. Configs never exist
// for the global workspace.
func (s *WorkspaceStore) SetConfig(cfg *types.WorkspaceServerConfig) error {
	if cfg.WorkspaceID == types.GlobalWorkspaceID {
		return errdefs.InvalidArgument("the global workspace has no per-server config")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.Workspaces[cfg.WorkspaceID]; !ok {
		return errdefs.NotFound("workspace %s not found", cfg.WorkspaceID)
	}

	key := configKey(cfg.WorkspaceID, cfg.ServerID)
	prev := s.state.Configs[key]
	s.state.Configs[key] = cfg
	if err := saveJSON(s.path, &s.state); err != nil {
		if prev != nil {
			s.state.Configs[key] = prev
		} else {
			delete(s.state.Configs, key)
		}
		return errdefs.Persisted(err, "writing workspaces")
	}
	return nil
}

// ListConfigs returns all stored configs for a workspace
func (s *WorkspaceStore) ListConfigs(workspaceID string) []*types.WorkspaceServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.WorkspaceServerConfig
	for _, cfg := range s.state.Configs {
		if cfg.WorkspaceID == workspaceID {
			copied := *cfg
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// DeleteConfigsForServer removes every workspace's config for a server.
// Used by the server-delete cascade.
func (s *WorkspaceStore) DeleteConfigsForServer(serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]*types.WorkspaceServerConfig)
	for key, cfg := range s.state.Configs {
		if cfg.ServerID == serverID {
			removed[key] = cfg
			delete(s.state.Configs, key)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := saveJSON(s.path, &s.state); err != nil {
		for key, cfg := range removed {
			s.state.Configs[key] = cfg
		}
		return errdefs.Persisted(err, "writing workspaces")
	}
	return nil
}

// Enabled reports whether the server may run in the workspace. The global
// workspace never disables anything.
func (s *WorkspaceStore) Enabled(workspaceID, serverID string) bool {
	if workspaceID == types.GlobalWorkspaceID {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if cfg, ok := s.state.Configs[configKey(workspaceID, serverID)]; ok {
		return cfg.Enabled
	}
	return true
}

// Reset clears all per-server configs for a workspace, returning it to
// template defaults
func (s *WorkspaceStore) Reset(workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.Workspaces[workspaceID]; !ok {
		return errdefs.NotFound("workspace %s not found", workspaceID)
	}

	removed := make(map[string]*types.WorkspaceServerConfig)
	for key, cfg := range s.state.Configs {
		if strings.HasPrefix(key, workspaceID+"/") {
			removed[key] = cfg
			delete(s.state.Configs, key)
		}
	}
	if err := saveJSON(s.path, &s.state); err != nil {
		for key, cfg := range removed {
			s.state.Configs[key] = cfg
		}
		return errdefs.Persisted(err, "writing workspaces")
	}
	return nil
}
