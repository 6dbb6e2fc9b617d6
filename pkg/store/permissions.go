package store

import (
	"path/filepath"
	"sync"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/types"
)

// permissionState is the persisted shape of permissions.json
type permissionState struct {
	// Servers holds the per-server base profiles keyed by server id
	Servers map[string]*types.PermissionProfile `json:"servers"`
	// Overrides holds workspace overrides keyed by server id, then workspace id
	Overrides map[string]map[string]*types.PermissionOverride `json:"overrides"`
}

// PermissionStore persists per-server permission profiles and their
// workspace overrides. A server with no stored profile at all resolves to
// the Legacy profile, which the EnvComposer treats as unrestricted
// passthrough.
type PermissionStore struct {
	mu    sync.RWMutex
	path  string
	state permissionState
}

// NewPermissionStore loads (or creates) permissions.json under dataDir
func NewPermissionStore(dataDir string) (*PermissionStore, error) {
	s := &PermissionStore{
		path: filepath.Join(dataDir, "permissions.json"),
		state: permissionState{
			Servers:   make(map[string]*types.PermissionProfile),
			Overrides: make(map[string]map[string]*types.PermissionOverride),
		},
	}
	if _, err := loadJSON(s.path, &s.state); err != nil {
		return nil, errdefs.Persisted(err, "loading permissions")
	}
	if s.state.Servers == nil {
		s.state.Servers = make(map[string]*types.PermissionProfile)
	}
	if s.state.Overrides == nil {
		s.state.Overrides = make(map[string]map[string]*types.PermissionOverride)
	}
	return s, nil
}

// SetProfile stores the base profile for a server
func (s *PermissionStore) SetProfile(serverID string, profile *types.PermissionProfile) error {
	switch profile.Secrets.Mode {
	case types.SecretModeNone, types.SecretModeAllowlist, types.SecretModeAll, "":
	default:
		return errdefs.InvalidArgument("unknown secret mode %q", profile.Secrets.Mode)
	}
	if profile.Secrets.Mode == "" {
		profile.Secrets.Mode = types.SecretModeNone
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.state.Servers[serverID]
	profile.Legacy = false
	s.state.Servers[serverID] = profile
	if err := saveJSON(s.path, &s.state); err != nil {
		if existed {
			s.state.Servers[serverID] = prev
		} else {
			delete(s.state.Servers, serverID)
		}
		return errdefs.Persisted(err, "writing permissions")
	}
	return nil
}

// GetProfile returns the stored base profile, or Legacy when none exists
func (s *PermissionStore) GetProfile(serverID string) *types.PermissionProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if profile, ok := s.state.Servers[serverID]; ok {
		copied := *profile
		return &copied
	}
	return types.LegacyProfile()
}

// SetOverride stores a workspace's partial override for a server
func (s *PermissionStore) SetOverride(serverID, workspaceID string, override *types.PermissionOverride) error {
	if override.Secrets != nil {
		switch override.Secrets.Mode {
		case types.SecretModeNone, types.SecretModeAllowlist, types.SecretModeAll:
		default:
			return errdefs.InvalidArgument("unknown secret mode %q", override.Secrets.Mode)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byWS := s.state.Overrides[serverID]
	if byWS == nil {
		byWS = make(map[string]*types.PermissionOverride)
		s.state.Overrides[serverID] = byWS
	}
	prev, existed := byWS[workspaceID]
	byWS[workspaceID] = override
	if err := saveJSON(s.path, &s.state); err != nil {
		if existed {
			byWS[workspaceID] = prev
		} else {
			delete(byWS, workspaceID)
		}
		return errdefs.Persisted(err, "writing permissions")
	}
	return nil
}

// GetOverride returns the stored workspace override, or nil when none
// exists
func (s *PermissionStore) GetOverride(serverID, workspaceID string) *types.PermissionOverride {
	s.mu.RLock()
	defer s.mu.RUnlock()

	override, ok := s.state.Overrides[serverID][workspaceID]
	if !ok {
		return nil
	}
	copied := *override
	return &copied
}

// DeleteOverride removes a workspace override. Idempotent.
func (s *PermissionStore) DeleteOverride(serverID, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byWS := s.state.Overrides[serverID]
	prev, existed := byWS[workspaceID]
	if !existed {
		return nil
	}
	delete(byWS, workspaceID)
	if err := saveJSON(s.path, &s.state); err != nil {
		byWS[workspaceID] = prev
		return errdefs.Persisted(err, "writing permissions")
	}
	return nil
}

// DeleteProfile removes the base profile and every override for a server.
// Part of the server-delete cascade; idempotent.
func (s *PermissionStore) DeleteProfile(serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevProfile, hadProfile := s.state.Servers[serverID]
	prevOverrides, hadOverrides := s.state.Overrides[serverID]
	if !hadProfile && !hadOverrides {
		return nil
	}
	delete(s.state.Servers, serverID)
	delete(s.state.Overrides, serverID)

	if err := saveJSON(s.path, &s.state); err != nil {
		if hadProfile {
			s.state.Servers[serverID] = prevProfile
		}
		if hadOverrides {
			s.state.Overrides[serverID] = prevOverrides
		}
		return errdefs.Persisted(err, "writing permissions")
	}
	return nil
}

// DeleteWorkspace removes every server's override for a workspace. Part of
// the workspace-delete cascade.
func (s *PermissionStore) DeleteWorkspace(workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]*types.PermissionOverride)
	for serverID, byWS := range s.state.Overrides {
		if override, ok := byWS[workspaceID]; ok {
			removed[serverID] = override
			delete(byWS, workspaceID)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := saveJSON(s.path, &s.state); err != nil {
		for serverID, override := range removed {
			s.state.Overrides[serverID][workspaceID] = override
		}
		return errdefs.Persisted(err, "writing permissions")
	}
	return nil
}

// Effective resolves the profile used for a spawn: the server base profile
// merged section-wise with the workspace override, workspace winning. A
// server with neither base nor override resolves to Legacy.
func (s *PermissionStore) Effective(workspaceID, serverID string) *types.PermissionProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	base, hasBase := s.state.Servers[serverID]
	override := s.state.Overrides[serverID][workspaceID]

	if !hasBase && override == nil {
		return types.LegacyProfile()
	}
	if !hasBase {
		base = &types.PermissionProfile{Secrets: types.SecretPermissions{Mode: types.SecretModeNone}}
	}
	return override.Merge(base)
}
