package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/types"
)

// ProfileStore persists the optional local user profile. The profile only
// feeds the MCP_AUTH_TOKEN context variable; login/logout is identity
// bookkeeping, not authentication.
type ProfileStore struct {
	mu      sync.RWMutex
	path    string
	profile *types.UserProfile
}

// NewProfileStore loads (or creates) profile.json under dataDir
func NewProfileStore(dataDir string) (*ProfileStore, error) {
	s := &ProfileStore{
		path: filepath.Join(dataDir, "profile.json"),
	}
	var profile types.UserProfile
	ok, err := loadJSON(s.path, &profile)
	if err != nil {
		return nil, errdefs.Persisted(err, "loading user profile")
	}
	if ok {
		s.profile = &profile
	}
	return s, nil
}

// Get returns the stored profile, or nil when logged out
func (s *ProfileStore) Get() *types.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.profile == nil {
		return nil
	}
	copied := *s.profile
	return &copied
}

// Set stores the profile (login)
func (s *ProfileStore) Set(profile *types.UserProfile) error {
	if profile.Email == "" {
		return errdefs.InvalidArgument("profile requires email")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.profile
	s.profile = profile
	if err := saveJSON(s.path, profile); err != nil {
		s.profile = prev
		return errdefs.Persisted(err, "writing user profile")
	}
	return nil
}

// Clear removes the profile (logout). Idempotent.
func (s *ProfileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profile == nil {
		return nil
	}
	prev := s.profile
	s.profile = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.profile = prev
		return errdefs.Persisted(err, "removing user profile")
	}
	return nil
}
