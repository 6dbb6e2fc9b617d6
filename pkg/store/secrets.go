package store

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/types"
)

// SecretPrefix is prepended to every stored secret name
const SecretPrefix = "SECRET_"

var secretNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NormalizeSecretName uppercases the name, validates its character set and
// ensures the SECRET_ prefix. Callers that already pass the prefix keep it.
func NormalizeSecretName(name string) (string, error) {
	if name == "" {
		return "", errdefs.New(errdefs.CodeInvalidSecretName, "secret name cannot be empty")
	}
	if !secretNamePattern.MatchString(name) {
		return "", errdefs.New(errdefs.CodeInvalidSecretName,
			"secret name %q contains invalid characters (allowed: letters, digits, _ and -)", name)
	}
	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, SecretPrefix) {
		upper = SecretPrefix + upper
	}
	return upper, nil
}

// SecretStore persists the layered secret map. Values are opaque and treated
// as sensitive everywhere: they are never logged and never returned by List.
type SecretStore struct {
	mu   sync.RWMutex
	path string
	// secrets maps a scope key to name -> value
	secrets map[string]map[string]string
}

// scopeKey flattens the tagged scope for map and file keys
func scopeKey(scope types.SecretScope) string {
	switch scope.Kind {
	case types.ScopeWorkspace:
		return "workspace/" + scope.WorkspaceID
	case types.ScopeServer:
		return "server/" + scope.WorkspaceID + "/" + scope.ServerID
	default:
		return "global"
	}
}

// NewSecretStore loads (or creates) secrets.json under dataDir
func NewSecretStore(dataDir string) (*SecretStore, error) {
	s := &SecretStore{
		path:    filepath.Join(dataDir, "secrets.json"),
		secrets: make(map[string]map[string]string),
	}
	if _, err := loadJSON(s.path, &s.secrets); err != nil {
		return nil, errdefs.Persisted(err, "loading secrets")
	}
	return s, nil
}

// Set stores a secret, normalizing its name. Returns the stored name.
func (s *SecretStore) Set(scope types.SecretScope, name, value string) (string, error) {
	normalized, err := NormalizeSecretName(name)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopeKey(scope)
	bucket := s.secrets[key]
	if bucket == nil {
		bucket = make(map[string]string)
		s.secrets[key] = bucket
	}
	prev, existed := bucket[normalized]
	bucket[normalized] = value

	if err := saveJSON(s.path, s.secrets); err != nil {
		if existed {
			bucket[normalized] = prev
		} else {
			delete(bucket, normalized)
		}
		return "", errdefs.Persisted(err, "writing secrets")
	}
	return normalized, nil
}

// Delete removes a secret. Idempotent: deleting an absent name succeeds.
func (s *SecretStore) Delete(scope types.SecretScope, name string) error {
	normalized, err := NormalizeSecretName(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopeKey(scope)
	bucket := s.secrets[key]
	prev, existed := bucket[normalized]
	if !existed {
		return nil
	}
	delete(bucket, normalized)
	if len(bucket) == 0 {
		delete(s.secrets, key)
	}

	if err := saveJSON(s.path, s.secrets); err != nil {
		if s.secrets[key] == nil {
			s.secrets[key] = make(map[string]string)
		}
		s.secrets[key][normalized] = prev
		return errdefs.Persisted(err, "writing secrets")
	}
	return nil
}

// List returns the secret names stored in a scope. Values stay in the store.
func (s *SecretStore) List(scope types.SecretScope) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.secrets[scopeKey(scope)]
	names := make([]string, 0, len(bucket))
	for name := range bucket {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Effective merges global, workspace and server scopes for a spawn, later
// layers overriding earlier ones: server wins over workspace wins over global.
func (s *SecretStore) Effective(workspaceID, serverID string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	layers := []string{
		scopeKey(types.GlobalScope()),
		scopeKey(types.WorkspaceScope(workspaceID)),
		scopeKey(types.ServerScope(workspaceID, serverID)),
	}
	for _, key := range layers {
		for name, value := range s.secrets[key] {
			out[name] = value
		}
	}
	return out
}

// DeleteServer removes every server-scoped secret for serverID across all
// workspaces. Part of the server-delete cascade.
func (s *SecretStore) DeleteServer(serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteMatchingLocked(func(key string) bool {
		return strings.HasPrefix(key, "server/") && strings.HasSuffix(key, "/"+serverID)
	})
}

// DeleteWorkspace removes every workspace- and server-scoped secret rooted
// at workspaceID. Part of the workspace-delete cascade.
func (s *SecretStore) DeleteWorkspace(workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteMatchingLocked(func(key string) bool {
		return key == "workspace/"+workspaceID ||
			strings.HasPrefix(key, "server/"+workspaceID+"/")
	})
}

// deleteMatchingLocked removes all scope buckets the predicate selects.
// Caller holds the write lock.
func (s *SecretStore) deleteMatchingLocked(match func(key string) bool) error {
	removed := make(map[string]map[string]string)
	for key, bucket := range s.secrets {
		if match(key) {
			removed[key] = bucket
			delete(s.secrets, key)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := saveJSON(s.path, s.secrets); err != nil {
		for key, bucket := range removed {
			s.secrets[key] = bucket
		}
		return errdefs.Persisted(err, "writing secrets")
	}
	return nil
}
