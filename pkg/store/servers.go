package store

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/types"
)

// ServerStore is the persisted catalog of MCP server templates
type ServerStore struct {
	mu      sync.RWMutex
	path    string
	servers map[string]*types.Server
}

// NewServerStore loads (or creates) servers.json under dataDir
func NewServerStore(dataDir string) (*ServerStore, error) {
	s := &ServerStore{
		path:    filepath.Join(dataDir, "servers.json"),
		servers: make(map[string]*types.Server),
	}
	if _, err := loadJSON(s.path, &s.servers); err != nil {
		return nil, errdefs.Persisted(err, "loading server catalog")
	}
	return s, nil
}

// Create adds a new server template. An empty ID is assigned a fresh uuid.
func (s *ServerStore) Create(server *types.Server) error {
	if !server.InstallType.Valid() {
		return errdefs.InvalidArgument("unknown install type %q", server.InstallType)
	}
	if server.InstallType == types.InstallTypeLocal {
		if server.LocalPath == "" {
			return errdefs.InvalidArgument("local install requires localPath")
		}
	} else if server.PackageName == "" {
		return errdefs.InvalidArgument("install type %s requires packageName", server.InstallType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if server.ID == "" {
		server.ID = uuid.New().String()
	}
	if _, exists := s.servers[server.ID]; exists {
		return errdefs.AlreadyExists("server %s already exists", server.ID)
	}
	if server.Name == "" {
		server.Name = server.PackageName
		if server.Name == "" {
			server.Name = filepath.Base(server.LocalPath)
		}
	}
	now := time.Now()
	server.CreatedAt = now
	server.UpdatedAt = now

	s.servers[server.ID] = server
	if err := saveJSON(s.path, s.servers); err != nil {
		delete(s.servers, server.ID)
		return errdefs.Persisted(err, "writing server catalog")
	}
	return nil
}

// Get returns the template for id
func (s *ServerStore) Get(id string) (*types.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	server, ok := s.servers[id]
	if !ok {
		return nil, errdefs.NotFound("server %s not found", id)
	}
	copied := *server
	return &copied, nil
}

// List returns all templates sorted by name
func (s *ServerStore) List() []*types.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Server, 0, len(s.servers))
	for _, server := range s.servers {
		copied := *server
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Update applies a mutation to the stored template under the write lock.
// The mutation sees a copy; the store state only changes if both the
// mutation and the persist succeed.
func (s *ServerStore) Update(id string, mutate func(*types.Server) error) (*types.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.servers[id]
	if !ok {
		return nil, errdefs.NotFound("server %s not found", id)
	}

	next := *prev
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.ID = id
	next.CreatedAt = prev.CreatedAt
	next.UpdatedAt = time.Now()

	s.servers[id] = &next
	if err := saveJSON(s.path, s.servers); err != nil {
		s.servers[id] = prev
		return nil, errdefs.Persisted(err, "writing server catalog")
	}
	copied := next
	return &copied, nil
}

// Delete removes the template. The caller is responsible for stopping
// instances and cascading config/secret deletion first.
func (s *ServerStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.servers[id]
	if !ok {
		return errdefs.NotFound("server %s not found", id)
	}

	delete(s.servers, id)
	if err := saveJSON(s.path, s.servers); err != nil {
		s.servers[id] = prev
		return errdefs.Persisted(err, "writing server catalog")
	}
	return nil
}
