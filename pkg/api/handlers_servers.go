package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/events"
	"github.com/mcpden/mcpden/pkg/metrics"
	"github.com/mcpden/mcpden/pkg/types"
)

func errInvalidLocalUpdate(id string) error {
	return errdefs.InvalidArgument("server %s is a local install and has no package updates", id)
}

// serverView is a catalog entry plus the cached live status for one
// workspace
type serverView struct {
	*types.Server
	Status types.InstanceStatus `json:"status"`
}

func (s *Server) emit(topic events.Topic, kind events.Kind, serverID, workspaceID string, data map[string]any) {
	s.deps.Bus.Publish(&events.Event{
		Topic:       topic,
		Type:        kind,
		ServerID:    serverID,
		WorkspaceID: workspaceID,
		Data:        data,
	})
	metrics.EventsPublishedTotal.WithLabelValues(string(topic)).Inc()
}

func (s *Server) handleListServers(c *gin.Context) {
	workspaceID := c.DefaultQuery("workspaceId", types.GlobalWorkspaceID)

	views := make([]serverView, 0)
	for _, server := range s.deps.Servers.List() {
		status := types.InstanceStopped
		if inst, err := s.deps.Supervisor.Get(server.ID, workspaceID); err == nil {
			status = inst.Status
		}
		views = append(views, serverView{Server: server, Status: status})
	}
	ok(c, gin.H{"servers": views})
}

type createServerRequest struct {
	Name           string            `json:"name"`
	InstallType    types.InstallType `json:"installType"`
	PackageName    string            `json:"packageName"`
	PackageVersion string            `json:"packageVersion"`
	LocalPath      string            `json:"localPath"`
	EntryPoint     string            `json:"entryPoint"`
	ContextHeaders []string          `json:"contextHeaders"`
	DefaultConfig  map[string]any    `json:"defaultConfig"`
	ConfigSchema   map[string]any    `json:"configSchema"`
}

func (s *Server) handleCreateServer(c *gin.Context) {
	var req createServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	server := &types.Server{
		Name:           req.Name,
		InstallType:    req.InstallType,
		PackageName:    req.PackageName,
		PackageVersion: req.PackageVersion,
		LocalPath:      req.LocalPath,
		EntryPoint:     req.EntryPoint,
		ContextHeaders: req.ContextHeaders,
		DefaultConfig:  req.DefaultConfig,
		ConfigSchema:   req.ConfigSchema,
	}

	// Registry lookups are best effort on create; the record still lands
	// when the registry is unreachable.
	if req.PackageName != "" && req.InstallType != types.InstallTypeLocal {
		if latest, err := s.deps.NPM.LatestVersion(c.Request.Context(), req.PackageName); err == nil {
			server.LatestVersion = latest
		} else {
			s.logger.Warn().Err(err).Str("package", req.PackageName).Msg("version lookup failed")
		}
	}

	if req.InstallType == types.InstallTypeNPM {
		if err := s.deps.NPM.Install(c.Request.Context(), s.deps.Supervisor.InstallRoot(),
			req.PackageName, req.PackageVersion); err != nil {
			fail(c, err)
			return
		}
	}

	if err := s.deps.Servers.Create(server); err != nil {
		fail(c, err)
		return
	}

	s.emit(events.TopicApp, events.KindServerAdded, server.ID, "", map[string]any{"name": server.Name})
	ok(c, gin.H{"server": server})
}

type updateServerRequest struct {
	Name           *string         `json:"name"`
	EntryPoint     *string         `json:"entryPoint"`
	ContextHeaders *[]string       `json:"contextHeaders"`
	DefaultConfig  *map[string]any `json:"defaultConfig"`
	ConfigSchema   *map[string]any `json:"configSchema"`
}

func (s *Server) handleUpdateServer(c *gin.Context) {
	var req updateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	server, err := s.deps.Servers.Update(c.Param("id"), func(server *types.Server) error {
		if req.Name != nil {
			server.Name = *req.Name
		}
		if req.EntryPoint != nil {
			server.EntryPoint = *req.EntryPoint
		}
		if req.ContextHeaders != nil {
			server.ContextHeaders = *req.ContextHeaders
		}
		if req.DefaultConfig != nil {
			server.DefaultConfig = *req.DefaultConfig
		}
		if req.ConfigSchema != nil {
			server.ConfigSchema = *req.ConfigSchema
		}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}

	s.emit(events.TopicServer, events.KindUpdated, server.ID, "", nil)
	ok(c, gin.H{"server": server})
}

func (s *Server) handleDeleteServer(c *gin.Context) {
	if err := s.deps.Cascades.DeleteServer(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type updatePackageRequest struct {
	Version string `json:"version"`
}

// handleUpdateServerPackage re-resolves the package version, reinstalls
// where needed, and restarts any running instances on the new version
func (s *Server) handleUpdateServerPackage(c *gin.Context) {
	var req updatePackageRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		failBind(c, err)
		return
	}

	id := c.Param("id")
	server, err := s.deps.Servers.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	if server.InstallType == types.InstallTypeLocal {
		fail(c, errInvalidLocalUpdate(id))
		return
	}

	version := req.Version
	if version == "" {
		version, err = s.deps.NPM.LatestVersion(c.Request.Context(), server.PackageName)
		if err != nil {
			fail(c, err)
			return
		}
	}

	if server.InstallType == types.InstallTypeNPM {
		if err := s.deps.NPM.Install(c.Request.Context(), s.deps.Supervisor.InstallRoot(),
			server.PackageName, version); err != nil {
			fail(c, err)
			return
		}
	}

	server, err = s.deps.Servers.Update(id, func(server *types.Server) error {
		server.PackageVersion = version
		server.LatestVersion = version
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}

	restarted, failed := s.deps.Supervisor.RestartForServer(c.Request.Context(), id)
	s.emit(events.TopicServer, events.KindUpdated, id, "", map[string]any{"version": version})
	ok(c, gin.H{"server": server, "restarted": restarted, "failed": failed})
}

func (s *Server) handleCheckUpdate(c *gin.Context) {
	id := c.Param("id")
	server, err := s.deps.Servers.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	if server.InstallType == types.InstallTypeLocal {
		fail(c, errInvalidLocalUpdate(id))
		return
	}

	latest, err := s.deps.NPM.LatestVersion(c.Request.Context(), server.PackageName)
	if err != nil {
		fail(c, err)
		return
	}

	// Cache the lookup on the record; a write failure only loses the cache
	if _, err := s.deps.Servers.Update(id, func(server *types.Server) error {
		server.LatestVersion = latest
		return nil
	}); err != nil {
		s.logger.Warn().Err(err).Str("server_id", id).Msg("caching latest version failed")
	}

	ok(c, gin.H{
		"hasUpdate":      server.PackageVersion != "" && latest != server.PackageVersion,
		"currentVersion": server.PackageVersion,
		"latestVersion":  latest,
	})
}
