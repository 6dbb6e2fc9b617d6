package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/events"
	"github.com/mcpden/mcpden/pkg/types"
)

func (s *Server) handleListWorkspaces(c *gin.Context) {
	workspaces := s.deps.Workspaces.List()
	views := make([]gin.H, 0, len(workspaces))
	for _, ws := range workspaces {
		views = append(views, gin.H{
			"workspace": ws,
			"sessions":  s.deps.Sessions.CountForWorkspace(ws.ID),
		})
	}
	ok(c, gin.H{"workspaces": views})
}

type createWorkspaceRequest struct {
	ID                string `json:"id"`
	Label             string `json:"label"`
	ProjectRoot       string `json:"projectRoot"`
	AutoCleanup       bool   `json:"autoCleanup"`
	Source            string `json:"source"`
	SessionTTLMinutes int    `json:"sessionTtlMinutes"`
}

func (s *Server) handleCreateWorkspace(c *gin.Context) {
	var req createWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	ws := &types.Workspace{
		ID:                req.ID,
		Label:             req.Label,
		ProjectRoot:       req.ProjectRoot,
		AutoCleanup:       req.AutoCleanup,
		Source:            req.Source,
		SessionTTLMinutes: req.SessionTTLMinutes,
	}
	if err := s.deps.Workspaces.Create(ws); err != nil {
		fail(c, err)
		return
	}

	s.emit(events.TopicApp, events.KindWorkspaceCreated, "", ws.ID, map[string]any{"label": ws.Label})
	ok(c, gin.H{"workspace": ws})
}

type updateWorkspaceRequest struct {
	Label             *string `json:"label"`
	ProjectRoot       *string `json:"projectRoot"`
	AutoCleanup       *bool   `json:"autoCleanup"`
	SessionTTLMinutes *int    `json:"sessionTtlMinutes"`
}

func (s *Server) handleUpdateWorkspace(c *gin.Context) {
	var req updateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	ws, err := s.deps.Workspaces.Update(c.Param("id"), func(ws *types.Workspace) error {
		if ws.IsGlobal() && req.ProjectRoot != nil {
			return errdefs.InvalidArgument("the global workspace has no project root")
		}
		if req.Label != nil {
			ws.Label = *req.Label
		}
		if req.ProjectRoot != nil {
			ws.ProjectRoot = *req.ProjectRoot
		}
		if req.AutoCleanup != nil {
			ws.AutoCleanup = *req.AutoCleanup
		}
		if req.SessionTTLMinutes != nil {
			ws.SessionTTLMinutes = *req.SessionTTLMinutes
		}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}

	s.emit(events.TopicApp, events.KindWorkspaceUpdated, "", ws.ID, nil)
	ok(c, gin.H{"workspace": ws})
}

func (s *Server) handleDeleteWorkspace(c *gin.Context) {
	if err := s.deps.Cascades.DeleteWorkspace(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// handleResetWorkspace drops every per-server config of the workspace,
// returning it to template defaults
func (s *Server) handleResetWorkspace(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Workspaces.Reset(id); err != nil {
		fail(c, err)
		return
	}
	s.emit(events.TopicApp, events.KindWorkspaceUpdated, "", id, map[string]any{"reset": true})
	ok(c, nil)
}

// handleWorkspaceServers renders the enable map: every catalog server with
// its effective enabled flag and stored context headers for this workspace
func (s *Server) handleWorkspaceServers(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.deps.Workspaces.Get(id); err != nil {
		fail(c, err)
		return
	}

	views := make([]gin.H, 0)
	for _, server := range s.deps.Servers.List() {
		cfg := s.deps.Workspaces.GetConfig(id, server.ID)
		views = append(views, gin.H{
			"serverId":       server.ID,
			"name":           server.Name,
			"enabled":        s.deps.Workspaces.Enabled(id, server.ID),
			"contextHeaders": cfg.ContextHeaders,
		})
	}
	ok(c, gin.H{"servers": views})
}

type putWorkspaceServerRequest struct {
	Enabled        *bool              `json:"enabled"`
	ContextHeaders *map[string]string `json:"contextHeaders"`
}

func (s *Server) handlePutWorkspaceServer(c *gin.Context) {
	var req putWorkspaceServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	workspaceID := c.Param("id")
	serverID := c.Param("serverId")
	if _, err := s.deps.Servers.Get(serverID); err != nil {
		fail(c, err)
		return
	}

	cfg := s.deps.Workspaces.GetConfig(workspaceID, serverID)
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.ContextHeaders != nil {
		cfg.ContextHeaders = *req.ContextHeaders
	}
	if err := s.deps.Workspaces.SetConfig(cfg); err != nil {
		fail(c, err)
		return
	}

	// Disabling takes effect immediately: a live instance is stopped
	if req.Enabled != nil && !*req.Enabled {
		if err := s.deps.Supervisor.Stop(serverID, workspaceID); err != nil {
			s.logger.Warn().Err(err).Str("server_id", serverID).
				Str("workspace_id", workspaceID).Msg("stopping disabled instance failed")
		}
	}

	s.emit(events.TopicServer, events.KindConfigChanged, serverID, workspaceID, nil)
	ok(c, gin.H{"config": cfg})
}

func (s *Server) handleGetWorkspaceServerConfig(c *gin.Context) {
	workspaceID := c.Param("id")
	if _, err := s.deps.Workspaces.Get(workspaceID); err != nil {
		fail(c, err)
		return
	}
	cfg := s.deps.Workspaces.GetConfig(workspaceID, c.Param("serverId"))
	ok(c, gin.H{"configOverride": cfg.ConfigOverride})
}

type putConfigOverrideRequest struct {
	ConfigOverride map[string]any `json:"configOverride"`
}

func (s *Server) handlePutWorkspaceServerConfig(c *gin.Context) {
	var req putConfigOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	workspaceID := c.Param("id")
	serverID := c.Param("serverId")
	if _, err := s.deps.Servers.Get(serverID); err != nil {
		fail(c, err)
		return
	}

	cfg := s.deps.Workspaces.GetConfig(workspaceID, serverID)
	cfg.ConfigOverride = req.ConfigOverride
	if err := s.deps.Workspaces.SetConfig(cfg); err != nil {
		fail(c, err)
		return
	}

	s.emit(events.TopicServer, events.KindConfigChanged, serverID, workspaceID, nil)
	ok(c, gin.H{"configOverride": cfg.ConfigOverride})
}
