package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mcpden/mcpden/pkg/events"
	"github.com/mcpden/mcpden/pkg/types"
)

// handleGetPermissions returns the server-level profile. A server with no
// stored profile reports legacy:true, meaning unrestricted passthrough.
func (s *Server) handleGetPermissions(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.deps.Servers.Get(id); err != nil {
		fail(c, err)
		return
	}

	profile := s.deps.Permissions.GetProfile(id)
	ok(c, gin.H{"profile": profile, "legacy": profile.Legacy})
}

func (s *Server) handlePutPermissions(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.deps.Servers.Get(id); err != nil {
		fail(c, err)
		return
	}

	var profile types.PermissionProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		failBind(c, err)
		return
	}
	if err := s.deps.Permissions.SetProfile(id, &profile); err != nil {
		fail(c, err)
		return
	}

	s.emit(events.TopicServer, events.KindConfigChanged, id, "", map[string]any{"permissions": true})
	ok(c, gin.H{"profile": profile})
}

func (s *Server) handleDeletePermissions(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Permissions.DeleteProfile(id); err != nil {
		fail(c, err)
		return
	}
	s.emit(events.TopicServer, events.KindConfigChanged, id, "", map[string]any{"permissions": true})
	ok(c, nil)
}

func (s *Server) handleGetPermissionOverride(c *gin.Context) {
	serverID := c.Param("id")
	workspaceID := c.Param("wsId")
	if _, err := s.deps.Workspaces.Get(workspaceID); err != nil {
		fail(c, err)
		return
	}

	override := s.deps.Permissions.GetOverride(serverID, workspaceID)
	effective := s.deps.Permissions.Effective(workspaceID, serverID)
	ok(c, gin.H{"override": override, "effective": effective})
}

func (s *Server) handlePutPermissionOverride(c *gin.Context) {
	serverID := c.Param("id")
	workspaceID := c.Param("wsId")
	if _, err := s.deps.Servers.Get(serverID); err != nil {
		fail(c, err)
		return
	}
	if _, err := s.deps.Workspaces.Get(workspaceID); err != nil {
		fail(c, err)
		return
	}

	var override types.PermissionOverride
	if err := c.ShouldBindJSON(&override); err != nil {
		failBind(c, err)
		return
	}
	if err := s.deps.Permissions.SetOverride(serverID, workspaceID, &override); err != nil {
		fail(c, err)
		return
	}

	s.emit(events.TopicServer, events.KindConfigChanged, serverID, workspaceID,
		map[string]any{"permissions": true})
	ok(c, gin.H{"override": override})
}

func (s *Server) handleDeletePermissionOverride(c *gin.Context) {
	serverID := c.Param("id")
	workspaceID := c.Param("wsId")
	if err := s.deps.Permissions.DeleteOverride(serverID, workspaceID); err != nil {
		fail(c, err)
		return
	}
	s.emit(events.TopicServer, events.KindConfigChanged, serverID, workspaceID,
		map[string]any{"permissions": true})
	ok(c, nil)
}
