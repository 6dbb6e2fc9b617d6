package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mcpden/mcpden/pkg/events"
	"github.com/mcpden/mcpden/pkg/types"
)

// handleGetProfile returns the local user identity, or loggedIn:false when
// none is stored. There is no authentication; the profile only feeds the
// MCP_AUTH_TOKEN context variable.
func (s *Server) handleGetProfile(c *gin.Context) {
	profile := s.deps.Profile.Get()
	ok(c, gin.H{"profile": profile, "loggedIn": profile != nil})
}

func (s *Server) handleLogin(c *gin.Context) {
	var profile types.UserProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		failBind(c, err)
		return
	}
	if err := s.deps.Profile.Set(&profile); err != nil {
		fail(c, err)
		return
	}

	s.emit(events.TopicApp, events.KindProfileUpdated, "", "", nil)
	ok(c, gin.H{"profile": profile})
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.deps.Profile.Clear(); err != nil {
		fail(c, err)
		return
	}
	s.emit(events.TopicApp, events.KindProfileUpdated, "", "", nil)
	ok(c, nil)
}
