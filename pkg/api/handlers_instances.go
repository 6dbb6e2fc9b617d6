package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mcpden/mcpden/pkg/errdefs"
)

// instanceHealthTimeout bounds the proxied health probe
const instanceHealthTimeout = 5 * time.Second

type instanceKeyRequest struct {
	ServerID    string `json:"serverId"`
	WorkspaceID string `json:"workspaceId"`
}

func (r *instanceKeyRequest) validate() error {
	if r.ServerID == "" {
		return errdefs.InvalidArgument("serverId is required")
	}
	if r.WorkspaceID == "" {
		return errdefs.InvalidArgument("workspaceId is required")
	}
	return nil
}

func (s *Server) handleListInstances(c *gin.Context) {
	ok(c, gin.H{"instances": s.deps.Supervisor.List()})
}

func (s *Server) handleStartInstance(c *gin.Context) {
	var req instanceKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}
	if err := req.validate(); err != nil {
		fail(c, err)
		return
	}

	inst, err := s.deps.Supervisor.Start(c.Request.Context(), req.ServerID, req.WorkspaceID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"instance": inst})
}

func (s *Server) handleStopInstance(c *gin.Context) {
	var req instanceKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}
	if err := req.validate(); err != nil {
		fail(c, err)
		return
	}

	if err := s.deps.Supervisor.Stop(req.ServerID, req.WorkspaceID); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) handleRestartInstance(c *gin.Context) {
	var req instanceKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}
	if err := req.validate(); err != nil {
		fail(c, err)
		return
	}

	inst, err := s.deps.Supervisor.Restart(c.Request.Context(), req.ServerID, req.WorkspaceID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"instance": inst})
}

func (s *Server) handleRestartAll(c *gin.Context) {
	restarted, failed := s.deps.Supervisor.RestartAll(c.Request.Context())
	ok(c, gin.H{"restarted": restarted, "failed": failed})
}

// handleInstanceHealth probes the live instance's /health endpoint and
// reports the outcome alongside the supervisor's view
func (s *Server) handleInstanceHealth(c *gin.Context) {
	inst, err := s.deps.Supervisor.Get(c.Param("serverId"), c.Param("workspaceId"))
	if err != nil {
		fail(c, err)
		return
	}

	healthy := false
	if inst.Port != 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), instanceHealthTimeout)
		defer cancel()
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("http://127.0.0.1:%d/health", inst.Port), nil)
		if resp, probeErr := http.DefaultClient.Do(req); probeErr == nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
		}
	}

	ok(c, gin.H{
		"status":      inst.Status,
		"healthy":     healthy,
		"lastHealthy": inst.LastHealthy,
	})
}

func (s *Server) handleInstanceMetadata(c *gin.Context) {
	inst, err := s.deps.Supervisor.Get(c.Param("serverId"), c.Param("workspaceId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"metadata": inst.Metadata})
}

func (s *Server) handleInstanceLogs(c *gin.Context) {
	stdout, stderr, err := s.deps.Supervisor.Logs(c.Param("serverId"), c.Param("workspaceId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"stdout": stdout, "stderr": stderr})
}
