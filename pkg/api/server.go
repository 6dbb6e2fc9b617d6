package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/events"
	"github.com/mcpden/mcpden/pkg/journal"
	"github.com/mcpden/mcpden/pkg/log"
	"github.com/mcpden/mcpden/pkg/npm"
	"github.com/mcpden/mcpden/pkg/store"
	"github.com/mcpden/mcpden/pkg/supervisor"
	"github.com/mcpden/mcpden/pkg/types"
)

// Cascades are the multi-store delete orchestrations the host owns. The
// API only triggers them; ordering and cleanup live with the caller.
type Cascades interface {
	DeleteServer(ctx context.Context, serverID string) error
	DeleteWorkspace(ctx context.Context, workspaceID string) error
}

// Deps are the collaborators the HTTP surface exposes
type Deps struct {
	Servers     *store.ServerStore
	Workspaces  *store.WorkspaceStore
	Secrets     *store.SecretStore
	Permissions *store.PermissionStore
	Profile     *store.ProfileStore
	Sessions    *store.SessionStore
	Supervisor  *supervisor.Supervisor
	Bus         *events.Bus
	Journal     *journal.Journal
	Gateway     http.Handler
	NPM         *npm.Client
	Cascades    Cascades
}

// Server is the loopback HTTP API: REST under /api, the event stream under
// /events, Prometheus under /metrics and the MCP gateway under /mcp.
type Server struct {
	deps      Deps
	engine    *gin.Engine
	http      *http.Server
	logger    zerolog.Logger
	startedAt time.Time
}

// New creates the API server and registers all routes
func New(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		deps:      deps,
		engine:    gin.New(),
		logger:    log.WithComponent("api"),
		startedAt: time.Now(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// Handler exposes the routing tree, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	if s.deps.Gateway != nil {
		s.engine.Any("/mcp/*path", gin.WrapH(s.deps.Gateway))
	}
	s.engine.GET("/events", s.handleEvents)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		api.GET("/health", s.handleHostHealth)
		api.GET("/events/recent", s.handleRecentEvents)

		api.GET("/servers", s.handleListServers)
		api.POST("/servers", s.handleCreateServer)
		api.PATCH("/servers/:id", s.handleUpdateServer)
		api.DELETE("/servers/:id", s.handleDeleteServer)
		api.POST("/servers/:id/update", s.handleUpdateServerPackage)
		api.GET("/servers/:id/check-update", s.handleCheckUpdate)

		api.GET("/servers/:id/permissions", s.handleGetPermissions)
		api.PUT("/servers/:id/permissions", s.handlePutPermissions)
		api.DELETE("/servers/:id/permissions", s.handleDeletePermissions)
		api.GET("/servers/:id/permissions/:wsId", s.handleGetPermissionOverride)
		api.PUT("/servers/:id/permissions/:wsId", s.handlePutPermissionOverride)
		api.DELETE("/servers/:id/permissions/:wsId", s.handleDeletePermissionOverride)

		api.GET("/workspaces", s.handleListWorkspaces)
		api.POST("/workspaces", s.handleCreateWorkspace)
		api.PATCH("/workspaces/:id", s.handleUpdateWorkspace)
		api.DELETE("/workspaces/:id", s.handleDeleteWorkspace)
		api.POST("/workspaces/:id/reset", s.handleResetWorkspace)
		api.GET("/workspaces/:id/servers", s.handleWorkspaceServers)
		api.PUT("/workspaces/:id/servers/:serverId", s.handlePutWorkspaceServer)
		api.GET("/workspaces/:id/servers/:serverId/config", s.handleGetWorkspaceServerConfig)
		api.PUT("/workspaces/:id/servers/:serverId/config", s.handlePutWorkspaceServerConfig)

		api.GET("/instances", s.handleListInstances)
		api.POST("/instances/start", s.handleStartInstance)
		api.POST("/instances/stop", s.handleStopInstance)
		api.POST("/instances/restart", s.handleRestartInstance)
		api.POST("/instances/restart-all", s.handleRestartAll)
		api.GET("/instances/:serverId/:workspaceId/health", s.handleInstanceHealth)
		api.GET("/instances/:serverId/:workspaceId/metadata", s.handleInstanceMetadata)
		api.GET("/instances/:serverId/:workspaceId/logs", s.handleInstanceLogs)

		api.GET("/secrets", s.handleListSecrets)
		api.PUT("/secrets", s.handlePutSecret)
		api.DELETE("/secrets", s.handleDeleteSecret)

		api.GET("/auth/profile", s.handleGetProfile)
		api.POST("/auth/login", s.handleLogin)
		api.POST("/auth/logout", s.handleLogout)
	}
}

// requestLogger emits one debug line per API request. Gateway traffic is
// skipped; it logs in its own component.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(c.Request.URL.Path) >= 5 && c.Request.URL.Path[:5] == "/mcp/" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// Listen binds the loopback listener on the first free port in [low, high]
func (s *Server) Listen(low, high int) (net.Listener, int, error) {
	for port := low; port <= high; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return l, port, nil
		}
	}
	return nil, 0, errdefs.New(errdefs.CodePortExhausted,
		"no free listen port in range %d-%d", low, high)
}

// Serve runs the HTTP server on the listener until Shutdown
func (s *Server) Serve(l net.Listener) error {
	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.http.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the listener
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// handleHostHealth reports the host's own liveness
func (s *Server) handleHostHealth(c *gin.Context) {
	running := 0
	for _, inst := range s.deps.Supervisor.List() {
		if inst.Status == types.InstanceRunning {
			running++
		}
	}
	ok(c, gin.H{
		"status":           "ok",
		"uptimeSeconds":    int(time.Since(s.startedAt).Seconds()),
		"runningInstances": running,
		"sessions":         len(s.deps.Sessions.List()),
		"subscribers":      s.deps.Bus.SubscriberCount(),
	})
}

// handleRecentEvents serves the journal tail so a subscriber that saw a
// backpressure-drop marker can resync
func (s *Server) handleRecentEvents(c *gin.Context) {
	topic := events.Topic(c.DefaultQuery("topic", string(events.TopicServer)))
	limit := 100
	if v := c.Query("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit < 1 {
			fail(c, errdefs.InvalidArgument("limit must be a positive integer"))
			return
		}
	}

	recent, err := s.deps.Journal.Recent(topic, limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"events": recent})
}
