package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/log"
	"github.com/mcpden/mcpden/pkg/metrics"
	"github.com/mcpden/mcpden/pkg/store"
	"github.com/mcpden/mcpden/pkg/supervisor"
	"github.com/mcpden/mcpden/pkg/types"
)

// Prefix is the path prefix the gateway claims on the host listener
const Prefix = "/mcp/"

// ctxHeaderPrefix marks headers the gateway injects from workspace config
const ctxHeaderPrefix = "X-MCP-CTX-"

// startTimeout bounds the on-demand wait for an instance to reach running
const startTimeout = 30 * time.Second

// Deps are the collaborators the gateway routes through
type Deps struct {
	Supervisor *supervisor.Supervisor
	Servers    *store.ServerStore
	Workspaces *store.WorkspaceStore
	Sessions   *store.SessionStore
}

// Gateway reverse-proxies MCP client traffic to the matching instance,
// starting it on demand. Routes:
//
//	ANY /mcp/{serverId}/{workspaceId}/{path...}
//	ANY /mcp/{serverId}/{path...}          (global workspace shorthand)
//
// The second segment is taken as a workspace only when a workspace with
// that ID exists; anything else is part of the upstream path.
type Gateway struct {
	deps   Deps
	logger zerolog.Logger
}

// New creates a Gateway
func New(deps Deps) *Gateway {
	return &Gateway{
		deps:   deps,
		logger: log.WithComponent("gateway"),
	}
}

// proxyError is the structured body on any gateway-level failure
type proxyError struct {
	Error       string `json:"error"`
	ServerID    string `json:"serverId"`
	WorkspaceID string `json:"workspaceId"`
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	defer func() {
		metrics.GatewayRequestDuration.Observe(time.Since(started).Seconds())
	}()

	serverID, workspaceID, suffix, ok := g.route(r.URL.Path)
	if !ok {
		g.writeError(w, http.StatusNotFound, "no MCP route at this path", serverID, workspaceID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), startTimeout)
	defer cancel()
	inst, err := g.deps.Supervisor.Start(ctx, serverID, workspaceID)
	if err != nil {
		status := http.StatusBadGateway
		switch errdefs.GetCode(err) {
		case errdefs.CodeNotFound:
			status = http.StatusNotFound
		case errdefs.CodeServerDisabledForWorkspace:
			status = http.StatusConflict
		}
		g.writeError(w, status, err.Error(), serverID, workspaceID)
		return
	}

	g.deps.Sessions.Touch(workspaceID)

	target := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("127.0.0.1:%d", inst.Port),
	}
	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = suffix
			req.Host = target.Host
			g.injectContextHeaders(req, serverID, workspaceID)
		},
		ModifyResponse: func(resp *http.Response) error {
			metrics.GatewayRequestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			metrics.GatewayUpstreamErrors.Inc()
			metrics.GatewayRequestsTotal.WithLabelValues("5xx").Inc()
			g.deps.Supervisor.ReportUpstreamFailure(serverID, workspaceID)
			g.logger.Warn().Err(err).Str("server_id", serverID).
				Str("workspace_id", workspaceID).Msg("upstream round trip failed")
			g.writeError(w, http.StatusBadGateway, "upstream unavailable: "+err.Error(),
				serverID, workspaceID)
		},
	}

	proxy.ServeHTTP(w, r)
}

// route splits the request path into server, workspace and upstream suffix
func (g *Gateway) route(path string) (serverID, workspaceID, suffix string, ok bool) {
	rest, found := strings.CutPrefix(path, Prefix)
	if !found || rest == "" {
		return "", "", "", false
	}

	segments := strings.SplitN(rest, "/", 3)
	serverID = segments[0]
	if serverID == "" {
		return "", "", "", false
	}

	workspaceID = types.GlobalWorkspaceID
	var tail []string
	if len(segments) > 1 {
		if _, err := g.deps.Workspaces.Get(segments[1]); err == nil {
			workspaceID = segments[1]
			tail = segments[2:]
		} else {
			tail = segments[1:]
		}
	}

	suffix = "/" + strings.Join(tail, "/")
	return serverID, workspaceID, suffix, true
}

// injectContextHeaders adds X-MCP-CTX-{H} for every context header the
// server template declares, valued from the workspace's config
func (g *Gateway) injectContextHeaders(req *http.Request, serverID, workspaceID string) {
	server, err := g.deps.Servers.Get(serverID)
	if err != nil || len(server.ContextHeaders) == 0 {
		return
	}
	cfg := g.deps.Workspaces.GetConfig(workspaceID, serverID)
	for _, name := range server.ContextHeaders {
		if value, ok := cfg.ContextHeaders[name]; ok {
			req.Header.Set(ctxHeaderPrefix+name, value)
		}
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, msg, serverID, workspaceID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(proxyError{
		Error:       msg,
		ServerID:    serverID,
		WorkspaceID: workspaceID,
	})
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
