package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/events"
	"github.com/mcpden/mcpden/pkg/types"
)

// resolveScope validates a scope triple from a request. Workspace and
// server scopes must name an existing workspace.
func (s *Server) resolveScope(kind types.SecretScopeKind, workspaceID, serverID string) (types.SecretScope, error) {
	switch kind {
	case types.ScopeGlobal:
		return types.GlobalScope(), nil

	case types.ScopeWorkspace:
		if workspaceID == "" {
			return types.SecretScope{}, errdefs.InvalidArgument("workspace scope requires workspaceId")
		}
		if _, err := s.deps.Workspaces.Get(workspaceID); err != nil {
			return types.SecretScope{}, err
		}
		return types.WorkspaceScope(workspaceID), nil

	case types.ScopeServer:
		if workspaceID == "" || serverID == "" {
			return types.SecretScope{}, errdefs.InvalidArgument("server scope requires workspaceId and serverId")
		}
		if _, err := s.deps.Workspaces.Get(workspaceID); err != nil {
			return types.SecretScope{}, err
		}
		if _, err := s.deps.Servers.Get(serverID); err != nil {
			return types.SecretScope{}, err
		}
		return types.ServerScope(workspaceID, serverID), nil
	}

	return types.SecretScope{}, errdefs.InvalidArgument("unknown secret scope kind %q", kind)
}

// handleListSecrets returns secret names only; values never leave the
// store through the read API
func (s *Server) handleListSecrets(c *gin.Context) {
	scope, err := s.resolveScope(
		types.SecretScopeKind(c.DefaultQuery("kind", string(types.ScopeGlobal))),
		c.Query("workspaceId"),
		c.Query("serverId"),
	)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"names": s.deps.Secrets.List(scope)})
}

type putSecretRequest struct {
	Scope struct {
		Kind        types.SecretScopeKind `json:"kind"`
		WorkspaceID string                `json:"workspaceId"`
		ServerID    string                `json:"serverId"`
	} `json:"scope"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (s *Server) handlePutSecret(c *gin.Context) {
	var req putSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	scope, err := s.resolveScope(req.Scope.Kind, req.Scope.WorkspaceID, req.Scope.ServerID)
	if err != nil {
		fail(c, err)
		return
	}

	name, err := s.deps.Secrets.Set(scope, req.Name, req.Value)
	if err != nil {
		fail(c, err)
		return
	}

	s.emit(events.TopicApp, events.KindSecretsChanged, req.Scope.ServerID, req.Scope.WorkspaceID,
		nil)
	ok(c, gin.H{"name": name})
}

type deleteSecretRequest struct {
	Scope struct {
		Kind        types.SecretScopeKind `json:"kind"`
		WorkspaceID string                `json:"workspaceId"`
		ServerID    string                `json:"serverId"`
	} `json:"scope"`
	Name string `json:"name"`
}

func (s *Server) handleDeleteSecret(c *gin.Context) {
	var req deleteSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	scope, err := s.resolveScope(req.Scope.Kind, req.Scope.WorkspaceID, req.Scope.ServerID)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.deps.Secrets.Delete(scope, req.Name); err != nil {
		fail(c, err)
		return
	}

	s.emit(events.TopicApp, events.KindSecretsChanged, req.Scope.ServerID, req.Scope.WorkspaceID,
		nil)
	ok(c, nil)
}
