/*
Package types defines the core data structures shared across mcpden components.

This package contains the persisted entities (Server templates, Workspaces,
secrets scoping, permission profiles) and the runtime entities (Instances,
Sessions) that flow between the stores, the supervisor, the gateway and the
HTTP API. It has no dependencies on other mcpden packages, making it safe to
import from anywhere without circular dependency concerns.

# Entity Relationships

	Server (template) ──────┬──> Instance (serverId, workspaceId)
	                        │
	Workspace ──────────────┤
	    │                   │
	    ├── WorkspaceServerConfig (enabled, overrides, context headers)
	    ├── Session (idle-tracked client activity)
	    └── SecretScope (global / workspace / server)

	PermissionProfile: per-server policy, field-wise workspace override,
	with a Legacy sentinel for servers that predate permission storage.

# Key Types

Server:
  - Persistent launch template (install type, package, config, schema)
  - One template can back many Instances, one per workspace

Workspace:
  - Named scope rooted at a project directory
  - The "global" workspace always exists and cannot be deleted

Instance:
  - A live MCP server process bound to a (server, workspace) key
  - Status: starting -> running -> stopped, with error + retry paths

SecretScope:
  - Tagged variant Global | Workspace(id) | Server(workspaceId, id)
  - Replaces class-based scope polymorphism with a single merge routine

PermissionProfile:
  - env: which parent environment variables pass through
  - context: which MCP_* context variables are injected
  - secrets: none / allowlist / all
*/
package types
