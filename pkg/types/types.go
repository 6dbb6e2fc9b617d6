package types

import (
	"time"
)

// GlobalWorkspaceID is the distinguished workspace that always exists and can
// never be deleted. Servers started without an explicit workspace run here.
const GlobalWorkspaceID = "global"

// InstallType defines how a server package is resolved and launched
type InstallType string

const (
	InstallTypeNPM   InstallType = "npm"
	InstallTypeNPX   InstallType = "npx"
	InstallTypePNPX  InstallType = "pnpx"
	InstallTypeYarn  InstallType = "yarn"
	InstallTypeBunx  InstallType = "bunx"
	InstallTypeLocal InstallType = "local"
)

// Valid reports whether t is a known install type
func (t InstallType) Valid() bool {
	switch t {
	case InstallTypeNPM, InstallTypeNPX, InstallTypePNPX, InstallTypeYarn, InstallTypeBunx, InstallTypeLocal:
		return true
	}
	return false
}

// Server is a persistent MCP server template. A template describes how to
// launch the server; the live processes spawned from it are Instances.
type Server struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	InstallType    InstallType    `json:"installType"`
	PackageName    string         `json:"packageName,omitempty"`
	PackageVersion string         `json:"packageVersion,omitempty"`
	LocalPath      string         `json:"localPath,omitempty"`
	EntryPoint     string         `json:"entryPoint,omitempty"`
	DefaultConfig  map[string]any `json:"defaultConfig,omitempty"`
	ConfigSchema   map[string]any `json:"configSchema,omitempty"`
	ContextHeaders []string       `json:"contextHeaders,omitempty"`
	ToolCount      int            `json:"toolCount"`
	ResourceCount  int            `json:"resourceCount"`
	PromptCount    int            `json:"promptCount"`
	LatestVersion  string         `json:"latestVersion,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Workspace is a named scope rooted at a project directory. MCP servers run
// with workspace-specific config, secrets and permissions.
type Workspace struct {
	ID                string    `json:"id"`
	Label             string    `json:"label"`
	ProjectRoot       string    `json:"projectRoot"`
	AutoCleanup       bool      `json:"autoCleanup,omitempty"`
	Source            string    `json:"source,omitempty"`
	SessionTTLMinutes int       `json:"sessionTtlMinutes,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// IsGlobal reports whether this is the distinguished global workspace
func (w *Workspace) IsGlobal() bool {
	return w.ID == GlobalWorkspaceID
}

// WorkspaceServerConfig holds the per-(workspace, server) settings. It exists
// only for non-global workspaces; the global workspace always uses the
// template defaults with every server enabled.
type WorkspaceServerConfig struct {
	WorkspaceID    string            `json:"workspaceId"`
	ServerID       string            `json:"serverId"`
	Enabled        bool              `json:"enabled"`
	ConfigOverride map[string]any    `json:"configOverride,omitempty"`
	ContextHeaders map[string]string `json:"contextHeaders,omitempty"`
}

// SecretScopeKind discriminates the tagged SecretScope variant
type SecretScopeKind string

const (
	ScopeGlobal    SecretScopeKind = "global"
	ScopeWorkspace SecretScopeKind = "workspace"
	ScopeServer    SecretScopeKind = "server"
)

// SecretScope identifies where a secret lives. WorkspaceID is set for
// workspace and server scopes; ServerID only for server scope.
type SecretScope struct {
	Kind        SecretScopeKind `json:"kind"`
	WorkspaceID string          `json:"workspaceId,omitempty"`
	ServerID    string          `json:"serverId,omitempty"`
}

// GlobalScope returns the scope for globally visible secrets
func GlobalScope() SecretScope {
	return SecretScope{Kind: ScopeGlobal}
}

// WorkspaceScope returns the scope for secrets visible to one workspace
func WorkspaceScope(workspaceID string) SecretScope {
	return SecretScope{Kind: ScopeWorkspace, WorkspaceID: workspaceID}
}

// ServerScope returns the scope for secrets visible to one server in one workspace
func ServerScope(workspaceID, serverID string) SecretScope {
	return SecretScope{Kind: ScopeServer, WorkspaceID: workspaceID, ServerID: serverID}
}

// SecretMode controls which secrets the EnvComposer hands to a child
type SecretMode string

const (
	SecretModeNone      SecretMode = "none"
	SecretModeAllowlist SecretMode = "allowlist"
	SecretModeAll       SecretMode = "all"
)

// EnvPermissions gates which parent environment variables a child may see
type EnvPermissions struct {
	AllowPath       bool     `json:"allowPath"`
	AllowHome       bool     `json:"allowHome"`
	AllowLang       bool     `json:"allowLang"`
	AllowTemp       bool     `json:"allowTemp"`
	AllowNode       bool     `json:"allowNode"`
	CustomAllowlist []string `json:"customAllowlist,omitempty"`
}

// ContextPermissions gates the MCP_* context variables injected into a child
type ContextPermissions struct {
	AllowProjectRoot bool `json:"allowProjectRoot"`
	AllowWorkspaceID bool `json:"allowWorkspaceId"`
	AllowUserProfile bool `json:"allowUserProfile"`
}

// SecretPermissions gates which secrets are injected into a child
type SecretPermissions struct {
	Mode      SecretMode `json:"mode"`
	Allowlist []string   `json:"allowlist,omitempty"`
}

// PermissionProfile is the policy applied when composing a child environment.
// The AI section is carried for the UI but ignored by the host core.
type PermissionProfile struct {
	Env     EnvPermissions     `json:"env"`
	Context ContextPermissions `json:"context"`
	Secrets SecretPermissions  `json:"secrets"`
	AI      map[string]any     `json:"ai,omitempty"`

	// Legacy marks the implicit unrestricted profile returned for servers
	// with no stored profile at all. A Legacy profile passes the parent
	// environment through unfiltered.
	Legacy bool `json:"-"`
}

// LegacyProfile returns the implicit unrestricted profile
func LegacyProfile() *PermissionProfile {
	return &PermissionProfile{Legacy: true}
}

// PermissionOverride is a workspace's partial override of a server profile.
// Nil sections keep the server-level value; set sections win wholesale.
type PermissionOverride struct {
	Env     *EnvPermissions     `json:"env,omitempty"`
	Context *ContextPermissions `json:"context,omitempty"`
	Secrets *SecretPermissions  `json:"secrets,omitempty"`
	AI      map[string]any      `json:"ai,omitempty"`
}

// Merge applies the override on top of a base profile, section by section,
// returning a new profile. The base is not mutated.
func (o *PermissionOverride) Merge(base *PermissionProfile) *PermissionProfile {
	merged := *base
	merged.Legacy = false
	if o == nil {
		return &merged
	}
	if o.Env != nil {
		merged.Env = *o.Env
	}
	if o.Context != nil {
		merged.Context = *o.Context
	}
	if o.Secrets != nil {
		merged.Secrets = *o.Secrets
	}
	if o.AI != nil {
		merged.AI = o.AI
	}
	return &merged
}

// UserProfile is the optional local user identity. It only feeds the
// MCP_AUTH_TOKEN context variable; there is no authentication of the UI.
type UserProfile struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// Session tracks client activity against a workspace. Sessions are in-memory
// only; an idle sweep expires them and drives workspace auto-cleanup.
type Session struct {
	ID             string        `json:"id"`
	WorkspaceID    string        `json:"workspaceId"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	TTL            time.Duration `json:"-"`
}

// InstanceStatus represents the lifecycle state of a live server process
type InstanceStatus string

const (
	InstanceStarting InstanceStatus = "starting"
	InstanceRunning  InstanceStatus = "running"
	InstanceStopped  InstanceStatus = "stopped"
	InstanceError    InstanceStatus = "error"
)

// InstanceKey identifies an Instance. At most one Instance exists per key.
type InstanceKey struct {
	ServerID    string `json:"serverId"`
	WorkspaceID string `json:"workspaceId"`
}

// String renders the key for logs and lock tables
func (k InstanceKey) String() string {
	return k.ServerID + "/" + k.WorkspaceID
}

// InstanceMetadata is the /metadata document fetched from a server once it
// becomes ready, cached on the Instance for the API to serve.
type InstanceMetadata struct {
	Tools     []map[string]any `json:"tools,omitempty"`
	Resources []map[string]any `json:"resources,omitempty"`
	Prompts   []map[string]any `json:"prompts,omitempty"`
	Auth      map[string]any   `json:"auth,omitempty"`
}

// Instance is a snapshot of a live MCP server process
type Instance struct {
	Key         InstanceKey       `json:"key"`
	PID         int               `json:"pid,omitempty"`
	Port        int               `json:"port,omitempty"`
	Status      InstanceStatus    `json:"status"`
	StartedAt   time.Time         `json:"startedAt"`
	LastHealthy time.Time         `json:"lastHealthy,omitempty"`
	LastError   string            `json:"lastError,omitempty"`
	Metadata    *InstanceMetadata `json:"metadata,omitempty"`
}
