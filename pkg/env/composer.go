package env

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/mcpden/mcpden/pkg/types"
)

// Known-variable sets copied through when the matching allow flag is on
var (
	pathVars = []string{"PATH", "PATHEXT", "SystemRoot"}
	homeVars = []string{"HOME", "USERPROFILE", "HOMEPATH"}
	langVars = []string{"LANG", "LANGUAGE", "LC_ALL", "LC_CTYPE", "LC_MESSAGES"}
	tempVars = []string{"TEMP", "TMP", "TMPDIR"}

	nodePrefixes = []string{"NODE_", "npm_", "NPM_"}
)

// Context variable names injected into children
const (
	VarPort                 = "PORT"
	VarProjectRoot          = "MCP_PROJECT_ROOT"
	VarWorkspaceID          = "MCP_WORKSPACE_ID"
	VarAuthToken            = "MCP_AUTH_TOKEN"
	VarWorkspaceProjectRoot = "MCP_WORKSPACE_PROJECT_ROOT"
)

// Input carries everything a single composition needs
type Input struct {
	Profile   *types.PermissionProfile
	Workspace *types.Workspace
	User      *types.UserProfile
	Secrets   map[string]string
	Port      int

	// Parent is the parent process environment in KEY=VALUE form. Nil means
	// os.Environ(); tests inject their own.
	Parent []string
}

// Composer builds the complete environment handed to a spawned child. The
// result replaces the child's environment entirely; it is never a superset
// of the parent's.
type Composer struct{}

// New creates a Composer
func New() *Composer {
	return &Composer{}
}

// Compose applies the permission profile to the parent environment, injects
// the permitted context variables and secrets, and returns the child
// environment in KEY=VALUE form.
func (c *Composer) Compose(in Input) []string {
	parent := in.Parent
	if parent == nil {
		parent = os.Environ()
	}
	parentMap := parseEnviron(parent)

	out := make(map[string]string)
	profile := in.Profile

	if profile.Legacy {
		// Servers predating permission storage keep full passthrough
		for name, value := range parentMap {
			out[name] = value
		}
	} else {
		copyNamed := func(names []string) {
			for _, name := range names {
				if value, ok := parentMap[name]; ok {
					out[name] = value
				}
			}
		}
		if profile.Env.AllowPath {
			copyNamed(pathVars)
		}
		if profile.Env.AllowHome {
			copyNamed(homeVars)
		}
		if profile.Env.AllowLang {
			copyNamed(langVars)
		}
		if profile.Env.AllowTemp {
			copyNamed(tempVars)
		}
		if profile.Env.AllowNode {
			for name, value := range parentMap {
				for _, prefix := range nodePrefixes {
					if strings.HasPrefix(name, prefix) {
						out[name] = value
						break
					}
				}
			}
		}
		copyNamed(profile.Env.CustomAllowlist)

		if profile.Context.AllowProjectRoot && in.Workspace != nil && !in.Workspace.IsGlobal() {
			out[VarProjectRoot] = in.Workspace.ProjectRoot
		}
		if profile.Context.AllowWorkspaceID && in.Workspace != nil {
			out[VarWorkspaceID] = in.Workspace.ID
		}
		if profile.Context.AllowUserProfile && in.User != nil {
			if token, err := json.Marshal(in.User); err == nil {
				out[VarAuthToken] = string(token)
			}
		}

		switch profile.Secrets.Mode {
		case types.SecretModeAll:
			for name, value := range in.Secrets {
				out[name] = value
			}
		case types.SecretModeAllowlist:
			allowed := make(map[string]bool, len(profile.Secrets.Allowlist))
			for _, name := range profile.Secrets.Allowlist {
				allowed[name] = true
			}
			for name, value := range in.Secrets {
				if allowed[name] {
					out[name] = value
				}
			}
		}
	}

	// Always present for running-instance context
	out[VarPort] = strconv.Itoa(in.Port)
	if in.Workspace != nil {
		out[VarWorkspaceProjectRoot] = in.Workspace.ProjectRoot
	}

	environ := make([]string, 0, len(out))
	for name, value := range out {
		environ = append(environ, name+"="+value)
	}
	return environ
}

// parseEnviron splits KEY=VALUE pairs into a map
func parseEnviron(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i > 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}
