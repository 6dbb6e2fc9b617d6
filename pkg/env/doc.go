/*
Package env composes the environment handed to spawned MCP server processes.

The composed map fully replaces the child environment. Nothing from the
parent process crosses over unless the resolved permission profile names it,
either through one of the known-variable allow flags or the custom allowlist.
The one exception is the Legacy profile — servers that predate permission
storage keep unrestricted passthrough so old setups do not break.

# Composition Order

 1. Parent variables admitted by the profile (or everything, for Legacy)
 2. Context variables: MCP_PROJECT_ROOT, MCP_WORKSPACE_ID, MCP_AUTH_TOKEN
 3. Secrets from the effective layered map, per the profile's secret mode
 4. Always: PORT and MCP_WORKSPACE_PROJECT_ROOT

# Known-Variable Sets

	allowPath  PATH, PATHEXT, SystemRoot
	allowHome  HOME, USERPROFILE, HOMEPATH
	allowLang  LANG, LANGUAGE, LC_ALL, LC_CTYPE, LC_MESSAGES
	allowTemp  TEMP, TMP, TMPDIR
	allowNode  every parent variable prefixed NODE_, npm_ or NPM_

Composed environments contain secrets and are never logged.
*/
package env
