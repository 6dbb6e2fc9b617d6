/*
Package store implements mcpden's persisted catalogs and in-memory sessions.

Each persisted store owns one JSON file under the data directory and keeps its
working state in an in-memory map guarded by a reader-writer lock. Writes are
write-through with atomic replace: the new file is written to a temp file in
the same directory, fsynced, then renamed over the old one, so a crash can
never leave a torn store. An IO failure rolls the in-memory mutation back and
surfaces as a Persisted error; nothing retries internally.

# Layout

	<data-dir>/
	    servers.json      ServerStore     server templates
	    workspaces.json   WorkspaceStore  workspaces + per-server configs
	    secrets.json      SecretStore     layered secret map
	    permissions.json  PermissionStore profiles + workspace overrides
	    profile.json      ProfileStore    optional local user identity

The SessionStore is the exception: sessions are runtime-only, held in memory
and expired by a periodic sweep that drives workspace auto-cleanup through a
registered callback.

# Secret Layering

Secrets live in a tagged scope — Global, Workspace(ws) or Server(ws, srv).
Effective(ws, srv) merges global, then workspace, then server, so the most
specific definition of a name wins. Names are normalized on write: uppercased,
validated against [A-Za-z0-9_-]+ and prefixed with SECRET_. Values are
sensitive; List returns names only and nothing here ever logs a value.

# Permission Resolution

A server's base PermissionProfile merges section-wise with the workspace's
PermissionOverride, the override winning. Servers with no stored profile at
all resolve to the Legacy sentinel, which downstream code treats as full
parent-environment passthrough for backward compatibility.

# Cascades

Deleting a server removes its per-workspace configs, its scoped secrets and
its permission profile; deleting a workspace removes its configs, its rooted
secrets and its overrides. The stores expose the cascade primitives; the host
shell sequences them after stopping instances.
*/
package store
