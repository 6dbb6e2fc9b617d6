/*
Package supervisor owns the live MCP server processes.

Each (server, workspace) pair maps to at most one Instance, and the
supervisor is the single source of truth for its status:

	(absent) --start--> starting --ready--> running --stop--> stopped
	                        |  \
	                        |   `--readiness timeout--> error --retry--> starting
	                        `--spawn fail--> error
	running --child exit / 3 health strikes--> error --retry--> starting

Every operation on the same key is serialized through a per-key lock, so a
restart can never interleave with a concurrent start or stop.

# Spawn

Start resolves the server template, refuses disabled workspaces, reserves a
loopback port, composes the child environment through the permission
profile, and launches the command for the install type in its own process
group with stdin closed. Stdout and stderr land in per-stream ring buffers
(last 1024 lines) served by the logs endpoint.

Readiness polls GET /health with exponential backoff (250ms up to 2s) under
a 30s deadline, then caches GET /metadata on the Instance. A running
instance is watched every 15s; three consecutive probe failures, or three
upstream failures reported by the gateway, move it to error.

# Recovery

Unexpected exits and health failures schedule a bounded auto-retry: backoff
base 1s doubling to a 30s cap, at most five attempts in any rolling ten
minutes. Past the budget the instance stays in error until a manual start
or restart, which also resets the budget.

# Teardown

Stop sends SIGTERM to the process group, waits 5s, then SIGKILLs. The port
reservation is always released and the watcher cancelled. StopAll runs
stops in parallel under a 15s deadline and force-kills stragglers.
*/
package supervisor
