// Package api is the loopback HTTP surface of the host.
//
// One gin engine serves four roots:
//
//	/api/...   REST control plane (servers, workspaces, instances,
//	           secrets, permissions, auth)
//	/mcp/...   the reverse-proxy gateway, mounted as-is
//	/events    WebSocket event stream backed by the bus
//	/metrics   Prometheus exposition
//
// Every REST response is an envelope: {"success": true, ...} on the happy
// path, {"success": false, "error": ..., "code": ...} on failure, with the
// HTTP status derived from the error's stable code. Handlers stay thin;
// validation and state live in the stores and the supervisor. Multi-store
// deletes go through the Cascades interface so ordering stays with the
// host, not the HTTP layer.
package api
