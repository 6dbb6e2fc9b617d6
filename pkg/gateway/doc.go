/*
Package gateway is the reverse proxy between MCP clients and the live
server instances.

	ANY /mcp/{serverId}/{workspaceId}/{path...}
	ANY /mcp/{serverId}/{path...}               (global workspace)

A request resolves its instance through the supervisor, starting one on
demand and waiting up to 30s for it to become ready. Each proxied request
touches the workspace session, keeping auto-cleanup at bay while a client
is active.

Requests stream through httputil.ReverseProxy to the instance loopback
port with hop-by-hop headers stripped. Context headers declared on the
server template are injected as X-MCP-CTX-{name} from the workspace's
stored values. Upstream connect failures answer 502 with a structured
{error, serverId, workspaceId} body and count as a health strike against
the instance.
*/
package gateway
