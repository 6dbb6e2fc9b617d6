/*
Package log provides structured logging for mcpden built on zerolog.

All components log through a single global logger initialized once at startup.
Child loggers carry component and instance identity so every line can be
attributed without repeating fields at call sites.

# Usage

Initialization (done by the host shell):

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false})

Component loggers:

	logger := log.WithComponent("supervisor")
	logger.Info().Str("port", "40001").Msg("instance ready")

Instance loggers:

	logger := log.WithInstance(serverID, workspaceID)

# Sensitive Data

Secret values, composed child environments and MCP_AUTH_TOKEN contents are
never logged at any level. Callers log secret names and counts only.
*/
package log
