// Package host is the composition root. It builds the stores, the event
// bus and journal, the supervisor, the gateway and the HTTP API from one
// Config, runs them until the context is cancelled, and tears them down in
// order:
//
//	drain HTTP -> stop all instances -> stop session sweep -> close
//	journal -> close bus
//
// The host also owns the behaviors that span more than one component: the
// server and workspace delete cascades, and session expiry (stop a
// workspace's instances when it goes idle, delete the workspace outright
// when it is marked autoCleanup).
package host
