package host

import (
	"context"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/mcpden/mcpden/pkg/api"
	"github.com/mcpden/mcpden/pkg/config"
	"github.com/mcpden/mcpden/pkg/env"
	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/events"
	"github.com/mcpden/mcpden/pkg/gateway"
	"github.com/mcpden/mcpden/pkg/journal"
	"github.com/mcpden/mcpden/pkg/log"
	"github.com/mcpden/mcpden/pkg/metrics"
	"github.com/mcpden/mcpden/pkg/npm"
	"github.com/mcpden/mcpden/pkg/ports"
	"github.com/mcpden/mcpden/pkg/store"
	"github.com/mcpden/mcpden/pkg/supervisor"
)

// shutdownTimeout bounds draining the HTTP listener on exit
const shutdownTimeout = 10 * time.Second

// Host assembles the stores, the supervisor, the gateway and the HTTP API
// into one running process. It owns startup order, the delete cascades and
// the shutdown sequence.
type Host struct {
	cfg *config.Config

	servers     *store.ServerStore
	workspaces  *store.WorkspaceStore
	secrets     *store.SecretStore
	permissions *store.PermissionStore
	profile     *store.ProfileStore
	sessions    *store.SessionStore

	bus        *events.Bus
	journal    *journal.Journal
	supervisor *supervisor.Supervisor
	gateway    *gateway.Gateway
	api        *api.Server

	logger zerolog.Logger
}

// New wires a Host from configuration. The data directory is created when
// missing; every store loads its file under it.
func New(cfg *config.Config) (*Host, error) {
	metrics.Register()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errdefs.Persisted(err, "creating data directory %s", cfg.DataDir)
	}

	servers, err := store.NewServerStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	workspaces, err := store.NewWorkspaceStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	secrets, err := store.NewSecretStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	permissions, err := store.NewPermissionStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	profile, err := store.NewProfileStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	jnl, err := journal.Open(cfg.DataDir)
	if err != nil {
		bus.Close()
		return nil, err
	}
	jnl.Attach(bus)

	h := &Host{
		cfg:         cfg,
		servers:     servers,
		workspaces:  workspaces,
		secrets:     secrets,
		permissions: permissions,
		profile:     profile,
		bus:         bus,
		journal:     jnl,
		logger:      log.WithComponent("host"),
	}

	h.sessions = store.NewSessionStore(
		time.Duration(cfg.Session.TTLMinutes)*time.Minute,
		time.Duration(cfg.Session.SweepSeconds)*time.Second,
	)
	h.sessions.TTLResolver(func(workspaceID string) time.Duration {
		if ws, err := workspaces.Get(workspaceID); err == nil && ws.SessionTTLMinutes > 0 {
			return time.Duration(ws.SessionTTLMinutes) * time.Minute
		}
		return 0
	})
	h.sessions.OnExpired(h.sessionExpired)

	h.supervisor = supervisor.New(supervisor.Deps{
		Servers:     servers,
		Workspaces:  workspaces,
		Secrets:     secrets,
		Permissions: permissions,
		Profile:     profile,
		Composer:    env.New(),
		Ports:       ports.New(cfg.Ports.Low, cfg.Ports.High),
		Bus:         bus,
	}, supervisor.Config{DataDir: cfg.DataDir})

	h.gateway = gateway.New(gateway.Deps{
		Supervisor: h.supervisor,
		Servers:    servers,
		Workspaces: workspaces,
		Sessions:   h.sessions,
	})

	h.api = api.New(api.Deps{
		Servers:     servers,
		Workspaces:  workspaces,
		Secrets:     secrets,
		Permissions: permissions,
		Profile:     profile,
		Sessions:    h.sessions,
		Supervisor:  h.supervisor,
		Bus:         bus,
		Journal:     jnl,
		Gateway:     h.gateway,
		NPM:         npm.NewClient(),
		Cascades:    h,
	})

	return h, nil
}

// Run serves the API until the context is cancelled, then shuts everything
// down in order.
func (h *Host) Run(ctx context.Context) error {
	listener, port, err := h.api.Listen(h.cfg.Listen.PortLow, h.cfg.Listen.PortHigh)
	if err != nil {
		return err
	}

	h.sessions.Start()
	h.logger.Info().
		Int("port", port).
		Str("data_dir", h.cfg.DataDir).
		Msg("host listening")

	serveErr := make(chan error, 1)
	go func() { serveErr <- h.api.Serve(listener) }()

	select {
	case err := <-serveErr:
		h.shutdown()
		return err
	case <-ctx.Done():
	}

	return h.shutdown()
}

// shutdown drains the HTTP server, stops every instance and closes the
// event plumbing. Later steps still run when earlier ones fail.
func (h *Host) shutdown() error {
	h.logger.Info().Msg("shutting down")

	var result *multierror.Error

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.api.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := h.supervisor.StopAll(); err != nil {
		result = multierror.Append(result, err)
	}
	h.sessions.Stop()
	if err := h.journal.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	h.bus.Close()

	h.logger.Info().Msg("host stopped")
	return result.ErrorOrNil()
}

// DeleteServer removes a server and everything hanging off it: live
// instances, per-workspace configs, server-scoped secrets and the
// permission profile.
func (h *Host) DeleteServer(ctx context.Context, serverID string) error {
	server, err := h.servers.Get(serverID)
	if err != nil {
		return err
	}

	var result *multierror.Error
	if err := h.supervisor.StopForServer(serverID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := h.workspaces.DeleteConfigsForServer(serverID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := h.secrets.DeleteServer(serverID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := h.permissions.DeleteProfile(serverID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := h.servers.Delete(serverID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	h.emit(events.TopicApp, events.KindServerDeleted, serverID, "",
		map[string]any{"name": server.Name})
	h.logger.Info().Str("server_id", serverID).Msg("server deleted")
	return nil
}

// DeleteWorkspace removes a workspace and everything scoped to it: live
// instances, per-server configs, workspace secrets and permission
// overrides. The global workspace is refused by the store.
func (h *Host) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	ws, err := h.workspaces.Get(workspaceID)
	if err != nil {
		return err
	}
	if ws.IsGlobal() {
		return errdefs.InvalidArgument("the global workspace cannot be deleted")
	}

	var result *multierror.Error
	if err := h.supervisor.StopForWorkspace(workspaceID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := h.secrets.DeleteWorkspace(workspaceID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := h.permissions.DeleteWorkspace(workspaceID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := h.workspaces.Delete(workspaceID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	h.emit(events.TopicApp, events.KindWorkspaceDeleted, "", workspaceID,
		map[string]any{"label": ws.Label})
	h.logger.Info().Str("workspace_id", workspaceID).Msg("workspace deleted")
	return nil
}

// sessionExpired runs for every session the sweep removes. Instances the
// workspace was running are stopped; a workspace marked autoCleanup is
// deleted outright once its session dies.
func (h *Host) sessionExpired(sessionID, workspaceID string) {
	metrics.SessionsActive.Set(float64(len(h.sessions.List())))
	h.logger.Info().
		Str("session_id", sessionID).
		Str("workspace_id", workspaceID).
		Msg("session expired")

	ws, err := h.workspaces.Get(workspaceID)
	if err != nil {
		return
	}
	if ws.IsGlobal() {
		return
	}

	if ws.AutoCleanup {
		if err := h.DeleteWorkspace(context.Background(), workspaceID); err != nil {
			h.logger.Warn().Err(err).Str("workspace_id", workspaceID).
				Msg("auto-cleanup failed")
		}
		return
	}

	if err := h.supervisor.StopForWorkspace(workspaceID); err != nil {
		h.logger.Warn().Err(err).Str("workspace_id", workspaceID).
			Msg("stopping idle workspace instances failed")
	}
}

func (h *Host) emit(topic events.Topic, kind events.Kind, serverID, workspaceID string, data map[string]any) {
	h.bus.Publish(&events.Event{
		Topic:       topic,
		Type:        kind,
		ServerID:    serverID,
		WorkspaceID: workspaceID,
		Data:        data,
	})
	metrics.EventsPublishedTotal.WithLabelValues(string(topic)).Inc()
}

// Supervisor exposes the instance supervisor, mostly for tests
func (h *Host) Supervisor() *supervisor.Supervisor { return h.supervisor }

// Workspaces exposes the workspace store, mostly for tests
func (h *Host) Workspaces() *store.WorkspaceStore { return h.workspaces }

// Servers exposes the server catalog, mostly for tests
func (h *Host) Servers() *store.ServerStore { return h.servers }

// Sessions exposes the session store, mostly for tests
func (h *Host) Sessions() *store.SessionStore { return h.sessions }
