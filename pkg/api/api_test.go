package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpden/mcpden/pkg/env"
	"github.com/mcpden/mcpden/pkg/events"
	"github.com/mcpden/mcpden/pkg/journal"
	"github.com/mcpden/mcpden/pkg/npm"
	"github.com/mcpden/mcpden/pkg/ports"
	"github.com/mcpden/mcpden/pkg/store"
	"github.com/mcpden/mcpden/pkg/supervisor"
	"github.com/mcpden/mcpden/pkg/types"
)

// backendHandle fakes a child process with a real loopback HTTP server, so
// instance health and metadata have something to answer
type backendHandle struct {
	pid    int
	server *http.Server

	mu     sync.Mutex
	done   bool
	exited chan struct{}
}

func (h *backendHandle) PID() int { return h.pid }

func (h *backendHandle) Wait() error {
	<-h.exited
	return nil
}

func (h *backendHandle) Signal(sig os.Signal) error { h.exit(); return nil }
func (h *backendHandle) Kill() error                { h.exit(); return nil }

func (h *backendHandle) exit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.server.Close()
	close(h.exited)
}

type backendRunner struct {
	mu      sync.Mutex
	handles []*backendHandle
}

func (r *backendRunner) Start(spec supervisor.CommandSpec) (supervisor.Handle, error) {
	port := 0
	for _, kv := range spec.Env {
		fmt.Sscanf(kv, "PORT=%d", &port)
		if port != 0 {
			break
		}
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/metadata", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"tools": []map[string]any{{"name": "echo"}},
		})
	})

	server := &http.Server{Handler: mux}
	go server.Serve(listener)

	r.mu.Lock()
	h := &backendHandle{pid: 3000 + len(r.handles), server: server, exited: make(chan struct{})}
	r.handles = append(r.handles, h)
	r.mu.Unlock()
	return h, nil
}

// recordingCascades performs the store-level deletes the host would,
// recording what was asked
type recordingCascades struct {
	servers    *store.ServerStore
	workspaces *store.WorkspaceStore
	sup        *supervisor.Supervisor

	mu               sync.Mutex
	deletedServers   []string
	deletedWorkspace []string
}

func (r *recordingCascades) DeleteServer(ctx context.Context, serverID string) error {
	if err := r.sup.StopForServer(serverID); err != nil {
		return err
	}
	if err := r.servers.Delete(serverID); err != nil {
		return err
	}
	r.mu.Lock()
	r.deletedServers = append(r.deletedServers, serverID)
	r.mu.Unlock()
	return nil
}

func (r *recordingCascades) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if err := r.sup.StopForWorkspace(workspaceID); err != nil {
		return err
	}
	if err := r.workspaces.Delete(workspaceID); err != nil {
		return err
	}
	r.mu.Lock()
	r.deletedWorkspace = append(r.deletedWorkspace, workspaceID)
	r.mu.Unlock()
	return nil
}

type fixture struct {
	srv      *Server
	front    *httptest.Server
	deps     Deps
	cascades *recordingCascades
	bus      *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	servers, err := store.NewServerStore(dir)
	require.NoError(t, err)
	workspaces, err := store.NewWorkspaceStore(dir)
	require.NoError(t, err)
	secrets, err := store.NewSecretStore(dir)
	require.NoError(t, err)
	permissions, err := store.NewPermissionStore(dir)
	require.NoError(t, err)
	profile, err := store.NewProfileStore(dir)
	require.NoError(t, err)
	sessions := store.NewSessionStore(30*time.Minute, time.Minute)

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	jnl, err := journal.Open(dir)
	require.NoError(t, err)
	jnl.Attach(bus)
	t.Cleanup(func() { jnl.Close() })

	sup := supervisor.New(supervisor.Deps{
		Servers:     servers,
		Workspaces:  workspaces,
		Secrets:     secrets,
		Permissions: permissions,
		Profile:     profile,
		Composer:    env.New(),
		Ports:       ports.New(44000, 44099),
		Bus:         bus,
	}, supervisor.Config{DataDir: dir, Runner: &backendRunner{}})
	t.Cleanup(func() { sup.StopAll() })

	cascades := &recordingCascades{servers: servers, workspaces: workspaces, sup: sup}

	npmClient := npm.NewClientWith(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if len(args) > 0 && args[0] == "view" {
			return []byte("9.9.9\n"), nil
		}
		return []byte("ok"), nil
	})

	srv := New(Deps{
		Servers:     servers,
		Workspaces:  workspaces,
		Secrets:     secrets,
		Permissions: permissions,
		Profile:     profile,
		Sessions:    sessions,
		Supervisor:  sup,
		Bus:         bus,
		Journal:     jnl,
		NPM:         npmClient,
		Cascades:    cascades,
	})
	front := httptest.NewServer(srv.Handler())
	t.Cleanup(front.Close)

	return &fixture{srv: srv, front: front, cascades: cascades, bus: bus, deps: srv.deps}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.front.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	decoded := make(map[string]any)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (f *fixture) createServer(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.deps.Servers.Create(&types.Server{
		ID:          id,
		Name:        id,
		InstallType: types.InstallTypeNPX,
		PackageName: "@example/" + id,
	}))
}

func TestServers_CreateAndList(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/servers", gin_h{
		"installType": "npx",
		"packageName": "@example/echo",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	created := body["server"].(map[string]any)
	assert.NotEmpty(t, created["id"])
	assert.Equal(t, "@example/echo", created["name"], "name defaults to the package")
	assert.Equal(t, "9.9.9", created["latestVersion"], "registry lookup cached on create")

	resp, body = f.do(t, http.MethodGet, "/api/servers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	servers := body["servers"].([]any)
	require.Len(t, servers, 1)
	entry := servers[0].(map[string]any)
	assert.Equal(t, "stopped", entry["status"])
}

// gin_h mirrors gin.H for request bodies without importing it everywhere
type gin_h = map[string]any

func TestServers_CreateValidation(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/servers", gin_h{"installType": "carrier-pigeon"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "InvalidArgument", body["code"])
}

func TestServers_Patch(t *testing.T) {
	f := newFixture(t)
	f.createServer(t, "srv")

	resp, body := f.do(t, http.MethodPatch, "/api/servers/srv", gin_h{"name": "renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "renamed", body["server"].(map[string]any)["name"])
}

func TestServers_DeleteRunsCascade(t *testing.T) {
	f := newFixture(t)
	f.createServer(t, "srv")

	resp, _ := f.do(t, http.MethodDelete, "/api/servers/srv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"srv"}, f.cascades.deletedServers)

	resp, body := f.do(t, http.MethodDelete, "/api/servers/srv", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NotFound", body["code"])
}

func TestServers_CheckUpdate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deps.Servers.Create(&types.Server{
		ID:             "srv",
		InstallType:    types.InstallTypeNPX,
		PackageName:    "@example/srv",
		PackageVersion: "1.0.0",
	}))

	resp, body := f.do(t, http.MethodGet, "/api/servers/srv/check-update", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["hasUpdate"])
	assert.Equal(t, "1.0.0", body["currentVersion"])
	assert.Equal(t, "9.9.9", body["latestVersion"])

	cached, err := f.deps.Servers.Get("srv")
	require.NoError(t, err)
	assert.Equal(t, "9.9.9", cached.LatestVersion)
}

func TestInstances_StartStopLifecycle(t *testing.T) {
	f := newFixture(t)
	f.createServer(t, "srv")

	resp, body := f.do(t, http.MethodPost, "/api/instances/start",
		gin_h{"serverId": "srv", "workspaceId": "global"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inst := body["instance"].(map[string]any)
	assert.Equal(t, "running", inst["status"])

	resp, body = f.do(t, http.MethodGet, "/api/instances/srv/global/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["healthy"])

	resp, body = f.do(t, http.MethodGet, "/api/instances/srv/global/metadata", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["metadata"])

	resp, _ = f.do(t, http.MethodPost, "/api/instances/stop",
		gin_h{"serverId": "srv", "workspaceId": "global"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/instances", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	instances := body["instances"].([]any)
	require.Len(t, instances, 1)
	assert.Equal(t, "stopped", instances[0].(map[string]any)["status"])
}

func TestInstances_StartValidation(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/instances/start", gin_h{"serverId": "srv"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidArgument", body["code"])
}

func TestInstances_DisabledWorkspace409(t *testing.T) {
	f := newFixture(t)
	f.createServer(t, "srv")
	require.NoError(t, f.deps.Workspaces.Create(&types.Workspace{ID: "ws-1", ProjectRoot: "/proj"}))
	require.NoError(t, f.deps.Workspaces.SetConfig(&types.WorkspaceServerConfig{
		WorkspaceID: "ws-1", ServerID: "srv", Enabled: false,
	}))

	resp, body := f.do(t, http.MethodPost, "/api/instances/start",
		gin_h{"serverId": "srv", "workspaceId": "ws-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ServerDisabledForWorkspace", body["code"])
}

func TestWorkspaces_CreateAndConfigure(t *testing.T) {
	f := newFixture(t)
	f.createServer(t, "srv")

	resp, body := f.do(t, http.MethodPost, "/api/workspaces", gin_h{
		"id": "ws-1", "label": "Project One", "projectRoot": "/proj/one",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ws-1", body["workspace"].(map[string]any)["id"])

	resp, _ = f.do(t, http.MethodPut, "/api/workspaces/ws-1/servers/srv",
		gin_h{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/workspaces/ws-1/servers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := body["servers"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, false, entries[0].(map[string]any)["enabled"])

	resp, _ = f.do(t, http.MethodPost, "/api/workspaces/ws-1/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = f.do(t, http.MethodGet, "/api/workspaces/ws-1/servers", nil)
	entries = body["servers"].([]any)
	assert.Equal(t, true, entries[0].(map[string]any)["enabled"])
}

func TestWorkspaces_RelativeRootRejected(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/workspaces", gin_h{
		"label": "bad", "projectRoot": "relative/path",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidArgument", body["code"])
}

func TestWorkspaces_ConfigOverrideRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.createServer(t, "srv")
	require.NoError(t, f.deps.Workspaces.Create(&types.Workspace{ID: "ws-1", ProjectRoot: "/proj"}))

	resp, _ := f.do(t, http.MethodPut, "/api/workspaces/ws-1/servers/srv/config",
		gin_h{"configOverride": gin_h{"verbosity": "high"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/api/workspaces/ws-1/servers/srv/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	override := body["configOverride"].(map[string]any)
	assert.Equal(t, "high", override["verbosity"])
}

func TestPermissions_ProfileLifecycle(t *testing.T) {
	f := newFixture(t)
	f.createServer(t, "srv")

	resp, body := f.do(t, http.MethodGet, "/api/servers/srv/permissions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["legacy"], "no stored profile resolves to legacy")

	resp, _ = f.do(t, http.MethodPut, "/api/servers/srv/permissions", gin_h{
		"env":     gin_h{"allowPath": true},
		"secrets": gin_h{"mode": "none"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/servers/srv/permissions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["legacy"])

	resp, _ = f.do(t, http.MethodDelete, "/api/servers/srv/permissions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = f.do(t, http.MethodGet, "/api/servers/srv/permissions", nil)
	assert.Equal(t, true, body["legacy"])
}

func TestPermissions_WorkspaceOverride(t *testing.T) {
	f := newFixture(t)
	f.createServer(t, "srv")
	require.NoError(t, f.deps.Workspaces.Create(&types.Workspace{ID: "ws-1", ProjectRoot: "/proj"}))
	require.NoError(t, f.deps.Permissions.SetProfile("srv", &types.PermissionProfile{
		Env:     types.EnvPermissions{AllowPath: true},
		Secrets: types.SecretPermissions{Mode: types.SecretModeNone},
	}))

	resp, _ := f.do(t, http.MethodPut, "/api/servers/srv/permissions/ws-1", gin_h{
		"env": gin_h{"allowPath": false, "allowHome": true},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/api/servers/srv/permissions/ws-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	effective := body["effective"].(map[string]any)["env"].(map[string]any)
	assert.Equal(t, false, effective["allowPath"], "override section wins wholesale")
	assert.Equal(t, true, effective["allowHome"])
}

func TestSecrets_NormalizationAndListing(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPut, "/api/secrets", gin_h{
		"scope": gin_h{"kind": "global"},
		"name":  "api-key",
		"value": "hunter2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SECRET_API-KEY", body["name"])

	resp, body = f.do(t, http.MethodGet, "/api/secrets?kind=global", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	names := body["names"].([]any)
	assert.Equal(t, []any{"SECRET_API-KEY"}, names)
	raw, _ := json.Marshal(body)
	assert.NotContains(t, string(raw), "hunter2", "values never leave the store")

	resp, _ = f.do(t, http.MethodDelete, "/api/secrets", gin_h{
		"scope": gin_h{"kind": "global"},
		"name":  "SECRET_API-KEY",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = f.do(t, http.MethodGet, "/api/secrets?kind=global", nil)
	assert.Empty(t, body["names"])
}

func TestSecrets_InvalidName(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPut, "/api/secrets", gin_h{
		"scope": gin_h{"kind": "global"},
		"name":  "has spaces",
		"value": "x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidSecretName", body["code"])
}

func TestSecrets_UnknownScopeWorkspace(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPut, "/api/secrets", gin_h{
		"scope": gin_h{"kind": "workspace", "workspaceId": "ghost"},
		"name":  "token",
		"value": "x",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NotFound", body["code"])
}

func TestAuth_LoginProfileLogout(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/auth/profile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["loggedIn"])

	resp, _ = f.do(t, http.MethodPost, "/api/auth/login",
		gin_h{"fullName": "Dev One", "email": "dev@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/auth/profile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["loggedIn"])
	assert.Equal(t, "dev@example.com", body["profile"].(map[string]any)["email"])

	resp, _ = f.do(t, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = f.do(t, http.MethodGet, "/api/auth/profile", nil)
	assert.Equal(t, false, body["loggedIn"])
}

func TestEvents_WebSocketStream(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.front.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// First frame is always the connected marker
	var hello map[string]any
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])

	f.bus.Publish(&events.Event{
		Topic:    events.TopicServer,
		Type:     events.KindStarted,
		ServerID: "srv",
	})

	var frame map[string]any
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "started", frame["type"])
	assert.Equal(t, "srv", frame["serverId"])
}

func TestEvents_RecentFromJournal(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(&events.Event{Topic: events.TopicServer, Type: events.KindStarted, ServerID: "srv"})

	require.Eventually(t, func() bool {
		_, body := f.do(t, http.MethodGet, "/api/events/recent?topic=server-event", nil)
		evs, _ := body["events"].([]any)
		return len(evs) == 1
	}, 2*time.Second, 20*time.Millisecond, "journal catches the published event")
}

func TestHostHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpointServes(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.front.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListen_ScansForFreePort(t *testing.T) {
	f := newFixture(t)

	// Occupy the preferred port; the scan should settle on the next one
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	low := taken.Addr().(*net.TCPAddr).Port

	l, port, err := f.srv.Listen(low, low+3)
	require.NoError(t, err)
	defer l.Close()
	assert.Greater(t, port, low)
	assert.LessOrEqual(t, port, low+3)
}

func TestErrorEnvelope_Shape(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/instances/ghost/global/metadata", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "NotFound", body["code"])
	assert.Contains(t, body["error"], "ghost")
}
