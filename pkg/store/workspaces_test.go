package store

import (
	"testing"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspaceStore(t *testing.T) *WorkspaceStore {
	t.Helper()
	s, err := NewWorkspaceStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNew_SeedsGlobalWorkspace(t *testing.T) {
	dir := t.TempDir()
	s, err := NewWorkspaceStore(dir)
	require.NoError(t, err)

	ws, err := s.Get(types.GlobalWorkspaceID)
	require.NoError(t, err)
	assert.True(t, ws.IsGlobal())

	// Survives reload
	s2, err := NewWorkspaceStore(dir)
	require.NoError(t, err)
	_, err = s2.Get(types.GlobalWorkspaceID)
	require.NoError(t, err)
}

func TestCreate_RequiresAbsoluteRoot(t *testing.T) {
	s := newWorkspaceStore(t)

	err := s.Create(&types.Workspace{ProjectRoot: "relative/path"})
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeInvalidArgument, errdefs.GetCode(err))
}

func TestDelete_GlobalRefused(t *testing.T) {
	s := newWorkspaceStore(t)

	err := s.Delete(types.GlobalWorkspaceID)
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeInvalidArgument, errdefs.GetCode(err))
}

func TestDelete_CascadesConfigs(t *testing.T) {
	s := newWorkspaceStore(t)

	require.NoError(t, s.Create(&types.Workspace{ID: "ws-1", ProjectRoot: "/proj"}))
	require.NoError(t, s.SetConfig(&types.WorkspaceServerConfig{
		WorkspaceID: "ws-1", ServerID: "srv-1", Enabled: false,
	}))

	require.NoError(t, s.Delete("ws-1"))
	assert.Empty(t, s.ListConfigs("ws-1"))
	_, err := s.Get("ws-1")
	assert.Equal(t, errdefs.CodeNotFound, errdefs.GetCode(err))
}

func TestEnabled_DefaultsTrue(t *testing.T) {
	s := newWorkspaceStore(t)
	require.NoError(t, s.Create(&types.Workspace{ID: "ws-1", ProjectRoot: "/proj"}))

	assert.True(t, s.Enabled("ws-1", "srv-1"), "no config means enabled")
	assert.True(t, s.Enabled(types.GlobalWorkspaceID, "srv-1"), "global is always enabled")

	require.NoError(t, s.SetConfig(&types.WorkspaceServerConfig{
		WorkspaceID: "ws-1", ServerID: "srv-1", Enabled: false,
	}))
	assert.False(t, s.Enabled("ws-1", "srv-1"))
}

func TestSetConfig_GlobalRefused(t *testing.T) {
	s := newWorkspaceStore(t)

	err := s.SetConfig(&types.WorkspaceServerConfig{
		WorkspaceID: types.GlobalWorkspaceID, ServerID: "srv-1", Enabled: false,
	})
	require.Error(t, err)
}

func TestGetConfig_DefaultWhenAbsent(t *testing.T) {
	s := newWorkspaceStore(t)

	cfg := s.GetConfig("ws-1", "srv-1")
	assert.True(t, cfg.Enabled)
	assert.Nil(t, cfg.ConfigOverride)
}

func TestReset_ClearsConfigs(t *testing.T) {
	s := newWorkspaceStore(t)

	require.NoError(t, s.Create(&types.Workspace{ID: "ws-1", ProjectRoot: "/proj"}))
	require.NoError(t, s.SetConfig(&types.WorkspaceServerConfig{
		WorkspaceID: "ws-1", ServerID: "srv-1", Enabled: false,
		ContextHeaders: map[string]string{"Region": "eu"},
	}))

	require.NoError(t, s.Reset("ws-1"))
	assert.True(t, s.Enabled("ws-1", "srv-1"))
	assert.Empty(t, s.ListConfigs("ws-1"))
}

func TestDeleteConfigsForServer(t *testing.T) {
	s := newWorkspaceStore(t)

	require.NoError(t, s.Create(&types.Workspace{ID: "ws-1", ProjectRoot: "/p1"}))
	require.NoError(t, s.Create(&types.Workspace{ID: "ws-2", ProjectRoot: "/p2"}))
	require.NoError(t, s.SetConfig(&types.WorkspaceServerConfig{WorkspaceID: "ws-1", ServerID: "srv-1", Enabled: false}))
	require.NoError(t, s.SetConfig(&types.WorkspaceServerConfig{WorkspaceID: "ws-2", ServerID: "srv-1", Enabled: false}))
	require.NoError(t, s.SetConfig(&types.WorkspaceServerConfig{WorkspaceID: "ws-1", ServerID: "srv-2", Enabled: false}))

	require.NoError(t, s.DeleteConfigsForServer("srv-1"))
	assert.True(t, s.Enabled("ws-1", "srv-1"))
	assert.True(t, s.Enabled("ws-2", "srv-1"))
	assert.False(t, s.Enabled("ws-1", "srv-2"))
}

func TestList_GlobalFirst(t *testing.T) {
	s := newWorkspaceStore(t)
	require.NoError(t, s.Create(&types.Workspace{ID: "ws-1", Label: "Alpha", ProjectRoot: "/a"}))

	list := s.List()
	require.Len(t, list, 2)
	assert.True(t, list[0].IsGlobal())
}
