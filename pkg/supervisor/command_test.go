package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/types"
)

func writePackageJSON(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(content), 0600))
}

func TestBuildCommand_PackageRunners(t *testing.T) {
	cases := []struct {
		install  types.InstallType
		wantName string
		wantArgs []string
	}{
		{types.InstallTypeNPX, "npx", []string{"--yes", "@scope/pkg@1.2.3"}},
		{types.InstallTypePNPX, "pnpx", []string{"@scope/pkg@1.2.3"}},
		{types.InstallTypeYarn, "yarn", []string{"dlx", "@scope/pkg@1.2.3"}},
		{types.InstallTypeBunx, "bunx", []string{"@scope/pkg@1.2.3"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.install), func(t *testing.T) {
			spec, err := buildCommand(&types.Server{
				InstallType:    tc.install,
				PackageName:    "@scope/pkg",
				PackageVersion: "1.2.3",
			}, "/data/packages")
			require.NoError(t, err)
			assert.Equal(t, tc.wantName, spec.Name)
			assert.Equal(t, tc.wantArgs, spec.Args)
		})
	}
}

func TestBuildCommand_VersionlessPackageRef(t *testing.T) {
	spec, err := buildCommand(&types.Server{
		InstallType: types.InstallTypeNPX,
		PackageName: "some-server",
	}, "/data/packages")
	require.NoError(t, err)
	assert.Equal(t, []string{"--yes", "some-server"}, spec.Args)
}

func TestBuildCommand_NPMRunsInstalledPackage(t *testing.T) {
	spec, err := buildCommand(&types.Server{
		InstallType: types.InstallTypeNPM,
		PackageName: "@scope/pkg",
	}, "/data/packages")
	require.NoError(t, err)
	assert.Equal(t, "node", spec.Name)
	assert.Equal(t, []string{filepath.Join("/data/packages", "node_modules", "@scope/pkg")}, spec.Args)
	assert.Equal(t, "/data/packages", spec.Dir)
}

func TestBuildCommand_LocalUsesMain(t *testing.T) {
	dir := t.TempDir()
	writePackageJSON(t, dir, `{"name":"x","main":"dist/server.js"}`)

	spec, err := buildCommand(&types.Server{
		InstallType: types.InstallTypeLocal,
		LocalPath:   dir,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "node", spec.Name)
	assert.Equal(t, []string{"dist/server.js"}, spec.Args)
	assert.Equal(t, dir, spec.Dir)
}

func TestBuildCommand_LocalEntryPointOverride(t *testing.T) {
	dir := t.TempDir()
	spec, err := buildCommand(&types.Server{
		InstallType: types.InstallTypeLocal,
		LocalPath:   dir,
		EntryPoint:  "custom.js",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"custom.js"}, spec.Args)
}

func TestBuildCommand_LocalFallsBackToBin(t *testing.T) {
	dir := t.TempDir()
	writePackageJSON(t, dir, `{"name":"x","bin":"cli.js"}`)

	spec, err := buildCommand(&types.Server{
		InstallType: types.InstallTypeLocal,
		LocalPath:   dir,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"cli.js"}, spec.Args)
}

func TestBuildCommand_LocalBinMapTakesFirstAlphabetically(t *testing.T) {
	dir := t.TempDir()
	writePackageJSON(t, dir, `{"name":"x","bin":{"zed":"z.js","alpha":"a.js"}}`)

	spec, err := buildCommand(&types.Server{
		InstallType: types.InstallTypeLocal,
		LocalPath:   dir,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.js"}, spec.Args)
}

func TestBuildCommand_LocalWithoutEntryFails(t *testing.T) {
	dir := t.TempDir()
	writePackageJSON(t, dir, `{"name":"x"}`)

	_, err := buildCommand(&types.Server{
		InstallType: types.InstallTypeLocal,
		LocalPath:   dir,
	}, "")
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeInvalidArgument, errdefs.GetCode(err))
}

func TestBuildCommand_LocalMissingPackageJSONFails(t *testing.T) {
	_, err := buildCommand(&types.Server{
		InstallType: types.InstallTypeLocal,
		LocalPath:   t.TempDir(),
	}, "")
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeInvalidArgument, errdefs.GetCode(err))
}
