package supervisor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/types"
)

// packageJSON is the subset of package.json read to locate an entry point.
// Bin is either a string or a map of command name to script path.
type packageJSON struct {
	Main string          `json:"main"`
	Bin  json.RawMessage `json:"bin"`
}

// packageRef renders the package spec handed to a package runner
func packageRef(server *types.Server) string {
	if server.PackageVersion != "" {
		return server.PackageName + "@" + server.PackageVersion
	}
	return server.PackageName
}

// buildCommand translates a server template into the command line for its
// install type. installRoot is where npm-type packages were installed.
func buildCommand(server *types.Server, installRoot string) (CommandSpec, error) {
	switch server.InstallType {
	case types.InstallTypeLocal:
		entry := server.EntryPoint
		if entry == "" {
			var err error
			entry, err = localEntryPoint(server.LocalPath)
			if err != nil {
				return CommandSpec{}, err
			}
		}
		return CommandSpec{
			Name: "node",
			Args: []string{entry},
			Dir:  server.LocalPath,
		}, nil

	case types.InstallTypeNPM:
		// node resolves the package main itself when handed the directory
		return CommandSpec{
			Name: "node",
			Args: []string{filepath.Join(installRoot, "node_modules", server.PackageName)},
			Dir:  installRoot,
		}, nil

	case types.InstallTypeNPX:
		return CommandSpec{Name: "npx", Args: []string{"--yes", packageRef(server)}}, nil
	case types.InstallTypePNPX:
		return CommandSpec{Name: "pnpx", Args: []string{packageRef(server)}}, nil
	case types.InstallTypeYarn:
		return CommandSpec{Name: "yarn", Args: []string{"dlx", packageRef(server)}}, nil
	case types.InstallTypeBunx:
		return CommandSpec{Name: "bunx", Args: []string{packageRef(server)}}, nil
	}

	return CommandSpec{}, errdefs.InvalidArgument("unknown install type %q", server.InstallType)
}

// localEntryPoint reads package.json under dir and returns its main script,
// falling back to the first bin entry
func localEntryPoint(dir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return "", errdefs.InvalidArgument("local server at %s has no readable package.json: %v", dir, err)
	}

	var pkg packageJSON
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return "", errdefs.InvalidArgument("local server at %s has invalid package.json: %v", dir, err)
	}
	if pkg.Main != "" {
		return pkg.Main, nil
	}

	if len(pkg.Bin) > 0 {
		var binPath string
		if err := json.Unmarshal(pkg.Bin, &binPath); err == nil && binPath != "" {
			return binPath, nil
		}
		binMap := make(map[string]string)
		if err := json.Unmarshal(pkg.Bin, &binMap); err == nil && len(binMap) > 0 {
			names := make([]string, 0, len(binMap))
			for name := range binMap {
				names = append(names, name)
			}
			sort.Strings(names)
			return binMap[names[0]], nil
		}
	}

	return "", errdefs.InvalidArgument("local server at %s declares neither main nor bin", dir)
}
