// Package npm shells out to the npm CLI for package installs and registry
// version lookups. Every invocation carries a context deadline; npm output
// is never trusted beyond the single line asked for.
package npm

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/log"
)

const (
	installTimeout = 5 * time.Minute
	viewTimeout    = 30 * time.Second
)

// versionPattern matches the bare semver line `npm view <pkg> version` prints
var versionPattern = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+(?:[-+][0-9A-Za-z.-]+)?$`)

// ExecFunc runs a command and returns its combined output
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Client wraps the npm CLI
type Client struct {
	run    ExecFunc
	logger zerolog.Logger
}

// NewClient creates an npm client that shells out to the real CLI
func NewClient() *Client {
	return NewClientWith(runCommand)
}

// NewClientWith creates an npm client with a custom executor
func NewClientWith(run ExecFunc) *Client {
	return &Client{
		run:    run,
		logger: log.WithComponent("npm"),
	}
}

func packageRef(pkg, version string) string {
	if version != "" {
		return pkg + "@" + version
	}
	return pkg
}

// Install installs a package under the given prefix directory, so servers
// with install type npm can be launched from <prefix>/node_modules.
func (c *Client) Install(ctx context.Context, prefix, pkg, version string) error {
	if pkg == "" {
		return errdefs.InvalidArgument("package name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	ref := packageRef(pkg, version)
	c.logger.Info().Str("package", ref).Str("prefix", prefix).Msg("installing package")

	out, err := c.run(ctx, "npm", "install", "--prefix", prefix, "--no-fund", "--no-audit", ref)
	if err != nil {
		c.logger.Error().Err(err).Str("package", ref).Msg("npm install failed")
		return errdefs.Internal(err, "npm install %s: %s", ref, tail(out))
	}
	return nil
}

// LatestVersion asks the registry for the newest published version of a
// package
func (c *Client) LatestVersion(ctx context.Context, pkg string) (string, error) {
	if pkg == "" {
		return "", errdefs.InvalidArgument("package name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, viewTimeout)
	defer cancel()

	out, err := c.run(ctx, "npm", "view", pkg, "version")
	if err != nil {
		return "", errdefs.Internal(err, "npm view %s: %s", pkg, tail(out))
	}

	version := strings.TrimSpace(string(out))
	if !versionPattern.MatchString(version) {
		return "", errdefs.Internal(nil, "unexpected npm view output for %s: %q", pkg, version)
	}
	return version, nil
}

// tail keeps error messages readable when npm dumps a screenful
func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
