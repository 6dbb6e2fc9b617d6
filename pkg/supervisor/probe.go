package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mcpden/mcpden/pkg/errdefs"
	"github.com/mcpden/mcpden/pkg/types"
)

// metadataBodyLimit caps how much of a /metadata response is read
const metadataBodyLimit = 1 << 20

// healthProbeFunc checks a single instance's /health endpoint
type healthProbeFunc func(ctx context.Context, port int) error

// metadataFetchFunc retrieves an instance's /metadata document
type metadataFetchFunc func(ctx context.Context, port int) (*types.InstanceMetadata, error)

// httpHealthProbe issues GET /health against the instance loopback port.
// Any 2xx answer counts as healthy.
func httpHealthProbe(client *http.Client) healthProbeFunc {
	return func(ctx context.Context, port int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("http://127.0.0.1:%d/health", port), nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("health endpoint answered %d", resp.StatusCode)
		}
		return nil
	}
}

// httpMetadataFetch issues GET /metadata against the instance loopback port
func httpMetadataFetch(client *http.Client) metadataFetchFunc {
	return func(ctx context.Context, port int) (*types.InstanceMetadata, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("http://127.0.0.1:%d/metadata", port), nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, errdefs.Internal(nil, "metadata endpoint answered %d", resp.StatusCode)
		}

		var meta types.InstanceMetadata
		if err := json.NewDecoder(io.LimitReader(resp.Body, metadataBodyLimit)).Decode(&meta); err != nil {
			return nil, errdefs.Internal(err, "decoding metadata")
		}
		return &meta, nil
	}
}
