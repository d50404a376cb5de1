//go:build !llama

package llama

// No-CGO stub compiled when the 'llama' build tag is not set. Loading fails
// fast so a worker configured for llama exits during startup with a clear
// message instead of serving mocked output.

import (
	"context"

	"textgen/internal/backend"
)

var llamaBuilt = false

func init() { backend.Register(Kind, load) }

func load(ctx context.Context, opts backend.Options) (backend.Backend, error) {
	return nil, backend.ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
