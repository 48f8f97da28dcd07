package llm

import (
	"context"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/models"
)

// NewFromConfig builds the process-wide client at boot. The core carries no
// vendor transport; a deployment links one by reassigning this variable from
// its transport package. The default build boots degraded: every call fails
// with an upstream-unavailable error and the runtime answers with its fixed
// fallback texts, the same behaviour as a linked transport whose backend is
// down.
var NewFromConfig = func(cfg *config.Config) (Client, error) {
	return unconfigured{}, nil
}

// unconfigured is the no-transport client.
type unconfigured struct{}

func (unconfigured) Generate(ctx context.Context, req *Request) (*Response, error) {
	return nil, NewError(models.ErrKindUpstreamUnavailable, "no llm transport linked", nil)
}

func (unconfigured) Close() error { return nil }
