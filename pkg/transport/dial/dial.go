// Package dial opens the transport.Bus selected by configuration.
package dial

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-duckiebot/pkg/transport"
	"github.com/teslashibe/go-duckiebot/pkg/transport/mqttbus"
	"github.com/teslashibe/go-duckiebot/pkg/transport/zmqbus"
)

// Open connects the configured backend. node names the caller and seeds the
// client ID when none is configured.
func Open(ctx context.Context, cfg transport.Config, node string, logger *slog.Logger) (transport.Bus, error) {
	cfg = cfg.WithClientID(node)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case transport.BackendMQTT:
		return mqttbus.Dial(ctx, cfg, logger)
	case transport.BackendZMQ:
		return zmqbus.New(cfg, logger)
	case transport.BackendMemory:
		return transport.NewMemory(), nil
	default:
		return nil, fmt.Errorf("dial: unsupported backend %q", cfg.Backend)
	}
}
