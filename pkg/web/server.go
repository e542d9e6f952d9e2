// Package web serves the monitoring API for a lane-following or wheels node.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-duckiebot/internal/log"
	"github.com/teslashibe/go-duckiebot/pkg/hub"
	"github.com/teslashibe/go-duckiebot/pkg/lanefollow"
	"github.com/teslashibe/go-duckiebot/pkg/protocol"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
	"github.com/teslashibe/go-duckiebot/pkg/wheels"
)

// Config holds monitoring server settings.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// DefaultConfig returns the default monitoring settings.
func DefaultConfig() Config {
	return Config{Enabled: true, Addr: ":8080"}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("web: addr is required when enabled")
	}
	return nil
}

// NodesConfig gives each node on the vehicle its own monitoring server.
// Both nodes read the same file, so their listen addresses must differ.
type NodesConfig struct {
	LaneFollow Config `yaml:"lanefollow" json:"lanefollow"`
	Wheels     Config `yaml:"wheels_driver" json:"wheels_driver"`
}

// DefaultNodesConfig serves wheels-driver on :8080 and lanefollow on :8081.
func DefaultNodesConfig() NodesConfig {
	return NodesConfig{
		LaneFollow: Config{Enabled: true, Addr: ":8081"},
		Wheels:     DefaultConfig(),
	}
}

// Validate checks both servers and rejects a shared listen address.
func (n *NodesConfig) Validate() error {
	if err := n.LaneFollow.Validate(); err != nil {
		return fmt.Errorf("lanefollow: %w", err)
	}
	if err := n.Wheels.Validate(); err != nil {
		return fmt.Errorf("wheels_driver: %w", err)
	}
	if n.LaneFollow.Enabled && n.Wheels.Enabled && n.LaneFollow.Addr == n.Wheels.Addr {
		return fmt.Errorf("web: lanefollow and wheels_driver both listen on %s", n.Wheels.Addr)
	}
	return nil
}

// LaneFollower is the inference node surface exposed over HTTP.
type LaneFollower interface {
	Stats() lanefollow.Stats
	Engaged() bool
	SetEngaged(engaged bool) bool
}

// Actuator is the wheels node surface exposed over HTTP.
type Actuator interface {
	Stats() wheels.Stats
	State() wheels.State
	EmergencyStop() bool
	Resume() bool
	ToggleEStop() (wheels.State, bool)
}

// Server is the monitoring server.
type Server struct {
	app     *fiber.App
	cfg     Config
	node    string
	started time.Time
	logger  *slog.Logger

	lane LaneFollower
	act  Actuator
	bus  transport.Bus

	// Executed-command fan-out, one hub per encoding
	jsonHub *hub.Hub
	cborHub *hub.Hub
	cbor    *protocol.CBORCodec
}

// Option configures a Server.
type Option func(*Server)

// WithLaneFollower exposes an inference node.
func WithLaneFollower(n LaneFollower) Option {
	return func(s *Server) { s.lane = n }
}

// WithActuator exposes a wheels node.
func WithActuator(a Actuator) Option {
	return func(s *Server) { s.act = a }
}

// WithBus adds transport stats to the status response.
func WithBus(b transport.Bus) Option {
	return func(s *Server) { s.bus = b }
}

// NewServer creates a monitoring server for node.
func NewServer(cfg Config, node string, logger *slog.Logger, opts ...Option) (*Server, error) {
	cbor, err := protocol.NewCBORCodec()
	if err != nil {
		return nil, err
	}

	logger = log.Component(logger, "web")
	s := &Server{
		cfg:     cfg,
		node:    node,
		started: time.Now(),
		logger:  logger,
		jsonHub: hub.New("executed", logger),
		cborHub: hub.New("executed-cbor", logger),
		cbor:    cbor,
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "duckiebot " + node,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/lanefollow/engage", s.handleEngage(true))
	api.Post("/lanefollow/disengage", s.handleEngage(false))
	api.Post("/estop/stop", s.handleEStopStop)
	api.Post("/estop/resume", s.handleEStopResume)
	api.Post("/estop/toggle", s.handleEStopToggle)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/executed", websocket.New(s.handleExecutedWS))

	s.app = app
	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// PublishExecuted fans an executed command out to websocket monitors.
// It never blocks, so it is safe to use as a wheels.Node observer.
func (s *Server) PublishExecuted(e protocol.ExecutedCommand) {
	for _, out := range []struct {
		hub   *hub.Hub
		codec protocol.Codec
	}{
		{s.jsonHub, protocol.JSONCodec{}},
		{s.cborHub, s.cbor},
	} {
		msg, err := hub.Encode(out.codec, e)
		if err != nil {
			s.logger.Warn("encode executed command", "error", err)
			continue
		}
		out.hub.Broadcast(msg)
	}
}

// Run serves until ctx is done, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	go s.jsonHub.Run(ctx)
	go s.cborHub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("monitoring server listening", "addr", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return fmt.Errorf("web: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("web: listen %s: %w", s.cfg.Addr, err)
		}
		return nil
	}
}
