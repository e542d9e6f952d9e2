// lanefollow runs the camera-to-command inference node.
//
// The accelerator is acquired before any frame is served and released only
// after the node has stopped and the in-flight inference has finished.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-duckiebot/internal/config"
	"github.com/teslashibe/go-duckiebot/internal/log"
	"github.com/teslashibe/go-duckiebot/pkg/accelerator"
	"github.com/teslashibe/go-duckiebot/pkg/lanefollow"
	"github.com/teslashibe/go-duckiebot/pkg/protocol"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
	"github.com/teslashibe/go-duckiebot/pkg/transport/dial"
	"github.com/teslashibe/go-duckiebot/pkg/vision"
	"github.com/teslashibe/go-duckiebot/pkg/web"
)

const nodeName = "lanefollow"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to YAML config (env vars override)")
	dryRun := flag.Bool("dry-run", false, "Use a mock graph that always steers straight")
	engaged := flag.Bool("engaged", false, "Start with lane following engaged")
	addr := flag.String("addr", "", "Monitoring listen address (overrides web.lanefollow.addr)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 2
	}
	if *engaged {
		cfg.LaneFollow.StartEngaged = true
	}
	if *addr != "" {
		cfg.Web.LaneFollow.Addr = *addr
		if err := cfg.Web.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			return 2
		}
	}

	log.Setup(cfg.Log)
	defer log.Close()
	logger := log.With("node", nodeName, "vehicle", cfg.Vehicle)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	graph, release, err := openGraph(cfg.LaneFollow.Model, *dryRun, logger)
	if err != nil {
		logger.Error("accelerator unavailable", "error", err)
		return 1
	}
	defer release()

	codec, err := protocol.NewCodec(cfg.Transport.Codec)
	if err != nil {
		logger.Error("codec", "error", err)
		return 1
	}

	bus, err := dial.Open(ctx, cfg.Transport, nodeName, logger)
	if err != nil {
		logger.Error("transport unavailable", "error", err)
		return 1
	}
	defer bus.Close()

	stage := lanefollow.NewStage(vision.NewPreprocessor(cfg.LaneFollow.Preprocess), graph, cfg.LaneFollow)
	node := lanefollow.NewNode(cfg.LaneFollow, bus, codec, transport.NewTopics(cfg.Transport.Prefix), stage, logger)
	if err := node.Start(); err != nil {
		logger.Error("start", "error", err)
		return 1
	}
	defer node.Close()

	if webCfg := cfg.Web.LaneFollow; webCfg.Enabled {
		srv, err := web.NewServer(webCfg, nodeName, logger, web.WithLaneFollower(node), web.WithBus(bus))
		if err != nil {
			logger.Error("monitoring server", "error", err)
			return 1
		}
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Warn("monitoring server stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down", "stats", node.Stats())
	return 0
}

// openGraph acquires the model graph. The returned release func must run
// after the node is closed.
func openGraph(cfg lanefollow.ModelConfig, dryRun bool, logger *slog.Logger) (lanefollow.Graph, func() error, error) {
	if dryRun {
		g := lanefollow.NewMockGraph(0)
		return g, g.Close, nil
	}
	dev, err := accelerator.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return dev, dev.Close, nil
}
