// wheels-driver runs the safety-gated actuation node.
//
// Every exit path goes through the node's shutdown guard, which applies the
// zero command before the motors are released. Fatal actuation errors exit
// with status 1 after the guard has run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-duckiebot/internal/config"
	"github.com/teslashibe/go-duckiebot/internal/log"
	"github.com/teslashibe/go-duckiebot/pkg/protocol"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
	"github.com/teslashibe/go-duckiebot/pkg/transport/dial"
	"github.com/teslashibe/go-duckiebot/pkg/web"
	"github.com/teslashibe/go-duckiebot/pkg/wheels"
)

const nodeName = "wheels-driver"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to YAML config (env vars override)")
	estopMode := flag.String("estop-mode", "", "Emergency stop semantics: toggle or explicit")
	addr := flag.String("addr", "", "Monitoring listen address (overrides web.wheels_driver.addr)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 2
	}
	if *estopMode != "" {
		cfg.Wheels.EStopMode = *estopMode
		if err := cfg.Wheels.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			return 2
		}
	}

	if *addr != "" {
		cfg.Web.Wheels.Addr = *addr
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

	topics := transport.NewTopics(cfg.Transport.Prefix)
	motors, err := openMotors(cfg.Wheels.Motors, bus, codec, topics)
	if err != nil {
		logger.Error("motors unavailable", "error", err)
		return 1
	}

	drive := wheels.NewDifferential(cfg.Wheels.Kinematics, motors)
	node := wheels.NewNode(cfg.Wheels, bus, codec, topics, drive, logger)

	if webCfg := cfg.Web.Wheels; webCfg.Enabled {
		srv, err := web.NewServer(webCfg, nodeName, logger, web.WithActuator(node), web.WithBus(bus))
		if err != nil {
			node.Shutdown()
			logger.Error("monitoring server", "error", err)
			return 1
		}
		node.OnExecuted(srv.PublishExecuted)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Warn("monitoring server stopped", "error", err)
			}
		}()
	}

	if err := node.Run(ctx); err != nil {
		logger.Error("wheels driver halted", "error", err, "stats", node.Stats())
		return 1
	}
	logger.Info("wheels driver stopped", "stats", node.Stats())
	return 0
}

func openMotors(cfg wheels.MotorsConfig, bus transport.Bus, codec protocol.Codec, topics *transport.Topics) (wheels.Motors, error) {
	switch cfg.Driver {
	case wheels.MotorsModbus:
		return wheels.DialModbus(cfg.Modbus)
	default:
		return wheels.NewBusMotors(bus, codec, topics.Motors()), nil
	}
}
