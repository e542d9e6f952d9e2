// camsim replays a directory of images as a camera feed, optionally
// pressing the lane-following toggle once at startup. Useful for bench
// testing the lanefollow node without a camera.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-duckiebot/internal/config"
	"github.com/teslashibe/go-duckiebot/internal/log"
	"github.com/teslashibe/go-duckiebot/pkg/protocol"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
	"github.com/teslashibe/go-duckiebot/pkg/transport/dial"
	"github.com/teslashibe/go-duckiebot/pkg/vision"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to YAML config (env vars override)")
	dir := flag.String("dir", "frames", "Directory of JPEG/PNG frames")
	fps := flag.Float64("fps", 15, "Frames per second")
	engage := flag.Bool("engage", false, "Press the toggle button once before streaming")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 2
	}
	if *fps <= 0 {
		fmt.Fprintln(os.Stderr, "fps must be positive")
		return 2
	}

	log.Setup(cfg.Log)
	defer log.Close()
	logger := log.With("node", "camsim")

	provider, err := vision.NewDirProvider(*dir)
	if err != nil {
		logger.Error("frames", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	codec, err := protocol.NewCodec(cfg.Transport.Codec)
	if err != nil {
		logger.Error("codec", "error", err)
		return 1
	}
	bus, err := dial.Open(ctx, cfg.Transport, "camsim", logger)
	if err != nil {
		logger.Error("transport unavailable", "error", err)
		return 1
	}
	defer bus.Close()
	topics := transport.NewTopics(cfg.Transport.Prefix)

	if *engage {
		press := protocol.NewButtonEvent(cfg.LaneFollow.ToggleButton)
		if err := transport.PublishMessage(bus, codec, topics.Joy(), press); err != nil {
			logger.Warn("toggle press failed", "error", err)
		}
	}

	logger.Info("streaming frames", "dir", *dir, "count", provider.Len(), "fps", *fps, "topic", topics.CameraImage())

	ticker := time.NewTicker(time.Duration(float64(time.Second) / *fps))
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopped", "frames", seq)
			return 0
		case <-ticker.C:
			data, format, err := provider.Next()
			if err != nil {
				logger.Warn("read frame", "error", err)
				continue
			}
			seq++
			frame := protocol.NewFrame(data, format, seq, cfg.Vehicle+"/camera_optical_frame")
			if err := transport.PublishMessage(bus, codec, topics.CameraImage(), frame); err != nil {
				logger.Warn("publish frame", "seq", seq, "error", err)
			}
		}
	}
}
