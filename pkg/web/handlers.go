package web

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-duckiebot/pkg/hub"
	"github.com/teslashibe/go-duckiebot/pkg/lanefollow"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
	"github.com/teslashibe/go-duckiebot/pkg/wheels"
)

// Status is the /api/status response.
type Status struct {
	Node       string            `json:"node"`
	Uptime     string            `json:"uptime"`
	Transport  *transport.Stats  `json:"transport,omitempty"`
	LaneFollow *LaneFollowStatus `json:"lanefollow,omitempty"`
	Wheels     *wheels.Stats     `json:"wheels,omitempty"`
	Monitors   int               `json:"monitors"`
}

// LaneFollowStatus reports the inference node.
type LaneFollowStatus struct {
	Engaged bool             `json:"engaged"`
	Stats   lanefollow.Stats `json:"stats"`
}

// handleStatus returns the node's current state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	st := Status{
		Node:     s.node,
		Uptime:   time.Since(s.started).Truncate(time.Second).String(),
		Monitors: s.jsonHub.ClientCount() + s.cborHub.ClientCount(),
	}
	if s.bus != nil {
		ts := s.bus.Stats()
		st.Transport = &ts
	}
	if s.lane != nil {
		st.LaneFollow = &LaneFollowStatus{Engaged: s.lane.Engaged(), Stats: s.lane.Stats()}
	}
	if s.act != nil {
		ws := s.act.Stats()
		st.Wheels = &ws
	}
	return c.JSON(st)
}

func notServed(c *fiber.Ctx, what string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": what + " is not served by this node",
	})
}

// handleEngage forces the lane-following toggle
func (s *Server) handleEngage(engaged bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.lane == nil {
			return notServed(c, "lane following")
		}
		changed := s.lane.SetEngaged(engaged)
		s.logger.Info("lane following set over http", "engaged", engaged, "changed", changed)
		return c.JSON(fiber.Map{
			"engaged": s.lane.Engaged(),
			"changed": changed,
		})
	}
}

func (s *Server) estopResponse(c *fiber.Ctx, changed bool) error {
	return c.JSON(fiber.Map{
		"state":   s.act.State(),
		"changed": changed,
	})
}

// handleEStopStop latches the emergency stop
func (s *Server) handleEStopStop(c *fiber.Ctx) error {
	if s.act == nil {
		return notServed(c, "emergency stop")
	}
	return s.estopResponse(c, s.act.EmergencyStop())
}

// handleEStopResume releases the emergency stop
func (s *Server) handleEStopResume(c *fiber.Ctx) error {
	if s.act == nil {
		return notServed(c, "emergency stop")
	}
	return s.estopResponse(c, s.act.Resume())
}

// handleEStopToggle flips the emergency stop
func (s *Server) handleEStopToggle(c *fiber.Ctx) error {
	if s.act == nil {
		return notServed(c, "emergency stop")
	}
	state, changed := s.act.ToggleEStop()
	return c.JSON(fiber.Map{
		"state":   state,
		"changed": changed,
	})
}

// handleExecutedWS streams executed commands; ?format=cbor selects binary frames.
func (s *Server) handleExecutedWS(c *websocket.Conn) {
	h := s.jsonHub
	if c.Query("format") == "cbor" {
		h = s.cborHub
	}
	hub.NewClient(h, c).Run()
}
