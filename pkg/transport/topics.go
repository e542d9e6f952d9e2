package transport

import "fmt"

// Topic suffixes. All topics are prefixed with the configured vehicle name.

// TopicCameraImage carries compressed camera frames.
const TopicCameraImage = "camera_node/image/compressed"

// TopicJoy carries gamepad samples; one button toggles lane following.
const TopicJoy = "joy"

// TopicCarCmd carries motion commands from the lane follower to the wheels driver.
const TopicCarCmd = "lane_controller_node/car_cmd"

// TopicEmergencyStop carries the emergency-stop signal.
const TopicEmergencyStop = "wheels_driver_node/emergency_stop"

// TopicWheelsCmdExecuted echoes commands as applied to the drive.
const TopicWheelsCmdExecuted = "wheels_driver_node/wheels_cmd_executed"

// TopicMotors carries per-wheel duty for a bus-attached motor controller.
const TopicMotors = "wheels_driver_node/motors"

// Topics is a helper to build fully-qualified topic names.
type Topics struct {
	prefix string
}

// NewTopics creates a Topics helper with the given prefix.
func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

// Prefix returns the vehicle prefix.
func (t *Topics) Prefix() string {
	return t.prefix
}

func (t *Topics) full(suffix string) string {
	if t.prefix == "" {
		return suffix
	}
	return fmt.Sprintf("%s/%s", t.prefix, suffix)
}

// CameraImage returns the full camera frame topic.
func (t *Topics) CameraImage() string { return t.full(TopicCameraImage) }

// Joy returns the full joy topic.
func (t *Topics) Joy() string { return t.full(TopicJoy) }

// CarCmd returns the full motion command topic.
func (t *Topics) CarCmd() string { return t.full(TopicCarCmd) }

// EmergencyStop returns the full emergency-stop topic.
func (t *Topics) EmergencyStop() string { return t.full(TopicEmergencyStop) }

// WheelsCmdExecuted returns the full executed command topic.
func (t *Topics) WheelsCmdExecuted() string { return t.full(TopicWheelsCmdExecuted) }

// Motors returns the full motor duty topic.
func (t *Topics) Motors() string { return t.full(TopicMotors) }
