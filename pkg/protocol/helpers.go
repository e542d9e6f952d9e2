package protocol

import "time"

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewHeader creates a header stamped with the current time.
func NewHeader(seq uint64, frameID string) Header {
	return Header{Seq: seq, Stamp: time.Now(), FrameID: frameID}
}

// NewFrame wraps encoded image bytes in a stamped frame.
func NewFrame(data []byte, format string, seq uint64, frameID string) Frame {
	return Frame{
		Header: NewHeader(seq, frameID),
		Format: format,
		Data:   data,
	}
}

// NewJPEGFrame wraps JPEG bytes in a stamped frame.
func NewJPEGFrame(jpegData []byte, seq uint64, frameID string) Frame {
	return NewFrame(jpegData, FormatJPEG, seq, frameID)
}

// NewMotionCommand creates a command carrying the given header.
func NewMotionCommand(header Header, v, omega float64) MotionCommand {
	return MotionCommand{Header: header, V: v, Omega: omega}
}

// NewButtonEvent creates a joy event with a single pressed button at index.
func NewButtonEvent(index int) JoyEvent {
	buttons := make([]int32, index+1)
	buttons[index] = 1
	return JoyEvent{Header: NewHeader(0, "joy"), Buttons: buttons}
}
