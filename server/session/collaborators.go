package session

import (
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/tally/pkg/nn"
	"github.com/cyclopcam/tally/server/annotate"
)

// Frame is one video frame.
// Image may be nil when a session is run from labels alone, without pixels.
type Frame struct {
	Index  int
	Image  *cimg.Image
	Labels []annotate.Label // Populated on frames that come out of a session
}

// FrameSource produces frames in order. Next returns io.EOF after the last frame.
// A source cannot be rewound.
type FrameSource interface {
	Next() (*Frame, error)
}

// Detector returns the objects in a frame, each with a track id that is stable
// across frames for the same physical object.
type Detector interface {
	Detect(frame *Frame) ([]nn.Detection, error)
}

// FrameSink receives annotated frames, in the order that they were produced
type FrameSink interface {
	WriteFrame(frame *Frame) error
}

// DetectorFunc adapts a function to the Detector interface
type DetectorFunc func(frame *Frame) ([]nn.Detection, error)

func (f DetectorFunc) Detect(frame *Frame) ([]nn.Detection, error) {
	return f(frame)
}
