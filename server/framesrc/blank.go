package framesrc

import (
	"io"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/tally/server/session"
)

// BlankSource produces a fixed number of frames.
// If width and height are zero, the frames carry no image, which is how a session is run
// from a label file alone. Otherwise every frame is black.
type BlankSource struct {
	count  int
	width  int
	height int
	next   int
}

func NewBlankSource(count, width, height int) *BlankSource {
	return &BlankSource{
		count:  count,
		width:  width,
		height: height,
	}
}

func (s *BlankSource) Next() (*session.Frame, error) {
	if s.next >= s.count {
		return nil, io.EOF
	}
	f := &session.Frame{Index: s.next}
	if s.width > 0 && s.height > 0 {
		f.Image = cimg.NewImage(s.width, s.height, cimg.PixelFormatRGB)
	}
	s.next++
	return f, nil
}

// Discard is a sink that drops every frame
type Discard struct{}

func (Discard) WriteFrame(frame *session.Frame) error {
	return nil
}

// Tee writes every frame to all of its sinks, stopping at the first error
type Tee []session.FrameSink

func (t Tee) WriteFrame(frame *session.Frame) error {
	for _, s := range t {
		if err := s.WriteFrame(frame); err != nil {
			return err
		}
	}
	return nil
}
