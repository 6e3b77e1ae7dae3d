// Package framesrc contains the frame sources and sinks of a session.
// Video decoding and encoding happen outside of this process. Frames arrive and leave as raw
// RGB24 (eg "ffmpeg -i in.mp4 -f rawvideo -pix_fmt rgb24 -"), or as JPEG stills.
package framesrc

import (
	"errors"
	"fmt"
	"io"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/tally/server/session"
)

// RawSource reads fixed-size RGB24 frames from a stream
type RawSource struct {
	r      io.Reader
	width  int
	height int
	next   int
}

func NewRawSource(r io.Reader, width, height int) (*RawSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("Invalid raw frame size %v x %v", width, height)
	}
	return &RawSource{
		r:      r,
		width:  width,
		height: height,
	}, nil
}

// Next returns io.EOF if the stream ends cleanly between frames
func (s *RawSource) Next() (*session.Frame, error) {
	img := cimg.NewImage(s.width, s.height, cimg.PixelFormatRGB)
	rowBytes := s.width * 3
	for y := 0; y < s.height; y++ {
		row := img.Pixels[y*img.Stride : y*img.Stride+rowBytes]
		if _, err := io.ReadFull(s.r, row); err != nil {
			if y == 0 && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("Raw stream ended in the middle of frame %v", s.next)
			}
			return nil, err
		}
	}
	f := &session.Frame{
		Index: s.next,
		Image: img,
	}
	s.next++
	return f, nil
}

// RawSink writes RGB24 frames to a stream, for an external encoder
type RawSink struct {
	w      io.Writer
	width  int
	height int
}

func NewRawSink(w io.Writer, width, height int) *RawSink {
	return &RawSink{
		w:      w,
		width:  width,
		height: height,
	}
}

func (s *RawSink) WriteFrame(frame *session.Frame) error {
	img := frame.Image
	if img == nil {
		return fmt.Errorf("Frame %v has no image", frame.Index)
	}
	if img.Width != s.width || img.Height != s.height || img.Format != cimg.PixelFormatRGB {
		return fmt.Errorf("Frame %v is %v x %v (format %v), but raw sink expects %v x %v RGB", frame.Index, img.Width, img.Height, img.Format, s.width, s.height)
	}
	rowBytes := s.width * 3
	if img.Stride == rowBytes {
		_, err := s.w.Write(img.Pixels[:rowBytes*s.height])
		return err
	}
	for y := 0; y < s.height; y++ {
		if _, err := s.w.Write(img.Pixels[y*img.Stride : y*img.Stride+rowBytes]); err != nil {
			return err
		}
	}
	return nil
}
