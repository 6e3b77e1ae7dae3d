package framesrc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/tally/pkg/storage"
	"github.com/cyclopcam/tally/server/session"
)

// JPEGSink compresses every Nth frame, and writes it to storage as <prefix>/<index>.jpg.
// The most recent JPEG is also kept in memory, for live previews.
type JPEGSink struct {
	ctx     context.Context
	store   storage.Storage
	prefix  string
	every   int
	quality int

	lastLock sync.Mutex
	last     []byte
	nWritten int
}

// NewJPEGSink writes one in 'every' frames. If 'store' is nil, frames are only kept in memory.
func NewJPEGSink(ctx context.Context, store storage.Storage, prefix string, every, quality int) *JPEGSink {
	return &JPEGSink{
		ctx:     ctx,
		store:   store,
		prefix:  prefix,
		every:   max(every, 1),
		quality: quality,
	}
}

// FrameFileName is the name of frame 'index' inside the sink's prefix
func FrameFileName(index int) string {
	return fmt.Sprintf("%06d.jpg", index)
}

// FrameName returns the storage name of frame 'index'
func (s *JPEGSink) FrameName(index int) string {
	return path.Join(s.prefix, FrameFileName(index))
}

func (s *JPEGSink) WriteFrame(frame *session.Frame) error {
	if frame.Image == nil || frame.Index%s.every != 0 {
		return nil
	}
	jpg, err := cimg.Compress(frame.Image, cimg.MakeCompressParams(cimg.Sampling420, s.quality, 0))
	if err != nil {
		return fmt.Errorf("Failed to compress frame %v: %w", frame.Index, err)
	}
	if s.store != nil {
		if err := storage.WriteFile(s.ctx, s.store, s.FrameName(frame.Index), bytes.NewReader(jpg)); err != nil {
			return err
		}
	}
	s.lastLock.Lock()
	s.last = jpg
	s.nWritten++
	s.lastLock.Unlock()
	return nil
}

// Latest returns the most recently compressed frame, or nil
func (s *JPEGSink) Latest() []byte {
	s.lastLock.Lock()
	defer s.lastLock.Unlock()
	return s.last
}

// Count returns the number of frames that have been compressed
func (s *JPEGSink) Count() int {
	s.lastLock.Lock()
	defer s.lastLock.Unlock()
	return s.nWritten
}

// DirSource reads the JPEG files of a directory in name order.
// This is the layout that "ffmpeg -i in.mp4 frames/%06d.jpg" produces.
type DirSource struct {
	files []string
	next  int
}

func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := []string{}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return &DirSource{files: files}, nil
}

func (s *DirSource) Next() (*session.Frame, error) {
	if s.next >= len(s.files) {
		return nil, io.EOF
	}
	img, err := cimg.ReadFile(s.files[s.next])
	if err != nil {
		return nil, fmt.Errorf("Failed to read frame %v: %w", s.files[s.next], err)
	}
	f := &session.Frame{
		Index: s.next,
		Image: img,
	}
	s.next++
	return f, nil
}

// Len returns the number of frames in the directory
func (s *DirSource) Len() int {
	return len(s.files)
}
