// Package tracks supplies detections to a session: from label files written by a detector
// that ran elsewhere, optionally with our own tracker assigning ids to untracked objects.
package tracks

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/fnv"
	"io"
	"math"

	"github.com/cyclopcam/tally/pkg/nn"
	"github.com/cyclopcam/tally/server/session"
	"github.com/tidwall/gjson"
)

// LabelSet is every detection of a video, indexed by frame
type LabelSet struct {
	Classes      []string // Class names, for label files that use integer class ids
	frames       map[int][]nn.Detection
	maxFrame     int
	nDetections  int
	hasUntracked bool
}

func newLabelSet(classes []string) *LabelSet {
	return &LabelSet{
		Classes:  classes,
		frames:   map[int][]nn.Detection{},
		maxFrame: -1,
	}
}

func (l *LabelSet) add(frame int, d nn.Detection) {
	l.frames[frame] = append(l.frames[frame], d)
	l.maxFrame = max(l.maxFrame, frame)
	l.nDetections++
	if !d.HasTrackID() {
		l.hasUntracked = true
	}
}

// Detect returns a copy of the detections of the frame
func (l *LabelSet) Detect(frame *session.Frame) ([]nn.Detection, error) {
	return append([]nn.Detection(nil), l.frames[frame.Index]...), nil
}

// NumFrames is one more than the highest frame index that has a label
func (l *LabelSet) NumFrames() int {
	return l.maxFrame + 1
}

func (l *LabelSet) NumDetections() int {
	return l.nDetections
}

// HasUntracked is true if any detection lacks a track id
func (l *LabelSet) HasUntracked() bool {
	return l.hasUntracked
}

// ReadLabels parses a label file. Two layouts are understood:
//
// A single VideoLabels document, as written by the labelvideo tool:
//
//	{"classes": ["person", ...], "frames": [{"frame": 0, "objects": [{"class": 14, "box": {...}}]}]}
//
// Or JSON lines, one frame per line:
//
//	{"frame": 0, "objects": [{"class": "bird", "track_id": 3, "bbox": [x1, y1, x2, y2]}]}
//
// Objects may name their class, or give a class id. Track ids may be integers or strings,
// under "track_id", "trackID" or "id". Boxes are either {x,y,width,height} under "box",
// or corners under "bbox" or "xyxy".
func ReadLabels(r io.Reader) (*LabelSet, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if gjson.ValidBytes(raw) {
		doc := gjson.ParseBytes(raw)
		if doc.IsObject() && doc.Get("frames").IsArray() {
			return readVideoLabels(doc)
		}
	}
	return readJSONLines(raw)
}

func readVideoLabels(doc gjson.Result) (*LabelSet, error) {
	classes := []string{}
	for _, c := range doc.Get("classes").Array() {
		classes = append(classes, c.String())
	}
	if len(classes) == 0 {
		classes = nn.COCOClasses
	}
	set := newLabelSet(classes)
	frames := doc.Get("frames").Array()
	// The frame number is omitted when it is zero. If no frame has a number, then the
	// document is dense, and the position in the array is the frame number.
	numbered := false
	for _, frame := range frames {
		if frame.Get("frame").Exists() {
			numbered = true
			break
		}
	}
	for i, frame := range frames {
		idx := i
		if numbered {
			idx = int(frame.Get("frame").Int())
		}
		if err := readFrame(set, idx, frame); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func readJSONLines(raw []byte) (*LabelSet, error) {
	set := newLabelSet(nn.COCOClasses)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	frameIdx := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return nil, fmt.Errorf("Invalid JSON on line %v of label file", lineNo)
		}
		frame := gjson.ParseBytes(line)
		if f := frame.Get("frame"); f.Exists() {
			frameIdx = int(f.Int())
		}
		if err := readFrame(set, frameIdx, frame); err != nil {
			return nil, fmt.Errorf("Line %v: %w", lineNo, err)
		}
		frameIdx++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

func readFrame(set *LabelSet, frameIdx int, frame gjson.Result) error {
	if frameIdx < 0 {
		return fmt.Errorf("Negative frame index %v", frameIdx)
	}
	objects := frame.Get("objects")
	if !objects.Exists() {
		objects = frame.Get("detections")
	}
	if objects.Exists() && !objects.IsArray() {
		return fmt.Errorf("Frame %v: objects must be an array", frameIdx)
	}
	for _, obj := range objects.Array() {
		set.add(frameIdx, parseObject(obj, set.Classes))
	}
	return nil
}

// parseObject never fails. Missing fields leave a detection that the session reports as invalid.
func parseObject(obj gjson.Result, classes []string) nn.Detection {
	d := nn.Detection{
		Untracked: true,
	}

	class := firstOf(obj, "class", "label", "name")
	switch class.Type {
	case gjson.Number:
		d.Class = nn.ClassName(classes, int(class.Int()))
	case gjson.String:
		d.Class = class.String()
	}

	id := firstOf(obj, "track_id", "trackID", "id")
	switch id.Type {
	case gjson.Number:
		d.TrackID = id.Int()
		d.Untracked = false
	case gjson.String:
		d.TrackID = HashTrackID(id.String())
		d.Untracked = false
	}

	d.Confidence = float32(firstOf(obj, "confidence", "conf").Float())

	if box := obj.Get("box"); box.IsObject() {
		d.Box = nn.Rect{
			X:      roundInt(box.Get("x").Float()),
			Y:      roundInt(box.Get("y").Float()),
			Width:  roundInt(box.Get("width").Float()),
			Height: roundInt(box.Get("height").Float()),
		}
	} else if corners := firstOf(obj, "bbox", "xyxy", "box"); corners.IsArray() {
		c := corners.Array()
		if len(c) == 4 {
			d.Box = nn.RectFromCorners(roundInt(c[0].Float()), roundInt(c[1].Float()), roundInt(c[2].Float()), roundInt(c[3].Float()))
		}
	}
	return d
}

func firstOf(obj gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := obj.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func roundInt(v float64) int {
	return int(math.Round(v))
}

// HashTrackID maps a string track id onto a non-negative integer
func HashTrackID(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64() & math.MaxInt64)
}
