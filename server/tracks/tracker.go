package tracks

import (
	"math"

	"github.com/bmharper/flatbush-go"
	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tally/pkg/idgen"
	"github.com/cyclopcam/tally/pkg/nn"
	"github.com/cyclopcam/tally/server/session"
)

type TrackerConfig struct {
	MaxMissedFrames     int  // Forget an object after it has been missing for this many frames
	PositionHistorySize int  // Minimum number of recent positions kept per object. Rounded up to a power of 2, less one.
	DefaultFrameWidth   int  // Used to size the search window when frames have no image
	Verbose             bool // Log every new object
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxMissedFrames:     30,
		PositionHistorySize: 16,
		DefaultFrameWidth:   640,
	}
}

// Internal state of an object that we're tracking
type trackedObject struct {
	id             int64
	class          string
	lastPosition   nn.Rect // equivalent to the newest element of history, but kept here for convenience/lookup speed
	lastFrame      int     // Frame index of the most recent sighting
	history        ringbuffer.RingP[nn.Rect]
	totalSightings int
}

// Tracker assigns track ids to detections that don't have one, by matching each detection
// to the closest object of the same class from previous frames.
// Detections that already carry a track id are left alone, and their ids are never reused.
type Tracker struct {
	log     logs.Log
	cfg     TrackerConfig
	tracked []*trackedObject
	nextID  idgen.Int64
}

func NewTracker(log logs.Log, cfg TrackerConfig) *Tracker {
	if cfg.PositionHistorySize < 1 {
		cfg.PositionHistorySize = 1
	}
	if cfg.DefaultFrameWidth <= 0 {
		cfg.DefaultFrameWidth = 640
	}
	return &Tracker{
		log: log,
		cfg: cfg,
	}
}

// Reserve prevents the tracker from handing out 'ids'.
// Call this with the ids that are already present in the label file.
func (t *Tracker) Reserve(ids ...int64) {
	for _, id := range ids {
		t.nextID.Skip(id)
	}
}

// NumTracked returns the number of objects that are currently being tracked
func (t *Tracker) NumTracked() int {
	return len(t.tracked)
}

// RecentPositions returns the most recent positions of a tracked object, oldest first.
// Returns nil if the object is not being tracked.
func (t *Tracker) RecentPositions(id int64) []nn.Rect {
	for _, tr := range t.tracked {
		if tr.id == id {
			pos := make([]nn.Rect, tr.history.Len())
			for i := range pos {
				pos[i] = tr.history.Peek(i)
			}
			return pos
		}
	}
	return nil
}

func nextPowerOf2(n int) int {
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}

// Assign gives a track id to every object in 'objects' that lacks one.
// 'frameIndex' must increase from one call to the next.
func (t *Tracker) Assign(frameIndex int, objects []nn.Detection, frameWidth int) {
	if frameWidth <= 0 {
		frameWidth = t.cfg.DefaultFrameWidth
	}

	// Objects with an id from upstream are not ours to match
	todo := []int{}
	for i := range objects {
		if objects[i].HasTrackID() {
			t.nextID.Skip(objects[i].TrackID)
		} else {
			todo = append(todo, i)
		}
	}

	// Create spatial index on the currently tracked objects
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(t.tracked))
	for _, tr := range t.tracked {
		p := &tr.lastPosition
		fb.Add(int32(p.X), int32(p.Y), int32(p.X2()), int32(p.Y2()))
	}
	fb.Finish()

	minSearchBuffer := int(0.05 * float64(frameWidth))

	// Map from objects[i] to tracked[j]
	newToTracked := make([]int, len(objects))
	for i := range newToTracked {
		newToTracked[i] = -1
	}

	// trackedHasMatch[j] is true if t.tracked[j] has been matched to a new object
	trackedHasMatch := make([]bool, len(t.tracked))

	// Find the closest unmatched object of the same class among 'existingList'.
	// Prefer IoU, and fall back to the distance between centers when nothing overlaps,
	// because at low frame rates an object can move further than its own size between frames.
	findClosestObjectFromList := func(newIndex int, existingList []int) {
		newObj := &objects[newIndex]
		bestJ := -1
		bestIOU := float32(0)
		bestDistance := float32(9e20)
		for _, j := range existingList {
			if trackedHasMatch[j] {
				continue
			}
			old := t.tracked[j]
			if old.class != newObj.Class {
				continue
			}
			iou := newObj.Box.IOU(old.lastPosition)
			distance := newObj.Box.Center().Distance(old.lastPosition.Center())
			if iou > bestIOU {
				bestIOU = iou
				bestJ = j
			} else if bestIOU == 0 && distance < bestDistance {
				bestDistance = distance
				bestJ = j
			}
		}
		if bestJ != -1 {
			trackedHasMatch[bestJ] = true
			newToTracked[newIndex] = bestJ
		}
	}

	// Phase 1: match against objects that are reasonably close
	nearbyIdx := []int{}
	for _, i := range todo {
		box := objects[i].Box
		bufX := int32(max(minSearchBuffer, int(0.8*float64(box.Width))))
		bufY := int32(max(minSearchBuffer, int(0.8*float64(box.Height))))
		nearbyIdx = fb.SearchFast(int32(box.X)-bufX, int32(box.Y)-bufY, int32(box.X2())+bufX, int32(box.Y2())+bufY, nearbyIdx)
		findClosestObjectFromList(i, nearbyIdx)
	}

	// Phase 2: match leftovers against any unmatched object, no matter how far.
	// This is O(n*m), but by this stage n and m are small.
	unmatched := []int{}
	for j := range t.tracked {
		if !trackedHasMatch[j] {
			unmatched = append(unmatched, j)
		}
	}
	for _, i := range todo {
		if newToTracked[i] == -1 {
			findClosestObjectFromList(i, unmatched)
		}
	}

	// Update existing objects, and create new objects
	historySize := nextPowerOf2(t.cfg.PositionHistorySize + 1)
	for _, i := range todo {
		newObj := &objects[i]
		j := newToTracked[i]
		if j == -1 {
			j = len(t.tracked)
			t.tracked = append(t.tracked, &trackedObject{
				id:      t.nextID.Next(),
				class:   newObj.Class,
				history: ringbuffer.NewRingP[nn.Rect](historySize),
			})
			if t.cfg.Verbose {
				t.log.Infof("Tracker: New '%v' %v at %v,%v (frame %v)", newObj.Class, t.tracked[j].id, newObj.Box.Center().X, newObj.Box.Center().Y, frameIndex)
			}
		}
		tr := t.tracked[j]
		tr.totalSightings++
		tr.lastPosition = newObj.Box
		tr.lastFrame = frameIndex
		tr.history.Add(newObj.Box)
		newObj.TrackID = tr.id
		newObj.Untracked = false
	}

	// Forget objects that have been gone for too long
	kept := t.tracked[:0]
	for _, tr := range t.tracked {
		if frameIndex-tr.lastFrame <= t.cfg.MaxMissedFrames {
			kept = append(kept, tr)
		} else if t.cfg.Verbose {
			t.log.Infof("Tracker: Lost '%v' %v after %v sightings", tr.class, tr.id, tr.totalSightings)
		}
	}
	for i := len(kept); i < len(t.tracked); i++ {
		t.tracked[i] = nil
	}
	t.tracked = kept
}

// TrackingDetector wraps a Detector whose detections may lack track ids, and assigns them
type TrackingDetector struct {
	Inner   session.Detector
	Tracker *Tracker
}

func (d *TrackingDetector) Detect(frame *session.Frame) ([]nn.Detection, error) {
	dets, err := d.Inner.Detect(frame)
	if err != nil {
		return nil, err
	}
	width := 0
	if frame.Image != nil {
		width = frame.Image.Width
	}
	d.Tracker.Assign(frame.Index, dets, width)
	return dets, nil
}

// NewDetector returns 'labels' as a Detector. If the labels contain untracked objects and
// 'autoTrack' is true, a Tracker is attached to give them ids. Without a tracker, the session
// skips untracked objects and reports them as invalid.
func NewDetector(log logs.Log, labels *LabelSet, autoTrack bool, cfg TrackerConfig) session.Detector {
	if !labels.HasUntracked() || !autoTrack {
		return labels
	}
	tracker := NewTracker(log, cfg)
	for _, dets := range labels.frames {
		for _, d := range dets {
			if d.HasTrackID() {
				tracker.Reserve(d.TrackID)
			}
		}
	}
	return &TrackingDetector{
		Inner:   labels,
		Tracker: tracker,
	}
}
