package tally

import (
	"fmt"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tally/pkg/perfstats"
)

// TrackRecord is the area history of one track.
// The class is bound on the first sighting, and never changes.
type TrackRecord struct {
	TrackID int64
	Class   string
	Areas   []float64 // Every area that was recorded, in order. Never empty.
	stats   perfstats.Accumulator
}

// MeanArea is the arithmetic mean of Areas
func (t *TrackRecord) MeanArea() float64 {
	return t.stats.Average()
}

// AreaHistory stores the bounding box areas of every track seen in a session
type AreaHistory struct {
	log    logs.Log
	tracks map[int64]*TrackRecord
	order  []int64 // track ids in order of first sighting
}

func NewAreaHistory(log logs.Log) *AreaHistory {
	return &AreaHistory{
		log:    log,
		tracks: map[int64]*TrackRecord{},
	}
}

// Record appends 'area' to the history of 'trackID', creating the track if necessary.
// If the track already exists with a different class, the original class is kept, and
// a TrackClassConflict condition is returned. The area is recorded either way.
func (h *AreaHistory) Record(trackID int64, class string, area float64) *Condition {
	area = max(area, 0)
	t := h.tracks[trackID]
	if t == nil {
		t = &TrackRecord{
			TrackID: trackID,
			Class:   class,
		}
		h.tracks[trackID] = t
		h.order = append(h.order, trackID)
	}
	t.Areas = append(t.Areas, area)
	t.stats.AddSample(area)

	if t.Class != class {
		h.log.Warnf("Track %v was first seen as '%v', but is now '%v'. Keeping '%v'", trackID, t.Class, class, t.Class)
		return &Condition{
			Kind:    ConditionTrackClassConflict,
			TrackID: trackID,
			Class:   class,
			Detail:  fmt.Sprintf("track is bound to class '%v'", t.Class),
		}
	}
	return nil
}

// MeanArea returns the mean of all areas recorded for 'trackID'
func (h *AreaHistory) MeanArea(trackID int64) (float64, error) {
	t := h.tracks[trackID]
	if t == nil {
		return 0, fmt.Errorf("%w: %v", ErrNotFound, trackID)
	}
	return t.MeanArea(), nil
}

// TracksOfClass returns the ids of all tracks bound to 'class', in order of first sighting
func (h *AreaHistory) TracksOfClass(class string) []int64 {
	ids := []int64{}
	for _, id := range h.order {
		if h.tracks[id].Class == class {
			ids = append(ids, id)
		}
	}
	return ids
}

// Class returns the class that 'trackID' is bound to
func (h *AreaHistory) Class(trackID int64) (string, bool) {
	t := h.tracks[trackID]
	if t == nil {
		return "", false
	}
	return t.Class, true
}

// Track returns the record of 'trackID', or nil
func (h *AreaHistory) Track(trackID int64) *TrackRecord {
	return h.tracks[trackID]
}

// Tracks returns all track ids, in order of first sighting
func (h *AreaHistory) Tracks() []int64 {
	return append([]int64{}, h.order...)
}

func (h *AreaHistory) Len() int {
	return len(h.order)
}
