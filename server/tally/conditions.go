package tally

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a track has no recorded areas
var ErrNotFound = errors.New("track not found")

// ConditionKind classifies the non-fatal things that can go wrong while tallying.
// None of these abort a session.
type ConditionKind string

const (
	// A box with non-positive width or height, or a detection with missing fields. The area is recorded as 0.
	ConditionInvalidDetection ConditionKind = "InvalidDetection"
	// A track id reappeared with a different class. The first class is kept.
	ConditionTrackClassConflict ConditionKind = "TrackClassConflict"
	// No weight-bearing track has a non-zero mean area, so the population average is taken as 1.0
	ConditionEmptyPopulation ConditionKind = "EmptyPopulation"
	// The frame source ended. This is the normal end of a session.
	ConditionSourceExhausted ConditionKind = "SourceExhausted"
)

// Condition is a single occurrence of a ConditionKind
type Condition struct {
	Kind    ConditionKind `json:"kind"`
	Frame   int           `json:"frame"`
	TrackID int64         `json:"trackID"`
	Class   string        `json:"class,omitempty"`
	Detail  string        `json:"detail"`
}

func (c *Condition) String() string {
	return fmt.Sprintf("%v (frame %v, track %v): %v", c.Kind, c.Frame, c.TrackID, c.Detail)
}

// ConditionLog counts conditions by kind, and keeps the most recent ones for inspection.
// Long videos can produce a condition on every frame, so we don't keep all of them.
type ConditionLog struct {
	Totals map[ConditionKind]int `json:"totals"`
	Recent []Condition           `json:"recent"`
	max    int
}

// NewConditionLog creates a log that retains at most 'maxRecent' conditions
func NewConditionLog(maxRecent int) *ConditionLog {
	return &ConditionLog{
		Totals: map[ConditionKind]int{},
		Recent: []Condition{},
		max:    max(maxRecent, 1),
	}
}

func (l *ConditionLog) Add(c Condition) {
	l.Totals[c.Kind]++
	if len(l.Recent) == l.max {
		copy(l.Recent, l.Recent[1:])
		l.Recent = l.Recent[:len(l.Recent)-1]
	}
	l.Recent = append(l.Recent, c)
}

// Count returns the number of conditions of the given kind that have been added
func (l *ConditionLog) Count(kind ConditionKind) int {
	return l.Totals[kind]
}

// Clone returns a deep copy, which is safe to hand to another goroutine
func (l *ConditionLog) Clone() *ConditionLog {
	c := &ConditionLog{
		Totals: make(map[ConditionKind]int, len(l.Totals)),
		Recent: append([]Condition{}, l.Recent...),
		max:    l.max,
	}
	for k, v := range l.Totals {
		c.Totals[k] = v
	}
	return c
}
