package tally

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// ClassCount is the number of unique tracks of one class
type ClassCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// Counts is an ordered list of class counts.
// The order is the order in which each class was first seen. It is shown to the user, so it
// must not change from frame to frame. New classes are only ever appended.
type Counts []ClassCount

// Total returns the sum of all counts
func (c Counts) Total() int {
	total := 0
	for _, cc := range c {
		total += cc.Count
	}
	return total
}

// MarshalJSON writes the counts as a JSON object, preserving the first-seen order of the keys
func (c Counts) MarshalJSON() ([]byte, error) {
	buf := bytes.Buffer{}
	buf.WriteByte('{')
	for i, cc := range c {
		if i != 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(cc.Class)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(cc.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping the order of its keys
func (c *Counts) UnmarshalJSON(b []byte) error {
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("invalid JSON for class counts")
	}
	obj := gjson.ParseBytes(b)
	if obj.Type == gjson.Null {
		*c = nil
		return nil
	}
	if !obj.IsObject() {
		return fmt.Errorf("class counts must be a JSON object")
	}
	out := Counts{}
	obj.ForEach(func(key, value gjson.Result) bool {
		out = append(out, ClassCount{Class: key.String(), Count: int(value.Int())})
		return true
	})
	*c = out
	return nil
}

// Ledger tracks which track ids have been seen, and counts each one exactly once,
// against the class that it had when it was first seen.
type Ledger struct {
	seen   map[int64]struct{}
	counts map[string]int // index into order
	order  Counts
}

func NewLedger() *Ledger {
	return &Ledger{
		seen:   map[int64]struct{}{},
		counts: map[string]int{},
	}
}

// Observe records a sighting of 'trackID'.
// Only the first sighting of a track changes anything. Returns true if this was the first sighting.
func (l *Ledger) Observe(trackID int64, class string) bool {
	if _, ok := l.seen[trackID]; ok {
		return false
	}
	l.seen[trackID] = struct{}{}
	idx, ok := l.counts[class]
	if !ok {
		idx = len(l.order)
		l.counts[class] = idx
		l.order = append(l.order, ClassCount{Class: class})
	}
	l.order[idx].Count++
	return true
}

// SnapshotCounts returns a copy of the counts, in first-seen order
func (l *Ledger) SnapshotCounts() Counts {
	return append(Counts{}, l.order...)
}

// Count returns the number of unique tracks of 'class'
func (l *Ledger) Count(class string) int {
	if idx, ok := l.counts[class]; ok {
		return l.order[idx].Count
	}
	return 0
}

// TotalUnique returns the number of distinct track ids seen
func (l *Ledger) TotalUnique() int {
	return len(l.seen)
}

// HasSeen is true if 'trackID' has been observed
func (l *Ledger) HasSeen(trackID int64) bool {
	_, ok := l.seen[trackID]
	return ok
}
