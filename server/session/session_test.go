package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tally/pkg/nn"
	"github.com/cyclopcam/tally/pkg/palette"
	"github.com/cyclopcam/tally/server/annotate"
	"github.com/cyclopcam/tally/server/tally"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type testSource struct {
	frames []*Frame
	pos    int
	failAt int // Return 'err' when asked for this frame
	err    error
}

func (s *testSource) Next() (*Frame, error) {
	if s.err != nil && s.pos == s.failAt {
		return nil, s.err
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

type testSink struct {
	frames []*Frame
}

func (s *testSink) WriteFrame(f *Frame) error {
	s.frames = append(s.frames, f)
	return nil
}

// labelsOnly creates n frames without pixels
func labelsOnly(n int) *testSource {
	src := &testSource{}
	for i := 0; i < n; i++ {
		src.frames = append(src.frames, &Frame{Index: i})
	}
	return src
}

func box(x1, y1, x2, y2 int) nn.Rect {
	return nn.RectFromCorners(x1, y1, x2, y2)
}

// detectorFromMap returns the detections of each frame from 'perFrame'
func detectorFromMap(perFrame map[int][]nn.Detection) Detector {
	return DetectorFunc(func(frame *Frame) ([]nn.Detection, error) {
		return perFrame[frame.Index], nil
	})
}

func newTestSession(t *testing.T) *Session {
	return New(logs.NewTestingLog(t), DefaultConfig())
}

func TestEmptySession(t *testing.T) {
	s := newTestSession(t)
	require.Equal(t, StateIdle, s.State())
	sum, err := s.Run(context.Background(), labelsOnly(0), detectorFromMap(nil), nil)
	require.NoError(t, err)
	require.Equal(t, StateDone, s.State())
	require.Equal(t, StateDone, sum.State)
	require.Equal(t, 0, sum.Counts.TotalUniqueObjects)
	require.Empty(t, sum.Counts.UniqueObjectCounts)
	require.Empty(t, sum.WeightEstimates.PerTrack)
	require.Empty(t, sum.TracksSample)
	require.Equal(t, 1, sum.Conditions.Count(tally.ConditionEmptyPopulation))
	require.Equal(t, 1, sum.Conditions.Count(tally.ConditionSourceExhausted))

	b, err := json.Marshal(sum)
	require.NoError(t, err)
	require.Contains(t, string(b), `"unique_object_counts":{}`)
	require.Contains(t, string(b), `"per_track":{}`)
	require.Contains(t, string(b), `"unit":"relative_weight_index"`)
}

func TestFramesWithoutDetections(t *testing.T) {
	s := newTestSession(t)
	sum, err := s.Run(context.Background(), labelsOnly(10), detectorFromMap(nil), nil)
	require.NoError(t, err)
	require.Equal(t, 10, sum.Frames)
	require.Equal(t, 0, sum.Counts.TotalUniqueObjects)
}

func TestLiveAndFinalIndices(t *testing.T) {
	s := newTestSession(t)
	perFrame := map[int][]nn.Detection{
		0: {
			{Class: "bird", TrackID: 1, Box: box(0, 0, 10, 10)},
		},
		1: {
			{Class: "bird", TrackID: 1, Box: box(0, 0, 20, 10)},
			{Class: "bird", TrackID: 2, Box: box(50, 50, 80, 60)},
			{Class: "cat", TrackID: 3, Box: box(100, 100, 200, 200)},
		},
	}
	sink := &testSink{}
	sum, err := s.Run(context.Background(), labelsOnly(3), detectorFromMap(perFrame), sink)
	require.NoError(t, err)
	require.Len(t, sink.frames, 3)

	// Frame 0: the only bird is the population
	l0 := sink.frames[0].Labels
	require.Len(t, l0, 1)
	require.True(t, l0[0].HasWeight)
	require.Equal(t, 1.0, l0[0].WeightIndex)

	// Frame 1: track 1 now has mean 150, so 200/150. Then track 2 joins: avg (150+300)/2 = 225.
	l1 := sink.frames[1].Labels
	require.Len(t, l1, 3)
	require.Equal(t, 1.33, l1[0].WeightIndex)
	require.Equal(t, 1.33, l1[1].WeightIndex)
	require.False(t, l1[2].HasWeight)
	require.Equal(t, "cat ID:3", l1[2].Text())

	// Final: means 150 and 300, avg 225
	require.Equal(t, 2, len(sum.WeightEstimates.PerTrack))
	w1, _ := sum.WeightEstimates.PerTrack.Index(1)
	w2, _ := sum.WeightEstimates.PerTrack.Index(2)
	require.Equal(t, 0.67, w1)
	require.Equal(t, 1.33, w2)
	_, ok := sum.WeightEstimates.PerTrack.Index(3)
	require.False(t, ok)

	want := CountsSummary{
		UniqueObjectCounts: tally.Counts{{Class: "bird", Count: 2}, {Class: "cat", Count: 1}},
		TotalUniqueObjects: 3,
	}
	if diff := cmp.Diff(want, sum.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%v", diff)
	}
	require.Equal(t, 3, sum.Frames)
	require.Equal(t, 4, sum.Detections)
}

func TestTracksSampleCapped(t *testing.T) {
	s := newTestSession(t)
	dets := []nn.Detection{}
	for i := 0; i < 8; i++ {
		dets = append(dets, nn.Detection{Class: "bird", TrackID: int64(100 + i), Box: box(0, 0, 10+i, 10)})
	}
	sum, err := s.Run(context.Background(), labelsOnly(1), detectorFromMap(map[int][]nn.Detection{0: dets}), nil)
	require.NoError(t, err)
	require.Len(t, sum.WeightEstimates.PerTrack, 8)
	require.Len(t, sum.TracksSample, TracksSampleSize)
	for i := 0; i < TracksSampleSize; i++ {
		require.Equal(t, int64(100+i), sum.TracksSample[i].TrackID)
	}
}

// Track 7 is a bird in frame 1, and a cat in frame 5
func TestClassConflictInSession(t *testing.T) {
	s := newTestSession(t)
	perFrame := map[int][]nn.Detection{
		1: {{Class: "bird", TrackID: 7, Box: box(0, 0, 10, 10)}},
		5: {{Class: "cat", TrackID: 7, Box: box(0, 0, 10, 10)}},
	}
	sink := &testSink{}
	sum, err := s.Run(context.Background(), labelsOnly(6), detectorFromMap(perFrame), sink)
	require.NoError(t, err)
	require.Equal(t, tally.Counts{{Class: "bird", Count: 1}}, sum.Counts.UniqueObjectCounts)
	require.Equal(t, 1, sum.Counts.TotalUniqueObjects)
	require.Equal(t, 1, sum.Conditions.Count(tally.ConditionTrackClassConflict))
	// The conflicting sighting is drawn with the class that the track is bound to
	require.Equal(t, "bird", sink.frames[5].Labels[0].Detection.Class)
	require.True(t, sink.frames[5].Labels[0].HasWeight)
}

func TestInvalidDetections(t *testing.T) {
	s := newTestSession(t)
	perFrame := map[int][]nn.Detection{
		0: {
			{Class: "bird", TrackID: 1, Box: box(10, 10, 10, 20)}, // zero width
			{Class: "", TrackID: 2, Box: box(0, 0, 5, 5)},
			{Class: "bird", TrackID: 3, Box: box(0, 0, 10, 10)},
		},
	}
	sink := &testSink{}
	sum, err := s.Run(context.Background(), labelsOnly(1), detectorFromMap(perFrame), sink)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Conditions.Count(tally.ConditionInvalidDetection))
	labels := sink.frames[0].Labels
	require.Equal(t, 0.0, labels[0].WeightIndex)
	require.Equal(t, UnknownClass, labels[1].Detection.Class)
	require.Equal(t, 1, sum.Counts.UniqueObjectCounts[1].Count)
	require.Equal(t, UnknownClass, sum.Counts.UniqueObjectCounts[1].Class)

	// Population is tracks 1 (area 0) and 3 (area 100), so the average is 50
	w1, _ := sum.WeightEstimates.PerTrack.Index(1)
	w3, _ := sum.WeightEstimates.PerTrack.Index(3)
	require.Equal(t, 0.0, w1)
	require.Equal(t, 2.0, w3)
}

func TestSourceFailureKeepsPartialState(t *testing.T) {
	s := newTestSession(t)
	src := labelsOnly(10)
	src.failAt = 3
	src.err = errors.New("disk on fire")
	perFrame := map[int][]nn.Detection{
		0: {{Class: "bird", TrackID: 1, Box: box(0, 0, 10, 10)}},
		2: {{Class: "dog", TrackID: 2, Box: box(0, 0, 10, 10)}},
		5: {{Class: "dog", TrackID: 3, Box: box(0, 0, 10, 10)}},
	}
	sum, err := s.Run(context.Background(), src, detectorFromMap(perFrame), nil)
	require.Error(t, err)
	require.ErrorIs(t, err, src.err)
	require.Equal(t, StateFailed, s.State())
	require.NotNil(t, sum)
	require.Equal(t, StateFailed, sum.State)
	require.Contains(t, sum.Error, "disk on fire")
	require.Equal(t, 3, sum.Frames)
	require.Equal(t, 2, sum.Counts.TotalUniqueObjects)
	require.Same(t, sum, s.Summary())
	require.Len(t, s.RecentFrames(), 3)
	require.Equal(t, 2, s.LastFrame().Index)
	require.ErrorIs(t, s.Err(), src.err)

	// A failed session stays failed
	_, err = s.ProcessFrame(&Frame{Index: 3}, nil)
	require.ErrorIs(t, err, ErrSessionClosed)
	require.Same(t, sum, s.Finalize())
	require.Equal(t, StateFailed, s.State())
}

func TestMissingTrackIDIsSkipped(t *testing.T) {
	s := newTestSession(t)
	perFrame := map[int][]nn.Detection{
		0: {{Class: "bird", TrackID: 1, Box: box(0, 0, 10, 10)}},
		1: {
			{Class: "bird", TrackID: 2, Box: box(0, 0, 30, 10)},
			{Class: "bird", Untracked: true, Box: box(0, 0, 10, 10)},
		},
		2: {{Class: "cat", Untracked: true, Box: box(5, 5, 10, 10)}},
	}
	sink := &testSink{}
	sum, err := s.Run(context.Background(), labelsOnly(3), detectorFromMap(perFrame), sink)
	require.NoError(t, err)
	require.Equal(t, StateDone, s.State())
	require.Equal(t, 2, sum.Conditions.Count(tally.ConditionInvalidDetection))

	// Neither untracked object was counted, weighed, or drawn
	require.Equal(t, 2, sum.Counts.TotalUniqueObjects)
	require.Equal(t, tally.Counts{{Class: "bird", Count: 2}}, sum.Counts.UniqueObjectCounts)
	require.Len(t, sum.WeightEstimates.PerTrack, 2)
	require.Len(t, sink.frames[1].Labels, 1)
	require.Len(t, sink.frames[2].Labels, 0)
	w1, _ := sum.WeightEstimates.PerTrack.Index(1)
	w2, _ := sum.WeightEstimates.PerTrack.Index(2)
	require.Equal(t, 0.5, w1)
	require.Equal(t, 1.5, w2)
}

func TestNegativeTrackIDs(t *testing.T) {
	s := newTestSession(t)
	perFrame := map[int][]nn.Detection{
		0: {
			{Class: "bird", TrackID: -4, Box: box(0, 0, 10, 10)},
			{Class: "bird", TrackID: 0, Box: box(0, 0, 10, 30)},
		},
		1: {{Class: "bird", TrackID: -4, Box: box(0, 0, 10, 10)}},
	}
	sum, err := s.Run(context.Background(), labelsOnly(2), detectorFromMap(perFrame), nil)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Counts.TotalUniqueObjects)
	require.Equal(t, 0, sum.Conditions.Count(tally.ConditionInvalidDetection))
	w, ok := sum.WeightEstimates.PerTrack.Index(-4)
	require.True(t, ok)
	require.Equal(t, 0.5, w)
}

func TestRecentFramesMinimum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentFrames = 1
	s := New(logs.NewTestingLog(t), cfg)
	_, err := s.Run(context.Background(), labelsOnly(3), detectorFromMap(nil), nil)
	require.NoError(t, err)
	require.Len(t, s.RecentFrames(), 1)
	require.Equal(t, 2, s.LastFrame().Index)

	cfg.RecentFrames = 4
	s = New(logs.NewTestingLog(t), cfg)
	_, err = s.Run(context.Background(), labelsOnly(10), detectorFromMap(nil), nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(s.RecentFrames()), 4)
	require.Equal(t, 9, s.LastFrame().Index)
}

func TestCancel(t *testing.T) {
	s := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := s.Run(ctx, labelsOnly(5), detectorFromMap(nil), nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateFailed, sum.State)
	require.Equal(t, 0, sum.Frames)
}

func TestStateMachine(t *testing.T) {
	s := newTestSession(t)
	require.Equal(t, StateIdle, s.State())
	_, err := s.ProcessFrame(&Frame{Index: 0}, []nn.Detection{{Class: "bird", TrackID: 1, Box: box(0, 0, 4, 4)}})
	require.NoError(t, err)
	require.Equal(t, StateRunning, s.State())

	p := s.Progress()
	require.Equal(t, StateRunning, p.State)
	require.Equal(t, 1, p.TotalUnique)
	require.Equal(t, 1, p.Frames)

	// A summary taken mid-session reflects the current state
	partial := s.Summary()
	require.Equal(t, StateRunning, partial.State)
	w, _ := partial.WeightEstimates.PerTrack.Index(1)
	require.Equal(t, 1.0, w)

	final := s.Finalize()
	require.Equal(t, StateDone, s.State())
	require.Same(t, final, s.Finalize())
	require.Same(t, final, s.Summary())
	_, err = s.ProcessFrame(&Frame{Index: 1}, nil)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestIndependentSessions(t *testing.T) {
	a := newTestSession(t)
	b := newTestSession(t)
	require.NotEqual(t, a.ID, b.ID)
	a.ProcessFrame(&Frame{Index: 0}, []nn.Detection{{Class: "bird", TrackID: 1, Box: box(0, 0, 4, 4)}})
	require.Equal(t, 1, a.Progress().TotalUnique)
	require.Equal(t, 0, b.Progress().TotalUnique)
}

func TestAnnotatedFrames(t *testing.T) {
	ann, err := annotate.New(palette.Default())
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Annotator = ann
	s := New(logs.NewTestingLog(t), cfg)

	src := &testSource{}
	for i := 0; i < 3; i++ {
		src.frames = append(src.frames, &Frame{Index: i, Image: cimg.NewImage(160, 120, cimg.PixelFormatRGB)})
	}
	perFrame := map[int][]nn.Detection{
		1: {{Class: "bird", TrackID: 1, Box: box(40, 40, 100, 90)}},
	}
	sink := &testSink{}
	_, err = s.Run(context.Background(), src, detectorFromMap(perFrame), sink)
	require.NoError(t, err)
	require.Len(t, sink.frames, 3)
	for i, f := range sink.frames {
		require.Equal(t, i, f.Index)
		// Input frames are black and must stay that way
		require.Equal(t, make([]byte, len(src.frames[i].Image.Pixels)), src.frames[i].Image.Pixels)
	}
	// Frame 0 has no detections and no counts, so nothing is drawn
	require.True(t, bytes.Equal(sink.frames[0].Image.Pixels, src.frames[0].Image.Pixels))
	// Frame 1 has a box and a count panel
	require.False(t, bytes.Equal(sink.frames[1].Image.Pixels, src.frames[1].Image.Pixels))
	// Frame 2 still has the count panel
	require.False(t, bytes.Equal(sink.frames[2].Image.Pixels, src.frames[2].Image.Pixels))
}

func TestTrackIndicesJSON(t *testing.T) {
	ti := TrackIndices{{TrackID: 9, WeightIndex: 1.25}, {TrackID: 2, WeightIndex: 0.5}}
	b, err := json.Marshal(ti)
	require.NoError(t, err)
	require.Equal(t, `{"9":1.25,"2":0.5}`, string(b))
	var back TrackIndices
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, ti, back)
	require.Error(t, json.Unmarshal([]byte(`{"x":1}`), &back))
}
