package tracks

import (
	"context"
	"strings"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tally/pkg/nn"
	"github.com/cyclopcam/tally/server/framesrc"
	"github.com/cyclopcam/tally/server/session"
	"github.com/cyclopcam/tally/server/tally"
	"github.com/stretchr/testify/require"
)

func untracked(class string, x, y, w, h int) nn.Detection {
	return nn.Detection{Class: class, Untracked: true, Box: nn.Rect{X: x, Y: y, Width: w, Height: h}}
}

func TestTrackerFollowsMovingObject(t *testing.T) {
	tr := NewTracker(logs.NewTestingLog(t), DefaultTrackerConfig())
	var ids []int64
	for frame := 0; frame < 10; frame++ {
		dets := []nn.Detection{untracked("bird", 100+frame*5, 100, 40, 40)}
		tr.Assign(frame, dets, 640)
		require.True(t, dets[0].HasTrackID())
		ids = append(ids, dets[0].TrackID)
	}
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	require.Equal(t, 1, tr.NumTracked())
	pos := tr.RecentPositions(ids[0])
	require.Len(t, pos, 10)
	require.Equal(t, 100, pos[0].X)
	require.Equal(t, 145, pos[9].X)
}

func TestTrackerSeparatesObjects(t *testing.T) {
	tr := NewTracker(logs.NewTestingLog(t), DefaultTrackerConfig())
	f0 := []nn.Detection{
		untracked("bird", 10, 10, 20, 20),
		untracked("bird", 300, 300, 20, 20),
		untracked("cat", 12, 12, 20, 20),
	}
	tr.Assign(0, f0, 640)
	require.NotEqual(t, f0[0].TrackID, f0[1].TrackID)
	require.NotEqual(t, f0[0].TrackID, f0[2].TrackID)

	// Swapped order, small moves
	f1 := []nn.Detection{
		untracked("cat", 14, 12, 20, 20),
		untracked("bird", 302, 301, 20, 20),
		untracked("bird", 11, 10, 20, 20),
	}
	tr.Assign(1, f1, 640)
	require.Equal(t, f0[2].TrackID, f1[0].TrackID)
	require.Equal(t, f0[1].TrackID, f1[1].TrackID)
	require.Equal(t, f0[0].TrackID, f1[2].TrackID)
}

func TestTrackerFarJump(t *testing.T) {
	// Phase 2 matches an object that moved outside the search window
	tr := NewTracker(logs.NewTestingLog(t), DefaultTrackerConfig())
	a := []nn.Detection{untracked("bird", 0, 0, 10, 10)}
	tr.Assign(0, a, 640)
	b := []nn.Detection{untracked("bird", 500, 400, 10, 10)}
	tr.Assign(1, b, 640)
	require.Equal(t, a[0].TrackID, b[0].TrackID)
}

func TestTrackerExpiry(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.MaxMissedFrames = 2
	tr := NewTracker(logs.NewTestingLog(t), cfg)
	a := []nn.Detection{untracked("bird", 0, 0, 10, 10)}
	tr.Assign(0, a, 0)
	tr.Assign(1, nil, 0)
	tr.Assign(2, nil, 0)
	require.Equal(t, 1, tr.NumTracked())
	tr.Assign(3, nil, 0)
	require.Equal(t, 0, tr.NumTracked())
	require.Nil(t, tr.RecentPositions(a[0].TrackID))

	b := []nn.Detection{untracked("bird", 0, 0, 10, 10)}
	tr.Assign(4, b, 0)
	require.NotEqual(t, a[0].TrackID, b[0].TrackID)
}

func TestTrackerSmallHistory(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.PositionHistorySize = 1
	tr := NewTracker(logs.NewTestingLog(t), cfg)
	var id int64
	for frame := 0; frame < 3; frame++ {
		dets := []nn.Detection{untracked("bird", 100+frame, 100, 40, 40)}
		tr.Assign(frame, dets, 640)
		id = dets[0].TrackID
	}
	pos := tr.RecentPositions(id)
	require.Len(t, pos, 1)
	require.Equal(t, 102, pos[0].X)
}

func TestTrackerKeepsUpstreamIDs(t *testing.T) {
	tr := NewTracker(logs.NewTestingLog(t), DefaultTrackerConfig())
	tr.Reserve(5)
	dets := []nn.Detection{
		{Class: "bird", TrackID: 10, Box: nn.Rect{X: 0, Y: 0, Width: 10, Height: 10}},
		untracked("bird", 200, 200, 10, 10),
	}
	tr.Assign(0, dets, 640)
	require.Equal(t, int64(10), dets[0].TrackID)
	require.Greater(t, dets[1].TrackID, int64(10))
	require.Equal(t, 1, tr.NumTracked())
}

func TestAutoTrackedSession(t *testing.T) {
	lines := `{"frame": 0, "objects": [{"class": "bird", "bbox": [0, 0, 10, 10]}, {"class": "bird", "bbox": [100, 100, 120, 120]}]}
{"frame": 1, "objects": [{"class": "bird", "bbox": [1, 0, 11, 10]}, {"class": "bird", "bbox": [101, 100, 121, 120]}]}
{"frame": 2, "objects": [{"class": "bird", "bbox": [2, 0, 12, 10]}]}
`
	set, err := ReadLabels(strings.NewReader(lines))
	require.NoError(t, err)
	require.True(t, set.HasUntracked())
	log := logs.NewTestingLog(t)

	// Without a tracker, untracked objects are reported and skipped
	s := session.New(log, session.DefaultConfig())
	sum, err := s.Run(context.Background(), framesrc.NewBlankSource(set.NumFrames(), 0, 0), NewDetector(log, set, false, DefaultTrackerConfig()), nil)
	require.NoError(t, err)
	require.Equal(t, 0, sum.Counts.TotalUniqueObjects)
	require.Equal(t, 5, sum.Conditions.Count(tally.ConditionInvalidDetection))

	s = session.New(log, session.DefaultConfig())
	sum, err = s.Run(context.Background(), framesrc.NewBlankSource(set.NumFrames(), 0, 0), NewDetector(log, set, true, DefaultTrackerConfig()), nil)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Counts.TotalUniqueObjects)
	require.Equal(t, tally.Counts{{Class: "bird", Count: 2}}, sum.Counts.UniqueObjectCounts)
	require.Len(t, sum.WeightEstimates.PerTrack, 2)
	// 100 and 400 px, mean 250
	require.Equal(t, 0.4, sum.WeightEstimates.PerTrack[0].WeightIndex)
	require.Equal(t, 1.6, sum.WeightEstimates.PerTrack[1].WeightIndex)
}
