package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tally/server/resultdb"
	"github.com/cyclopcam/tally/server/session"
	"github.com/stretchr/testify/require"
)

const testLabels = `{"frame": 0, "objects": [{"class": "bird", "track_id": 1, "bbox": [0, 0, 10, 10]}, {"class": "bird", "track_id": 2, "bbox": [20, 10, 40, 25]}]}
{"frame": 1, "objects": [{"class": "bird", "track_id": 1, "bbox": [1, 0, 11, 10]}, {"class": "bird", "bbox": [40, 30, 50, 40]}]}
`

func TestRunWithFrames(t *testing.T) {
	dir := t.TempDir()
	labelFile := filepath.Join(dir, "labels.jsonl")
	require.NoError(t, os.WriteFile(labelFile, []byte(testLabels), 0644))
	rawFile := filepath.Join(dir, "frames.rgb")
	raw := make([]byte, 2*64*48*3)
	for i := range raw {
		raw[i] = 60
	}
	require.NoError(t, os.WriteFile(rawFile, raw, 0644))

	opt := options{
		labelFile:     labelFile,
		rawFile:       rawFile,
		width:         64,
		height:        48,
		annotatedRaw:  filepath.Join(dir, "annotated.rgb"),
		jpegDir:       filepath.Join(dir, "jpeg"),
		jpegEvery:     1,
		weightBearing: "bird",
		noTrack:       true,
		dbFile:        filepath.Join(dir, "results.sqlite"),
	}
	log := logs.NewTestingLog(t)
	sum, err := run(context.Background(), log, opt)
	require.NoError(t, err)
	require.Equal(t, session.StateDone, sum.State)
	require.Equal(t, 2, sum.Frames)
	// The object without a track id is skipped
	require.Equal(t, 2, sum.Counts.TotalUniqueObjects)

	annotated, err := os.ReadFile(opt.annotatedRaw)
	require.NoError(t, err)
	require.Len(t, annotated, len(raw))
	require.NotEqual(t, raw, annotated)

	jpegs, err := filepath.Glob(filepath.Join(opt.jpegDir, "*.jpg"))
	require.NoError(t, err)
	require.Len(t, jpegs, 2)

	db, err := resultdb.OpenSqlite(log, opt.dbFile)
	require.NoError(t, err)
	defer db.Close()
	res, err := db.Get(sum.SessionID)
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalUnique)

	// With tracking, the id-less object gets an id of its own
	opt.noTrack = false
	opt.dbFile = ""
	sum, err = run(context.Background(), log, opt)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Counts.TotalUniqueObjects)
}

func TestRunMissingLabels(t *testing.T) {
	sum, err := run(context.Background(), logs.NewTestingLog(t), options{labelFile: filepath.Join(t.TempDir(), "nope.json")})
	require.Error(t, err)
	require.Nil(t, sum)
}
