package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cyclopcam/tally/server/tally"
	"github.com/tidwall/gjson"
)

// WeightUnit names the unit of the weight index in summaries
const WeightUnit = "relative_weight_index"

// WeightNote is attached to every summary, because the weight index is easy to misread as a mass
const WeightNote = "This is a relative weight proxy based on bounding box area. " +
	"To convert to grams, camera calibration (pixel-to-cm), fixed camera height, " +
	"and at least one known bird weight are required."

// Number of tracks in Summary.TracksSample
const TracksSampleSize = 5

// Summary is the result of a session. A session that failed still has a summary, built from
// whatever it had processed before the failure.
type Summary struct {
	SessionID       string              `json:"session_id"`
	State           State               `json:"state"`
	Error           string              `json:"error,omitempty"`
	Frames          int                 `json:"frames"`
	Detections      int                 `json:"detections"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
	MeanFrameMS     float64             `json:"mean_frame_ms"`
	Counts          CountsSummary       `json:"counts"`
	TracksSample    []tally.TrackWeight `json:"tracks_sample"`
	WeightEstimates WeightEstimates     `json:"weight_estimates"`
	Conditions      *tally.ConditionLog `json:"conditions"`
}

type CountsSummary struct {
	UniqueObjectCounts tally.Counts `json:"unique_object_counts"`
	TotalUniqueObjects int          `json:"total_unique_objects"`
}

type WeightEstimates struct {
	Unit     string       `json:"unit"`
	PerTrack TrackIndices `json:"per_track"`
	Note     string       `json:"note"`
}

// TrackIndices marshals to a JSON object of track id to weight index, eg {"3":0.85,"1":1.2},
// keeping the order of first sighting.
type TrackIndices []tally.TrackWeight

func (ti TrackIndices) MarshalJSON() ([]byte, error) {
	buf := bytes.Buffer{}
	buf.WriteByte('{')
	for i, w := range ti {
		if i != 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`"` + strconv.FormatInt(w.TrackID, 10) + `":`)
		v, err := json.Marshal(w.WeightIndex)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores TrackID and WeightIndex. Class and MeanArea are not part of the JSON form.
func (ti *TrackIndices) UnmarshalJSON(b []byte) error {
	obj := gjson.ParseBytes(b)
	if obj.Type == gjson.Null {
		*ti = nil
		return nil
	}
	if !obj.IsObject() {
		return fmt.Errorf("per-track weights must be a JSON object")
	}
	out := TrackIndices{}
	var err error
	obj.ForEach(func(key, value gjson.Result) bool {
		var id int64
		id, err = strconv.ParseInt(key.String(), 10, 64)
		if err != nil {
			err = fmt.Errorf("invalid track id '%v'", key.String())
			return false
		}
		out = append(out, tally.TrackWeight{TrackID: id, WeightIndex: value.Float()})
		return true
	})
	if err != nil {
		return err
	}
	*ti = out
	return nil
}

// Index returns the weight index of 'trackID'
func (ti TrackIndices) Index(trackID int64) (float64, bool) {
	for _, w := range ti {
		if w.TrackID == trackID {
			return w.WeightIndex, true
		}
	}
	return 0, false
}
