package nn

// VideoLabels contains labels for each video frame.
// This is the document written by the labelvideo tool. Class ids index into Classes.
type VideoLabels struct {
	Classes []string       `json:"classes"`
	Frames  []*ImageLabels `json:"frames"`
}

type ImageLabels struct {
	Frame   int               `json:"frame,omitempty"` // For video, this is the frame number
	Objects []ObjectDetection `json:"objects"`
}

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
	TrackID    *int64  `json:"trackID,omitempty"` // Present when the labeller also ran a tracker
}

// Detection is a single object in a single frame, with the identity of the physical
// object that it belongs to. TrackID is stable across frames for the same object.
// Any int64 is a valid TrackID, including zero and negative values. Untracked is set on
// detections that still need to be matched to a track, and their TrackID is meaningless.
type Detection struct {
	Class      string  `json:"class"`
	TrackID    int64   `json:"trackID"`
	Untracked  bool    `json:"untracked,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
	Box        Rect    `json:"box"`
}

// HasTrackID is false if the detection still needs to be matched to a track
func (d *Detection) HasTrackID() bool {
	return !d.Untracked
}

// ToDetection resolves the class id against 'classes'
func (o *ObjectDetection) ToDetection(classes []string) Detection {
	d := Detection{
		Class:      ClassName(classes, o.Class),
		Untracked:  o.TrackID == nil,
		Confidence: o.Confidence,
		Box:        o.Box,
	}
	if o.TrackID != nil {
		d.TrackID = *o.TrackID
	}
	return d
}
