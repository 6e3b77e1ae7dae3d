// Package session runs one pass over one video, turning per-frame detections into unique
// counts, weight indices, and annotated frames.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tally/pkg/nn"
	"github.com/cyclopcam/tally/pkg/perfstats"
	"github.com/cyclopcam/tally/pkg/prefixlog"
	"github.com/cyclopcam/tally/server/annotate"
	"github.com/cyclopcam/tally/server/tally"
	"github.com/google/uuid"
)

// State of a session. States only move forward.
// Idle -> Running -> Finalizing -> Done, or from Idle/Running to Failed.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// IsFinished is true for states that can no longer change
func (s State) IsFinished() bool {
	return s == StateDone || s == StateFailed
}

// UnknownClass replaces the class of detections that arrive without one
const UnknownClass = "unknown"

var ErrSessionClosed = errors.New("session is no longer accepting frames")

type Config struct {
	ID            string              // If empty, a random id is generated
	WeightBearing []string            // Classes that get a weight index
	Annotator     *annotate.Annotator // If nil, frames are passed through without overlays
	RecentFrames  int                 // Minimum number of output frames kept for inspection. Rounded up to a power of 2, less one.
	MaxConditions int                 // Number of recent conditions kept in the summary
}

func DefaultConfig() Config {
	return Config{
		WeightBearing: []string{"bird"},
		RecentFrames:  8,
		MaxConditions: 100,
	}
}

// Progress is a snapshot of a running session
type Progress struct {
	SessionID   string       `json:"session_id"`
	State       State        `json:"state"`
	Frames      int          `json:"frames"`
	Detections  int          `json:"detections"`
	TotalUnique int          `json:"total_unique_objects"`
	Counts      tally.Counts `json:"unique_object_counts"`
	FrameMS     float64      `json:"frame_ms"` // Moving average of frame processing time
	Error       string       `json:"error,omitempty"`
}

// Session owns all aggregation state for a single video.
// Frames must be fed in source order, from a single goroutine. The other methods may be
// called from any goroutine.
type Session struct {
	ID  string
	log logs.Log
	cfg Config

	lock       sync.Mutex // Guards everything below
	state      State
	ledger     *tally.Ledger
	history    *tally.AreaHistory
	estimator  *tally.Estimator
	conditions *tally.ConditionLog
	recent     ringbuffer.RingP[*Frame]
	nFrames    int
	nDets      int
	startedAt  time.Time
	finishedAt time.Time
	failure    error
	summary    *Summary // Set once the session is finished, and never modified after that
	frameTime  perfstats.TimeAccumulator
	frameAvgNS perfstats.MovingAverage
}

func New(log logs.Log, cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.RecentFrames < 1 {
		cfg.RecentFrames = 1
	}
	if cfg.MaxConditions < 1 {
		cfg.MaxConditions = 1
	}
	slog := prefixlog.Newf(log, "Session %v:", shortID(cfg.ID))
	history := tally.NewAreaHistory(slog)
	return &Session{
		ID:         cfg.ID,
		log:        slog,
		cfg:        cfg,
		state:      StateIdle,
		ledger:     tally.NewLedger(),
		history:    history,
		estimator:  tally.NewEstimator(history, cfg.WeightBearing),
		conditions: tally.NewConditionLog(cfg.MaxConditions),
		recent:     ringbuffer.NewRingP[*Frame](nextPowerOf2(cfg.RecentFrames+1)),
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func nextPowerOf2(n int) int {
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}

func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Err returns the error that caused the session to fail, or nil
func (s *Session) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.failure
}

// ProcessFrame updates the tallies with the detections of one frame, and returns the
// annotated frame. The first call moves the session from Idle to Running.
func (s *Session) ProcessFrame(frame *Frame, dets []nn.Detection) (*Frame, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch s.state {
	case StateIdle:
		s.state = StateRunning
		s.startedAt = time.Now()
	case StateRunning:
	default:
		return nil, ErrSessionClosed
	}

	start := time.Now()
	labels := make([]annotate.Label, 0, len(dets))
	for i := range dets {
		d := dets[i]
		if !d.HasTrackID() {
			// Without an identity the object can be neither counted nor weighed
			s.conditions.Add(tally.Condition{
				Kind:   tally.ConditionInvalidDetection,
				Frame:  frame.Index,
				Class:  d.Class,
				Detail: "missing track id",
			})
			continue
		}
		area := s.validate(frame.Index, &d)
		s.ledger.Observe(d.TrackID, d.Class)
		if cond := s.history.Record(d.TrackID, d.Class, area); cond != nil {
			cond.Frame = frame.Index
			s.conditions.Add(*cond)
		}
		// A track keeps the class that it was first seen with
		d.Class, _ = s.history.Class(d.TrackID)
		label := annotate.Label{Detection: d}
		if s.estimator.IsWeightBearing(d.Class) {
			// The live index sees the population including this detection
			label.HasWeight = true
			label.WeightIndex = s.estimator.LiveIndex(area)
		}
		labels = append(labels, label)
	}
	s.nFrames++
	s.nDets += len(dets)

	out := &Frame{
		Index:  frame.Index,
		Image:  frame.Image,
		Labels: labels,
	}
	if s.cfg.Annotator != nil && frame.Image != nil {
		img, err := s.cfg.Annotator.Annotate(frame.Image, labels, s.ledger.SnapshotCounts())
		if err != nil {
			return nil, fmt.Errorf("Failed to annotate frame %v: %w", frame.Index, err)
		}
		out.Image = img
	}
	s.recent.Add(out)

	s.frameTime.AddSince(start)
	s.frameAvgNS.Update(time.Since(start).Nanoseconds())
	return out, nil
}

// validate fixes up a malformed detection, and returns the area to record for it
func (s *Session) validate(frameIdx int, d *nn.Detection) float64 {
	problem := ""
	if d.Class == "" {
		d.Class = UnknownClass
		problem = "missing class"
	}
	if !d.Box.IsValid() {
		if problem != "" {
			problem += ", "
		}
		problem += fmt.Sprintf("degenerate box %v x %v", d.Box.Width, d.Box.Height)
	}
	if problem == "" {
		return d.Box.ClampedArea()
	}
	s.conditions.Add(tally.Condition{
		Kind:    tally.ConditionInvalidDetection,
		Frame:   frameIdx,
		TrackID: d.TrackID,
		Class:   d.Class,
		Detail:  problem,
	})
	return 0
}

// Run pulls every frame from 'src', and finalizes the session when the source is exhausted.
// If any collaborator fails, or ctx is cancelled, the session fails, and the partial summary is
// returned along with the error. 'sink' may be nil.
func (s *Session) Run(ctx context.Context, src FrameSource, det Detector, sink FrameSink) (*Summary, error) {
	s.log.Infof("Starting")
	for {
		if err := ctx.Err(); err != nil {
			return s.fail(fmt.Errorf("Cancelled: %w", err))
		}
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return s.fail(fmt.Errorf("Frame source failed: %w", err))
		}
		dets, err := det.Detect(frame)
		if err != nil {
			return s.fail(fmt.Errorf("Detector failed on frame %v: %w", frame.Index, err))
		}
		out, err := s.ProcessFrame(frame, dets)
		if err != nil {
			return s.fail(err)
		}
		if sink != nil {
			if err := sink.WriteFrame(out); err != nil {
				return s.fail(fmt.Errorf("Frame sink failed on frame %v: %w", frame.Index, err))
			}
		}
	}
	s.lock.Lock()
	s.conditions.Add(tally.Condition{
		Kind:    tally.ConditionSourceExhausted,
		Frame:   s.nFrames,
		TrackID: -1,
		Detail:  "end of stream",
	})
	s.lock.Unlock()
	return s.Finalize(), nil
}

// Finalize computes the final weight indices and the summary.
// It may be called more than once, and always returns the same summary.
func (s *Session) Finalize() *Summary {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state.IsFinished() {
		return s.summary
	}
	s.state = StateFinalizing
	s.finishedAt = time.Now()
	sum := s.buildSummary(true)
	s.summary = sum
	s.state = StateDone
	sum.State = StateDone
	s.log.Infof("Done. %v frames, %v unique objects", s.nFrames, s.ledger.TotalUnique())
	return sum
}

func (s *Session) fail(err error) (*Summary, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state.IsFinished() {
		return s.summary, err
	}
	s.log.Errorf("Failed after %v frames: %v", s.nFrames, err)
	s.state = StateFailed
	s.failure = err
	s.finishedAt = time.Now()
	s.summary = s.buildSummary(false)
	return s.summary, err
}

// Summary returns the final summary if the session is finished, or else a summary of
// everything processed so far.
func (s *Session) Summary() *Summary {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.summary != nil {
		return s.summary
	}
	return s.buildSummary(false)
}

// buildSummary must be called with the lock held.
// When 'final' is true, an empty weight-bearing population is recorded as a condition.
func (s *Session) buildSummary(final bool) *Summary {
	weights, cond := s.estimator.FinalIndices()
	if final && cond != nil {
		cond.Frame = s.nFrames
		s.conditions.Add(*cond)
	}
	sample := weights[:min(TracksSampleSize, len(weights))]
	sum := &Summary{
		SessionID:   s.ID,
		State:       s.state,
		Frames:      s.nFrames,
		Detections:  s.nDets,
		StartedAt:   s.startedAt,
		FinishedAt:  s.finishedAt,
		MeanFrameMS: float64(s.frameTime.Average().Microseconds()) / 1000,
		Counts: CountsSummary{
			UniqueObjectCounts: s.ledger.SnapshotCounts(),
			TotalUniqueObjects: s.ledger.TotalUnique(),
		},
		TracksSample: append([]tally.TrackWeight{}, sample...),
		WeightEstimates: WeightEstimates{
			Unit:     WeightUnit,
			PerTrack: TrackIndices(weights),
			Note:     WeightNote,
		},
		Conditions: s.conditions.Clone(),
	}
	if s.failure != nil {
		sum.Error = s.failure.Error()
	}
	return sum
}

// Progress returns a snapshot of the session, for status displays
func (s *Session) Progress() Progress {
	s.lock.Lock()
	defer s.lock.Unlock()
	p := Progress{
		SessionID:   s.ID,
		State:       s.state,
		Frames:      s.nFrames,
		Detections:  s.nDets,
		TotalUnique: s.ledger.TotalUnique(),
		Counts:      s.ledger.SnapshotCounts(),
		FrameMS:     float64(s.frameAvgNS.Load()) / 1e6,
	}
	if s.failure != nil {
		p.Error = s.failure.Error()
	}
	return p
}

// RecentFrames returns the most recent output frames, oldest first.
// After a failure, these are the last frames that were produced.
func (s *Session) RecentFrames() []*Frame {
	s.lock.Lock()
	defer s.lock.Unlock()
	frames := make([]*Frame, 0, s.recent.Len())
	for i := 0; i < s.recent.Len(); i++ {
		frames = append(frames, s.recent.Peek(i))
	}
	return frames
}

// LastFrame returns the most recent output frame, or nil
func (s *Session) LastFrame() *Frame {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.recent.Len() == 0 {
		return nil
	}
	return s.recent.Peek(s.recent.Len() - 1)
}
