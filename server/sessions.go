package server

import (
	"context"
	"path"
	"time"

	"github.com/cyclopcam/tally/pkg/storage"
	"github.com/cyclopcam/tally/server/annotate"
	"github.com/cyclopcam/tally/server/framesrc"
	"github.com/cyclopcam/tally/server/session"
	"github.com/cyclopcam/tally/server/tracks"
)

// liveSession is a session that was submitted to this process
type liveSession struct {
	session *session.Session
	source  string
	jpeg    *framesrc.JPEGSink
	done    chan struct{} // Closed once the session has finished and its results have been saved
}

// SummaryName is the storage name of the summary of a session
func SummaryName(sessionID string) string {
	return path.Join(sessionID, "summary.json")
}

// FramesPrefix is the storage prefix of the annotated frames of a session
func FramesPrefix(sessionID string) string {
	return path.Join(sessionID, "frames")
}

// Submit starts a session on its own goroutine, and returns without waiting for it.
// If 'frames' is nil, the session runs on the labels alone.
func (s *Server) Submit(source string, labels *tracks.LabelSet, frames session.FrameSource) (*session.Session, error) {
	// An annotator caches glyphs, so it cannot be shared between sessions that run concurrently
	ann, err := annotate.New(s.palette)
	if err != nil {
		return nil, err
	}
	cfg := session.DefaultConfig()
	cfg.WeightBearing = s.Config.WeightBearing
	cfg.Annotator = ann
	sess := session.New(s.Log, cfg)

	if frames == nil {
		frames = framesrc.NewBlankSource(labels.NumFrames(), 0, 0)
	}
	det := tracks.NewDetector(s.Log, labels, s.Config.AutoTrack, tracks.DefaultTrackerConfig())

	live := &liveSession{
		session: sess,
		source:  source,
		jpeg:    framesrc.NewJPEGSink(s.ctx, s.store, FramesPrefix(sess.ID), s.Config.FrameEvery, s.Config.JPEGQuality),
		done:    make(chan struct{}),
	}

	s.sessionsLock.Lock()
	s.sessions[sess.ID] = live
	s.sessionsLock.Unlock()

	s.Log.Infof("Session %v submitted (%v, %v labelled frames)", sess.ID, source, labels.NumFrames())
	s.wg.Add(1)
	go s.run(live, frames, det)
	return sess, nil
}

func (s *Server) run(live *liveSession, frames session.FrameSource, det session.Detector) {
	defer s.wg.Done()
	defer close(live.done)

	acquired := false
	select {
	case s.slots <- struct{}{}:
		acquired = true
	case <-s.ctx.Done():
		// Run fails immediately with a cancellation error, which still leaves a summary
	}
	sum, err := live.session.Run(s.ctx, frames, det, live.jpeg)
	if acquired {
		<-s.slots
	}
	if err != nil {
		s.Log.Warnf("Session %v failed: %v", live.session.ID, err)
	}
	s.saveResult(live.source, sum)
	s.retire(live.session.ID)
}

// saveResult persists the summary to storage and the result DB.
// This runs during shutdown too, so it doesn't use the server's context.
func (s *Server) saveResult(source string, sum *session.Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := storage.WriteJSON(ctx, s.store, SummaryName(sum.SessionID), sum); err != nil {
		s.Log.Errorf("Failed to write summary of session %v to storage: %v", sum.SessionID, err)
	}
	if _, err := s.Results.Save(source, sum); err != nil {
		s.Log.Errorf("%v", err)
	}
}

// retire marks a session as finished, and forgets the oldest finished sessions.
// Forgotten sessions are still available from the result DB.
func (s *Server) retire(id string) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.finished = append(s.finished, id)
	for len(s.finished) > s.Config.RecentSessions {
		delete(s.sessions, s.finished[0])
		s.finished = s.finished[1:]
	}
}

// liveSession returns nil if the session is not in memory
func (s *Server) liveSession(id string) *liveSession {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	return s.sessions[id]
}

// WaitForSession blocks until a session submitted to this process has finished, and its results
// have been saved. Returns false if the session is unknown, or ctx expires first.
func (s *Server) WaitForSession(ctx context.Context, id string) bool {
	live := s.liveSession(id)
	if live == nil {
		return false
	}
	select {
	case <-live.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// deleteArtifacts removes everything that a session wrote to storage
func (s *Server) deleteArtifacts(ctx context.Context, id string) error {
	names, err := s.store.List(ctx, id+"/")
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.store.DeleteFile(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
