package server

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/tally/pkg/kibi"
	"github.com/cyclopcam/tally/pkg/storage"
	"github.com/cyclopcam/tally/server/framesrc"
	"github.com/cyclopcam/tally/server/resultdb"
	"github.com/cyclopcam/tally/server/session"
	"github.com/cyclopcam/tally/server/tracks"
	"github.com/cyclopcam/www"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Interval between progress messages on the live websocket
const liveInterval = 250 * time.Millisecond

// httpCreateSession starts a session.
// The body is either a label file, or a zip file containing a label file named labels.json or
// labels.jsonl, and optionally frames.rgb, which is raw RGB24 frames of size width x height
// (given as query values).
func (s *Server) httpCreateSession(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	maxSize := s.Config.MaxUploadBytes()
	if r.ContentLength > maxSize {
		www.Panic(http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body is too large: %v. Maximum size: %v", kibi.FormatBytes(r.ContentLength), kibi.FormatBytes(maxSize)))
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSize+1))
	www.Check(err)
	if int64(len(body)) > maxSize {
		www.Panic(http.StatusRequestEntityTooLarge, "Request body is too large. Maximum size: "+kibi.FormatBytes(maxSize))
	}
	source := strings.TrimSpace(www.QueryValue(r, "name"))
	if len(source) > 200 {
		source = source[:200]
	}
	if source == "" {
		source = "upload"
	}

	var labels *tracks.LabelSet
	var frames session.FrameSource
	if bytes.HasPrefix(body, []byte("PK\x03\x04")) {
		labels, frames = readSessionZip(r, body)
	} else {
		labels, err = tracks.ReadLabels(bytes.NewReader(body))
		if err != nil {
			www.PanicBadRequestf("Invalid label file: %v", err)
		}
	}

	sess, err := s.Submit(source, labels, frames)
	www.Check(err)

	type response struct {
		ID string `json:"id"`
	}
	www.SendJSON(w, &response{ID: sess.ID})
}

func readSessionZip(r *http.Request, body []byte) (*tracks.LabelSet, session.FrameSource) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		www.PanicBadRequestf("Invalid zip file: %v", err)
	}
	var labels *tracks.LabelSet
	var frames session.FrameSource
	for _, f := range zr.File {
		name := path.Base(f.Name)
		switch {
		case name == "frames.rgb":
			width := www.RequiredQueryInt(r, "width")
			height := www.RequiredQueryInt(r, "height")
			content, err := f.Open()
			www.Check(err)
			raw, err := framesrc.NewRawSource(content, width, height)
			if err != nil {
				www.PanicBadRequestf("%v", err)
			}
			frames = raw
		case name == "labels.json" || name == "labels.jsonl":
			content, err := f.Open()
			www.Check(err)
			labels, err = tracks.ReadLabels(content)
			content.Close()
			if err != nil {
				www.PanicBadRequestf("Invalid label file %v: %v", f.Name, err)
			}
		}
	}
	if labels == nil {
		www.PanicBadRequestf("Zip file has no labels.json or labels.jsonl")
	}
	return labels, frames
}

// httpGetSession returns the summary of a session. For a running session, this is a summary
// of the frames processed so far.
func (s *Server) httpGetSession(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	if live := s.liveSession(id); live != nil {
		www.SendJSON(w, live.session.Summary())
		return
	}
	res, err := s.Results.Get(id)
	if errors.Is(err, resultdb.ErrNotFound) {
		www.SendError(w, "Session not found", http.StatusNotFound)
		return
	}
	www.Check(err)
	www.SendJSON(w, &res.Summary.Data)
}

// httpSessionFrame returns an annotated frame as a JPEG.
// Without an index, this is the most recent frame of a session that is in memory.
func (s *Server) httpSessionFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	var img []byte
	if idx := www.QueryValue(r, "index"); idx != "" {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			www.PanicBadRequestf("Invalid frame index '%v'", idx)
		}
		img, err = storage.ReadFile(r.Context(), s.store, path.Join(FramesPrefix(id), framesrc.FrameFileName(n)))
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
			www.SendError(w, "Frame not found", http.StatusNotFound)
			return
		}
		www.Check(err)
	} else if live := s.liveSession(id); live != nil {
		img = live.jpeg.Latest()
	}
	if img == nil {
		www.SendError(w, "No image available", http.StatusNotFound)
		return
	}
	www.CacheNever(w)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(img)
}

// httpSessionLive streams Progress as JSON text messages until the session finishes
func (s *Server) httpSessionLive(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	live := s.liveSession(id)
	if live == nil {
		www.SendError(w, "Session not found", http.StatusNotFound)
		return
	}

	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpSessionLive websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	ticker := time.NewTicker(liveInterval)
	defer ticker.Stop()
	for {
		progress := live.session.Progress()
		if err := c.WriteJSON(&progress); err != nil {
			s.Log.Infof("httpSessionLive %v: client went away: %v", id, err)
			return
		}
		if progress.State.IsFinished() {
			c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		select {
		case <-ticker.C:
		case <-live.done:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) httpListResults(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	limit := www.QueryInt(r, "limit")
	offset := www.QueryInt(r, "offset")
	if limit <= 0 {
		limit = 100
	}
	results, err := s.Results.List(limit, offset)
	www.Check(err)
	// Summaries are fetched one at a time, from /api/sessions/:id
	for i := range results {
		results[i].Summary = nil
	}
	www.SendJSON(w, results)
}

// httpDeleteResult forgets a finished session, and deletes its artifacts
func (s *Server) httpDeleteResult(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	if live := s.liveSession(id); live != nil {
		select {
		case <-live.done:
		default:
			www.PanicBadRequestf("Session %v is still running", id)
		}
	}
	www.Check(s.Results.Delete(id))
	www.Check(s.deleteArtifacts(r.Context(), id))

	s.sessionsLock.Lock()
	delete(s.sessions, id)
	for i, f := range s.finished {
		if f == id {
			s.finished = append(s.finished[:i], s.finished[i+1:]...)
			break
		}
	}
	s.sessionsLock.Unlock()

	www.SendOK(w)
}
