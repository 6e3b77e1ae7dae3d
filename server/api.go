package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupHttpRoutes() {
	logEveryRequest := false
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP %v %v", method, r.URL.Path)
			}
			handle(w, r, params)
		})
	}

	// Each rate limited endpoint gets its own limiter, so we don't need httprate.KeyByEndpoint
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/health", s.httpHealth)
	ratelimited("POST", "/api/sessions", s.httpCreateSession, s.Config.SubmitPerMin, time.Minute)
	handle("GET", "/api/sessions/:id", s.httpGetSession)
	handle("GET", "/api/sessions/:id/frame", s.httpSessionFrame)
	handle("GET", "/api/sessions/:id/live", s.httpSessionLive)
	handle("GET", "/api/results", s.httpListResults)
	handle("DELETE", "/api/results/:id", s.httpDeleteResult)

	s.httpRouter = router
}

func (s *Server) httpHealth(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type healthJSON struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"` // Sessions known to this process
	}
	s.sessionsLock.Lock()
	n := len(s.sessions)
	s.sessionsLock.Unlock()
	www.SendJSON(w, &healthJSON{
		Status:   "OK",
		Sessions: n,
	})
}
