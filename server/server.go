package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tally/pkg/palette"
	"github.com/cyclopcam/tally/pkg/storage"
	"github.com/cyclopcam/tally/server/config"
	"github.com/cyclopcam/tally/server/resultdb"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Server accepts sessions over HTTP, runs them, and keeps their results
type Server struct {
	Log     logs.Log
	Config  *config.Config
	Results *resultdb.ResultDB

	store      storage.Storage
	palette    *palette.Registry // Shared by all sessions. Each session has its own annotator.
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader

	// Cancelled on shutdown. Running sessions fail with a cancellation error.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // Running sessions
	slots  chan struct{}  // Limits the number of sessions that run at once

	sessionsLock sync.Mutex
	sessions     map[string]*liveSession // Running sessions, and the most recently finished ones
	finished     []string                // IDs of finished sessions in 'sessions', oldest first

	shutdownOnce sync.Once
}

func NewServer(log logs.Log, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	results, err := resultdb.Open(log, *cfg.DB)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	store, err := storage.Open(ctx, log, cfg.Storage)
	if err != nil {
		cancel()
		results.Close()
		return nil, fmt.Errorf("Failed to open artifact storage: %w", err)
	}
	s := &Server{
		Log:       log,
		Config:    cfg,
		Results:   results,
		store:     store,
		palette:   palette.NewRegistry(cfg.Classes),
		ctx:       ctx,
		cancel:    cancel,
		slots:     make(chan struct{}, cfg.MaxSessions),
		sessions:  map[string]*liveSession{},
	}
	s.setupHttpRoutes()
	return s, nil
}

// Handler returns the HTTP handler of the API
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// ListenHTTP blocks until the server is shut down
func (s *Server) ListenHTTP() error {
	s.Log.Infof("Listening on %v", s.Config.Listen)
	s.httpServer = &http.Server{
		Addr:    s.Config.Listen,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// Shutdown() was called by something other than ourselves, and closed signalIn
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown cancels running sessions, waits for their partial results to be saved,
// and closes the HTTP server and the database.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	s.cancel()
	s.wg.Wait()
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP server shutdown error: %v", err)
		}
	}
	s.Results.Close()
	s.Log.Infof("Shutdown complete")
}
