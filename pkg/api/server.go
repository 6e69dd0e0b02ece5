// Package api serves the message store over HTTP: search, windows around a
// message, paging in both directions, and a websocket feed of newly stored
// messages.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chat-archive/pkg/ingest"
	"github.com/go-go-golems/chat-archive/pkg/persistence/chatstore"
)

const ShutdownTimeout = 10 * time.Second

type Options struct {
	Addr  string
	Store chatstore.MessageStore
	// Bus is optional. When set, its router runs with the server and every
	// message it stores is pushed to the live feed.
	Bus *ingest.Bus
	// Registry defaults to a fresh registry so servers in tests do not
	// collide on the global one.
	Registry *prometheus.Registry
	Upgrader *websocket.Upgrader
	// Background jobs run alongside the server and stop with it.
	Background []func(ctx context.Context) error
}

type Server struct {
	store      chatstore.MessageStore
	bus        *ingest.Bus
	hub        *LiveHub
	metrics    *Metrics
	registry   *prometheus.Registry
	upgrader   websocket.Upgrader
	httpSrv    *http.Server
	background []func(ctx context.Context) error
}

func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("api: store is required")
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	if opts.Upgrader != nil {
		upgrader = *opts.Upgrader
	}
	s := &Server{
		store:      opts.Store,
		bus:        opts.Bus,
		hub:        NewLiveHub(),
		registry:   reg,
		upgrader:   upgrader,
		background: opts.Background,
	}
	s.metrics = NewMetrics(reg, s.hub)
	if s.bus != nil {
		s.bus.OnStored(s.hub.Broadcast)
	}
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Hub() *LiveHub { return s.hub }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "/search", "search", s.handleSearch)
	s.route(mux, "/messages/{id}", "window", s.handleWindow)
	s.route(mux, "/messages/{id}/before", "before", s.handleBefore)
	s.route(mux, "/messages/{id}/after", "after", s.handleAfter)
	s.route(mux, "/healthz", "healthz", s.handleHealth)
	s.route(mux, "/ws", "ws", s.handleWS)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "no such endpoint")
	})
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, s.metrics.instrument(name, h))
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	eg, gctx := errgroup.WithContext(ctx)

	if s.bus != nil {
		eg.Go(func() error { return s.bus.Run(gctx) })
	}
	for _, job := range s.background {
		eg.Go(func() error { return job(gctx) })
	}

	eg.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down chat-archive server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		s.hub.CloseAll()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		if s.bus != nil {
			if err := s.bus.Close(); err != nil {
				log.Error().Err(err).Msg("ingest bus close error")
			}
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting chat-archive server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	return eg.Wait()
}

func deadline() time.Time { return time.Now().Add(time.Second) }
