package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crlink-unfurler/internal/metrics"
	"github.com/JakeFAU/crlink-unfurler/internal/queue/memory"
	"github.com/JakeFAU/crlink-unfurler/internal/slackbot"
	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

// Dispatcher handles one link_shared event end to end.
type Dispatcher interface {
	Dispatch(ctx context.Context, event unfurl.LinkEvent)
}

const (
	defaultWorkers        = 8
	defaultQueueDepth     = 64
	defaultEnqueueTimeout = 2 * time.Second
)

// Config controls the HTTP surface and the dispatch worker pool.
type Config struct {
	SigningSecret  string
	RequestTimeout time.Duration
	// Workers is the number of events dispatched concurrently.
	Workers int
	// QueueDepth bounds accepted but not yet dispatched events.
	QueueDepth int
	// EnqueueTimeout bounds how long a delivery waits for queue space before
	// it is refused and left to Slack's retry.
	EnqueueTimeout time.Duration
}

// Server wires HTTP handlers to the dispatcher.
type Server struct {
	router   chi.Router
	dispatch Dispatcher
	logger   *zap.Logger
	cfg      Config

	// Dispatches outlive the request that carried them.
	events   *memory.Queue[unfurl.LinkEvent]
	baseCtx  context.Context
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	draining atomic.Bool
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, dispatch Dispatcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		dispatch: dispatch,
		logger:   logger,
		cfg:      cfg,
		events:   memory.NewQueue[unfurl.LinkEvent](cfg.QueueDepth),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		s.workers.Add(1)
		go s.worker(logger.Named("worker").With(zap.Int("index", i)))
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(slackbot.SignatureMiddleware(cfg.SigningSecret, logger.Named("signature")))
		r.Post("/slack/events", s.slackEvents)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops accepting events and waits until queued and in-flight ones are
// dispatched. When ctx expires first the remaining dispatches are canceled.
func (s *Server) Close(ctx context.Context) error {
	s.draining.Store(true)
	s.events.Close()
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return fmt.Errorf("drain dispatches: %w", ctx.Err())
	}
}

func (s *Server) worker(logger *zap.Logger) {
	defer s.workers.Done()
	for {
		event, err := s.events.Dequeue(s.baseCtx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) && !errors.Is(err, context.Canceled) {
				logger.Warn("dequeue failed", zap.Error(err))
			}
			return
		}
		s.dispatch.Dispatch(s.baseCtx, event)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) slackEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	event, err := slackbot.ParseEvent(body)
	if err != nil {
		s.logger.Warn("invalid slack event", zap.Error(err), zap.String("request_id", requestID(r.Context())))
		writeError(w, http.StatusBadRequest, "invalid event")
		return
	}

	switch event.Kind {
	case slackbot.KindURLVerification:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := io.WriteString(w, event.Challenge); err != nil {
			s.logger.Error("challenge write failed", zap.Error(err))
		}
	case slackbot.KindLinkShared:
		if s.draining.Load() {
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		s.logger.Debug("link_shared received",
			zap.String("team", event.Links.TeamID),
			zap.String("channel", event.Links.Channel),
			zap.Int("links", len(event.Links.URLs)),
		)
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.EnqueueTimeout)
		defer cancel()
		if err := s.events.Enqueue(ctx, event.Links); err != nil {
			s.logger.Warn("event queue rejected link_shared", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "busy")
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
