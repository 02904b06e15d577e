// Package server exposes the inbound webhook surface: the dynamic
// per-tenant endpoint, the control endpoint for the platform bot, and
// the health/metrics endpoints.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botforge/internal/dispatch"
	"botforge/internal/telemetry"
	"botforge/internal/transport"
	"botforge/internal/transport/telegram"
	"botforge/pkg/logx"
)

const maxBodyBytes = 1 << 20

type Config struct {
	Addr string
}

type Server struct {
	httpSrv *http.Server
	router  *dispatch.Router
	log     logx.Logger
}

func New(cfg Config, router *dispatch.Router, reg *prometheus.Registry, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{router: router, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/hook/{credential}", s.handleHook)
	r.Post("/control", s.handleControl)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the listener until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http listening", logx.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	credential := chi.URLParam(r, "credential")
	up, ok := s.decode(w, r, "hook")
	if !ok {
		return
	}
	s.finish(w, "hook", s.router.HandleTenantEvent(r.Context(), credential, up))
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	up, ok := s.decode(w, r, "control")
	if !ok {
		return
	}
	s.finish(w, "control", s.router.HandleControlEvent(r.Context(), up))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, endpoint string) (transport.Update, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		telemetry.DispatchedUpdates.WithLabelValues(endpoint, "malformed").Inc()
		http.Error(w, "bad request", http.StatusBadRequest)
		return transport.Update{}, false
	}
	u, err := telegram.DecodeUpdate(body)
	if err != nil {
		telemetry.DispatchedUpdates.WithLabelValues(endpoint, "malformed").Inc()
		http.Error(w, "bad request", http.StatusBadRequest)
		return transport.Update{}, false
	}
	return u, true
}

// finish maps dispatcher outcomes onto responses. Only router-level
// errors surface as non-2xx; anything else is acknowledged so the
// upstream does not retry-storm application failures.
func (s *Server) finish(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case err == nil:
		telemetry.DispatchedUpdates.WithLabelValues(endpoint, "ok").Inc()
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, dispatch.ErrUnknownTenant):
		telemetry.DispatchedUpdates.WithLabelValues(endpoint, "unknown_tenant").Inc()
		http.Error(w, "unknown tenant", http.StatusNotFound)
	case errors.Is(err, dispatch.ErrMalformedEvent):
		telemetry.DispatchedUpdates.WithLabelValues(endpoint, "malformed").Inc()
		http.Error(w, "bad request", http.StatusBadRequest)
	default:
		telemetry.DispatchedUpdates.WithLabelValues(endpoint, "error").Inc()
		s.log.Error("dispatch failed", logx.String("endpoint", endpoint), logx.Err(err))
		w.WriteHeader(http.StatusOK)
	}
}
