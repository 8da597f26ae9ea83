// Package server exposes the calibration service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	goji "goji.io"
	"goji.io/pat"
	"goji.io/pattern"
	goutils "go.viam.com/utils"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/services/calibration"
)

const shutdownTimeout = 30 * time.Second

// Options configures the HTTP API.
type Options struct {
	// MaxRequestBytes bounds the size of a calibration request body.
	MaxRequestBytes int64
}

// Server routes HTTP requests to the calibration service.
type Server struct {
	svc     *calibration.Service
	opts    Options
	logger  logging.Logger
	handler http.Handler
}

// New returns a server for svc.
func New(svc *calibration.Service, opts Options, logger logging.Logger) *Server {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = 1 << 20
	}
	s := &Server{svc: svc, opts: opts, logger: logger}
	s.handler = s.initMux()
	return s
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) initMux() http.Handler {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/"), s.handleRoot)
	mux.HandleFunc(pat.Get("/health"), s.handleHealth)
	mux.HandleFunc(pat.Post("/calibrate"), s.handleCalibrate)
	mux.HandleFunc(pat.Get("/calibrate/*"), s.handleResult)
	mux.Use(s.logRequests)
	return cors.AllowAll().Handler(mux)
}

// Serve serves on listener until ctx is done, then shuts down, letting running requests finish.
// It returns only once the shutdown watcher has exited.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer, err := goutils.NewPossiblySecureHTTPServer(s.handler, goutils.HTTPServerOptions{
		Addr: listener.Addr().String(),
	})
	if err != nil {
		return err
	}
	httpServer.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }

	serveDone := make(chan struct{})
	shutdownDone := make(chan struct{})
	goutils.PanicCapturingGo(func() {
		defer close(shutdownDone)
		select {
		case <-ctx.Done():
		case <-serveDone:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorw("error shutting down", "error", err)
		}
	})
	defer func() {
		close(serveDone)
		<-shutdownDone
	}()

	s.logger.Infow("serving", "url", "http://"+listener.Addr().String())
	serveErr := httpServer.Serve(listener)
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %q", addr)
	}
	return s.Serve(ctx, listener)
}

type errorBody struct {
	Detail string `json:"detail"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warnw("error writing response", "error", err)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Camera calibration service is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxRequestBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Detail: "reading request body: " + err.Error()})
		return
	}
	req, err := calibration.ParseRequest(body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Detail: err.Error()})
		return
	}

	resp, err := s.svc.Calibrate(r.Context(), req)
	if err != nil {
		if report, ok := calibration.NewFailureReport(err); ok {
			s.writeJSON(w, http.StatusUnprocessableEntity, report)
			return
		}
		s.logger.Errorw("unexpected error during calibration", "run_id", req.Metadata.RunID, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Internal server error during calibration"})
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	runID := strings.Trim(pattern.Path(r.Context()), "/")
	run, err := s.svc.Result(r.Context(), runID)
	if err != nil {
		if errors.Is(err, calibration.ErrResultNotFound) {
			s.writeJSON(w, http.StatusNotFound, errorBody{Detail: "Calibration results not found for run_id: " + runID})
			return
		}
		s.logger.Errorw("error retrieving calibration results", "run_id", runID, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debugw("request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration", time.Since(start))
	})
}
