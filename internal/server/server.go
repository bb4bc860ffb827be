// Package server renders documents of a backend hierarchy over HTTP.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"golang.org/x/net/netutil"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/errors"
	"github.com/conneroisu/starhp/internal/logging"
	"github.com/conneroisu/starhp/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Config configures a Server.
type Config struct {
	Addr string
	// MaxConnections bounds concurrent connections; 0 means unbounded.
	MaxConnections int
	// Index is rendered for paths ending in a slash.
	Index       string
	ContentType string
}

// Server renders the document named by the request path.
type Server struct {
	container   backends.Container
	config      Config
	logger      logging.Logger
	httpServer  *http.Server
	serverMutex sync.Mutex
	listener    net.Listener
	events      http.Handler
	errHandler  *errors.ErrorHandler
}

// New creates a Server for container.
func New(container backends.Container, cfg Config, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}

	logger = logger.WithComponent("server")

	return &Server{
		container:  container,
		config:     cfg,
		logger:     logger,
		errHandler: errors.NewErrorHandler(logger).Quiet(errors.ErrorTypeContainer),
	}
}

// WithEvents serves handler under /_events. It has to be called before
// Serve.
func (s *Server) WithEvents(handler http.Handler) *Server {
	s.events = handler

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/_health", s.handleHealth)
	if s.events != nil {
		mux.Handle("/_events", s.events)
	}
	mux.HandleFunc("/", s.handleRender)

	return s.addMiddleware(mux)
}

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.config.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.config.MaxConnections)
	}

	s.serverMutex.Lock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn(shutdownCtx, err, "shutdown failed")
			}
		case <-done:
		}
	}()

	s.logger.Info(ctx, "serving", "addr", listener.Addr().String(), "max_connections", s.config.MaxConnections)
	if err := server.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Addr returns the address the server listens on, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.serverMutex.Lock()
	defer s.serverMutex.Unlock()
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Name maps a request path to a container name.
func (s *Server) Name(urlPath string) string {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" || strings.HasSuffix(urlPath, "/") {
		name = path.Join(name, s.config.Index)
	}

	return name
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count, err := s.container.Len()
	status := "healthy"
	if err != nil {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"documents": count,
		"version":   version.GetShortVersion(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := s.Name(r.URL.Path)
	code, err := backends.Load(s.container, name)
	if err != nil {
		s.writeError(w, r, name, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	for chunk, err := range code.Execute(requestBindings(r)) {
		if err != nil {
			if !started {
				s.writeError(w, r, name, err)
				return
			}
			// The status line is gone; all that is left is to stop.
			s.errHandler.Handle(r.Context(), err, "name", name, "partial", true)
			return
		}
		if !started {
			w.Header().Set("Content-Type", s.config.ContentType)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if r.Method == http.MethodHead {
			continue
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if !started {
		w.Header().Set("Content-Type", s.config.ContentType)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, name string, err error) {
	status := http.StatusInternalServerError
	switch {
	case stderrors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	case stderrors.Is(err, errors.ErrLeavesDirectory):
		status = http.StatusForbidden
	}

	s.errHandler.Handle(r.Context(), err, "name", name, "status", status)
	http.Error(w, http.StatusText(status), status)
}

// requestBindings exposes the request to documents as the request global.
func requestBindings(r *http.Request) starlark.StringDict {
	query := starlark.NewDict(len(r.URL.Query()))
	for key, values := range r.URL.Query() {
		list := make([]starlark.Value, 0, len(values))
		for _, v := range values {
			list = append(list, starlark.String(v))
		}
		_ = query.SetKey(starlark.String(key), starlark.NewList(list))
	}
	headers := starlark.NewDict(len(r.Header))
	for key := range r.Header {
		_ = headers.SetKey(starlark.String(strings.ToLower(key)), starlark.String(r.Header.Get(key)))
	}

	return starlark.StringDict{
		"request": starlarkstruct.FromStringDict(starlark.String("request"), starlark.StringDict{
			"method":  starlark.String(r.Method),
			"path":    starlark.String(r.URL.Path),
			"query":   query,
			"headers": headers,
			"remote":  starlark.String(r.RemoteAddr),
		}),
	}
}

func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error(r.Context(), fmt.Errorf("panic: %v", rec), "handler panicked", "path", r.URL.Path)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()

		start := time.Now()
		handler.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
