// Package server exposes the download orchestrator on a loopback HTTP port.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/dencho/pkg/logging"
	"github.com/entrhq/dencho/pkg/orchestrator"
)

// Server timeouts. Writes are unbounded because a download request stays
// open for the whole run, including an interactive sign-in.
const (
	ReadHeaderTimeout = 10 * time.Second
	ReadTimeout       = 30 * time.Second
	IdleTimeout       = 60 * time.Second
)

// Downloader admits download requests. *orchestrator.Orchestrator satisfies it.
type Downloader interface {
	RequestDownload(ctx context.Context, req orchestrator.Request) orchestrator.Outcome
}

// Options configures a Server.
type Options struct {
	// Addr is the loopback host:port to listen on
	Addr string

	// AllowedOrigins are glob patterns for the CORS allow-list; "*" allows any
	AllowedOrigins []string
}

// Server handles the control endpoints.
type Server struct {
	downloader Downloader
	logger     *logging.Logger
	cors       *originPolicy
	newID      func() string
	server     *http.Server
}

// New creates a server. A nil logger discards output.
func New(opts Options, downloader Downloader, logger *logging.Logger) (*Server, error) {
	if downloader == nil {
		return nil, fmt.Errorf("downloader is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	cors, err := newOriginPolicy(opts.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	s := &Server{
		downloader: downloader,
		logger:     logger,
		cors:       cors,
		newID:      newRequestID,
	}

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      0,
		IdleTimeout:       IdleTimeout,
	}
	return s, nil
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.withMiddleware(s.setupRoutes())
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/download", s.handleDownload)
	mux.HandleFunc("/", s.handleNotFound)
	return mux
}

// ListenAndServe listens on the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Infof("server listening on http://%s", ln.Addr())
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infof("shutting down server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Infof("server stopped")
	return nil
}

// originPolicy matches Origin headers against the CORS allow-list.
type originPolicy struct {
	any      bool
	patterns []glob.Glob
}

func newOriginPolicy(allowed []string) (*originPolicy, error) {
	p := &originPolicy{}
	for _, pattern := range allowed {
		if pattern == "*" {
			p.any = true
			continue
		}
		// '.' as separator keeps * inside one host label
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid allowed origin %q: %w", pattern, err)
		}
		p.patterns = append(p.patterns, g)
	}
	return p, nil
}

// allow returns the Access-Control-Allow-Origin value for origin, or "".
func (p *originPolicy) allow(origin string) string {
	if p.any {
		return "*"
	}
	if origin == "" {
		return ""
	}
	for _, g := range p.patterns {
		if g.Match(origin) {
			return origin
		}
	}
	return ""
}
