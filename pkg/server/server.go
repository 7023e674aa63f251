// Package server exposes the validation, verification and capture services
// over HTTP/JSON.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/entrhq/pageproof/pkg/capture"
	"github.com/entrhq/pageproof/pkg/citation"
	"github.com/entrhq/pageproof/pkg/deploy"
	"github.com/entrhq/pageproof/pkg/evidence"
	"github.com/entrhq/pageproof/pkg/frontend"
	"github.com/entrhq/pageproof/pkg/logging"
)

// CitationValidator classifies citations.
type CitationValidator interface {
	Validate(ctx context.Context, req citation.Request) (*citation.Result, error)
	ValidateBatch(ctx context.Context, reqs []citation.Request) (*citation.BatchResult, error)
}

// DeploymentVerifier runs deployment checks and visual regression.
type DeploymentVerifier interface {
	Verify(ctx context.Context, req deploy.Request) (*deploy.Result, error)
	VisualRegression(ctx context.Context, req deploy.RegressionRequest) (*deploy.RegressionResult, error)
}

// Capturer renders pages to images, PDF and HTML.
type Capturer interface {
	Screenshot(ctx context.Context, req capture.ScreenshotRequest) (*capture.ScreenshotResult, error)
	PDF(ctx context.Context, req capture.PDFRequest) (*capture.PDFResult, error)
	HTML(ctx context.Context, req capture.HTMLRequest) (*capture.HTMLResult, error)
}

// FrontendRunner drives interactions and DOM tests.
type FrontendRunner interface {
	Interact(ctx context.Context, req frontend.InteractRequest) (*frontend.InteractResult, error)
	RunTests(ctx context.Context, req frontend.TestRequest) (*frontend.TestReport, error)
}

// BrowserStatus reports the state of the shared browser.
type BrowserStatus interface {
	Ready() bool
	Uptime() time.Duration
	ActivePages() int
}

// EvidenceRoutes serves stored evidence.
type EvidenceRoutes interface {
	Routes(r chi.Router)
}

// Deps are the services behind the HTTP endpoints.
type Deps struct {
	Citations   CitationValidator
	Deployments DeploymentVerifier
	Capture     Capturer
	Frontend    FrontendRunner
	Browser     BrowserStatus
	// Evidence is optional; when nil stored objects are not served
	Evidence EvidenceRoutes
}

// Options configures the HTTP listener.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// Server is the HTTP front end of the service.
type Server struct {
	deps    Deps
	browser BrowserStatus
	opts    Options
	log     *logging.Logger
	router  chi.Router

	httpServer *http.Server
}

// New wires the routes for deps.
func New(deps Deps, log *logging.Logger, opts Options) (*Server, error) {
	if deps.Citations == nil || deps.Deployments == nil || deps.Capture == nil || deps.Frontend == nil || deps.Browser == nil {
		return nil, errors.New("server: citations, deployments, capture, frontend and browser are required")
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		deps:    deps,
		browser: deps.Browser,
		opts:    opts,
		log:     log.With("server"),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(instrument)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Post("/validate-citation", s.handleValidateCitation)
	r.Post("/batch-validate-citations", s.handleBatchValidate)
	r.Post("/verify-deployment", s.handleVerifyDeployment)
	r.Post("/visual-regression", s.handleVisualRegression)
	r.Post("/screenshot", s.handleScreenshot)
	r.Post("/pdf", s.handlePDF)
	r.Post("/html", s.handleHTML)
	r.Post("/interact", s.handleInteract)
	r.Post("/test", s.handleTest)

	if s.deps.Evidence != nil {
		r.Route(evidence.RoutePrefix, s.deps.Evidence.Routes)
	}
	return r
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called. It returns nil on a clean
// shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Infof("listening on %s", ln.Addr())

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debugf("%s %s -> %d (%s) [%s]", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()))
	})
}
