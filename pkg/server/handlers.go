package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/entrhq/pageproof/pkg/capture"
	"github.com/entrhq/pageproof/pkg/citation"
	"github.com/entrhq/pageproof/pkg/deploy"
	"github.com/entrhq/pageproof/pkg/frontend"
)

// Health statuses
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// HealthResponse reports service liveness and browser readiness.
type HealthResponse struct {
	Status       string    `json:"status"`
	BrowserReady bool      `json:"browserReady"`
	Uptime       float64   `json:"uptime"`
	ActivePages  int       `json:"activePages"`
	Timestamp    time.Time `json:"timestamp"`
}

// validator is implemented by every request body.
type validator interface {
	Validate() error
}

// work returns a context that carries the request's values but is not
// cancelled when the client goes away. Browser work and evidence uploads run
// to completion once started.
func work(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// decodeRequest decodes and validates the body into dst.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst validator) error {
	if err := decodeJSON(w, r, dst); err != nil {
		return err
	}
	if err := dst.Validate(); err != nil {
		return badRequest(err)
	}
	return nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, detail string) {
	if statusFor(err) >= http.StatusInternalServerError {
		s.log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		s.log.Debugf("%s %s rejected: %v", r.Method, r.URL.Path, err)
	}
	respondError(w, err, detail)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "pageproof",
		"version": s.opts.Version,
		"endpoints": map[string]string{
			"/validate-citation":        "POST - Validate a citation",
			"/batch-validate-citations": "POST - Validate citations concurrently",
			"/verify-deployment":        "POST - Run deployment checks",
			"/visual-regression":        "POST - Compare a page with a baseline screenshot",
			"/screenshot":               "POST - Capture page screenshot",
			"/pdf":                      "POST - Generate PDF",
			"/html":                     "POST - Get page HTML",
			"/interact":                 "POST - Perform page interactions",
			"/test":                     "POST - Run front-end tests",
			"/health":                   "GET - Health check",
			"/metrics":                  "GET - Prometheus metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := s.browser.Ready()
	status := HealthHealthy
	if !ready {
		status = HealthDegraded
	}
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:       status,
		BrowserReady: ready,
		Uptime:       s.browser.Uptime().Seconds(),
		ActivePages:  s.browser.ActivePages(),
		Timestamp:    time.Now().UTC(),
	})
}

func (s *Server) handleValidateCitation(w http.ResponseWriter, r *http.Request) {
	var req citation.Request
	if err := decodeRequest(w, r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}

	res, err := s.deps.Citations.Validate(work(r), req)
	if err != nil {
		s.fail(w, r, err, "Citation validation failed")
		return
	}
	recordCitation(res)
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleBatchValidate(w http.ResponseWriter, r *http.Request) {
	var req citation.BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	if len(req.Citations) == 0 {
		s.fail(w, r, badRequest(errors.New("citations must not be empty")), "")
		return
	}
	for _, c := range req.Citations {
		if err := c.Validate(); err != nil {
			s.fail(w, r, badRequest(err), "")
			return
		}
	}

	res, err := s.deps.Citations.ValidateBatch(work(r), req.Citations)
	if err != nil {
		s.fail(w, r, err, "Batch validation failed")
		return
	}
	for _, member := range res.Results {
		recordCitation(member)
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleVerifyDeployment(w http.ResponseWriter, r *http.Request) {
	var req deploy.Request
	if err := decodeRequest(w, r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}

	res, err := s.deps.Deployments.Verify(work(r), req)
	if err != nil {
		s.fail(w, r, err, "Deployment verification failed")
		return
	}
	recordDeployment(res)
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleVisualRegression(w http.ResponseWriter, r *http.Request) {
	var req deploy.RegressionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}

	res, err := s.deps.Deployments.VisualRegression(work(r), req)
	if err != nil {
		s.fail(w, r, err, "Visual regression failed")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	var req capture.ScreenshotRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}

	res, err := s.deps.Capture.Screenshot(work(r), req)
	if err != nil {
		s.fail(w, r, err, "Screenshot failed")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	var req capture.PDFRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}

	res, err := s.deps.Capture.PDF(work(r), req)
	if err != nil {
		s.fail(w, r, err, "PDF generation failed")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleHTML(w http.ResponseWriter, r *http.Request) {
	var req capture.HTMLRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}

	res, err := s.deps.Capture.HTML(work(r), req)
	if err != nil {
		s.fail(w, r, err, "HTML extraction failed")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleInteract(w http.ResponseWriter, r *http.Request) {
	var req frontend.InteractRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}

	res, err := s.deps.Frontend.Interact(work(r), req)
	if err != nil {
		s.fail(w, r, err, "Interaction failed")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	var req frontend.TestRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}

	res, err := s.deps.Frontend.RunTests(work(r), req)
	if err != nil {
		s.fail(w, r, err, "Front-end tests failed")
		return
	}
	respondJSON(w, http.StatusOK, res)
}
