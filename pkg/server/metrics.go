package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/pageproof/pkg/citation"
	"github.com/entrhq/pageproof/pkg/deploy"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pageproof",
		Name:      "http_requests_total",
		Help:      "HTTP requests served, by route and status code.",
	}, []string{"route", "code"})
	metricRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pageproof",
		Name:      "http_request_duration_seconds",
		Help:      "Time spent serving HTTP requests, by route.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"route"})
	metricCitations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pageproof",
		Name:      "citations_total",
		Help:      "Citations classified, by final status.",
	}, []string{"status"})
	metricDeployChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pageproof",
		Name:      "deployment_checks_total",
		Help:      "Deployment checks run, by type and outcome.",
	}, []string{"type", "passed"})
	metricBrowserReady = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pageproof",
		Name:      "browser_ready",
		Help:      "1 when the shared browser is running.",
	})
	metricActivePages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pageproof",
		Name:      "browser_active_pages",
		Help:      "Pages currently open on the shared browser.",
	})
)

func recordCitation(res *citation.Result) {
	if res != nil {
		metricCitations.WithLabelValues(string(res.Status)).Inc()
	}
}

func recordDeployment(res *deploy.Result) {
	if res == nil {
		return
	}
	for _, check := range res.Checks {
		metricDeployChecks.WithLabelValues(string(check.Type), strconv.FormatBool(check.Passed)).Inc()
	}
}

func (s *Server) refreshBrowserGauges() {
	if s.browser == nil {
		return
	}
	ready := 0.0
	if s.browser.Ready() {
		ready = 1
	}
	metricBrowserReady.Set(ready)
	metricActivePages.Set(float64(s.browser.ActivePages()))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.refreshBrowserGauges()
	promhttp.Handler().ServeHTTP(w, r)
}

// instrument records request counts and latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metricRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		metricRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
