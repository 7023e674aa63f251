// Package citation decides whether a cited URL still supports the claim made
// about it: the page loads, is not blocked by a CAPTCHA or paywall, and still
// carries the expected text.
package citation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/pageproof/pkg/browser"
	"github.com/entrhq/pageproof/pkg/evidence"
	"github.com/entrhq/pageproof/pkg/logging"
	"github.com/entrhq/pageproof/pkg/probe"
	"github.com/entrhq/pageproof/pkg/telemetry"
)

// Options tunes a Validator.
type Options struct {
	// MaxConcurrency bounds concurrent batch members (0 = unbounded)
	MaxConcurrency int

	// NavigationTimeout bounds each page load (0 = browser default)
	NavigationTimeout time.Duration
}

// Validator runs the citation state machine against pages borrowed from a
// shared browser. It keeps no per-request state and is safe for concurrent use.
type Validator struct {
	opener browser.Opener
	prober *probe.Prober
	sink   evidence.Sink
	log    *logging.Logger
	opts   Options
}

// NewValidator creates a validator.
func NewValidator(opener browser.Opener, prober *probe.Prober, sink evidence.Sink, log *logging.Logger, opts Options) *Validator {
	return &Validator{
		opener: opener,
		prober: prober,
		sink:   sink,
		log:    log.With("citation"),
		opts:   opts,
	}
}

// Validate classifies a single citation.
//
// Operational faults (navigation errors, probe failures) are reported as
// StatusError in the result. The returned error is reserved for faults that
// fail the request as a whole: an uninitialized browser or lost evidence.
func (v *Validator) Validate(ctx context.Context, req Request) (*Result, error) {
	if !v.opener.Ready() {
		return nil, browser.ErrNotInitialized
	}

	ctx, span := telemetry.StartSpan(ctx, "citation.validate", telemetry.AttrURL.String(req.URL))
	defer span.End()

	start := time.Now()
	res := &Result{URL: req.URL, Timestamp: start.UTC()}

	err := v.run(ctx, req, res)
	res.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		telemetry.RecordError(ctx, err)
		v.log.Errorf("validation of %s failed: %v", req.URL, err)
		return nil, err
	}

	telemetry.SetAttributes(ctx,
		telemetry.AttrStatus.String(string(res.Status)),
		telemetry.AttrHTTPStatus.Int(res.HTTPStatus),
	)
	v.log.Infof("%s -> %s (http %d, %dms)", req.URL, res.Status, res.HTTPStatus, res.ResponseTimeMs)
	return res, nil
}

func (v *Validator) run(ctx context.Context, req Request, res *Result) error {
	page, err := v.opener.OpenPage(browser.PageOptions{})
	if err != nil {
		if errors.Is(err, browser.ErrNotInitialized) {
			return err
		}
		res.fail(err)
		return nil
	}
	defer func() {
		if err := page.Release(); err != nil {
			v.log.Warnf("failed to release page for %s: %v", req.URL, err)
		}
	}()

	nav, err := page.Navigate(req.URL, browser.NavigateOptions{
		WaitUntil: browser.WaitNetworkIdle,
		Timeout:   v.opts.NavigationTimeout,
	})
	if err != nil {
		res.fail(err)
		return nil
	}
	res.HTTPStatus = nav.HTTPStatus
	res.PageTitle = nav.Title

	if nav.HTTPStatus >= 400 {
		res.Status = StatusNotFound
		return nil
	}

	captcha, err := v.prober.DetectCaptcha(page)
	if err != nil {
		res.fail(fmt.Errorf("captcha check failed: %w", err))
		return nil
	}
	if captcha {
		res.CaptchaDetected = true
		res.Status = StatusCaptcha
		return nil
	}

	if req.paywall() {
		finding, err := v.prober.DetectPaywall(page)
		if err != nil {
			res.fail(fmt.Errorf("paywall check failed: %w", err))
			return nil
		}
		res.PaywallDetected = finding.Detected
		res.PaywallText = finding.Text
	}

	if req.ExpectedText != "" {
		match, err := v.prober.FindText(page, req.ExpectedText)
		if err != nil {
			res.fail(fmt.Errorf("text search failed: %w", err))
			return nil
		}
		found := match.Found
		res.TextFound = &found
		res.TextLocation = match.Location
	}

	if req.screenshot() {
		shot, err := page.Screenshot(browser.ScreenshotOptions{FullPage: true, Format: browser.FormatPNG})
		if err != nil {
			res.fail(fmt.Errorf("screenshot failed: %w", err))
			return nil
		}
		url, err := v.sink.Upload(ctx, shot, evidence.FolderCitations)
		if err != nil {
			return fmt.Errorf("failed to store citation screenshot: %w", err)
		}
		res.ScreenshotURL = url
	}

	switch {
	case res.PaywallDetected:
		res.Status = StatusPaywall
	case res.TextFound != nil && !*res.TextFound:
		res.Status = StatusTextNotFound
	default:
		res.Status = StatusValid
	}
	return nil
}

// fail marks the result as an operational error. Findings recorded by earlier
// steps are dropped so only fields meaningful for StatusError remain.
func (r *Result) fail(err error) {
	r.Status = StatusError
	r.ErrorMessage = err.Error()
	r.TextFound = nil
	r.TextLocation = ""
	r.PaywallDetected = false
	r.PaywallText = ""
	r.ScreenshotURL = ""
}

// ValidateBatch validates every request concurrently. Results are returned in
// request order. A member that fails as a whole fails the batch; every other
// member still runs to completion.
func (v *Validator) ValidateBatch(ctx context.Context, reqs []Request) (*BatchResult, error) {
	if !v.opener.Ready() {
		return nil, browser.ErrNotInitialized
	}

	ctx, span := telemetry.StartSpan(ctx, "citation.validate_batch", telemetry.AttrBatchSize.Int(len(reqs)))
	defer span.End()

	results := make([]*Result, len(reqs))

	var g errgroup.Group
	if v.opts.MaxConcurrency > 0 {
		g.SetLimit(v.opts.MaxConcurrency)
	}
	for i, req := range reqs {
		g.Go(func() error {
			res, err := v.Validate(ctx, req)
			if err != nil {
				return fmt.Errorf("citation %d (%s): %w", i, req.URL, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	return &BatchResult{Total: len(results), Results: results}, nil
}
