// Package deploy verifies that a deployed page renders correctly: assets are
// loaded, layout is stable, and the page looks like its baseline.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/pageproof/pkg/browser"
	"github.com/entrhq/pageproof/pkg/evidence"
	"github.com/entrhq/pageproof/pkg/imagediff"
	"github.com/entrhq/pageproof/pkg/logging"
	"github.com/entrhq/pageproof/pkg/probe"
	"github.com/entrhq/pageproof/pkg/telemetry"
)

// Options tunes a Verifier.
type Options struct {
	// NavigationTimeout bounds each page load (0 = browser default)
	NavigationTimeout time.Duration

	// Fetcher retrieves baseline images (default NewHTTPFetcher)
	Fetcher Fetcher

	// Comparator scores visual differences (default imagediff.NewPixelComparator)
	Comparator imagediff.Comparator
}

// Verifier runs deployment checks and visual regressions against pages
// borrowed from a shared browser. It is safe for concurrent use.
type Verifier struct {
	opener     browser.Opener
	prober     *probe.Prober
	sink       evidence.Sink
	fetcher    Fetcher
	comparator imagediff.Comparator
	log        *logging.Logger
	opts       Options
}

// NewVerifier creates a verifier.
func NewVerifier(opener browser.Opener, prober *probe.Prober, sink evidence.Sink, log *logging.Logger, opts Options) *Verifier {
	v := &Verifier{
		opener:     opener,
		prober:     prober,
		sink:       sink,
		fetcher:    opts.Fetcher,
		comparator: opts.Comparator,
		log:        log.With("deploy"),
		opts:       opts,
	}
	if v.fetcher == nil {
		v.fetcher = NewHTTPFetcher(0)
	}
	if v.comparator == nil {
		v.comparator = imagediff.NewPixelComparator()
	}
	return v
}

// Verify loads the page once and runs every check in order. A failing check
// never skips later ones. Navigation and evidence faults fail the whole
// request; any other fault only fails the check it happened in.
func (v *Verifier) Verify(ctx context.Context, req Request) (*Result, error) {
	if !v.opener.Ready() {
		return nil, browser.ErrNotInitialized
	}

	ctx, span := telemetry.StartSpan(ctx, "deploy.verify",
		telemetry.AttrURL.String(req.URL),
		telemetry.AttrCheckCount.Int(len(req.Checks)),
	)
	defer span.End()

	res, err := v.verify(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		v.log.Errorf("verification of %s failed: %v", req.URL, err)
		return nil, err
	}

	telemetry.SetAttributes(ctx, telemetry.AttrStatus.String(res.Status))
	v.log.Infof("%s -> %s (%d checks)", req.URL, res.Status, len(res.Checks))
	return res, nil
}

func (v *Verifier) verify(ctx context.Context, req Request) (*Result, error) {
	page, err := v.opener.OpenPage(browser.PageOptions{})
	if err != nil {
		return nil, err
	}
	defer v.release(page, req.URL)

	nav, err := page.Navigate(req.URL, browser.NavigateOptions{
		WaitUntil: browser.WaitNetworkIdle,
		Timeout:   v.opts.NavigationTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", req.URL, err)
	}

	res := &Result{
		URL:        req.URL,
		HTTPStatus: nav.HTTPStatus,
		Checks:     make([]CheckResult, 0, len(req.Checks)),
		Timestamp:  time.Now().UTC(),
	}

	metrics, metricsErr := v.prober.PerformanceMetrics(page)
	if metricsErr != nil {
		v.log.Warnf("performance metrics unavailable for %s: %v", req.URL, metricsErr)
	} else {
		res.Performance = &metrics
	}

	allPassed := true
	for _, spec := range req.Checks {
		check, err := v.runCheck(ctx, page, spec, res.Performance, metricsErr)
		if err != nil {
			return nil, err
		}
		res.Checks = append(res.Checks, check)
		allPassed = allPassed && check.Passed
	}

	res.Status = StatusFailed
	if allPassed {
		res.Status = StatusPassed
	}

	if req.CompareTo != "" {
		shot, err := page.Screenshot(browser.ScreenshotOptions{FullPage: true, Format: browser.FormatPNG})
		if err != nil {
			return nil, fmt.Errorf("failed to capture page for comparison: %w", err)
		}
		cmp, err := v.compare(ctx, shot, req.CompareTo, DefaultThreshold)
		if err != nil {
			return nil, err
		}
		res.Comparison = cmp
	}

	return res, nil
}

// runCheck executes one check in isolation. Only evidence faults are returned
// as errors; everything else becomes a failed check.
func (v *Verifier) runCheck(ctx context.Context, page browser.Page, spec CheckSpec, metrics *probe.Metrics, metricsErr error) (result CheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = CheckResult{Type: spec.Type, Message: fmt.Sprintf("Check failed: %v", r)}
			err = nil
		}
	}()

	_, span := telemetry.StartSpan(ctx, "deploy.check", telemetry.AttrCheckType.String(string(spec.Type)))
	defer span.End()

	switch spec.Type {
	case CheckScreenshot:
		return v.checkScreenshot(ctx, page, spec)
	case CheckCSSLoaded:
		return v.checkCSS(page, spec), nil
	case CheckImagesLoaded:
		return v.checkImages(page, spec), nil
	case CheckFontsLoaded:
		return v.checkFonts(page, spec), nil
	case CheckLayoutStable:
		return v.checkLayout(page, spec), nil
	case CheckPerformance:
		return checkPerformance(spec, metrics, metricsErr), nil
	}
	return CheckResult{Type: spec.Type, Message: fmt.Sprintf("Unknown check type: %s", spec.Type)}, nil
}

func (v *Verifier) checkScreenshot(ctx context.Context, page browser.Page, spec CheckSpec) (CheckResult, error) {
	result := CheckResult{Type: CheckScreenshot}

	if spec.Viewport != nil {
		if err := page.SetViewport(spec.Viewport.OrDefault()); err != nil {
			result.Message = fmt.Sprintf("Failed to resize viewport: %v", err)
			return result, nil
		}
		// Later checks see the page at its original size
		defer func() {
			if err := page.SetViewport(browser.Viewport{Width: browser.DefaultViewportWidth, Height: browser.DefaultViewportHeight}); err != nil {
				v.log.Warnf("failed to restore viewport: %v", err)
			}
		}()
	}

	shot, err := page.Screenshot(browser.ScreenshotOptions{
		Selector: spec.Selector,
		FullPage: spec.Selector == "",
		Format:   browser.FormatPNG,
	})
	if err != nil {
		result.Message = fmt.Sprintf("Screenshot failed: %v", err)
		return result, nil
	}

	url, err := v.sink.Upload(ctx, shot, evidence.FolderDeployments)
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to store deployment screenshot: %w", err)
	}

	result.Passed = true
	result.Message = "Screenshot captured"
	result.ScreenshotURL = url
	return result, nil
}

func (v *Verifier) checkCSS(page browser.Page, spec CheckSpec) CheckResult {
	result := CheckResult{Type: CheckCSSLoaded}
	if spec.Selector == "" {
		result.Message = "selector is required for css_loaded check"
		return result
	}

	styles, found, err := v.prober.ComputedStyles(page, spec.Selector)
	if err != nil {
		result.Message = fmt.Sprintf("CSS check failed: %v", err)
		return result
	}
	if !found {
		result.Message = fmt.Sprintf("No elements found matching selector: %s", spec.Selector)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("CSS loaded for %s", spec.Selector)
	result.ComputedStyles = styles
	return result
}

func (v *Verifier) checkImages(page browser.Page, spec CheckSpec) CheckResult {
	result := CheckResult{Type: CheckImagesLoaded}
	minCount := 1
	if spec.MinCount != nil {
		minCount = *spec.MinCount
	}

	report, err := v.prober.CheckImages(page)
	if err != nil {
		result.Message = fmt.Sprintf("Image check failed: %v", err)
		return result
	}

	result.ImagesFound = &report.Total
	result.ImagesLoaded = &report.Loaded
	result.FailedImages = report.FailedImages
	result.Passed = report.Loaded >= minCount
	result.Message = fmt.Sprintf("%d/%d images loaded (minimum %d)", report.Loaded, report.Total, minCount)
	return result
}

func (v *Verifier) checkFonts(page browser.Page, spec CheckSpec) CheckResult {
	result := CheckResult{Type: CheckFontsLoaded}
	if spec.FontFamily == "" {
		result.Message = "fontFamily is required for fonts_loaded check"
		return result
	}

	available, err := v.prober.CheckFont(page, spec.FontFamily)
	if err != nil {
		result.Message = fmt.Sprintf("Font check failed: %v", err)
		return result
	}

	result.Passed = available
	if available {
		result.Message = fmt.Sprintf("Font %q loaded", spec.FontFamily)
	} else {
		result.Message = fmt.Sprintf("Font %q not available", spec.FontFamily)
	}
	return result
}

func (v *Verifier) checkLayout(page browser.Page, spec CheckSpec) CheckResult {
	result := CheckResult{Type: CheckLayoutStable}
	wait := time.Duration(spec.WaitTime) * time.Millisecond

	cls, err := v.prober.MeasureLayoutShift(page, wait)
	if err != nil {
		result.Message = fmt.Sprintf("Layout check failed: %v", err)
		return result
	}

	result.CumulativeLayoutShift = &cls
	result.Passed = cls < probe.GoodLayoutShiftLimit
	if result.Passed {
		result.Message = fmt.Sprintf("Layout stable (CLS: %.3f)", cls)
	} else {
		result.Message = fmt.Sprintf("Layout unstable (CLS: %.3f, limit %.2f)", cls, probe.GoodLayoutShiftLimit)
	}
	return result
}

func checkPerformance(spec CheckSpec, metrics *probe.Metrics, metricsErr error) CheckResult {
	result := CheckResult{Type: CheckPerformance}
	if metrics == nil {
		if metricsErr == nil {
			metricsErr = errors.New("no timing data")
		}
		result.Message = fmt.Sprintf("Performance metrics unavailable: %v", metricsErr)
		return result
	}

	loadTime := metrics.LoadTime
	result.LoadTime = &loadTime
	if spec.MaxLoadTime > 0 && loadTime > spec.MaxLoadTime {
		result.Message = fmt.Sprintf("Load time %.0fms exceeds %.0fms", loadTime, spec.MaxLoadTime)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Page loaded in %.0fms", loadTime)
	return result
}

func (v *Verifier) release(page browser.Page, url string) {
	if err := page.Release(); err != nil {
		v.log.Warnf("failed to release page for %s: %v", url, err)
	}
}
