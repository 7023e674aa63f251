// Package frontend drives pages through scripted interactions and runs DOM
// assertions against them.
package frontend

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/pageproof/pkg/browser"
	"github.com/entrhq/pageproof/pkg/evidence"
	"github.com/entrhq/pageproof/pkg/logging"
	"github.com/entrhq/pageproof/pkg/telemetry"
)

// MaxWait bounds a single wait action.
const MaxWait = 60 * time.Second

// Options tunes a Runner.
type Options struct {
	NavigationTimeout time.Duration
}

// Runner executes interaction scripts and DOM tests, one page per call.
type Runner struct {
	opener browser.Opener
	sink   evidence.Sink
	log    *logging.Logger
	opts   Options
}

// NewRunner creates a runner.
func NewRunner(opener browser.Opener, sink evidence.Sink, log *logging.Logger, opts Options) *Runner {
	return &Runner{
		opener: opener,
		sink:   sink,
		log:    log.With("frontend"),
		opts:   opts,
	}
}

// Interact loads the page and executes the actions in order. A failing
// action is reported and stops the script; the remaining actions are not
// run. Navigation and evidence faults are returned as errors.
func (r *Runner) Interact(ctx context.Context, req InteractRequest) (*InteractResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "frontend.interact", telemetry.AttrURL.String(req.URL))
	defer span.End()

	page, err := r.open(req.URL, req.Viewport, req.WaitUntil)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	defer r.release(page, req.URL)

	res := &InteractResult{URL: req.URL, Success: true, Results: make([]ActionResult, 0, len(req.Actions))}
	for _, action := range req.Actions {
		result := r.perform(page, action)
		res.Results = append(res.Results, result)
		if !result.Success {
			res.Success = false
			r.log.Warnf("%s action on %s failed: %s", action.Type, req.URL, result.Error)
			break
		}
	}
	res.ActionsExecuted = len(res.Results)

	if req.ScreenshotAfter == nil || *req.ScreenshotAfter {
		shot, err := page.Screenshot(browser.ScreenshotOptions{FullPage: true, Format: browser.FormatPNG})
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, fmt.Errorf("failed to capture %s: %w", req.URL, err)
		}
		url, err := r.sink.Upload(ctx, shot, evidence.FolderInteractions)
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, fmt.Errorf("failed to store screenshot: %w", err)
		}
		res.ScreenshotURL = url
	}

	res.Timestamp = time.Now().UTC()
	r.log.Infof("%s: %d actions executed, success=%v", req.URL, res.ActionsExecuted, res.Success)
	return res, nil
}

func (r *Runner) perform(page browser.Page, action Action) ActionResult {
	result := ActionResult{Action: action.Type, Selector: action.Selector}

	var err error
	switch action.Type {
	case ActionClick:
		err = page.Click(action.Selector)
	case ActionFill:
		result.Value = string(action.Value)
		err = page.Fill(action.Selector, result.Value)
	case ActionSelect:
		result.Value = string(action.Value)
		err = page.SelectOption(action.Selector, result.Value)
	case ActionWait:
		result.Selector = ""
		var ms int
		ms, err = parseWait(action.Value)
		if err == nil {
			page.Wait(time.Duration(ms) * time.Millisecond)
			result.DurationMs = &ms
		}
	default:
		result.Selector = ""
		result.Error = "Unknown action type"
		return result
	}

	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

// parseWait reads a millisecond count. Fractional numbers are truncated.
func parseWait(value ActionValue) (int, error) {
	ms, err := strconv.Atoi(string(value))
	if err != nil {
		f, ferr := strconv.ParseFloat(string(value), 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
			return 0, fmt.Errorf("invalid wait duration %q", value)
		}
		ms = int(f)
	}
	if ms < 0 || int64(ms) > MaxWait.Milliseconds() {
		return 0, fmt.Errorf("wait duration %dms out of range (0-%d)", ms, MaxWait.Milliseconds())
	}
	return ms, nil
}

// RunTests loads the page and evaluates every assertion. A fault in one
// assertion fails only that assertion.
func (r *Runner) RunTests(ctx context.Context, req TestRequest) (*TestReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "frontend.test",
		telemetry.AttrURL.String(req.URL),
		telemetry.AttrCheckCount.Int(len(req.Tests)),
	)
	defer span.End()

	page, err := r.open(req.URL, req.Viewport, browser.WaitNetworkIdle)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	defer r.release(page, req.URL)

	report := &TestReport{URL: req.URL, TotalTests: len(req.Tests), Results: make([]TestResult, 0, len(req.Tests))}
	for _, tc := range req.Tests {
		result := r.assert(page, tc)
		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}
	report.Success = report.Failed == 0
	report.Timestamp = time.Now().UTC()

	telemetry.SetAttributes(ctx, telemetry.AttrStatus.Bool(report.Success))
	r.log.Infof("%s: %d/%d tests passed", req.URL, report.Passed, report.TotalTests)
	return report, nil
}

func (r *Runner) assert(page browser.Page, tc TestCase) (result TestResult) {
	result = TestResult{Test: tc.Type, Selector: tc.Selector}
	defer func() {
		if p := recover(); p != nil {
			result.Passed = false
			result.Error = fmt.Sprintf("test panicked: %v", p)
		}
	}()

	switch tc.Type {
	case TestExists:
		ok, err := page.Exists(tc.Selector)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.Passed = ok

	case TestVisible:
		ok, err := page.Visible(tc.Selector)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.Passed = ok

	case TestText:
		result.Expected = tc.Expected
		text, found, err := page.ElementText(tc.Selector)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		if !found {
			result.Error = "Element not found"
			return result
		}
		result.Actual = &text
		result.Passed = strings.Contains(text, tc.Expected)

	default:
		result.Error = fmt.Sprintf("Unknown test type: %s", tc.Type)
	}
	return result
}

func (r *Runner) open(url string, viewport *browser.Viewport, waitUntil browser.WaitUntil) (browser.Page, error) {
	if !r.opener.Ready() {
		return nil, browser.ErrNotInitialized
	}

	page, err := r.opener.OpenPage(browser.PageOptions{Viewport: viewport.OrDefault()})
	if err != nil {
		return nil, err
	}

	if waitUntil == "" {
		waitUntil = browser.WaitNetworkIdle
	}
	if _, err := page.Navigate(url, browser.NavigateOptions{
		WaitUntil: waitUntil,
		Timeout:   r.opts.NavigationTimeout,
	}); err != nil {
		r.release(page, url)
		return nil, fmt.Errorf("failed to load %s: %w", url, err)
	}
	return page, nil
}

func (r *Runner) release(page browser.Page, url string) {
	if err := page.Release(); err != nil {
		r.log.Warnf("failed to release page for %s: %v", url, err)
	}
}
