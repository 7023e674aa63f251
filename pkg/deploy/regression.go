package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/pageproof/pkg/browser"
	"github.com/entrhq/pageproof/pkg/evidence"
	"github.com/entrhq/pageproof/pkg/imagediff"
	"github.com/entrhq/pageproof/pkg/telemetry"
)

// VisualRegression loads the page at the request's viewport, stores a
// full-page capture and, when a baseline is given, compares the two.
// Without a baseline the result passes with zero difference.
func (v *Verifier) VisualRegression(ctx context.Context, req RegressionRequest) (*RegressionResult, error) {
	if !v.opener.Ready() {
		return nil, browser.ErrNotInitialized
	}

	ctx, span := telemetry.StartSpan(ctx, "deploy.visual_regression", telemetry.AttrURL.String(req.URL))
	defer span.End()

	res, err := v.visualRegression(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		v.log.Errorf("visual regression of %s failed: %v", req.URL, err)
		return nil, err
	}

	v.log.Infof("%s visual regression passed=%v difference=%.4f", req.URL, res.Passed, res.PixelDifference)
	return res, nil
}

func (v *Verifier) visualRegression(ctx context.Context, req RegressionRequest) (*RegressionResult, error) {
	page, err := v.opener.OpenPage(browser.PageOptions{Viewport: req.Viewport.OrDefault()})
	if err != nil {
		return nil, err
	}
	defer v.release(page, req.URL)

	if _, err := page.Navigate(req.URL, browser.NavigateOptions{
		WaitUntil: browser.WaitNetworkIdle,
		Timeout:   v.opts.NavigationTimeout,
	}); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", req.URL, err)
	}

	shot, err := page.Screenshot(browser.ScreenshotOptions{FullPage: true, Format: browser.FormatPNG})
	if err != nil {
		return nil, fmt.Errorf("failed to capture %s: %w", req.URL, err)
	}

	threshold := req.threshold()
	if req.BaselineScreenshot == "" {
		currentURL, err := v.sink.Upload(ctx, shot, evidence.FolderVisualRegression)
		if err != nil {
			return nil, fmt.Errorf("failed to store current screenshot: %w", err)
		}
		return &RegressionResult{
			Passed:               true,
			Threshold:            threshold,
			CurrentScreenshotURL: currentURL,
			DifferencesFound:     []imagediff.Region{},
			Timestamp:            time.Now().UTC(),
		}, nil
	}

	return v.compare(ctx, shot, req.BaselineScreenshot, threshold)
}

// compare stores the current capture, scores it against the baseline at
// baselineURL and stores the diff image.
func (v *Verifier) compare(ctx context.Context, current []byte, baselineURL string, threshold float64) (*RegressionResult, error) {
	currentURL, err := v.sink.Upload(ctx, current, evidence.FolderVisualRegression)
	if err != nil {
		return nil, fmt.Errorf("failed to store current screenshot: %w", err)
	}

	baseline, err := v.fetcher.Fetch(ctx, baselineURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch baseline %s: %w", baselineURL, err)
	}

	cmp, err := v.comparator.Compare(baseline, current, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to compare with baseline: %w", err)
	}

	res := &RegressionResult{
		Passed:               cmp.DifferenceRatio <= threshold,
		PixelDifference:      cmp.DifferenceRatio,
		Threshold:            threshold,
		CurrentScreenshotURL: currentURL,
		BaselineScreenshot:   baselineURL,
		DifferencesFound:     cmp.Differences,
		Timestamp:            time.Now().UTC(),
	}
	if res.DifferencesFound == nil {
		res.DifferencesFound = []imagediff.Region{}
	}

	if len(cmp.DiffImage) > 0 {
		diffURL, err := v.sink.Upload(ctx, cmp.DiffImage, evidence.FolderVisualRegression)
		if err != nil {
			return nil, fmt.Errorf("failed to store diff image: %w", err)
		}
		res.DiffImageURL = diffURL
	}

	return res, nil
}
