package deploy

import (
	"fmt"
	"time"

	"github.com/entrhq/pageproof/pkg/browser"
	"github.com/entrhq/pageproof/pkg/imagediff"
	"github.com/entrhq/pageproof/pkg/probe"
)

// CheckType names one kind of deployment check.
type CheckType string

const (
	CheckScreenshot   CheckType = "screenshot"
	CheckCSSLoaded    CheckType = "css_loaded"
	CheckImagesLoaded CheckType = "images_loaded"
	CheckFontsLoaded  CheckType = "fonts_loaded"
	CheckLayoutStable CheckType = "layout_stable"
	CheckPerformance  CheckType = "performance"
)

// Aggregate statuses of a verification
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// DefaultThreshold is the visual difference ratio tolerated when a request
// does not set one.
const DefaultThreshold = 0.1

// CheckSpec describes one check. Which parameters apply depends on Type:
//
//   - screenshot: Selector (element capture), Viewport (resize before capture)
//   - css_loaded: Selector (required). Passes when a matching element exists;
//     the computed styles are reported but not asserted.
//   - images_loaded: MinCount (default 1)
//   - fonts_loaded: FontFamily (required)
//   - layout_stable: WaitTime in milliseconds (default 2000)
//   - performance: MaxLoadTime in milliseconds (0 = no limit)
type CheckSpec struct {
	Type        CheckType         `json:"type"`
	Selector    string            `json:"selector,omitempty"`
	Viewport    *browser.Viewport `json:"viewport,omitempty"`
	MinCount    *int              `json:"minCount,omitempty"`
	FontFamily  string            `json:"fontFamily,omitempty"`
	WaitTime    int               `json:"waitTime,omitempty"`
	MaxLoadTime float64           `json:"maxLoadTime,omitempty"`
}

// CheckResult is the outcome of one check. Only the payload fields of the
// check's type are set.
type CheckResult struct {
	Type    CheckType `json:"type"`
	Passed  bool      `json:"passed"`
	Message string    `json:"message"`

	ComputedStyles        map[string]string `json:"computedStyles,omitempty"`
	ImagesFound           *int              `json:"imagesFound,omitempty"`
	ImagesLoaded          *int              `json:"imagesLoaded,omitempty"`
	FailedImages          []string          `json:"failedImages,omitempty"`
	CumulativeLayoutShift *float64          `json:"cumulativeLayoutShift,omitempty"`
	LoadTime              *float64          `json:"loadTime,omitempty"`
	ScreenshotURL         string            `json:"screenshotUrl,omitempty"`
}

// Request asks for a page to be verified with an ordered list of checks.
type Request struct {
	URL    string      `json:"url"`
	Checks []CheckSpec `json:"checks"`

	// CompareTo is the URL of a baseline image the loaded page is compared with
	CompareTo string `json:"compareTo,omitempty"`
}

// Validate checks the request is well formed.
func (r Request) Validate() error {
	if err := browser.ValidateURL(r.URL); err != nil {
		return err
	}
	if r.CompareTo != "" {
		if err := browser.ValidateURL(r.CompareTo); err != nil {
			return fmt.Errorf("compareTo: %w", err)
		}
	}
	return nil
}

// Result is the outcome of a verification. Status is StatusPassed only when
// every check passed. The comparison, when requested, is informational and
// does not affect Status.
type Result struct {
	URL         string            `json:"url"`
	Status      string            `json:"status"`
	HTTPStatus  int               `json:"httpStatus"`
	Checks      []CheckResult     `json:"checks"`
	Performance *probe.Metrics    `json:"performance,omitempty"`
	Comparison  *RegressionResult `json:"comparison,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// RegressionRequest asks for a page to be compared against a baseline image.
type RegressionRequest struct {
	URL                string            `json:"url"`
	BaselineScreenshot string            `json:"baselineScreenshot,omitempty"`
	Threshold          *float64          `json:"threshold,omitempty"`
	Viewport           *browser.Viewport `json:"viewport,omitempty"`
}

// Validate checks the request is well formed.
func (r RegressionRequest) Validate() error {
	if err := browser.ValidateURL(r.URL); err != nil {
		return err
	}
	if r.BaselineScreenshot != "" {
		if err := browser.ValidateURL(r.BaselineScreenshot); err != nil {
			return fmt.Errorf("baselineScreenshot: %w", err)
		}
	}
	if r.Threshold != nil && (*r.Threshold < 0 || *r.Threshold > 1) {
		return fmt.Errorf("threshold must be between 0 and 1, got %v", *r.Threshold)
	}
	return nil
}

func (r RegressionRequest) threshold() float64 {
	if r.Threshold == nil {
		return DefaultThreshold
	}
	return *r.Threshold
}

// RegressionResult is the outcome of a visual comparison.
type RegressionResult struct {
	Passed               bool               `json:"passed"`
	PixelDifference      float64            `json:"pixelDifference"`
	Threshold            float64            `json:"threshold"`
	DiffImageURL         string             `json:"diffImageUrl,omitempty"`
	CurrentScreenshotURL string             `json:"currentScreenshotUrl"`
	BaselineScreenshot   string             `json:"baselineScreenshot,omitempty"`
	DifferencesFound     []imagediff.Region `json:"differencesFound"`
	Timestamp            time.Time          `json:"timestamp"`
}
