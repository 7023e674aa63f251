package probe

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/pageproof/pkg/browser"
)

// Text match locations reported by FindText
const (
	LocationExact       = "exact match"
	LocationPartial     = "partial match (case-insensitive)"
	LocationHTMLContent = "found in HTML content"
)

// Defaults for timed probes
const (
	DefaultFontSettle    = 2 * time.Second
	DefaultLayoutWait    = 2 * time.Second
	FontCheckSize        = "16px"
	GoodLayoutShiftLimit = 0.10
	maxPaywallTextLength = 200
)

// Prober answers existence, visibility and content questions about a live page.
// It holds no per-page state and is safe for concurrent use.
type Prober struct {
	indicators    Indicators
	captchaFrames []glob.Glob
	fontSettle    time.Duration
}

// New creates a prober. Empty indicator lists fall back to the defaults.
func New(indicators Indicators) (*Prober, error) {
	indicators = indicators.withDefaults()

	frames := make([]glob.Glob, 0, len(indicators.CaptchaFrames))
	for _, pattern := range indicators.CaptchaFrames {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid captcha frame pattern %q: %w", pattern, err)
		}
		frames = append(frames, g)
	}

	lower := func(in []string) []string {
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = strings.ToLower(s)
		}
		return out
	}
	indicators.Captcha = lower(indicators.Captcha)
	indicators.Paywall = lower(indicators.Paywall)

	return &Prober{
		indicators:    indicators,
		captchaFrames: frames,
		fontSettle:    DefaultFontSettle,
	}, nil
}

// Indicators returns the active indicator sets (lower-cased).
func (p *Prober) Indicators() Indicators {
	return p.indicators
}

// DetectCaptcha reports whether the page shows a CAPTCHA, either in its
// rendered text or through an embedded challenge frame.
func (p *Prober) DetectCaptcha(page browser.Page) (bool, error) {
	text, err := page.InnerText()
	if err != nil {
		return false, err
	}
	lowered := strings.ToLower(text)
	for _, indicator := range p.indicators.Captcha {
		if strings.Contains(lowered, indicator) {
			return true, nil
		}
	}

	for _, frameURL := range page.FrameURLs() {
		u := strings.ToLower(frameURL)
		for _, g := range p.captchaFrames {
			if g.Match(u) {
				return true, nil
			}
		}
	}
	return false, nil
}

// PaywallFinding is the outcome of a paywall probe.
type PaywallFinding struct {
	Detected bool
	Text     string
}

// DetectPaywall looks for the first paywall indicator in the rendered text.
// The reported text is the innermost element carrying the phrase, or the
// phrase itself when no element can be located.
func (p *Prober) DetectPaywall(page browser.Page) (PaywallFinding, error) {
	text, err := page.InnerText()
	if err != nil {
		return PaywallFinding{}, err
	}
	lowered := strings.ToLower(text)

	for _, indicator := range p.indicators.Paywall {
		if !strings.Contains(lowered, indicator) {
			continue
		}
		finding := PaywallFinding{Detected: true, Text: indicator}
		if html, err := page.Content(); err == nil {
			if elementText := matchingElementText(html, indicator); elementText != "" {
				finding.Text = truncate(elementText, maxPaywallTextLength)
			}
		}
		return finding, nil
	}
	return PaywallFinding{}, nil
}

// TextMatch is the outcome of an expected-text search.
type TextMatch struct {
	Found    bool
	Location string
}

// FindText searches for expected in three tiers: exact rendered text,
// case-insensitive rendered text, then case-insensitive raw HTML.
func (p *Prober) FindText(page browser.Page, expected string) (TextMatch, error) {
	text, err := page.InnerText()
	if err != nil {
		return TextMatch{}, err
	}

	if strings.Contains(text, expected) {
		return TextMatch{Found: true, Location: LocationExact}, nil
	}

	pattern, err := regexp.Compile("(?i)" + regexp.QuoteMeta(expected))
	if err != nil {
		return TextMatch{}, fmt.Errorf("invalid expected text: %w", err)
	}
	if pattern.MatchString(text) {
		return TextMatch{Found: true, Location: LocationPartial}, nil
	}

	html, err := page.Content()
	if err != nil {
		return TextMatch{}, err
	}
	if strings.Contains(strings.ToLower(html), strings.ToLower(expected)) {
		return TextMatch{Found: true, Location: LocationHTMLContent}, nil
	}

	return TextMatch{Found: false}, nil
}

// ImageReport summarizes image load state.
type ImageReport struct {
	Total        int
	Loaded       int
	FailedImages []string
}

// CheckImages evaluates every image for completion and a non-zero natural width.
func (p *Prober) CheckImages(page browser.Page) (ImageReport, error) {
	raw, err := page.Evaluate(ImagesScript, nil)
	if err != nil {
		return ImageReport{}, err
	}

	items, _ := raw.([]interface{})
	report := ImageReport{Total: len(items), FailedImages: []string{}}
	for _, item := range items {
		img, _ := item.(map[string]interface{})
		complete, _ := img["complete"].(bool)
		if complete && toFloat(img["naturalWidth"]) > 0 {
			report.Loaded++
			continue
		}
		src, _ := img["src"].(string)
		if src == "" {
			src = "unknown"
		}
		report.FailedImages = append(report.FailedImages, src)
	}
	return report, nil
}

// CheckFont waits for fonts to settle, then asks whether family is available.
// No fallback matching is attempted.
func (p *Prober) CheckFont(page browser.Page, family string) (bool, error) {
	page.Wait(p.fontSettle)
	raw, err := page.Evaluate(FontCheckScript, family)
	if err != nil {
		return false, err
	}
	available, _ := raw.(bool)
	return available, nil
}

// MeasureLayoutShift observes layout shifts for wait (plus a flush window)
// and returns the cumulative score.
func (p *Prober) MeasureLayoutShift(page browser.Page, wait time.Duration) (float64, error) {
	if wait <= 0 {
		wait = DefaultLayoutWait
	}
	raw, err := page.Evaluate(LayoutShiftScript, wait.Milliseconds())
	if err != nil {
		return 0, err
	}
	return toFloat(raw), nil
}

// ComputedStyles returns the tracked computed styles of the first element
// matching selector. found is false when no element matches.
func (p *Prober) ComputedStyles(page browser.Page, selector string) (styles map[string]string, found bool, err error) {
	raw, err := page.Evaluate(ComputedStylesScript, selector)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	values, ok := raw.(map[string]interface{})
	if !ok {
		return nil, false, fmt.Errorf("unexpected computed style result %T", raw)
	}
	styles = make(map[string]string, len(values))
	for key, value := range values {
		styles[key] = fmt.Sprint(value)
	}
	return styles, true, nil
}

// Metrics are page timing measurements in milliseconds.
type Metrics struct {
	DOMContentLoaded     float64 `json:"domContentLoaded"`
	LoadComplete         float64 `json:"loadComplete"`
	FirstContentfulPaint float64 `json:"firstContentfulPaint"`
	LoadTime             float64 `json:"loadTime"`
}

// PerformanceMetrics reads Navigation Timing and paint entries.
func (p *Prober) PerformanceMetrics(page browser.Page) (Metrics, error) {
	raw, err := page.Evaluate(PerformanceScript, nil)
	if err != nil {
		return Metrics{}, err
	}
	values, _ := raw.(map[string]interface{})
	return Metrics{
		DOMContentLoaded:     toFloat(values["domContentLoaded"]),
		LoadComplete:         toFloat(values["loadComplete"]),
		FirstContentfulPaint: toFloat(values["firstContentfulPaint"]),
		LoadTime:             toFloat(values["loadTime"]),
	}, nil
}
