package browser

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	// ErrNotInitialized is returned when a page is requested from an engine that
	// has not been started or has already been shut down.
	ErrNotInitialized = errors.New("browser not initialized")

	// ErrInvalidURL is returned for targets that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid url")
)

// ValidateURL checks that raw is an absolute http or https URL.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// OrDefault returns v, or the default viewport when either dimension is unset.
func (v *Viewport) OrDefault() Viewport {
	if v == nil || v.Width <= 0 || v.Height <= 0 {
		return Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	return *v
}

// WaitUntil is the readiness policy used to decide a navigation has finished.
type WaitUntil string

const (
	// WaitNetworkIdle waits until there are no in-flight requests for a quiet window
	WaitNetworkIdle WaitUntil = "networkidle"

	// WaitDOMContentLoaded waits for the DOMContentLoaded event
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"

	// WaitLoad waits for the load event
	WaitLoad WaitUntil = "load"
)

// Valid reports whether w is one of the known readiness policies.
func (w WaitUntil) Valid() bool {
	switch w {
	case WaitNetworkIdle, WaitDOMContentLoaded, WaitLoad:
		return true
	}
	return false
}

// PageOptions configures a page borrowed from the engine.
type PageOptions struct {
	// Viewport sets the page viewport size
	Viewport Viewport

	// UserAgent overrides the engine's default user agent when non-empty
	UserAgent string
}

// NavigateOptions configures page navigation behavior.
type NavigateOptions struct {
	// WaitUntil specifies when to consider navigation successful
	WaitUntil WaitUntil

	// Timeout bounds the navigation (0 means DefaultNavigationTimeout)
	Timeout time.Duration
}

// Navigation is the outcome of a completed navigation.
// An HTTP error status from the target is a valid outcome, not a failure.
type Navigation struct {
	HTTPStatus int
	Title      string
	Duration   time.Duration
}

// ImageFormat is the raster format of a captured screenshot.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
)

// ScreenshotOptions configures a page or element capture.
// Selector takes precedence over FullPage.
type ScreenshotOptions struct {
	Selector string
	FullPage bool
	Format   ImageFormat
}

// PDFOptions configures PDF rendering.
type PDFOptions struct {
	Format          string
	PrintBackground bool
}

// Default values for sessions and navigation
const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultViewportWidth     = 1920
	DefaultViewportHeight    = 1080
	DefaultPDFFormat         = "A4"
)
