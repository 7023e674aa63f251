package browser

import "time"

// Page is one isolated browsing context borrowed from the shared engine for
// the duration of a single request. A Page is never shared between requests.
type Page interface {
	// Navigate loads url under the given readiness policy.
	Navigate(url string, opts NavigateOptions) (*Navigation, error)

	// Title returns the current document title.
	Title() (string, error)

	// InnerText returns the rendered text of the document body.
	InnerText() (string, error)

	// Content returns the serialized HTML of the document.
	Content() (string, error)

	// FrameURLs returns the URL of every frame attached to the page.
	FrameURLs() []string

	// Evaluate runs a JavaScript expression or function in the page. When arg
	// is non-nil it is passed to the function.
	Evaluate(script string, arg any) (any, error)

	// Wait suspends for d without touching the page.
	Wait(d time.Duration)

	// SetViewport resizes the page viewport.
	SetViewport(v Viewport) error

	// Screenshot captures the page, or a single element when a selector is set.
	Screenshot(opts ScreenshotOptions) ([]byte, error)

	// PDF renders the page as a PDF document.
	PDF(opts PDFOptions) ([]byte, error)

	// Click, Fill and SelectOption act on the first element matching selector.
	Click(selector string) error
	Fill(selector, value string) error
	SelectOption(selector, value string) error

	// Exists reports whether any element matches selector.
	Exists(selector string) (bool, error)

	// Visible reports whether the first element matching selector is visible.
	Visible(selector string) (bool, error)

	// ElementText returns the inner text of the first element matching
	// selector. found is false when nothing matches.
	ElementText(selector string) (text string, found bool, err error)

	// Release closes the page and its context. Safe to call multiple times.
	Release() error
}

// Opener hands out isolated pages from the shared engine.
type Opener interface {
	OpenPage(opts PageOptions) (Page, error)
	Ready() bool
}
