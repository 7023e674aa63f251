package browser

import (
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Session is a Page backed by its own Playwright browser context.
type Session struct {
	context playwright.BrowserContext
	page    playwright.Page

	releaseOnce sync.Once
	release     func()
}

var _ Page = (*Session)(nil)

// Navigate navigates the session's page to the specified URL.
func (s *Session) Navigate(url string, opts NavigateOptions) (*Navigation, error) {
	playwrightOpts := playwright.PageGotoOptions{}

	waitUntil := opts.WaitUntil
	if waitUntil == "" {
		waitUntil = WaitNetworkIdle
	}
	state := playwright.WaitUntilState(waitUntil)
	playwrightOpts.WaitUntil = &state

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}
	timeoutMs := float64(timeout.Milliseconds())
	playwrightOpts.Timeout = &timeoutMs

	start := time.Now()
	resp, err := s.page.Goto(url, playwrightOpts)
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}

	nav := &Navigation{Duration: time.Since(start)}
	// Same-document and about: navigations have no response
	if resp != nil {
		nav.HTTPStatus = resp.Status()
	}

	title, err := s.page.Title()
	if err == nil {
		nav.Title = title
	}

	return nav, nil
}

// Title returns the current document title.
func (s *Session) Title() (string, error) {
	return s.page.Title()
}

// InnerText returns the rendered text of the body element.
func (s *Session) InnerText() (string, error) {
	text, err := s.page.InnerText("body")
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return text, nil
}

// Content returns the page HTML.
func (s *Session) Content() (string, error) {
	html, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("content extraction failed: %w", err)
	}
	return html, nil
}

// FrameURLs returns the URLs of all frames, main frame included.
func (s *Session) FrameURLs() []string {
	frames := s.page.Frames()
	urls := make([]string, 0, len(frames))
	for _, frame := range frames {
		urls = append(urls, frame.URL())
	}
	return urls
}

// Evaluate executes JavaScript in the page.
func (s *Session) Evaluate(script string, arg any) (any, error) {
	var (
		result any
		err    error
	)
	if arg == nil {
		result, err = s.page.Evaluate(script)
	} else {
		result, err = s.page.Evaluate(script, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("JavaScript execution failed: %w", err)
	}
	return result, nil
}

// Wait pauses for the given duration.
func (s *Session) Wait(d time.Duration) {
	s.page.WaitForTimeout(float64(d.Milliseconds()))
}

// SetViewport resizes the page.
func (s *Session) SetViewport(v Viewport) error {
	if err := s.page.SetViewportSize(v.Width, v.Height); err != nil {
		return fmt.Errorf("set viewport failed: %w", err)
	}
	return nil
}

// Screenshot captures the page or the first element matching opts.Selector.
func (s *Session) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	screenshotType := playwright.ScreenshotTypePng
	if opts.Format == FormatJPEG {
		screenshotType = playwright.ScreenshotTypeJpeg
	}

	if opts.Selector != "" {
		data, err := s.page.Locator(opts.Selector).First().Screenshot(playwright.LocatorScreenshotOptions{
			Type: screenshotType,
		})
		if err != nil {
			return nil, fmt.Errorf("element screenshot failed: %w", err)
		}
		return data, nil
	}

	fullPage := opts.FullPage
	data, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: &fullPage,
		Type:     screenshotType,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

// PDF renders the page as a PDF.
func (s *Session) PDF(opts PDFOptions) ([]byte, error) {
	format := opts.Format
	if format == "" {
		format = DefaultPDFFormat
	}
	printBackground := opts.PrintBackground
	data, err := s.page.PDF(playwright.PagePdfOptions{
		Format:          &format,
		PrintBackground: &printBackground,
	})
	if err != nil {
		return nil, fmt.Errorf("pdf generation failed: %w", err)
	}
	return data, nil
}

// Click clicks the first element matching selector.
func (s *Session) Click(selector string) error {
	if err := s.page.Locator(selector).First().Click(); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

// Fill fills the first input matching selector.
func (s *Session) Fill(selector, value string) error {
	if err := s.page.Locator(selector).First().Fill(value); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

// SelectOption selects value in the first <select> matching selector.
func (s *Session) SelectOption(selector, value string) error {
	values := []string{value}
	_, err := s.page.Locator(selector).First().SelectOption(playwright.SelectOptionValues{
		Values: &values,
	})
	if err != nil {
		return fmt.Errorf("select failed: %w", err)
	}
	return nil
}

// Exists reports whether selector matches at least one element.
func (s *Session) Exists(selector string) (bool, error) {
	count, err := s.page.Locator(selector).Count()
	if err != nil {
		return false, fmt.Errorf("selector query failed: %w", err)
	}
	return count > 0, nil
}

// Visible reports whether the first match of selector is visible.
func (s *Session) Visible(selector string) (bool, error) {
	visible, err := s.page.Locator(selector).First().IsVisible()
	if err != nil {
		return false, fmt.Errorf("visibility query failed: %w", err)
	}
	return visible, nil
}

// ElementText returns the inner text of the first match of selector.
func (s *Session) ElementText(selector string) (string, bool, error) {
	exists, err := s.Exists(selector)
	if err != nil || !exists {
		return "", false, err
	}
	text, err := s.page.Locator(selector).First().InnerText()
	if err != nil {
		return "", true, fmt.Errorf("text extraction failed: %w", err)
	}
	return text, true, nil
}

// Release closes the page and its browser context.
func (s *Session) Release() error {
	var err error
	s.releaseOnce.Do(func() {
		_ = s.page.Close() // Ignore errors, context close releases it anyway
		err = s.context.Close()
		if s.release != nil {
			s.release()
		}
	})
	return err
}
