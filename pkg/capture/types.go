package capture

import (
	"fmt"
	"time"

	"github.com/entrhq/pageproof/pkg/browser"
)

// Paper formats accepted for PDF rendering
var pdfFormats = map[string]bool{
	"Letter": true, "Legal": true, "Tabloid": true, "Ledger": true,
	"A0": true, "A1": true, "A2": true, "A3": true, "A4": true, "A5": true, "A6": true,
}

// ScreenshotRequest asks for a page or element capture.
// FullPage defaults to true; Selector takes precedence over it.
type ScreenshotRequest struct {
	URL       string              `json:"url"`
	Viewport  *browser.Viewport   `json:"viewport,omitempty"`
	Selector  string              `json:"selector,omitempty"`
	FullPage  *bool               `json:"fullPage,omitempty"`
	Format    browser.ImageFormat `json:"format,omitempty"`
	WaitUntil browser.WaitUntil   `json:"waitUntil,omitempty"`
}

// Validate checks the request is well formed.
func (r ScreenshotRequest) Validate() error {
	if err := browser.ValidateURL(r.URL); err != nil {
		return err
	}
	switch r.Format {
	case "", browser.FormatPNG, browser.FormatJPEG:
	default:
		return fmt.Errorf("unsupported format %q (must be 'png' or 'jpeg')", r.Format)
	}
	return validateWaitUntil(r.WaitUntil)
}

// ScreenshotResult describes a stored capture.
type ScreenshotResult struct {
	URL           string              `json:"url"`
	ScreenshotURL string              `json:"screenshotUrl"`
	Format        browser.ImageFormat `json:"format"`
	Width         int                 `json:"width"`
	Height        int                 `json:"height"`
	FileSize      int                 `json:"fileSize"`
	Timestamp     time.Time           `json:"timestamp"`
}

// PDFRequest asks for a page to be rendered as PDF.
// Format defaults to A4 and PrintBackground to true.
type PDFRequest struct {
	URL             string            `json:"url"`
	Viewport        *browser.Viewport `json:"viewport,omitempty"`
	Format          string            `json:"format,omitempty"`
	PrintBackground *bool             `json:"printBackground,omitempty"`
	WaitUntil       browser.WaitUntil `json:"waitUntil,omitempty"`
}

// Validate checks the request is well formed.
func (r PDFRequest) Validate() error {
	if err := browser.ValidateURL(r.URL); err != nil {
		return err
	}
	if r.Format != "" && !pdfFormats[r.Format] {
		return fmt.Errorf("unsupported paper format %q", r.Format)
	}
	return validateWaitUntil(r.WaitUntil)
}

// PDFResult describes a stored PDF.
type PDFResult struct {
	URL       string    `json:"url"`
	PDFURL    string    `json:"pdfUrl"`
	Format    string    `json:"format"`
	SizeBytes int       `json:"sizeBytes"`
	PageCount int       `json:"pageCount"`
	Timestamp time.Time `json:"timestamp"`
}

// HTMLRequest asks for the serialized DOM of a page.
type HTMLRequest struct {
	URL       string            `json:"url"`
	Viewport  *browser.Viewport `json:"viewport,omitempty"`
	WaitUntil browser.WaitUntil `json:"waitUntil,omitempty"`
}

// Validate checks the request is well formed.
func (r HTMLRequest) Validate() error {
	if err := browser.ValidateURL(r.URL); err != nil {
		return err
	}
	return validateWaitUntil(r.WaitUntil)
}

// HTMLResult carries the page markup.
type HTMLResult struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	HTML       string    `json:"html"`
	HTMLLength int       `json:"htmlLength"`
	Timestamp  time.Time `json:"timestamp"`
}

func validateWaitUntil(w browser.WaitUntil) error {
	if w == "" || w.Valid() {
		return nil
	}
	return fmt.Errorf("invalid waitUntil %q (must be 'networkidle', 'domcontentloaded' or 'load')", w)
}
