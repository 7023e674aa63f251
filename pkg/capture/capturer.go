// Package capture renders pages to images, PDF documents and HTML and stores
// the binary artifacts as evidence.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/entrhq/pageproof/pkg/browser"
	"github.com/entrhq/pageproof/pkg/evidence"
	"github.com/entrhq/pageproof/pkg/logging"
	"github.com/entrhq/pageproof/pkg/telemetry"
)

func init() {
	// Page counting needs no pdfcpu config directory on disk
	model.ConfigPath = "disable"
}

// Options tunes a Capturer.
type Options struct {
	// NavigationTimeout bounds each page load (0 = browser default)
	NavigationTimeout time.Duration
}

// Capturer produces screenshots, PDFs and HTML snapshots. Every call borrows
// its own page. Navigation and evidence faults are returned as errors.
type Capturer struct {
	opener browser.Opener
	sink   evidence.Sink
	log    *logging.Logger
	opts   Options
}

// NewCapturer creates a capturer.
func NewCapturer(opener browser.Opener, sink evidence.Sink, log *logging.Logger, opts Options) *Capturer {
	return &Capturer{
		opener: opener,
		sink:   sink,
		log:    log.With("capture"),
		opts:   opts,
	}
}

// Screenshot captures a page, or one element of it, and stores the image.
func (c *Capturer) Screenshot(ctx context.Context, req ScreenshotRequest) (*ScreenshotResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "capture.screenshot", telemetry.AttrURL.String(req.URL))
	defer span.End()

	format := req.Format
	if format == "" {
		format = browser.FormatPNG
	}
	fullPage := req.FullPage == nil || *req.FullPage

	var shot []byte
	err := c.withPage(req.URL, req.Viewport, req.WaitUntil, func(page browser.Page) error {
		var err error
		shot, err = page.Screenshot(browser.ScreenshotOptions{
			Selector: req.Selector,
			FullPage: fullPage,
			Format:   format,
		})
		if err != nil {
			return fmt.Errorf("failed to capture %s: %w", req.URL, err)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("failed to read screenshot dimensions: %w", err)
	}

	url, err := c.sink.Upload(ctx, shot, evidence.FolderScreenshots)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to store screenshot: %w", err)
	}

	c.log.Infof("screenshot of %s: %dx%d, %d bytes", req.URL, cfg.Width, cfg.Height, len(shot))
	return &ScreenshotResult{
		URL:           req.URL,
		ScreenshotURL: url,
		Format:        format,
		Width:         cfg.Width,
		Height:        cfg.Height,
		FileSize:      len(shot),
		Timestamp:     time.Now().UTC(),
	}, nil
}

// PDF renders a page as a PDF document and stores it.
func (c *Capturer) PDF(ctx context.Context, req PDFRequest) (*PDFResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "capture.pdf", telemetry.AttrURL.String(req.URL))
	defer span.End()

	format := req.Format
	if format == "" {
		format = browser.DefaultPDFFormat
	}
	printBackground := req.PrintBackground == nil || *req.PrintBackground

	var doc []byte
	err := c.withPage(req.URL, req.Viewport, req.WaitUntil, func(page browser.Page) error {
		var err error
		doc, err = page.PDF(browser.PDFOptions{Format: format, PrintBackground: printBackground})
		if err != nil {
			return fmt.Errorf("failed to render %s: %w", req.URL, err)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	pages, err := pageCount(doc)
	if err != nil {
		return nil, fmt.Errorf("rendered PDF is unreadable: %w", err)
	}

	url, err := c.sink.Upload(ctx, doc, evidence.FolderPDFs)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to store pdf: %w", err)
	}

	c.log.Infof("pdf of %s: %d pages, %d bytes", req.URL, pages, len(doc))
	return &PDFResult{
		URL:       req.URL,
		PDFURL:    url,
		Format:    format,
		SizeBytes: len(doc),
		PageCount: pages,
		Timestamp: time.Now().UTC(),
	}, nil
}

// HTML returns the serialized DOM and title of a page.
func (c *Capturer) HTML(ctx context.Context, req HTMLRequest) (*HTMLResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "capture.html", telemetry.AttrURL.String(req.URL))
	defer span.End()

	res := &HTMLResult{URL: req.URL}
	err := c.withPage(req.URL, req.Viewport, req.WaitUntil, func(page browser.Page) error {
		html, err := page.Content()
		if err != nil {
			return err
		}
		title, err := page.Title()
		if err != nil {
			return fmt.Errorf("failed to read title: %w", err)
		}
		res.HTML = html
		res.Title = title
		return nil
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	res.HTMLLength = len(res.HTML)
	res.Timestamp = time.Now().UTC()
	return res, nil
}

// withPage opens a page at viewport, loads url and runs fn before releasing
// the page.
func (c *Capturer) withPage(url string, viewport *browser.Viewport, waitUntil browser.WaitUntil, fn func(browser.Page) error) error {
	if !c.opener.Ready() {
		return browser.ErrNotInitialized
	}

	page, err := c.opener.OpenPage(browser.PageOptions{Viewport: viewport.OrDefault()})
	if err != nil {
		return err
	}
	defer func() {
		if err := page.Release(); err != nil {
			c.log.Warnf("failed to release page for %s: %v", url, err)
		}
	}()

	if waitUntil == "" {
		waitUntil = browser.WaitNetworkIdle
	}
	if _, err := page.Navigate(url, browser.NavigateOptions{
		WaitUntil: waitUntil,
		Timeout:   c.opts.NavigationTimeout,
	}); err != nil {
		return fmt.Errorf("failed to load %s: %w", url, err)
	}

	return fn(page)
}

func pageCount(doc []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(bytes.NewReader(doc), conf)
}
