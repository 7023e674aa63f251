// Package browsertest provides scriptable in-memory pages for testing code
// that drives the browser package.
package browsertest

import (
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/pageproof/pkg/browser"
)

// EvalFunc answers a single Evaluate call.
type EvalFunc func(arg any) (any, error)

// Page is a fake browser.Page. Zero values answer with empty results; set the
// exported fields to script a page.
type Page struct {
	mu sync.Mutex

	NavigateErr error
	Status      int
	PageTitle   string
	Latency     time.Duration

	// URLStatus overrides Status for specific URLs
	URLStatus map[string]int

	Text     string
	TextErr  error
	HTML     string
	Frames   []string
	Scripts  map[string]EvalFunc
	Shot     []byte
	ShotErr  error
	PDFBytes []byte

	// Elements maps selectors to their inner text; Hidden marks selectors
	// whose elements exist but are not visible.
	Elements map[string]string
	Hidden   map[string]bool
	// ActionErrs fails Click/Fill/SelectOption on the given selectors.
	ActionErrs map[string]error

	calls     map[string]int
	waited    time.Duration
	viewport  browser.Viewport
	released  int
	actions   []string
	urls      []string
	navOpts   []browser.NavigateOptions
	shotOpts  []browser.ScreenshotOptions
	pdfOpts   []browser.PDFOptions
	onRelease func()
}

var _ browser.Page = (*Page)(nil)

func (p *Page) record(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[name]++
}

// Calls returns how often the named method was invoked.
func (p *Page) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

// ProbeCalls is the number of calls that query page content.
func (p *Page) ProbeCalls() int {
	return p.Calls("InnerText") + p.Calls("Content") + p.Calls("FrameURLs") +
		p.Calls("Evaluate") + p.Calls("Screenshot")
}

// Released returns how often Release was called.
func (p *Page) Released() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Waited returns the total time passed to Wait.
func (p *Page) Waited() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waited
}

// Viewport returns the last viewport set with SetViewport.
func (p *Page) Viewport() browser.Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

// Actions returns the interactions performed, as "click:#sel" style entries.
func (p *Page) Actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.actions...)
}

// URLs returns every URL passed to Navigate.
func (p *Page) URLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

// NavigateOptions returns the options of every Navigate call.
func (p *Page) NavigateOptions() []browser.NavigateOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.NavigateOptions(nil), p.navOpts...)
}

func (p *Page) Navigate(url string, opts browser.NavigateOptions) (*browser.Navigation, error) {
	p.record("Navigate")
	p.mu.Lock()
	p.urls = append(p.urls, url)
	p.navOpts = append(p.navOpts, opts)
	p.mu.Unlock()

	if p.Latency > 0 {
		time.Sleep(p.Latency)
	}
	if p.NavigateErr != nil {
		return nil, p.NavigateErr
	}
	status := p.Status
	if s, ok := p.URLStatus[url]; ok {
		status = s
	}
	if status == 0 {
		status = 200
	}
	return &browser.Navigation{HTTPStatus: status, Title: p.PageTitle, Duration: p.Latency}, nil
}

func (p *Page) Title() (string, error) {
	p.record("Title")
	return p.PageTitle, nil
}

func (p *Page) InnerText() (string, error) {
	p.record("InnerText")
	return p.Text, p.TextErr
}

func (p *Page) Content() (string, error) {
	p.record("Content")
	return p.HTML, nil
}

func (p *Page) FrameURLs() []string {
	p.record("FrameURLs")
	return p.Frames
}

func (p *Page) Evaluate(script string, arg any) (any, error) {
	p.record("Evaluate")
	fn, ok := p.Scripts[script]
	if !ok {
		return nil, fmt.Errorf("JavaScript execution failed: unscripted evaluation")
	}
	return fn(arg)
}

func (p *Page) Wait(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waited += d
}

func (p *Page) SetViewport(v browser.Viewport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = v
	return nil
}

// ScreenshotOptions returns the options of every Screenshot call.
func (p *Page) ScreenshotOptions() []browser.ScreenshotOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.ScreenshotOptions(nil), p.shotOpts...)
}

// PDFOptions returns the options of every PDF call.
func (p *Page) PDFOptions() []browser.PDFOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.PDFOptions(nil), p.pdfOpts...)
}

func (p *Page) Screenshot(opts browser.ScreenshotOptions) ([]byte, error) {
	p.record("Screenshot")
	p.mu.Lock()
	p.shotOpts = append(p.shotOpts, opts)
	p.mu.Unlock()
	if p.ShotErr != nil {
		return nil, p.ShotErr
	}
	if opts.Selector != "" {
		if _, ok := p.Elements[opts.Selector]; !ok {
			return nil, fmt.Errorf("element screenshot failed: no element matches %q", opts.Selector)
		}
	}
	return p.Shot, nil
}

func (p *Page) PDF(opts browser.PDFOptions) ([]byte, error) {
	p.record("PDF")
	p.mu.Lock()
	p.pdfOpts = append(p.pdfOpts, opts)
	p.mu.Unlock()
	return p.PDFBytes, nil
}

func (p *Page) act(kind, selector, value string) error {
	p.record(kind)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ActionErrs[selector]; err != nil {
		return err
	}
	entry := kind + ":" + selector
	if value != "" {
		entry += "=" + value
	}
	p.actions = append(p.actions, entry)
	return nil
}

func (p *Page) Click(selector string) error { return p.act("click", selector, "") }

func (p *Page) Fill(selector, value string) error { return p.act("fill", selector, value) }

func (p *Page) SelectOption(selector, value string) error { return p.act("select", selector, value) }

func (p *Page) Exists(selector string) (bool, error) {
	p.record("Exists")
	_, ok := p.Elements[selector]
	return ok, nil
}

func (p *Page) Visible(selector string) (bool, error) {
	p.record("Visible")
	_, ok := p.Elements[selector]
	return ok && !p.Hidden[selector], nil
}

func (p *Page) ElementText(selector string) (string, bool, error) {
	p.record("ElementText")
	text, ok := p.Elements[selector]
	return text, ok, nil
}

func (p *Page) Release() error {
	p.mu.Lock()
	p.released++
	hook := p.onRelease
	first := p.released == 1
	p.mu.Unlock()

	if first && hook != nil {
		hook()
	}
	return nil
}

// Opener hands out fake pages. Pages are returned in order; when NewPage is
// set it is called for every open instead.
type Opener struct {
	mu sync.Mutex

	NotReady bool
	OpenErr  error
	Pages    []*Page
	NewPage  func(opts browser.PageOptions) *Page

	opened []browser.PageOptions
	served []*Page
	inUse  int
	peak   int
}

var _ browser.Opener = (*Opener)(nil)

// OpenerFor returns an opener that serves the given pages in order.
func OpenerFor(pages ...*Page) *Opener {
	return &Opener{Pages: pages}
}

func (o *Opener) OpenPage(opts browser.PageOptions) (browser.Page, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.NotReady {
		return nil, browser.ErrNotInitialized
	}
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	o.opened = append(o.opened, opts)

	var page *Page
	switch {
	case o.NewPage != nil:
		page = o.NewPage(opts)
	case len(o.Pages) > 0:
		page = o.Pages[0]
		o.Pages = o.Pages[1:]
	default:
		page = &Page{}
	}
	o.served = append(o.served, page)

	o.inUse++
	if o.inUse > o.peak {
		o.peak = o.inUse
	}
	page.mu.Lock()
	page.onRelease = func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.inUse--
	}
	page.mu.Unlock()
	return page, nil
}

func (o *Opener) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.NotReady
}

// Opened returns the options of every OpenPage call.
func (o *Opener) Opened() []browser.PageOptions {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]browser.PageOptions(nil), o.opened...)
}

// Peak returns the highest number of pages held open at the same time.
func (o *Opener) Peak() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peak
}

// InUse returns the number of pages opened but not yet released.
func (o *Opener) InUse() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inUse
}

// Served returns every page handed out so far.
func (o *Opener) Served() []*Page {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Page(nil), o.served...)
}
