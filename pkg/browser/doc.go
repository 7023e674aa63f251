// Package browser owns the single Chromium process shared by the service and
// hands out isolated pages to individual requests.
//
// # Architecture
//
// The package is built around two concepts:
//
//  1. Engine: the process-wide Playwright instance and Chromium browser,
//     created at startup and closed at shutdown
//  2. Page: one browser context with one page, borrowed by a single request
//
// The engine is passed to orchestrators as an Opener rather than looked up
// globally, so the "not initialized" fault and shutdown ordering can be
// exercised in tests with the fakes from package browsertest.
//
// # Page lifecycle
//
//  1. Open: Engine.OpenPage creates an isolated context sized to the viewport
//  2. Use: Navigate, then query the live page (text, HTML, scripts, captures)
//  3. Release: always deferred by the borrower; closes the page and context
//
// # Example Usage
//
//	page, err := engine.OpenPage(browser.PageOptions{
//	    Viewport: browser.Viewport{Width: 1920, Height: 1080},
//	})
//	if err != nil {
//	    return err
//	}
//	defer page.Release()
//
//	nav, err := page.Navigate("https://example.com", browser.NavigateOptions{
//	    WaitUntil: browser.WaitNetworkIdle,
//	})
package browser
