package deploy

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pageproof/pkg/browser"
	"github.com/entrhq/pageproof/pkg/browser/browsertest"
	"github.com/entrhq/pageproof/pkg/evidence"
	"github.com/entrhq/pageproof/pkg/evidence/evidencetest"
	"github.com/entrhq/pageproof/pkg/logging"
	"github.com/entrhq/pageproof/pkg/probe"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func images(loaded, broken int) []interface{} {
	out := []interface{}{}
	for i := 0; i < loaded; i++ {
		out = append(out, map[string]interface{}{"src": "https://cdn.example.com/ok.png", "complete": true, "naturalWidth": 640.0})
	}
	for i := 0; i < broken; i++ {
		out = append(out, map[string]interface{}{"src": "", "complete": true, "naturalWidth": 0.0})
	}
	return out
}

// scriptedPage answers every probe script with a healthy page.
func scriptedPage(t *testing.T) *browsertest.Page {
	return &browsertest.Page{
		Shot:     solidPNG(t, 40, 30, color.White),
		Elements: map[string]string{"#hero": "Welcome"},
		Scripts: map[string]browsertest.EvalFunc{
			probe.PerformanceScript: func(any) (any, error) {
				return map[string]interface{}{
					"domContentLoaded":     120.0,
					"loadComplete":         15.0,
					"firstContentfulPaint": 310.0,
					"loadTime":             850.0,
				}, nil
			},
			probe.ImagesScript: func(any) (any, error) { return images(3, 0), nil },
			probe.FontCheckScript: func(arg any) (any, error) {
				return arg == "Inter", nil
			},
			probe.LayoutShiftScript: func(any) (any, error) { return 0.02, nil },
			probe.ComputedStylesScript: func(arg any) (any, error) {
				if arg != "#hero" {
					return nil, nil
				}
				return map[string]interface{}{"display": "block", "visibility": "visible", "opacity": "1"}, nil
			},
		},
	}
}

func newVerifier(t *testing.T, opener browser.Opener, sink evidence.Sink, opts Options) *Verifier {
	t.Helper()
	prober, err := probe.New(probe.DefaultIndicators())
	require.NoError(t, err)
	return NewVerifier(opener, prober, sink, logging.Discard(), opts)
}

func intPtr(n int) *int { return &n }

func TestVerify_AllChecksPass(t *testing.T) {
	page := scriptedPage(t)
	sink := &evidencetest.Sink{}
	v := newVerifier(t, browsertest.OpenerFor(page), sink, Options{})

	res, err := v.Verify(context.Background(), Request{
		URL: "https://app.example.com",
		Checks: []CheckSpec{
			{Type: CheckScreenshot},
			{Type: CheckCSSLoaded, Selector: "#hero"},
			{Type: CheckImagesLoaded, MinCount: intPtr(2)},
			{Type: CheckFontsLoaded, FontFamily: "Inter"},
			{Type: CheckLayoutStable, WaitTime: 500},
			{Type: CheckPerformance, MaxLoadTime: 3000},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, 200, res.HTTPStatus)
	require.Len(t, res.Checks, 6)
	for i, want := range []CheckType{CheckScreenshot, CheckCSSLoaded, CheckImagesLoaded, CheckFontsLoaded, CheckLayoutStable, CheckPerformance} {
		assert.Equal(t, want, res.Checks[i].Type)
		assert.True(t, res.Checks[i].Passed, "%s: %s", want, res.Checks[i].Message)
	}

	assert.NotEmpty(t, res.Checks[0].ScreenshotURL)
	assert.Equal(t, "block", res.Checks[1].ComputedStyles["display"])
	assert.Equal(t, 3, *res.Checks[2].ImagesFound)
	assert.Equal(t, 0.02, *res.Checks[4].CumulativeLayoutShift)
	assert.Equal(t, 850.0, *res.Checks[5].LoadTime)

	require.NotNil(t, res.Performance)
	assert.Equal(t, 310.0, res.Performance.FirstContentfulPaint)
	assert.Nil(t, res.Comparison)

	assert.Len(t, sink.In(evidence.FolderDeployments), 1)
	assert.Equal(t, 1, page.Calls("Navigate"))
	assert.Equal(t, 1, page.Released())
	assert.Equal(t, probe.DefaultFontSettle, page.Waited())
}

func TestVerify_OneFailingCheckFlipsAggregate(t *testing.T) {
	page := scriptedPage(t)
	v := newVerifier(t, browsertest.OpenerFor(page), &evidencetest.Sink{}, Options{})

	res, err := v.Verify(context.Background(), Request{
		URL: "https://app.example.com",
		Checks: []CheckSpec{
			{Type: CheckImagesLoaded, MinCount: intPtr(5)},
			{Type: CheckCSSLoaded, Selector: "#hero"},
			{Type: CheckLayoutStable},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.Checks, 3)
	assert.False(t, res.Checks[0].Passed)
	assert.Equal(t, 3, *res.Checks[0].ImagesLoaded)
	assert.Contains(t, res.Checks[0].Message, "3/3 images loaded")
	assert.True(t, res.Checks[1].Passed, "later checks still run")
	assert.True(t, res.Checks[2].Passed)
}

func TestVerify_LayoutShiftLimit(t *testing.T) {
	tests := []struct {
		name     string
		cls      float64
		waitTime int
		wantWait int64
		passed   bool
		wantMsg  string
	}{
		{name: "just under limit", cls: 0.099, waitTime: 500, wantWait: 500, passed: true, wantMsg: "Layout stable (CLS: 0.099)"},
		{name: "at limit", cls: 0.10, waitTime: 500, wantWait: 500, passed: false, wantMsg: "Layout unstable (CLS: 0.100, limit 0.10)"},
		{name: "well over limit", cls: 0.25, wantWait: probe.DefaultLayoutWait.Milliseconds(), passed: false, wantMsg: "Layout unstable (CLS: 0.250"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotWait any
			page := scriptedPage(t)
			page.Scripts[probe.LayoutShiftScript] = func(arg any) (any, error) {
				gotWait = arg
				return tt.cls, nil
			}
			v := newVerifier(t, browsertest.OpenerFor(page), &evidencetest.Sink{}, Options{})

			res, err := v.Verify(context.Background(), Request{
				URL:    "https://app.example.com",
				Checks: []CheckSpec{{Type: CheckLayoutStable, WaitTime: tt.waitTime}},
			})
			require.NoError(t, err)

			check := res.Checks[0]
			assert.Equal(t, tt.passed, check.Passed)
			assert.Contains(t, check.Message, tt.wantMsg)
			require.NotNil(t, check.CumulativeLayoutShift)
			assert.Equal(t, tt.cls, *check.CumulativeLayoutShift)
			assert.Equal(t, tt.wantWait, gotWait)
			if tt.passed {
				assert.Equal(t, StatusPassed, res.Status)
			} else {
				assert.Equal(t, StatusFailed, res.Status)
			}
		})
	}
}

func TestVerify_ImagesDefaultMinCount(t *testing.T) {
	page := scriptedPage(t)
	page.Scripts[probe.ImagesScript] = func(any) (any, error) { return images(0, 2), nil }
	v := newVerifier(t, browsertest.OpenerFor(page), &evidencetest.Sink{}, Options{})

	res, err := v.Verify(context.Background(), Request{URL: "https://app.example.com", Checks: []CheckSpec{{Type: CheckImagesLoaded}}})
	require.NoError(t, err)

	check := res.Checks[0]
	assert.False(t, check.Passed)
	assert.Equal(t, []string{"unknown", "unknown"}, check.FailedImages)
}

func TestVerify_UnknownCheckDoesNotAbort(t *testing.T) {
	v := newVerifier(t, browsertest.OpenerFor(scriptedPage(t)), &evidencetest.Sink{}, Options{})

	res, err := v.Verify(context.Background(), Request{
		URL:    "https://app.example.com",
		Checks: []CheckSpec{{Type: "color_contrast"}, {Type: CheckPerformance}},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.False(t, res.Checks[0].Passed)
	assert.Equal(t, "Unknown check type: color_contrast", res.Checks[0].Message)
	assert.True(t, res.Checks[1].Passed)
}

func TestVerify_CheckParameterErrors(t *testing.T) {
	tests := []struct {
		name    string
		spec    CheckSpec
		wantMsg string
	}{
		{name: "css without selector", spec: CheckSpec{Type: CheckCSSLoaded}, wantMsg: "selector is required"},
		{name: "css no match", spec: CheckSpec{Type: CheckCSSLoaded, Selector: ".missing"}, wantMsg: "No elements found matching selector: .missing"},
		{name: "font without family", spec: CheckSpec{Type: CheckFontsLoaded}, wantMsg: "fontFamily is required"},
		{name: "font unavailable", spec: CheckSpec{Type: CheckFontsLoaded, FontFamily: "Comic Sans"}, wantMsg: "not available"},
		{name: "element screenshot no match", spec: CheckSpec{Type: CheckScreenshot, Selector: ".missing"}, wantMsg: "Screenshot failed"},
		{name: "slow load", spec: CheckSpec{Type: CheckPerformance, MaxLoadTime: 500}, wantMsg: "exceeds 500ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVerifier(t, browsertest.OpenerFor(scriptedPage(t)), &evidencetest.Sink{}, Options{})

			res, err := v.Verify(context.Background(), Request{URL: "https://app.example.com", Checks: []CheckSpec{tt.spec}})
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, res.Status)
			assert.False(t, res.Checks[0].Passed)
			assert.Contains(t, res.Checks[0].Message, tt.wantMsg)
		})
	}
}

func TestVerify_ProbeFaultIsolatedToCheck(t *testing.T) {
	page := scriptedPage(t)
	page.Scripts[probe.LayoutShiftScript] = func(any) (any, error) {
		return nil, errors.New("JavaScript execution failed: PerformanceObserver is not defined")
	}
	page.Scripts[probe.FontCheckScript] = func(any) (any, error) { panic("renderer crashed") }
	v := newVerifier(t, browsertest.OpenerFor(page), &evidencetest.Sink{}, Options{})

	res, err := v.Verify(context.Background(), Request{
		URL: "https://app.example.com",
		Checks: []CheckSpec{
			{Type: CheckLayoutStable},
			{Type: CheckFontsLoaded, FontFamily: "Inter"},
			{Type: CheckImagesLoaded},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Checks[0].Message, "PerformanceObserver is not defined")
	assert.False(t, res.Checks[1].Passed)
	assert.Contains(t, res.Checks[1].Message, "renderer crashed")
	assert.True(t, res.Checks[2].Passed)
}

func TestVerify_MetricsFailureFailsOnlyPerformanceCheck(t *testing.T) {
	page := scriptedPage(t)
	delete(page.Scripts, probe.PerformanceScript)
	v := newVerifier(t, browsertest.OpenerFor(page), &evidencetest.Sink{}, Options{})

	res, err := v.Verify(context.Background(), Request{
		URL:    "https://app.example.com",
		Checks: []CheckSpec{{Type: CheckPerformance}, {Type: CheckCSSLoaded, Selector: "#hero"}},
	})
	require.NoError(t, err)

	assert.Nil(t, res.Performance)
	assert.False(t, res.Checks[0].Passed)
	assert.Contains(t, res.Checks[0].Message, "Performance metrics unavailable")
	assert.True(t, res.Checks[1].Passed)
}

func TestVerify_NoChecksPasses(t *testing.T) {
	page := scriptedPage(t)
	v := newVerifier(t, browsertest.OpenerFor(page), &evidencetest.Sink{}, Options{})

	res, err := v.Verify(context.Background(), Request{URL: "https://app.example.com"})
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Empty(t, res.Checks)
	assert.NotNil(t, res.Performance, "metrics are collected even without a performance check")
}

func TestVerify_ScreenshotViewportIsRestored(t *testing.T) {
	page := scriptedPage(t)
	sink := &evidencetest.Sink{}
	v := newVerifier(t, browsertest.OpenerFor(page), sink, Options{})

	res, err := v.Verify(context.Background(), Request{
		URL: "https://app.example.com",
		Checks: []CheckSpec{
			{Type: CheckScreenshot, Viewport: &browser.Viewport{Width: 375, Height: 667}},
			{Type: CheckScreenshot, Selector: "#hero"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, browser.Viewport{Width: browser.DefaultViewportWidth, Height: browser.DefaultViewportHeight}, page.Viewport())
	assert.Len(t, sink.In(evidence.FolderDeployments), 2)
}

func TestVerify_NavigationFaultFailsRequest(t *testing.T) {
	page := &browsertest.Page{NavigateErr: errors.New("navigation failed: net::ERR_CONNECTION_REFUSED")}
	v := newVerifier(t, browsertest.OpenerFor(page), &evidencetest.Sink{}, Options{})

	res, err := v.Verify(context.Background(), Request{URL: "https://down.example.com", Checks: []CheckSpec{{Type: CheckPerformance}}})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_CONNECTION_REFUSED")
	assert.Equal(t, 1, page.Released())
}

func TestVerify_UploadFaultFailsRequest(t *testing.T) {
	page := scriptedPage(t)
	sink := &evidencetest.Sink{Err: errors.New("quota exceeded")}
	v := newVerifier(t, browsertest.OpenerFor(page), sink, Options{})

	res, err := v.Verify(context.Background(), Request{
		URL:    "https://app.example.com",
		Checks: []CheckSpec{{Type: CheckCSSLoaded, Selector: "#hero"}, {Type: CheckScreenshot}},
	})
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, evidence.ErrUpload))
	assert.Equal(t, 1, page.Released())
}

func TestVerify_NotInitialized(t *testing.T) {
	opener := &browsertest.Opener{NotReady: true}
	v := newVerifier(t, opener, &evidencetest.Sink{}, Options{})

	_, err := v.Verify(context.Background(), Request{URL: "https://app.example.com"})
	assert.True(t, errors.Is(err, browser.ErrNotInitialized))

	_, err = v.VisualRegression(context.Background(), RegressionRequest{URL: "https://app.example.com"})
	assert.True(t, errors.Is(err, browser.ErrNotInitialized))
	assert.Empty(t, opener.Opened())
}

func TestVerify_CompareToIsNotFoldedIntoStatus(t *testing.T) {
	page := scriptedPage(t)
	baseline := solidPNG(t, 40, 30, color.Black)
	sink := &evidencetest.Sink{}
	v := newVerifier(t, browsertest.OpenerFor(page), sink, Options{
		Fetcher: FetchFunc(func(_ context.Context, url string) ([]byte, error) {
			assert.Equal(t, "https://cdn.example.com/baseline.png", url)
			return baseline, nil
		}),
	})

	res, err := v.Verify(context.Background(), Request{
		URL:       "https://app.example.com",
		Checks:    []CheckSpec{{Type: CheckCSSLoaded, Selector: "#hero"}},
		CompareTo: "https://cdn.example.com/baseline.png",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, res.Status)
	require.NotNil(t, res.Comparison)
	assert.False(t, res.Comparison.Passed)
	assert.Equal(t, 1.0, res.Comparison.PixelDifference)
	assert.NotEmpty(t, res.Comparison.DiffImageURL)
	assert.Len(t, sink.In(evidence.FolderVisualRegression), 2)
}

func TestRequest_Validate(t *testing.T) {
	assert.NoError(t, Request{URL: "https://app.example.com"}.Validate())
	assert.Error(t, Request{}.Validate())
	assert.Error(t, Request{URL: "https://app.example.com", CompareTo: "baseline.png"}.Validate())
}
