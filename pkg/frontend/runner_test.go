package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pageproof/pkg/browser"
	"github.com/entrhq/pageproof/pkg/browser/browsertest"
	"github.com/entrhq/pageproof/pkg/evidence"
	"github.com/entrhq/pageproof/pkg/evidence/evidencetest"
	"github.com/entrhq/pageproof/pkg/logging"
)

func newRunner(opener browser.Opener, sink evidence.Sink) *Runner {
	return NewRunner(opener, sink, logging.Discard(), Options{})
}

func boolPtr(b bool) *bool { return &b }

func TestInteract_RunsActionsInOrder(t *testing.T) {
	page := &browsertest.Page{Shot: []byte("after")}
	sink := &evidencetest.Sink{}

	res, err := newRunner(browsertest.OpenerFor(page), sink).Interact(context.Background(), InteractRequest{
		URL: "https://app.example.com/login",
		Actions: []Action{
			{Type: ActionFill, Selector: "#email", Value: "a@example.com"},
			{Type: ActionSelect, Selector: "#plan", Value: "pro"},
			{Type: ActionWait, Value: "250"},
			{Type: ActionClick, Selector: "button[type=submit]"},
		},
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 4, res.ActionsExecuted)
	require.Len(t, res.Results, 4)
	for _, r := range res.Results {
		assert.True(t, r.Success, "%s", r.Action)
	}
	require.NotNil(t, res.Results[2].DurationMs)
	assert.Equal(t, 250, *res.Results[2].DurationMs)
	assert.Equal(t, "pro", res.Results[1].Value)

	assert.Equal(t, []string{
		"fill:#email=a@example.com",
		"select:#plan=pro",
		"click:button[type=submit]",
	}, page.Actions())
	assert.Equal(t, 250*time.Millisecond, page.Waited())

	shots := sink.In(evidence.FolderInteractions)
	require.Len(t, shots, 1)
	assert.Equal(t, shots[0].URL, res.ScreenshotURL)
	assert.Equal(t, 1, page.Released())
}

func TestInteract_UnknownActionFails(t *testing.T) {
	page := &browsertest.Page{}
	res, err := newRunner(browsertest.OpenerFor(page), &evidencetest.Sink{}).Interact(context.Background(), InteractRequest{
		URL:             "https://app.example.com",
		Actions:         []Action{{Type: "hover", Selector: "#menu"}, {Type: ActionClick, Selector: "#go"}},
		ScreenshotAfter: boolPtr(false),
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ActionsExecuted)
	assert.Equal(t, ActionResult{Action: "hover", Error: "Unknown action type"}, res.Results[0])
	assert.Empty(t, page.Actions())
	assert.Empty(t, res.ScreenshotURL)
	assert.Zero(t, page.Calls("Screenshot"))
}

func TestInteract_FailingActionStopsScript(t *testing.T) {
	page := &browsertest.Page{
		Shot:       []byte("after"),
		ActionErrs: map[string]error{"#missing": errors.New("timeout waiting for selector")},
	}
	sink := &evidencetest.Sink{}

	res, err := newRunner(browsertest.OpenerFor(page), sink).Interact(context.Background(), InteractRequest{
		URL: "https://app.example.com",
		Actions: []Action{
			{Type: ActionClick, Selector: "#open"},
			{Type: ActionClick, Selector: "#missing"},
			{Type: ActionClick, Selector: "#never"},
		},
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.ActionsExecuted)
	assert.Equal(t, "timeout waiting for selector", res.Results[1].Error)
	assert.Equal(t, []string{"click:#open"}, page.Actions())
	assert.NotEmpty(t, res.ScreenshotURL, "failure state is still captured")
}

func TestInteract_InvalidWait(t *testing.T) {
	for _, value := range []ActionValue{"soon", "-5", "600000", "9223372036854775807", "1e300"} {
		page := &browsertest.Page{}
		res, err := newRunner(browsertest.OpenerFor(page), &evidencetest.Sink{}).Interact(context.Background(), InteractRequest{
			URL:             "https://app.example.com",
			Actions:         []Action{{Type: ActionWait, Value: value}},
			ScreenshotAfter: boolPtr(false),
		})
		require.NoError(t, err)
		assert.False(t, res.Success, string(value))
		assert.NotEmpty(t, res.Results[0].Error, string(value))
		assert.Zero(t, page.Waited(), string(value))
	}
}

func TestInteract_NumericWaitValue(t *testing.T) {
	var req InteractRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"url": "https://app.example.com",
		"actions": [
			{"type": "wait", "value": 1000},
			{"type": "wait", "value": 12.7},
			{"type": "fill", "selector": "#qty", "value": 3},
			{"type": "click", "selector": "#go", "value": null}
		],
		"screenshotAfter": false
	}`), &req))
	require.NoError(t, req.Validate())
	assert.Equal(t, ActionValue("1000"), req.Actions[0].Value)

	page := &browsertest.Page{}
	res, err := newRunner(browsertest.OpenerFor(page), &evidencetest.Sink{}).Interact(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.NotNil(t, res.Results[0].DurationMs)
	assert.Equal(t, 1000, *res.Results[0].DurationMs)
	require.NotNil(t, res.Results[1].DurationMs)
	assert.Equal(t, 12, *res.Results[1].DurationMs)
	assert.Equal(t, 1012*time.Millisecond, page.Waited())
	assert.Equal(t, []string{"fill:#qty=3", "click:#go"}, page.Actions())
}

func TestActionValue_RejectsNonScalar(t *testing.T) {
	for _, body := range []string{`{"type":"wait","value":true}`, `{"type":"fill","value":{"a":1}}`, `{"type":"fill","value":[1]}`} {
		var a Action
		err := json.Unmarshal([]byte(body), &a)
		require.Error(t, err, body)
		assert.Contains(t, err.Error(), "string or number", body)
	}
}

func TestInteract_Faults(t *testing.T) {
	t.Run("not initialized", func(t *testing.T) {
		_, err := newRunner(&browsertest.Opener{NotReady: true}, &evidencetest.Sink{}).Interact(context.Background(), InteractRequest{
			URL:     "https://app.example.com",
			Actions: []Action{{Type: ActionClick, Selector: "#a"}},
		})
		assert.ErrorIs(t, err, browser.ErrNotInitialized)
	})

	t.Run("navigation", func(t *testing.T) {
		page := &browsertest.Page{NavigateErr: errors.New("net::ERR_CONNECTION_REFUSED")}
		_, err := newRunner(browsertest.OpenerFor(page), &evidencetest.Sink{}).Interact(context.Background(), InteractRequest{
			URL:     "https://app.example.com",
			Actions: []Action{{Type: ActionClick, Selector: "#a"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load")
		assert.Equal(t, 1, page.Released())
	})

	t.Run("evidence store", func(t *testing.T) {
		page := &browsertest.Page{Shot: []byte("after")}
		_, err := newRunner(browsertest.OpenerFor(page), &evidencetest.Sink{Err: errors.New("disk full")}).Interact(context.Background(), InteractRequest{
			URL:     "https://app.example.com",
			Actions: []Action{{Type: ActionClick, Selector: "#a"}},
		})
		assert.ErrorIs(t, err, evidence.ErrUpload)
		assert.Equal(t, 1, page.Released())
	})
}

// panickyPage blows up on visibility checks.
type panickyPage struct {
	*browsertest.Page
}

func (p panickyPage) Visible(string) (bool, error) {
	panic("element detached")
}

func TestRunTests_CountsOutcomes(t *testing.T) {
	page := &browsertest.Page{
		Elements: map[string]string{
			"h1":      "Welcome back, Ada",
			"#banner": "",
			".modal":  "Sign up",
		},
		Hidden: map[string]bool{".modal": true},
	}
	opener := browsertest.OpenerFor(page)

	report, err := newRunner(opener, &evidencetest.Sink{}).RunTests(context.Background(), TestRequest{
		URL: "https://app.example.com",
		Tests: []TestCase{
			{Type: TestExists, Selector: "#banner"},
			{Type: TestExists, Selector: "#footer"},
			{Type: TestVisible, Selector: ".modal"},
			{Type: TestVisible, Selector: "h1"},
			{Type: TestText, Selector: "h1", Expected: "Welcome"},
			{Type: TestText, Selector: "h1", Expected: "Goodbye"},
			{Type: TestText, Selector: "h2", Expected: "Anything"},
			{Type: "screenshot", Selector: "h1"},
		},
		Viewport: &browser.Viewport{Width: 390, Height: 844},
	})
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.Equal(t, 8, report.TotalTests)
	assert.Equal(t, 3, report.Passed)
	assert.Equal(t, 5, report.Failed)

	passed := make([]bool, len(report.Results))
	for i, r := range report.Results {
		passed[i] = r.Passed
	}
	assert.Equal(t, []bool{true, false, false, true, true, false, false, false}, passed)

	require.NotNil(t, report.Results[4].Actual)
	assert.Equal(t, "Welcome back, Ada", *report.Results[4].Actual)
	assert.Equal(t, "Element not found", report.Results[6].Error)
	assert.Nil(t, report.Results[6].Actual)
	assert.Contains(t, report.Results[7].Error, "Unknown test type")

	assert.Equal(t, browser.WaitNetworkIdle, page.NavigateOptions()[0].WaitUntil)
	assert.Equal(t, browser.Viewport{Width: 390, Height: 844}, opener.Opened()[0].Viewport)
	assert.Equal(t, 1, page.Released())
}

func TestRunTests_AllPass(t *testing.T) {
	page := &browsertest.Page{Elements: map[string]string{"main": "content"}}
	report, err := newRunner(browsertest.OpenerFor(page), &evidencetest.Sink{}).RunTests(context.Background(), TestRequest{
		URL:   "https://app.example.com",
		Tests: []TestCase{{Type: TestExists, Selector: "main"}, {Type: TestText, Selector: "main", Expected: ""}},
	})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.Passed)
	assert.Zero(t, report.Failed)
}

func TestRunTests_FaultInOneTestFailsOnlyThatTest(t *testing.T) {
	inner := &browsertest.Page{Elements: map[string]string{"h1": "Title"}}
	runner := newRunner(singlePage{page: panickyPage{inner}}, &evidencetest.Sink{})
	report, err := runner.RunTests(context.Background(), TestRequest{
		URL: "https://app.example.com",
		Tests: []TestCase{
			{Type: TestVisible, Selector: "h1"},
			{Type: TestExists, Selector: "h1"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[0].Error, "element detached")
	assert.True(t, report.Results[1].Passed)
	assert.Equal(t, 1, inner.Released())
}

// singlePage always opens the same page.
type singlePage struct {
	page browser.Page
}

func (s singlePage) OpenPage(browser.PageOptions) (browser.Page, error) { return s.page, nil }

func (s singlePage) Ready() bool { return true }

func TestRequestValidation(t *testing.T) {
	assert.NoError(t, InteractRequest{URL: "https://a.example.com", Actions: []Action{{Type: ActionClick}}}.Validate())
	assert.Error(t, InteractRequest{URL: "https://a.example.com"}.Validate())
	assert.Error(t, InteractRequest{URL: "mailto:x@example.com", Actions: []Action{{Type: ActionClick}}}.Validate())
	assert.Error(t, InteractRequest{URL: "https://a.example.com", Actions: []Action{{Type: ActionClick}}, WaitUntil: "never"}.Validate())

	assert.NoError(t, TestRequest{URL: "https://a.example.com", Tests: []TestCase{{Type: TestExists, Selector: "h1"}}}.Validate())
	assert.Error(t, TestRequest{URL: "https://a.example.com", Tests: []TestCase{{Type: TestExists}}}.Validate())
	assert.Error(t, TestRequest{URL: "https://a.example.com"}.Validate())
}
