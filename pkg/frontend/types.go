package frontend

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/entrhq/pageproof/pkg/browser"
)

// ActionType names a page interaction.
type ActionType string

const (
	ActionClick  ActionType = "click"
	ActionFill   ActionType = "fill"
	ActionSelect ActionType = "select"
	// ActionWait pauses for Value milliseconds
	ActionWait ActionType = "wait"
)

// ActionValue is the argument of an action. It decodes from a JSON string or
// number; numbers keep their literal text, so {"value":1000} and
// {"value":"1000"} are the same wait.
type ActionValue string

func (v *ActionValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = ActionValue(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("action value must be a string or number, got %s", data)
	}
	*v = ActionValue(n.String())
	return nil
}

// Action is one step of an interaction script.
type Action struct {
	Type     ActionType  `json:"type"`
	Selector string      `json:"selector,omitempty"`
	Value    ActionValue `json:"value,omitempty"`
}

// ActionResult reports one executed action.
type ActionResult struct {
	Action     ActionType `json:"action"`
	Selector   string     `json:"selector,omitempty"`
	Value      string     `json:"value,omitempty"`
	DurationMs *int       `json:"durationMs,omitempty"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
}

// InteractRequest drives a page through a sequence of actions.
// ScreenshotAfter defaults to true.
type InteractRequest struct {
	URL             string            `json:"url"`
	Actions         []Action          `json:"actions"`
	Viewport        *browser.Viewport `json:"viewport,omitempty"`
	ScreenshotAfter *bool             `json:"screenshotAfter,omitempty"`
	WaitUntil       browser.WaitUntil `json:"waitUntil,omitempty"`
}

// Validate checks the request is well formed.
func (r InteractRequest) Validate() error {
	if err := browser.ValidateURL(r.URL); err != nil {
		return err
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}
	if r.WaitUntil != "" && !r.WaitUntil.Valid() {
		return fmt.Errorf("invalid waitUntil %q", r.WaitUntil)
	}
	return nil
}

// InteractResult is the outcome of an interaction script. Success is false
// when any action failed.
type InteractResult struct {
	Success         bool           `json:"success"`
	URL             string         `json:"url"`
	ActionsExecuted int            `json:"actionsExecuted"`
	Results         []ActionResult `json:"results"`
	ScreenshotURL   string         `json:"screenshotUrl,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// TestType names a DOM assertion.
type TestType string

const (
	TestExists  TestType = "exists"
	TestVisible TestType = "visible"
	// TestText passes when Expected is a substring of the element's text
	TestText TestType = "text"
)

// TestCase is one DOM assertion.
type TestCase struct {
	Type     TestType `json:"type"`
	Selector string   `json:"selector"`
	Expected string   `json:"expected,omitempty"`
}

// TestResult reports one assertion.
type TestResult struct {
	Test     TestType `json:"test"`
	Selector string   `json:"selector"`
	Expected string   `json:"expected,omitempty"`
	Actual   *string  `json:"actual,omitempty"`
	Passed   bool     `json:"passed"`
	Error    string   `json:"error,omitempty"`
}

// TestRequest runs DOM assertions against a loaded page.
type TestRequest struct {
	URL      string            `json:"url"`
	Tests    []TestCase        `json:"tests"`
	Viewport *browser.Viewport `json:"viewport,omitempty"`
}

// Validate checks the request is well formed.
func (r TestRequest) Validate() error {
	if err := browser.ValidateURL(r.URL); err != nil {
		return err
	}
	if len(r.Tests) == 0 {
		return fmt.Errorf("at least one test is required")
	}
	for i, tc := range r.Tests {
		if tc.Selector == "" {
			return fmt.Errorf("test %d: selector is required", i)
		}
	}
	return nil
}

// TestReport aggregates assertion results.
type TestReport struct {
	Success    bool         `json:"success"`
	URL        string       `json:"url"`
	TotalTests int          `json:"totalTests"`
	Passed     int          `json:"passed"`
	Failed     int          `json:"failed"`
	Results    []TestResult `json:"results"`
	Timestamp  time.Time    `json:"timestamp"`
}
