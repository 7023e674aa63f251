package citation

import (
	"time"

	"github.com/entrhq/pageproof/pkg/browser"
)

// Status is the single final classification of a citation.
type Status string

const (
	StatusValid        Status = "valid"
	StatusPaywall      Status = "paywall"
	StatusNotFound     Status = "not_found"
	StatusTextNotFound Status = "text_not_found"
	StatusCaptcha      Status = "captcha"
	StatusError        Status = "error"
)

// Request asks for one citation to be validated.
// TakeScreenshot and CheckPaywall default to true when omitted.
type Request struct {
	URL            string `json:"url"`
	ExpectedText   string `json:"expectedText,omitempty"`
	TakeScreenshot *bool  `json:"takeScreenshot,omitempty"`
	CheckPaywall   *bool  `json:"checkPaywall,omitempty"`
}

// Validate checks the request is well formed.
func (r Request) Validate() error {
	return browser.ValidateURL(r.URL)
}

func (r Request) screenshot() bool {
	return r.TakeScreenshot == nil || *r.TakeScreenshot
}

func (r Request) paywall() bool {
	return r.CheckPaywall == nil || *r.CheckPaywall
}

// Result is the outcome of validating one citation. Fields that do not apply
// to the final status are left empty.
type Result struct {
	URL             string    `json:"url"`
	Status          Status    `json:"status"`
	HTTPStatus      int       `json:"httpStatus"`
	TextFound       *bool     `json:"textFound"`
	TextLocation    string    `json:"textLocation,omitempty"`
	PaywallDetected bool      `json:"paywallDetected"`
	PaywallText     string    `json:"paywallText,omitempty"`
	CaptchaDetected bool      `json:"captchaDetected"`
	ScreenshotURL   string    `json:"screenshotUrl,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	ResponseTimeMs  int64     `json:"responseTimeMs"`
	PageTitle       string    `json:"pageTitle,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
}

// BatchRequest validates several citations at once.
type BatchRequest struct {
	Citations []Request `json:"citations"`
}

// BatchResult holds one result per request, in request order.
type BatchResult struct {
	Total   int       `json:"total"`
	Results []*Result `json:"results"`
}
