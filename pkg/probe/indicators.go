package probe

// Indicators are the phrase and pattern sets used for heuristic detection.
// They are configuration: operators can replace any list without touching
// the orchestration code.
type Indicators struct {
	// Captcha phrases, matched case-insensitively against rendered text
	Captcha []string `yaml:"captcha" json:"captcha"`

	// CaptchaFrames are glob patterns matched against lower-cased frame URLs
	CaptchaFrames []string `yaml:"captcha_frames" json:"captchaFrames"`

	// Paywall phrases, matched case-insensitively in order
	Paywall []string `yaml:"paywall" json:"paywall"`
}

// DefaultIndicators returns the built-in indicator sets.
func DefaultIndicators() Indicators {
	return Indicators{
		Captcha: []string{
			"recaptcha",
			"captcha",
			"hcaptcha",
			"robot verification",
			"verify you are human",
		},
		CaptchaFrames: []string{
			"*recaptcha*",
			"*captcha*",
		},
		Paywall: []string{
			"subscribe",
			"subscription",
			"paywall",
			"premium content",
			"member exclusive",
			"sign in to continue",
			"register to read",
			"become a member",
			"unlock this article",
		},
	}
}

// withDefaults fills empty lists from the built-in sets.
func (i Indicators) withDefaults() Indicators {
	def := DefaultIndicators()
	if len(i.Captcha) == 0 {
		i.Captcha = def.Captcha
	}
	if len(i.CaptchaFrames) == 0 {
		i.CaptchaFrames = def.CaptchaFrames
	}
	if len(i.Paywall) == 0 {
		i.Paywall = def.Paywall
	}
	return i
}
