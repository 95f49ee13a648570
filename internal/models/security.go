package models

import "time"

// TrustRecord is the abuse-mitigation state of one browser. It is keyed by
// client address plus browser fingerprint and only ever changed through the
// trust policy.
type TrustRecord struct {
	BrowserFingerprint string    `json:"browser_fingerprint"`
	RequestCount       int       `json:"request_count"`
	WindowStart        time.Time `json:"window_start"`
	IsTrusted          bool      `json:"is_trusted"`
	TrustedUntil       time.Time `json:"trusted_until"`
	RateLimited        bool      `json:"rate_limited"`
	LastCaptchaPassed  time.Time `json:"last_captcha_passed"`
}

// CaptchaChallenge is a pending arithmetic challenge. Only the hash of the
// answer is kept.
type CaptchaChallenge struct {
	ID          string    `json:"captcha_id"`
	AnswerHash  string    `json:"answer_hash"`
	Fingerprint string    `json:"fingerprint"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CaptchaResponse is returned when a challenge is issued.
type CaptchaResponse struct {
	CaptchaID string `json:"captcha_id"`
	Question  string `json:"question"`
	Timeout   int    `json:"timeout"`
}

// CaptchaVerifyRequest is the payload of a verification attempt.
type CaptchaVerifyRequest struct {
	CaptchaID string `json:"captcha_id"`
	Answer    string `json:"answer"`
}

// SecurityStatus is the client-facing view of the session's trust state.
type SecurityStatus struct {
	IsTrusted          bool   `json:"is_trusted"`
	RateLimited        bool   `json:"rate_limited"`
	RequestCount       int    `json:"request_count"`
	RateLimitThreshold int    `json:"rate_limit_threshold"`
	BrowserFingerprint string `json:"browser_fingerprint"`
	CSRFToken          string `json:"csrf_token,omitempty"`
}

// CaptchaVerifyResponse reports the outcome of a verification attempt.
type CaptchaVerifyResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Status  *SecurityStatus `json:"status,omitempty"`
}

// CaptchaRequiredResponse is sent when an identify request is gated.
type CaptchaRequiredResponse struct {
	Error           string          `json:"error"`
	Message         string          `json:"message"`
	CaptchaRequired bool            `json:"captcha_required"`
	Status          *SecurityStatus `json:"status,omitempty"`
}
