// Package trust implements the adaptive rate limit that gates identify
// requests behind a CAPTCHA and grants a browser temporary trust once solved.
package trust

import (
	"time"

	"github.com/wildid/wildid-server/internal/models"
)

// Action is a request kind the policy is asked about.
type Action string

// ActionIdentify is the only action subject to rate limiting.
const ActionIdentify Action = "identify"

// ReasonCaptchaRequired is attached to denied decisions.
const ReasonCaptchaRequired = "captcha_required"

// State names the policy state a record is in.
type State string

const (
	StateFresh          State = "fresh"
	StateUnderThreshold State = "under_threshold"
	StateRateLimited    State = "rate_limited"
	StateTrusted        State = "trusted"
)

// Decision is the answer to CanProceed.
type Decision struct {
	Allowed bool
	Reason  string
}

// Policy holds the rate-limit parameters. All methods are pure.
type Policy struct {
	Window        time.Duration
	Threshold     int
	TrustDuration time.Duration
}

// Refresh applies the time-driven transitions: expired trust drops the record
// back to an untrusted, under-threshold state and an elapsed window resets
// the counter. Resetting the window never clears RateLimited.
func (p Policy) Refresh(rec models.TrustRecord, now time.Time) models.TrustRecord {
	if rec.IsTrusted && !now.Before(rec.TrustedUntil) {
		rec.IsTrusted = false
		rec.TrustedUntil = time.Time{}
		rec.RateLimited = false
		rec.RequestCount = 0
		rec.WindowStart = now
	}
	if rec.WindowStart.IsZero() || now.Sub(rec.WindowStart) >= p.Window {
		rec.RequestCount = 0
		rec.WindowStart = now
	}
	return rec
}

// RecordRequest counts a request against the window. Trusted records are not
// counted.
func (p Policy) RecordRequest(rec models.TrustRecord, action Action, now time.Time) models.TrustRecord {
	if action != ActionIdentify {
		return rec
	}
	rec = p.Refresh(rec, now)
	if rec.IsTrusted {
		return rec
	}
	rec.RequestCount++
	if rec.RequestCount >= p.Threshold {
		rec.RateLimited = true
	}
	return rec
}

// CanProceed reports whether the action may run for this record.
func (p Policy) CanProceed(rec models.TrustRecord, action Action, now time.Time) Decision {
	if action != ActionIdentify {
		return Decision{Allowed: true}
	}
	rec = p.Refresh(rec, now)
	switch {
	case rec.IsTrusted:
		return Decision{Allowed: true}
	case rec.RateLimited:
		return Decision{Allowed: false, Reason: ReasonCaptchaRequired}
	default:
		return Decision{Allowed: true}
	}
}

// Admit evaluates CanProceed and, when allowed, RecordRequest as one step.
// Denied requests leave the counter untouched.
func (p Policy) Admit(rec models.TrustRecord, action Action, now time.Time) (models.TrustRecord, Decision) {
	rec = p.Refresh(rec, now)
	d := p.CanProceed(rec, action, now)
	if !d.Allowed {
		return rec, d
	}
	return p.RecordRequest(rec, action, now), d
}

// Elevate marks the browser trusted after a solved CAPTCHA.
func (p Policy) Elevate(rec models.TrustRecord, now time.Time) models.TrustRecord {
	rec = p.Refresh(rec, now)
	rec.IsTrusted = true
	rec.TrustedUntil = now.Add(p.TrustDuration)
	rec.RateLimited = false
	rec.RequestCount = 0
	rec.LastCaptchaPassed = now
	return rec
}

// Gate forces an untrusted record into the rate-limited state, used when a
// client asks for a CAPTCHA before reaching the threshold.
func (p Policy) Gate(rec models.TrustRecord, now time.Time) models.TrustRecord {
	rec = p.Refresh(rec, now)
	if !rec.IsTrusted {
		rec.RateLimited = true
	}
	return rec
}

// StateOf names the state of rec at now without mutating it.
func (p Policy) StateOf(rec models.TrustRecord, now time.Time) State {
	if rec.WindowStart.IsZero() && !rec.IsTrusted && !rec.RateLimited {
		return StateFresh
	}
	rec = p.Refresh(rec, now)
	switch {
	case rec.IsTrusted:
		return StateTrusted
	case rec.RateLimited:
		return StateRateLimited
	default:
		return StateUnderThreshold
	}
}
