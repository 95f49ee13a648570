package errors

import "net/http"

type Code string

const (
	CodeInvalidCaptcha      Code = "invalid_captcha"
	CodeIncorrectAnswer     Code = "incorrect_answer"
	CodeTooManyAttempts     Code = "too_many_attempts"
	CodeExpiredCaptcha      Code = "expired_captcha"
	CodeCSRFMismatch        Code = "csrf_mismatch"
	CodeUnsupportedFileType Code = "unsupported_file_type"
	CodeInvalidImage        Code = "invalid_image"
	CodeInvalidToken        Code = "invalid_token"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeRateLimited         Code = "rate_limited"
	CodeCaptchaRequired     Code = "captcha_required"

	CodeInvalidArgument Code = "invalid_argument"
	CodeUnauthenticated Code = "unauthenticated"
	CodeNotFound        Code = "not_found"
	CodePayloadTooLarge Code = "payload_too_large"
	CodeInternal        Code = "internal"
)

// HTTPStatus maps an error code to the status the API answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case CodeRateLimited, CodeCaptchaRequired:
		return http.StatusTooManyRequests
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
