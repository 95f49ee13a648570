package errors

var (
	// Abuse-mitigation errors
	ErrInvalidCaptcha  = New(CodeInvalidCaptcha, "Invalid or expired CAPTCHA")
	ErrIncorrectAnswer = New(CodeIncorrectAnswer, "Incorrect answer, please try again")
	ErrTooManyAttempts = New(CodeTooManyAttempts, "Too many attempts, please request a new CAPTCHA")
	ErrExpiredCaptcha  = New(CodeExpiredCaptcha, "CAPTCHA has expired, please request a new one")
	ErrCSRFMismatch    = New(CodeCSRFMismatch, "CSRF token missing or invalid")
	ErrCaptchaRequired = New(CodeCaptchaRequired, "Please complete the CAPTCHA to continue")
	ErrRateLimited     = New(CodeRateLimited, "Too many requests, please slow down")
	ErrPayloadTooLarge = New(CodePayloadTooLarge, "Upload exceeds the maximum allowed size")

	// Upload errors
	ErrUnsupportedFileType = New(CodeUnsupportedFileType, "File type not allowed. Please upload PNG, JPG, JPEG, GIF, BMP, or WEBP")
	ErrInvalidImage        = New(CodeInvalidImage, "Invalid image file")
	ErrNoFile              = InvalidArg("No file provided")

	// Auth errors
	ErrInvalidToken    = New(CodeInvalidToken, "Invalid or expired login link")
	ErrInvalidEmail    = InvalidArg("Please enter a valid email address")
	ErrNotLoggedIn     = Unauthorized("Please log in to continue")
	ErrUserNotFound    = NotFound("user not found")
	ErrRecordNotFound  = NotFound("identification not found")
	ErrInvalidFeedback = InvalidArg("feedback must be 'correct' or 'incorrect'")
)

func ErrUpstreamUnavailable(cause error) error {
	return Wrap(CodeUpstreamUnavailable, "The identification service is temporarily unavailable. Please try again.", cause)
}
