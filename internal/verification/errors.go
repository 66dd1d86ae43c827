package verification

import (
	"errors"
	"fmt"
)

// Provider error codes, named after the phone auth SDK codes the UI already knows.
const (
	CodeInvalidPhoneNumber      = "auth/invalid-phone-number"
	CodeMissingPhoneNumber      = "auth/missing-phone-number"
	CodeTooManyRequests         = "auth/too-many-requests"
	CodeQuotaExceeded           = "auth/quota-exceeded"
	CodeCaptchaCheckFailed      = "auth/captcha-check-failed"
	CodeWebStorageUnsupported   = "auth/web-storage-unsupported"
	CodeOperationNotSupported   = "auth/operation-not-supported-in-this-environment"
	CodeInvalidVerificationCode = "auth/invalid-verification-code"
	CodeMissingVerificationCode = "auth/missing-verification-code"
	CodeCodeExpired             = "auth/code-expired"
	CodeInvalidVerificationID   = "auth/invalid-verification-id"
	CodeNetworkRequestFailed    = "auth/network-request-failed"
	CodeInternal                = "auth/internal-error"
)

var messages = map[string]string{
	CodeInvalidPhoneNumber:      "The phone number format is invalid.",
	CodeMissingPhoneNumber:      "Phone number not available to send OTP.",
	CodeTooManyRequests:         "Too many attempts. Please try again later.",
	CodeQuotaExceeded:           "SMS quota exceeded. Please try again later.",
	CodeCaptchaCheckFailed:      "Security check failed. Please reload the page and try again.",
	CodeWebStorageUnsupported:   "This browser does not support phone verification.",
	CodeOperationNotSupported:   "Phone verification is not supported in this environment.",
	CodeInvalidVerificationCode: "The verification code is incorrect.",
	CodeMissingVerificationCode: "Please enter the verification code.",
	CodeCodeExpired:             "The verification code has expired. Please request a new one.",
	CodeInvalidVerificationID:   "The verification session is no longer valid. Please request a new code.",
	CodeNetworkRequestFailed:    "Network error or server unavailable.",
}

// Error is a provider failure with its code and the provider's raw message.
type Error struct {
	Code       string
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("verification %s: %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("verification %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// CodeOf returns the provider code of err, or "" if err is not an *Error.
func CodeOf(err error) string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// Message maps a provider failure to the text shown to the user. Unknown
// codes fall back to the provider's raw message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ve *Error
	if !errors.As(err, &ve) {
		return err.Error()
	}
	if msg, ok := messages[ve.Code]; ok {
		return msg
	}
	if ve.Message != "" {
		return ve.Message
	}
	return ve.Code
}
