package session

// User-facing messages. Backend-supplied messages take precedence where the
// backend sends one.
const (
	msgCredentialsRequired = "Username and password are required."
	msgLoginFailed         = "Login failed."
	msgLoginSucceeded      = "Login successful."
	msgOTPInitiated        = "OTP verification initiated."
	msgInvalidResponse     = "Invalid server response."
	msgNetworkError        = "Network error or server unavailable."
	msgRegistered          = "Registration successful."
	msgRegistrationFailed  = "Registration failed."
	msgRegistrationError   = "An error occurred during registration. Please try again."
	msgResetRequired       = "Reset token and new password are required."
	msgPasswordUpdated     = "Password updated successfully."
	msgPasswordFailed      = "Failed to set new password."
	msgPhoneNotAvailable   = "Phone number not available to send OTP."
	msgOTPSent             = "OTP sent!"
	msgOTPNotInitiated     = "OTP flow not initiated. Please go back and try again."
	msgOTPLoginSucceeded   = "Login successful via OTP."
	msgBackendVerifyFailed = "Backend verification failed."
	msgNotAuthenticated    = "Not authenticated."
	msgSessionExpired      = "Session expired. Please log in again."
	msgProfileFailed       = "Failed to load profile."
	msgLoggedOut           = "Logged out."
)

// Metric and span outcomes.
const (
	outcomeSuccess      = "success"
	outcomeMFARequired  = "mfa_required"
	outcomeInvalid      = "invalid"
	outcomeRejected     = "rejected"
	outcomeUnauthorized = "unauthorized"
	outcomeNetworkError = "network_error"
	outcomeProviderErr  = "provider_error"
	outcomeStorageError = "storage_error"
)

// Operation names used for spans and metrics.
const (
	opLogin               = "login"
	opRegister            = "register"
	opSetNewPassword      = "set_new_password"
	opRequestVerification = "request_verification"
	opConfirmVerification = "confirm_verification"
	opFetchProfile        = "fetch_profile"
	opLogout              = "logout"
	opRestore             = "restore"
)
