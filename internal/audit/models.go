// Package audit records session lifecycle events. Events are best effort:
// a failed publish never changes the outcome of a session operation.
package audit

import "time"

// Action names a session lifecycle event.
type Action string

const (
	ActionLoginSucceeded        Action = "login_succeeded"
	ActionLoginMFARequired      Action = "login_mfa_required"
	ActionLoginFailed           Action = "login_failed"
	ActionRegistered            Action = "registered"
	ActionRegistrationFailed    Action = "registration_failed"
	ActionPasswordReset         Action = "password_reset"
	ActionPasswordResetFailed   Action = "password_reset_failed"
	ActionVerificationSent      Action = "verification_sent"
	ActionVerificationFailed    Action = "verification_failed"
	ActionVerificationSucceeded Action = "verification_succeeded"
	ActionProfileFetched        Action = "profile_fetched"
	ActionSessionExpired        Action = "session_expired"
	ActionLogout                Action = "logout"
	ActionSessionRestored       Action = "session_restored"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event is transport-agnostic so sinks can fan out. It never carries
// passwords, codes or tokens.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Action    Action    `json:"action"`
	Outcome   string    `json:"outcome,omitempty"`
	Username  string    `json:"username,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}
