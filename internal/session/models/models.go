package models

import "maps"

// State is the externally visible position in the session state machine.
type State string

const (
	StateAnonymous            State = "anonymous"
	StateAwaitingVerification State = "awaiting_verification"
	StateAuthenticated        State = "authenticated"
)

// User is the opaque profile record returned by the backend. Only the
// username field is interpreted by the session layer.
type User map[string]any

// Username returns the "username" field when it is a string.
func (u User) Username() string {
	if u == nil {
		return ""
	}
	name, _ := u["username"].(string)
	return name
}

// Merge returns a copy of u with fields overlaid. u is not modified.
func (u User) Merge(fields map[string]any) User {
	out := make(User, len(u)+len(fields))
	maps.Copy(out, u)
	maps.Copy(out, fields)
	return out
}

// Clone returns a shallow copy, or nil for a nil user.
func (u User) Clone() User {
	if u == nil {
		return nil
	}
	return maps.Clone(u)
}

// Credentials is the password-login input.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is the account-creation input.
type Registration struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Result is returned by every session operation in place of an error.
type Result struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	MFARequired bool   `json:"mfaRequired,omitempty"`
	Username    string `json:"username,omitempty"`
}

// ProfileResult is Result plus the merged profile on success.
type ProfileResult struct {
	Result
	User User `json:"user,omitempty"`
	// Unauthorized is set when the backend rejected the session token and the
	// session was logged out.
	Unauthorized bool `json:"-"`
}

// Snapshot is a read-only copy of the session. It never carries the token.
type Snapshot struct {
	IsAuthenticated     bool   `json:"isAuthenticated"`
	User                User   `json:"user"`
	PendingPhoneNumber  string `json:"pendingPhoneNumber,omitempty"`
	VerificationPending bool   `json:"verificationPending"`
	State               State  `json:"state"`
}
