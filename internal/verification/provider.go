// Package verification abstracts the third-party phone verification
// provider behind a small capability interface.
package verification

import (
	"context"
)

// Handle is the opaque provider reference needed to confirm a code.
type Handle string

// Provider sends a code to a phone number and confirms it, yielding an
// identity token the backend can exchange for a session token.
type Provider interface {
	SendCode(ctx context.Context, phoneNumber, challenge string) (Handle, error)
	ConfirmCode(ctx context.Context, handle Handle, code string) (idToken string, err error)
	SignOut(ctx context.Context) error
}

// ChallengeRenderer produces the anti-abuse challenge token the provider
// requires before sending a code. channel identifies the challenge widget.
type ChallengeRenderer interface {
	Render(ctx context.Context, channel string) (string, error)
	Clear(channel string)
}

// PassthroughChallenge treats the channel handle as a challenge token the
// browser already solved (a reCAPTCHA response).
type PassthroughChallenge struct{}

func (PassthroughChallenge) Render(_ context.Context, channel string) (string, error) {
	if channel == "" {
		return "", &Error{Code: CodeCaptchaCheckFailed, Message: "challenge token is missing"}
	}
	return channel, nil
}

// Clear is a no-op: the token is single use and lives in the browser.
func (PassthroughChallenge) Clear(string) {}

// NoChallenge is used with providers that do not require a challenge.
type NoChallenge struct{}

func (NoChallenge) Render(context.Context, string) (string, error) { return "", nil }

func (NoChallenge) Clear(string) {}
