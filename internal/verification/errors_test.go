package verification

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"known code", &Error{Code: CodeInvalidPhoneNumber, Message: "raw"}, "The phone number format is invalid."},
		{"wrapped known code", fmt.Errorf("send: %w", &Error{Code: CodeCodeExpired}), "The verification code has expired. Please request a new one."},
		{"unknown code uses raw message", &Error{Code: "auth/brand-new", Message: "Something odd"}, "Something odd"},
		{"unknown code without message", &Error{Code: "auth/brand-new"}, "auth/brand-new"},
		{"plain error", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.err))
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeQuotaExceeded, CodeOf(fmt.Errorf("wrap: %w", &Error{Code: CodeQuotaExceeded})))
	assert.Empty(t, CodeOf(errors.New("plain")))
}

func TestError_Unwrap(t *testing.T) {
	err := &Error{Code: CodeNetworkRequestFailed, Underlying: context.DeadlineExceeded}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), CodeNetworkRequestFailed)
}

func TestChallengeRenderers(t *testing.T) {
	token, err := PassthroughChallenge{}.Render(context.Background(), "solved")
	assert.NoError(t, err)
	assert.Equal(t, "solved", token)

	_, err = PassthroughChallenge{}.Render(context.Background(), "")
	assert.Equal(t, CodeCaptchaCheckFailed, CodeOf(err))

	token, err = NoChallenge{}.Render(context.Background(), "anything")
	assert.NoError(t, err)
	assert.Empty(t, token)
}
