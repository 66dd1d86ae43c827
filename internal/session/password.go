package session

import (
	"context"
	"strings"

	"p3am/internal/audit"
	"p3am/internal/session/models"
)

// SetNewPassword redeems a password reset token. Like Register it never
// touches the session: a signed-in user stays signed in and an anonymous
// one stays anonymous.
func (m *Manager) SetNewPassword(ctx context.Context, resetToken, password string) models.Result {
	ctx, end := m.begin(ctx, opSetNewPassword)

	resetToken = strings.TrimSpace(resetToken)
	if resetToken == "" || password == "" {
		end(outcomeInvalid)
		return failed(msgResetRequired)
	}

	name := m.current().User.Username()
	resp, err := m.backend.SetNewPassword(ctx, resetToken, password)
	if err != nil {
		outcome, msg := m.remoteFailure(ctx, "set_new_password", err, msgPasswordFailed)
		m.emit(ctx, audit.ActionPasswordResetFailed, audit.OutcomeFailure, name, outcome)
		end(outcome)
		return failed(msg)
	}

	m.logger.InfoContext(ctx, "password reset completed")
	m.emit(ctx, audit.ActionPasswordReset, audit.OutcomeSuccess, name, "")
	end(outcomeSuccess)
	return models.Result{Success: true, Message: messageOr(resp.Message, msgPasswordUpdated)}
}
