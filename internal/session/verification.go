package session

import (
	"context"

	"p3am/internal/audit"
	"p3am/internal/session/models"
	"p3am/internal/verification"
)

// RequestPhoneVerification sends a code to the pending phone number. channel
// identifies the challenge widget; a new request supersedes any earlier one.
func (m *Manager) RequestPhoneVerification(ctx context.Context, channel string) models.Result {
	ctx, end := m.begin(ctx, opRequestVerification)

	phone := m.current().PendingPhoneNumber
	if phone == "" {
		end(outcomeInvalid)
		return failed(msgPhoneNotAvailable)
	}

	m.clearChallenge(m.takeAttempt())

	challenge, err := m.challenge.Render(ctx, channel)
	if err == nil {
		var handle verification.Handle
		handle, err = m.provider.SendCode(ctx, phone, challenge)
		if err == nil {
			m.mu.Lock()
			m.attempt = &VerificationAttempt{PhoneNumber: phone, Channel: channel, Handle: handle}
			m.mu.Unlock()

			m.logger.InfoContext(ctx, "verification code sent")
			m.emit(ctx, audit.ActionVerificationSent, audit.OutcomeSuccess, "", "")
			end(outcomeSuccess)
			return models.Result{Success: true, Message: msgOTPSent}
		}
	}

	m.challenge.Clear(channel)
	code := verification.CodeOf(err)
	m.logger.WarnContext(ctx, "failed to send verification code", "code", code, "error", err)
	m.emit(ctx, audit.ActionVerificationFailed, audit.OutcomeFailure, "", code)
	end(outcomeProviderErr)
	return failed(verification.Message(err))
}

// ConfirmPhoneVerification confirms code against the outstanding attempt and
// exchanges the provider identity token for a session token. Any failure
// resets the whole session; the user has to log in again.
func (m *Manager) ConfirmPhoneVerification(ctx context.Context, code string) models.Result {
	ctx, end := m.begin(ctx, opConfirmVerification)
	res, outcome := m.confirm(ctx, code)
	end(outcome)
	return res
}

func (m *Manager) confirm(ctx context.Context, code string) (models.Result, string) {
	attempt := m.takeAttempt()
	if attempt == nil {
		return failed(msgOTPNotInitiated), outcomeInvalid
	}
	defer m.challenge.Clear(attempt.Channel)

	idToken, err := m.provider.ConfirmCode(ctx, attempt.Handle, code)
	if err != nil {
		providerCode := verification.CodeOf(err)
		m.logger.InfoContext(ctx, "verification code rejected", "code", providerCode, "error", err)
		m.reset(ctx)
		m.emit(ctx, audit.ActionVerificationFailed, audit.OutcomeFailure, "", providerCode)
		return failed(verification.Message(err)), outcomeProviderErr
	}

	resp, err := m.backend.VerifyIDToken(ctx, idToken)
	if err != nil {
		outcome, msg := m.remoteFailure(ctx, "verify", err, msgBackendVerifyFailed)
		m.reset(ctx)
		m.emit(ctx, audit.ActionVerificationFailed, audit.OutcomeFailure, "", outcome)
		return failed(msg), outcome
	}
	if resp.Token == "" {
		m.logger.ErrorContext(ctx, "verification exchange returned no token")
		m.reset(ctx)
		m.emit(ctx, audit.ActionVerificationFailed, audit.OutcomeFailure, "", outcomeRejected)
		return failed(messageOr(resp.Message, msgBackendVerifyFailed)), outcomeRejected
	}

	s := Session{
		Token:         resp.Token,
		User:          userFrom(resp.User, resp.Username),
		Authenticated: true,
	}
	m.setSession(s)
	m.persistAuthenticated(ctx, s)

	name := s.User.Username()
	m.logger.InfoContext(ctx, "phone verification succeeded", "username", name)
	m.emit(ctx, audit.ActionVerificationSucceeded, audit.OutcomeSuccess, name, "")
	return models.Result{
		Success:  true,
		Message:  messageOr(resp.Message, msgOTPLoginSucceeded),
		Username: name,
	}, outcomeSuccess
}
