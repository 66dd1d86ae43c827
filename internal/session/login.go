package session

import (
	"context"
	"strings"

	"p3am/internal/audit"
	"p3am/internal/session/models"
	"p3am/internal/session/store"
)

// Login authenticates with a credential pair. Accounts that need phone
// verification come back with MFARequired set and the session waiting for
// RequestPhoneVerification.
func (m *Manager) Login(ctx context.Context, creds models.Credentials) models.Result {
	ctx, end := m.begin(ctx, opLogin)
	res, outcome := m.login(ctx, creds)
	end(outcome)
	return res
}

func (m *Manager) login(ctx context.Context, creds models.Credentials) (models.Result, string) {
	username := strings.TrimSpace(creds.Username)
	if username == "" || creds.Password == "" {
		return failed(msgCredentialsRequired), outcomeInvalid
	}

	resp, err := m.backend.Login(ctx, username, creds.Password)
	if err != nil {
		outcome, msg := m.remoteFailure(ctx, "login", err, msgLoginFailed)
		m.emit(ctx, audit.ActionLoginFailed, audit.OutcomeFailure, username, outcome)
		return failed(msg), outcome
	}

	name := messageOr(resp.Username, username)
	switch {
	case resp.PhoneNumber != "":
		m.setSession(Session{PendingPhoneNumber: resp.PhoneNumber})
		m.persist(ctx, store.KeyPhoneNumber, resp.PhoneNumber)
		m.remove(ctx, store.KeyToken, store.KeyUser)

		m.logger.InfoContext(ctx, "login requires phone verification", "username", name)
		m.emit(ctx, audit.ActionLoginMFARequired, audit.OutcomeSuccess, name, "")
		return models.Result{
			Success:     true,
			MFARequired: true,
			Message:     messageOr(resp.Message, msgOTPInitiated),
			Username:    name,
		}, outcomeMFARequired

	case resp.Token != "":
		s := Session{
			Token:         resp.Token,
			User:          userFrom(resp.User, name),
			Authenticated: true,
		}
		m.setSession(s)
		m.persistAuthenticated(ctx, s)

		m.logger.InfoContext(ctx, "login succeeded", "username", name)
		m.emit(ctx, audit.ActionLoginSucceeded, audit.OutcomeSuccess, name, "")
		return models.Result{
			Success:  true,
			Message:  messageOr(resp.Message, msgLoginSucceeded),
			Username: name,
		}, outcomeSuccess

	default:
		m.logger.ErrorContext(ctx, "login response carried neither token nor phone number", "username", name)
		m.emit(ctx, audit.ActionLoginFailed, audit.OutcomeFailure, name, outcomeRejected)
		return failed(messageOr(resp.Message, msgInvalidResponse)), outcomeRejected
	}
}

// Register creates an account. The session is never modified.
func (m *Manager) Register(ctx context.Context, reg models.Registration) models.Result {
	ctx, end := m.begin(ctx, opRegister)

	resp, err := m.backend.Register(ctx, reg)
	if err != nil {
		outcome, msg := m.remoteFailure(ctx, "register", err, msgRegistrationFailed)
		if outcome == outcomeNetworkError {
			msg = msgRegistrationError
		}
		m.emit(ctx, audit.ActionRegistrationFailed, audit.OutcomeFailure, reg.Username, outcome)
		end(outcome)
		return failed(msg)
	}

	m.emit(ctx, audit.ActionRegistered, audit.OutcomeSuccess, reg.Username, "")
	end(outcomeSuccess)
	return models.Result{
		Success:  true,
		Message:  messageOr(resp.Message, msgRegistered),
		Username: reg.Username,
	}
}
