package session

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"p3am/internal/audit"
	"p3am/internal/backend"
	"p3am/internal/session/models"
	"p3am/internal/session/store"
	"p3am/pkg/platform/sentinel"
)

// FetchProfile loads the profile for the current token and merges it into
// the session user. A token rejected by the backend logs the session out.
func (m *Manager) FetchProfile(ctx context.Context) models.ProfileResult {
	ctx, end := m.begin(ctx, opFetchProfile)
	res, outcome := m.fetchProfile(ctx)
	end(outcome)
	return res
}

func (m *Manager) fetchProfile(ctx context.Context) (models.ProfileResult, string) {
	token := m.current().Token
	if token == "" {
		token = m.adoptStoredToken(ctx)
	}
	if token == "" {
		return models.ProfileResult{Result: failed(msgNotAuthenticated), Unauthorized: true}, outcomeUnauthorized
	}

	profile, err := m.backend.Profile(ctx, token)
	if errors.Is(err, backend.ErrUnauthorized) {
		name := m.current().User.Username()
		m.logger.InfoContext(ctx, "session token rejected, logging out", "username", name)
		m.logout(ctx)
		m.emit(ctx, audit.ActionSessionExpired, audit.OutcomeFailure, name, "")
		return models.ProfileResult{Result: failed(msgSessionExpired), Unauthorized: true}, outcomeUnauthorized
	}
	if err != nil {
		outcome, msg := m.remoteFailure(ctx, "profile", err, msgProfileFailed)
		return models.ProfileResult{Result: failed(msg)}, outcome
	}

	m.mu.Lock()
	merged := m.session.User.Merge(profile)
	m.session.User = merged
	m.mu.Unlock()
	m.persistUser(ctx, merged)

	name := merged.Username()
	m.emit(ctx, audit.ActionProfileFetched, audit.OutcomeSuccess, name, "")
	return models.ProfileResult{
		Result: models.Result{Success: true, Username: name},
		User:   merged.Clone(),
	}, outcomeSuccess
}

// adoptStoredToken picks up a token persisted by another manager sharing the
// same storage.
func (m *Manager) adoptStoredToken(ctx context.Context) string {
	token, err := m.storage.Get(ctx, store.KeyToken)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			m.logger.WarnContext(ctx, "failed to read stored token", "error", err)
		}
		return ""
	}
	if token == "" {
		return ""
	}
	m.mu.Lock()
	m.session.Token = token
	m.session.Authenticated = true
	m.mu.Unlock()
	return token
}

// Logout notifies the backend and the provider, then clears the session in
// memory and storage whatever they answer. Calling it again is harmless.
func (m *Manager) Logout(ctx context.Context) models.Result {
	ctx, end := m.begin(ctx, opLogout)
	name := m.current().User.Username()
	m.logout(ctx)
	m.emit(ctx, audit.ActionLogout, audit.OutcomeSuccess, name, "")
	end(outcomeSuccess)
	return models.Result{Success: true, Message: msgLoggedOut}
}

func (m *Manager) logout(ctx context.Context) {
	token := m.current().Token

	var g errgroup.Group
	if token != "" {
		g.Go(func() error {
			if err := m.backend.Logout(ctx, token); err != nil {
				m.logger.WarnContext(ctx, "backend logout failed", "error", err)
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := m.provider.SignOut(ctx); err != nil {
			m.logger.WarnContext(ctx, "verification provider sign out failed", "error", err)
			return err
		}
		return nil
	})
	_ = g.Wait()

	m.reset(ctx)
}

// Restore loads the persisted session. Without a stored token the session is
// anonymous and every stored key is removed. An unreadable user record is
// dropped on its own. Restore returns an error only when storage cannot be
// read; in that case memory is anonymous and storage is left as is.
func (m *Manager) Restore(ctx context.Context) error {
	ctx, end := m.begin(ctx, opRestore)

	s, err := m.load(ctx)
	if err != nil {
		m.setSession(Session{})
		m.logger.ErrorContext(ctx, "failed to restore session", "error", err)
		end(outcomeStorageError)
		return err
	}
	if !s.Authenticated {
		m.reset(ctx)
		end(outcomeSuccess)
		return nil
	}

	m.setSession(s)
	m.emit(ctx, audit.ActionSessionRestored, audit.OutcomeSuccess, s.User.Username(), "")
	end(outcomeSuccess)
	return nil
}

func (m *Manager) load(ctx context.Context) (Session, error) {
	token, err := m.readKey(ctx, store.KeyToken)
	if err != nil || token == "" {
		return Session{}, err
	}

	rawUser, err := m.readKey(ctx, store.KeyUser)
	if err != nil {
		return Session{}, err
	}
	phone, err := m.readKey(ctx, store.KeyPhoneNumber)
	if err != nil {
		return Session{}, err
	}

	var user models.User
	if rawUser != "" {
		user, err = decodeUser(rawUser)
		if err != nil {
			m.logger.WarnContext(ctx, "discarding malformed stored user record", "error", err)
			m.remove(ctx, store.KeyUser)
			user = nil
		}
	}

	return Session{
		Token:              token,
		User:               user,
		Authenticated:      true,
		PendingPhoneNumber: phone,
	}, nil
}

// readKey treats an absent key as empty.
func (m *Manager) readKey(ctx context.Context, key string) (string, error) {
	v, err := m.storage.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("restore session: read %s: %w", key, err)
	}
	return v, nil
}
