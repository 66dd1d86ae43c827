package devbackend

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const defaultResetTTL = 15 * time.Minute

var ErrInvalidResetToken = errors.New("invalid or expired reset token")

type resetGrant struct {
	username  string
	expiresAt time.Time
}

// Resets issues single-use password reset tokens.
type Resets struct {
	users *Users
	ttl   time.Duration
	now   func() time.Time

	mu     sync.Mutex
	grants map[string]resetGrant
}

func NewResets(users *Users, ttl time.Duration) *Resets {
	if ttl <= 0 {
		ttl = defaultResetTTL
	}
	return &Resets{
		users:  users,
		ttl:    ttl,
		now:    time.Now,
		grants: make(map[string]resetGrant),
	}
}

// Issue returns a reset token for username.
func (r *Resets) Issue(username string) (string, error) {
	if _, err := r.users.ByUsername(username); err != nil {
		return "", err
	}
	token := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for t, g := range r.grants {
		if !g.expiresAt.After(now) {
			delete(r.grants, t)
		}
	}
	r.grants[token] = resetGrant{username: username, expiresAt: now.Add(r.ttl)}
	return token, nil
}

// Redeem consumes token and sets the account password.
func (r *Resets) Redeem(token, password string) error {
	r.mu.Lock()
	g, ok := r.grants[token]
	delete(r.grants, token)
	r.mu.Unlock()
	if !ok || !g.expiresAt.After(r.now()) {
		return ErrInvalidResetToken
	}
	return r.users.SetPassword(g.username, password)
}

// SetPassword replaces the password hash of username.
func (u *Users) SetPassword(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), u.cost)
	if err != nil {
		return fmt.Errorf("could not hash password: %w", err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.byName[username]
	if !ok {
		return ErrUserNotFound
	}
	updated := *user
	updated.PasswordHash = string(hash)
	u.byName[username] = &updated
	return nil
}
