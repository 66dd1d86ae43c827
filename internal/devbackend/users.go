package devbackend

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrUserNotFound       = errors.New("user not found")
)

// User is an account held by the development backend.
type User struct {
	Username     string
	FullName     string
	Email        string
	Phone        string
	PasswordHash string
	// MFA accounts must confirm their phone before a session token is issued.
	MFA bool
}

// Profile is the JSON shape returned by the profile endpoint.
func (u *User) Profile() map[string]any {
	return map[string]any{
		"username":  u.Username,
		"full_name": u.FullName,
		"email":     u.Email,
		"phone":     u.Phone,
	}
}

// SeedUser is a plaintext account used to populate a Users store.
type SeedUser struct {
	Username string
	Password string
	FullName string
	Email    string
	Phone    string
	MFA      bool
}

// DefaultSeed holds the accounts available out of the box.
var DefaultSeed = []SeedUser{
	{Username: "user1", Password: "pw", FullName: "Demo User", Email: "user1@example.com"},
	{Username: "mfauser", Password: "pw", FullName: "MFA User", Email: "mfauser@example.com", Phone: "+15555550100", MFA: true},
}

// Users is an in-memory account store with bcrypt password hashes.
type Users struct {
	mu      sync.RWMutex
	byName  map[string]*User
	byPhone map[string]string
	cost    int
}

// NewUsers hashes and stores seed. cost is the bcrypt cost; zero means
// bcrypt.DefaultCost.
func NewUsers(cost int, seed ...SeedUser) (*Users, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	u := &Users{
		byName:  make(map[string]*User),
		byPhone: make(map[string]string),
		cost:    cost,
	}
	for _, s := range seed {
		if _, err := u.Create(s); err != nil {
			return nil, fmt.Errorf("seed user %q: %w", s.Username, err)
		}
	}
	return u, nil
}

// Create adds an account.
func (u *Users) Create(s SeedUser) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(s.Password), u.cost)
	if err != nil {
		return nil, fmt.Errorf("could not hash password: %w", err)
	}
	user := &User{
		Username:     s.Username,
		FullName:     s.FullName,
		Email:        s.Email,
		Phone:        strings.TrimSpace(s.Phone),
		PasswordHash: string(hash),
		MFA:          s.MFA,
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.byName[user.Username]; ok {
		return nil, ErrUsernameTaken
	}
	u.byName[user.Username] = user
	if user.Phone != "" {
		u.byPhone[user.Phone] = user.Username
	}
	return user, nil
}

// Authenticate checks a username and password pair.
func (u *Users) Authenticate(username, password string) (*User, error) {
	u.mu.RLock()
	user, ok := u.byName[username]
	u.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("could not verify password: %w", err)
	}
	return user, nil
}

func (u *Users) ByUsername(username string) (*User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.byName[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (u *Users) ByPhone(phone string) (*User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	name, ok := u.byPhone[phone]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.byName[name], nil
}
