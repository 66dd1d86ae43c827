package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	localCodeDigits      = 6
	localCodeTTL         = 5 * time.Minute
	localMaxAttempts     = 3
	localPendingCapacity = 1024
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

type pendingCode struct {
	phoneNumber string
	codeHash    string
	expiresAt   time.Time
	attempts    int
}

// Local is a self-contained provider for development and tests. Codes are
// handed to an Outbox instead of being texted, and confirmations yield ID
// tokens signed with a shared key that the dev backend can verify.
type Local struct {
	signingKey []byte
	outbox     Outbox
	now        func() time.Time

	mu          sync.Mutex
	pending     map[Handle]*pendingCode
	currentUser string
}

type LocalOption func(*Local)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) {
		if now != nil {
			l.now = now
		}
	}
}

func NewLocal(signingKey string, outbox Outbox, opts ...LocalOption) *Local {
	if outbox == nil {
		outbox = LogOutbox{}
	}
	l := &Local{
		signingKey: []byte(signingKey),
		outbox:     outbox,
		now:        time.Now,
		pending:    make(map[Handle]*pendingCode),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) SendCode(ctx context.Context, phoneNumber, _ string) (Handle, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return "", &Error{Code: CodeMissingPhoneNumber, Message: "phone number is empty"}
	}
	if !e164.MatchString(phoneNumber) {
		return "", &Error{Code: CodeInvalidPhoneNumber, Message: "phone number must be in E.164 format"}
	}

	code, err := generateCode(localCodeDigits)
	if err != nil {
		return "", &Error{Code: CodeInternal, Message: "generate code", Underlying: err}
	}
	handle := Handle(uuid.NewString())

	l.mu.Lock()
	l.evictExpiredLocked()
	if len(l.pending) >= localPendingCapacity {
		l.mu.Unlock()
		return "", &Error{Code: CodeQuotaExceeded, Message: "too many outstanding codes"}
	}
	l.pending[handle] = &pendingCode{
		phoneNumber: phoneNumber,
		codeHash:    hashCode(code),
		expiresAt:   l.now().Add(localCodeTTL),
	}
	l.mu.Unlock()

	if err := l.outbox.Deliver(ctx, phoneNumber, code); err != nil {
		l.mu.Lock()
		delete(l.pending, handle)
		l.mu.Unlock()
		return "", &Error{Code: CodeNetworkRequestFailed, Message: "deliver code", Underlying: err}
	}
	return handle, nil
}

func (l *Local) ConfirmCode(_ context.Context, handle Handle, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", &Error{Code: CodeMissingVerificationCode, Message: "code is empty"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.pending[handle]
	if !ok {
		return "", &Error{Code: CodeInvalidVerificationID, Message: "unknown verification handle"}
	}
	now := l.now()
	if !now.Before(p.expiresAt) {
		delete(l.pending, handle)
		return "", &Error{Code: CodeCodeExpired, Message: "code expired"}
	}
	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(p.codeHash)) != 1 {
		p.attempts++
		if p.attempts >= localMaxAttempts {
			delete(l.pending, handle)
			return "", &Error{Code: CodeTooManyRequests, Message: "too many incorrect codes"}
		}
		return "", &Error{Code: CodeInvalidVerificationCode, Message: "code does not match"}
	}

	delete(l.pending, handle)
	idToken, err := signIDToken(l.signingKey, p.phoneNumber, now)
	if err != nil {
		return "", &Error{Code: CodeInternal, Message: "mint id token", Underlying: err}
	}
	l.currentUser = p.phoneNumber
	return idToken, nil
}

func (l *Local) SignOut(context.Context) error {
	l.mu.Lock()
	l.currentUser = ""
	l.mu.Unlock()
	return nil
}

// CurrentUser returns the phone number of the last confirmed sign-in.
func (l *Local) CurrentUser() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentUser
}

func (l *Local) evictExpiredLocked() {
	now := l.now()
	for h, p := range l.pending {
		if !now.Before(p.expiresAt) {
			delete(l.pending, h)
		}
	}
}

func generateCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
