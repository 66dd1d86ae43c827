package verification

import (
	"context"
	"log/slog"
	"sync"
)

// Outbox delivers one-time codes minted by the local provider.
type Outbox interface {
	Deliver(ctx context.Context, phoneNumber, code string) error
}

// LogOutbox writes codes to the log. Development only.
type LogOutbox struct {
	Logger *slog.Logger
}

func (o LogOutbox) Deliver(ctx context.Context, phoneNumber, code string) error {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "verification code issued",
		"phone_number", phoneNumber,
		"code", code,
	)
	return nil
}

// MemoryOutbox records the last code sent to each phone number.
type MemoryOutbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{codes: make(map[string]string)}
}

func (o *MemoryOutbox) Deliver(_ context.Context, phoneNumber, code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[phoneNumber] = code
	return nil
}

// Last returns the most recent code delivered to phoneNumber.
func (o *MemoryOutbox) Last(phoneNumber string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	code, ok := o.codes[phoneNumber]
	return code, ok
}
