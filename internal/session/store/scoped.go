package store

import (
	"context"
)

// Scoped namespaces every key of an underlying store, so one backend can hold
// the state of many browser sessions.
type Scoped struct {
	base   Store
	prefix string
}

// NewScoped returns a view of base whose keys are "<namespace>:<key>".
func NewScoped(base Store, namespace string) *Scoped {
	return &Scoped{base: base, prefix: namespace + ":"}
}

func (s *Scoped) Get(ctx context.Context, key string) (string, error) {
	return s.base.Get(ctx, s.prefix+key)
}

func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.base.Set(ctx, s.prefix+key, value)
}

func (s *Scoped) Delete(ctx context.Context, keys ...string) error {
	scoped := make([]string, len(keys))
	for i, k := range keys {
		scoped[i] = s.prefix + k
	}
	return s.base.Delete(ctx, scoped...)
}
