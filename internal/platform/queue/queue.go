package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmpty is returned by Pop when nothing arrived before the timeout.
	ErrEmpty = errors.New("queue: no item available")
	ErrFull  = errors.New("queue: buffer full")
)

// Queue carries dispatch ids from intake to the dispatch worker.
type Queue interface {
	Push(ctx context.Context, id string) error
	Pop(ctx context.Context, timeout time.Duration) (string, error)
}

// Locker grants short-lived exclusive ownership of a key.
type Locker interface {
	// Acquire returns ok=false when another holder owns key. release must be
	// called by the holder; it only removes the lock if it is still theirs.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}
