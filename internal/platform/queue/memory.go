package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is the in-process Queue and Locker used when no Redis address
// is configured. Items do not survive a restart; the reconciler re-enqueues
// pending dispatches from the store.
type MemoryQueue struct {
	items chan string

	mu    sync.Mutex
	locks map[string]memoryLock
}

type memoryLock struct {
	token   string
	expires time.Time
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		items: make(chan string, size),
		locks: make(map[string]memoryLock),
	}
}

func (q *MemoryQueue) Push(ctx context.Context, id string) error {
	select {
	case q.items <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case id := <-q.items:
		return id, nil
	case <-timer.C:
		return "", ErrEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.items)
}

func (q *MemoryQueue) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	if held, ok := q.locks[key]; ok && now.Before(held.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	q.locks[key] = memoryLock{token: token, expires: now.Add(ttl)}

	release := func(context.Context) {
		q.mu.Lock()
		defer q.mu.Unlock()
		if held, ok := q.locks[key]; ok && held.token == token {
			delete(q.locks, key)
		}
	}
	return release, true, nil
}
