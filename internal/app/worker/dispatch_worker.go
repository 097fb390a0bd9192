package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"aca_backend/internal/common"
	"aca_backend/internal/platform/queue"
)

// Deliverer performs one delivery attempt for a dispatch.
type Deliverer interface {
	Deliver(ctx context.Context, dispatchID string) error
}

type DispatchWorker struct {
	queue     queue.Queue
	locker    queue.Locker
	deliverer Deliverer
	lockTTL   time.Duration
	// PopTimeout bounds each blocking pop so cancellation is noticed promptly.
	PopTimeout time.Duration
}

func NewDispatchWorker(q queue.Queue, locker queue.Locker, deliverer Deliverer, lockTTL time.Duration) *DispatchWorker {
	return &DispatchWorker{
		queue:      q,
		locker:     locker,
		deliverer:  deliverer,
		lockTTL:    lockTTL,
		PopTimeout: 5 * time.Second,
	}
}

func (w *DispatchWorker) Start(ctx context.Context) {
	log.Println("Dispatch worker started")
	for {
		select {
		case <-ctx.Done():
			log.Println("Dispatch worker stopping...")
			return
		default:
		}

		id, err := w.queue.Pop(ctx, w.PopTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			log.Printf("ERROR: failed to pop from dispatch queue: %v", err)
			sleep(ctx, time.Second)
			continue
		}
		if id == "" {
			log.Println("WARN: dispatch queue returned an empty id")
			continue
		}
		if err := w.processWithLock(ctx, id); err != nil {
			log.Printf("ERROR: %v", err)
		}
	}
}

// processWithLock delivers dispatchID while holding its lock. A dispatch
// locked by another worker is dropped without error.
func (w *DispatchWorker) processWithLock(ctx context.Context, dispatchID string) error {
	release, ok, err := w.locker.Acquire(ctx, dispatchID, w.lockTTL)
	if err != nil {
		// The reconciler will hand the dispatch back while it is still pending.
		return fmt.Errorf("dispatch %s: %w: %v", dispatchID, common.ErrJobLockFailed, err)
	}
	if !ok {
		log.Printf("INFO: dispatch %s is being delivered by another worker, dropping duplicate", dispatchID)
		return nil
	}
	defer release(context.WithoutCancel(ctx))

	if err := w.deliverer.Deliver(ctx, dispatchID); err != nil {
		return fmt.Errorf("delivery of dispatch %s failed: %w", dispatchID, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
