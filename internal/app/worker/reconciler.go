package worker

import (
	"context"
	"log"
	"time"
)

// Requeuer hands due outbox entries back to the dispatch queue.
type Requeuer interface {
	RequeueDue(ctx context.Context, limit int) (int, error)
}

// Reconciler periodically sweeps the dispatch outbox so that nothing stays
// queued just because a push or a delivery attempt was lost.
type Reconciler struct {
	requeuer Requeuer
	interval time.Duration
	batch    int
}

func NewReconciler(requeuer Requeuer, interval time.Duration, batch int) *Reconciler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reconciler{requeuer: requeuer, interval: interval, batch: batch}
}

func (r *Reconciler) Start(ctx context.Context) {
	log.Printf("Reconciler started, sweeping every %s", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Println("Reconciler stopping...")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	n, err := r.requeuer.RequeueDue(ctx, r.batch)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("ERROR: reconciler sweep failed: %v", err)
		}
		return
	}
	if n > 0 {
		log.Printf("INFO: reconciler requeued %d dispatches", n)
	}
}
