// Package dispatcher manages worker fan-out over the enrichment queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/emee-dev/pandamark/internal/bookmark"
	"github.com/emee-dev/pandamark/internal/enrich"
)

// Dispatcher fans out queued enrichment jobs to a pool of workers.
type Dispatcher struct {
	queue   bookmark.Queue
	workers []*enrich.Worker
}

// New creates a Dispatcher.
func New(queue bookmark.Queue, workers []*enrich.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *enrich.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job bookmark.EnrichmentJob) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
