// Package ingest pulls Reading batches from a telemetry.Source and
// dispatches each to the Coordinator that owns its truck. Dispatch is
// partitioned by truck_id: every truck is drained by exactly one
// goroutine for its entire lifetime, which is what gives the Coordinator
// its single-writer invariant without a lock around Process itself.
//
// Grounded on internal/common/jobs/worker.go and queue.go (concurrency
// config, graceful shutdown with a deadline, per-worker metrics struct),
// adapted from a Redis-backed generic job queue to an in-memory,
// truck-partitioned reading queue. There is no external broker to poll,
// so Worker.workerLoop's dequeue-or-sleep loop becomes a
// condition-variable wait in truckQueue.pop.
package ingest

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/internal/estimator"
	"github.com/fleetfuel/fleetfuel-core/internal/logging"
	"github.com/fleetfuel/fleetfuel-core/internal/telemetry"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

const (
	fetchTimeout       = 5 * time.Second
	backoffBase        = 200 * time.Millisecond
	backoffCap         = 10 * time.Second
	maxFetchAttempts   = 6
	fetchRatePerSecond = 20
)

// Pool is the ingest worker pool: one drain goroutine per truck, fed by
// a single fetch loop pulling from the telemetry source.
type Pool struct {
	cfg      *config.Config
	registry *estimator.Registry
	source   telemetry.Source
	metrics  *Metrics
	limiter  *rate.Limiter

	mu     sync.Mutex
	queues map[string]*truckQueue
	wg     sync.WaitGroup
}

// NewPool builds a worker pool against a registry and telemetry source.
// WorkerPoolSize in cfg bounds nothing directly here: every truck gets
// its own lightweight goroutine rather than being time-sliced across a
// fixed OS-thread pool. It is still surfaced as a configuration knob,
// since the practical ceiling on concurrent trucks is set by available
// CPU, not a separate dial.
func NewPool(cfg *config.Config, registry *estimator.Registry, source telemetry.Source) *Pool {
	return &Pool{
		cfg:      cfg,
		registry: registry,
		source:   source,
		metrics:  &Metrics{},
		limiter:  rate.NewLimiter(rate.Limit(fetchRatePerSecond), fetchRatePerSecond),
		queues:   make(map[string]*truckQueue),
	}
}

// Metrics returns the pool's running counters.
func (p *Pool) Metrics() MetricsSnapshot {
	return p.metrics.Snapshot()
}

// Run pulls batches from the source and dispatches them until ctx is
// canceled, then drains every truck queue for up to the configured
// graceful-shutdown deadline before returning.
func (p *Pool) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.shutdown()
			return
		}

		readings, err := p.fetchWithBackoff(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.shutdown()
				return
			}
			logging.Warn("telemetry fetch exhausted retries, skipping batch", "error", err.Error())
			continue
		}

		for _, r := range readings {
			p.dispatch(r)
		}
	}
}

func (p *Pool) fetchWithBackoff(ctx context.Context) ([]models.Reading, error) {
	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		readings, err := p.source.Fetch(fetchCtx)
		cancel()
		if err == nil {
			return readings, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		sleep := backoffBase * time.Duration(1<<uint(attempt))
		if sleep > backoffCap {
			sleep = backoffCap
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// dispatch routes a reading to its truck's queue, lazily spawning the
// drain goroutine that owns that truck on first sight.
func (p *Pool) dispatch(r models.Reading) {
	p.mu.Lock()
	q, exists := p.queues[r.TruckID]
	if !exists {
		q = newTruckQueue(p.cfg.PerTruckQueueDepth)
		p.queues[r.TruckID] = q
		p.wg.Add(1)
		go p.drain(r.TruckID, q)
	}
	p.mu.Unlock()

	if q.push(r, isCritical(r)) {
		p.metrics.incDropped()
		logging.Warn("dropped oldest queued reading under backpressure", "truck_id", r.TruckID)
	}
}

func (p *Pool) drain(truckID string, q *truckQueue) {
	defer p.wg.Done()

	coord, ok := p.registry.GetOrCreate(truckID)
	if !ok {
		logging.Error("no tank spec registered for truck, dropping its queue", "truck_id", truckID)
		for {
			if _, ok := q.pop(); !ok {
				return
			}
		}
	}

	for {
		r, ok := q.pop()
		if !ok {
			return
		}
		if err := coord.Process(r); err != nil {
			p.metrics.incFailed()
			logging.Error("coordinator failed to process reading", "truck_id", truckID, "error", err.Error())
			continue
		}
		p.metrics.incProcessed()
	}
}

// shutdown closes every truck queue and waits for drain goroutines to
// finish up to the configured graceful-shutdown deadline, then abandons
// whatever remains queued.
func (p *Pool) shutdown() {
	p.mu.Lock()
	queued := 0
	for _, q := range p.queues {
		queued += q.close()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	deadline := time.Duration(p.cfg.GracefulShutdownDeadlineSeconds) * time.Second
	select {
	case <-done:
		logging.Info("ingest pool drained cleanly on shutdown")
	case <-time.After(deadline):
		logging.Warn("ingest pool shutdown deadline exceeded, abandoning remaining readings", "queued_at_shutdown", queued)
	}
}
