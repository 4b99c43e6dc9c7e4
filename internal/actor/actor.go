// Package actor implements Component B (§4.B): the MR Actor Registry. Each
// MR id is handled by exactly one logical actor, processing its events in
// strict receipt order; distinct MRs may be processed concurrently, bounded
// by a configured parallelism ceiling.
//
// Grounded on server/poller.go's per-agent loop together with §5's
// "registry-map-guarded-by-a-short-lived-lock, per-entry-goroutine" shape;
// generalized from a fixed poll tick to an event-driven queue.
package actor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/networkoptix/robocat/internal/logging"
	"github.com/networkoptix/robocat/internal/model"
)

// Evaluator is invoked once per coalesced batch of events for a given MR.
// Implementations own the snapshot/rules/plan/execute cycle (the engine).
type Evaluator interface {
	Evaluate(ctx context.Context, mrID string) model.CycleOutcome
}

// mrActor is the per-MR mailbox: a pending-event marker and a dedicated
// goroutine that drains it.
type mrActor struct {
	mu      sync.Mutex
	pending bool // an event arrived while a cycle was already running
	running bool
}

// Registry is the concurrency-bounded MR Actor Registry.
type Registry struct {
	log   logging.Logger
	eval  Evaluator
	sema  *semaphore.Weighted
	mu    sync.Mutex
	actors map[string]*mrActor

	// bg is the base context new cycles run under; cancel it to drain and
	// stop accepting new work.
	bg context.Context
}

// New builds a Registry that runs at most parallelism MR evaluations
// concurrently. parallelism < 1 is treated as 1.
func New(bg context.Context, eval Evaluator, parallelism int, log logging.Logger) *Registry {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Registry{
		log:    log,
		eval:   eval,
		sema:   semaphore.NewWeighted(int64(parallelism)),
		actors: map[string]*mrActor{},
		bg:     bg,
	}
}

// Submit implements ingress.Feed. It is safe to call concurrently from
// multiple producer goroutines (webhook handlers, the periodic ticker).
func (r *Registry) Submit(evt model.Event) {
	a := r.actorFor(evt.MRID)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		// A cycle is already in flight for this MR; the event is coalesced
		// into a single pending re-evaluate pass (§4.B: "queued events for
		// the same mr_id are coalesced into one re-evaluation").
		a.pending = true
		return
	}
	a.running = true
	go r.runLoop(evt.MRID, a)
}

func (r *Registry) actorFor(mrID string) *mrActor {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[mrID]
	if !ok {
		a = &mrActor{}
		r.actors[mrID] = a
	}
	return a
}

// runLoop repeatedly evaluates mrID until no event arrived during the last
// pass, holding at most one semaphore permit for the duration of each pass.
func (r *Registry) runLoop(mrID string, a *mrActor) {
	for {
		r.runOnePass(mrID)

		a.mu.Lock()
		if !a.pending {
			a.running = false
			a.mu.Unlock()
			return
		}
		a.pending = false
		a.mu.Unlock()
	}
}

func (r *Registry) runOnePass(mrID string) {
	if err := r.sema.Acquire(r.bg, 1); err != nil {
		// Context canceled: the registry is draining.
		return
	}
	defer r.sema.Release(1)
	defer func() {
		// An internal invariant violation aborts only this pass; the actor
		// stays available for the next event (§7).
		if rec := recover(); rec != nil {
			r.log.Error("mr evaluation cycle panicked", "mr_id", mrID, "panic", rec)
		}
	}()

	outcome := r.eval.Evaluate(r.bg, mrID)
	switch {
	case outcome.Failed():
		// Fatal errors are isolated to this MR and logged; they never take
		// down the registry or block other actors (§4.B, §7).
		r.log.Error("mr evaluation cycle failed", "mr_id", mrID, "error", outcome.Err)
	case outcome.Deferred():
		r.log.Debug("mr evaluation cycle deferred", "mr_id", mrID, "reason", outcome.Reason)
	default:
		r.log.Debug("mr evaluation cycle completed", "mr_id", mrID)
	}
}

// Len reports how many MR actors currently exist (tests only).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}
