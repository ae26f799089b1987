package messaging

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/BTreeMap/NutriPipe/internal/flow"
	"github.com/BTreeMap/NutriPipe/internal/locales"
	"github.com/BTreeMap/NutriPipe/internal/models"
)

// Constants for Dispatcher configuration
const (
	// DefaultWorkers is the number of dispatch shards
	DefaultWorkers = 8
	// DefaultQueueSize is the per-shard queue length
	DefaultQueueSize = 64
)

// ErrDispatcherStopped is returned by Do after the dispatcher has shut down.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// EventHandler processes a single event. *flow.Controller implements it.
type EventHandler interface {
	Dispatch(ctx context.Context, ev models.Event) (*flow.Result, error)
}

type outcome struct {
	result *flow.Result
	err    error
}

type job struct {
	ctx  context.Context
	ev   models.Event
	done chan outcome // nil for transport events: replies go out through the service
}

// Dispatcher is a keyed worker pool. Every event of a user hashes to the same
// shard, so one user's events are handled in arrival order while different users
// proceed concurrently.
type Dispatcher struct {
	handler EventHandler
	svc     Service
	texts   *locales.Catalogue
	queues  []chan job
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher creates a dispatcher with the given number of shards. svc may be
// nil when events only arrive through Do.
func NewDispatcher(handler EventHandler, svc Service, workers int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	d := &Dispatcher{
		handler: handler,
		svc:     svc,
		texts:   locales.Default(),
		queues:  make([]chan job, workers),
	}
	for i := range d.queues {
		d.queues[i] = make(chan job, DefaultQueueSize)
	}
	return d
}

// Start launches the workers and, when a service is set, the loop that reads its
// events. Workers exit after ctx is done and Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Dispatcher starting", "workers", len(d.queues))
	for i, q := range d.queues {
		d.wg.Add(1)
		go d.work(i, q)
	}

	if d.svc == nil {
		return
	}
	go func() {
		defer slog.Info("Dispatcher stopped reading transport events")
		for {
			select {
			case ev, ok := <-d.svc.Events():
				if !ok {
					slog.Debug("Dispatcher events channel closed")
					return
				}
				if err := d.enqueue(job{ctx: ctx, ev: ev}); err != nil {
					slog.Warn("Dispatcher dropped event", "error", err, "userID", ev.UserID)
				}
			case <-ctx.Done():
				slog.Debug("Dispatcher stopping due to context cancellation")
				return
			}
		}
	}()
}

// Do dispatches an event on its user's shard and waits for the result.
func (d *Dispatcher) Do(ctx context.Context, ev models.Event) (*flow.Result, error) {
	done := make(chan outcome, 1)
	if err := d.enqueue(job{ctx: ctx, ev: ev, done: done}); err != nil {
		return nil, err
	}
	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop closes the shard queues and waits for queued events to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
	slog.Info("Dispatcher stopped")
}

func (d *Dispatcher) enqueue(j job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	q := d.queues[shardFor(j.ev.UserID, len(d.queues))]
	select {
	case q <- j:
		return nil
	case <-j.ctx.Done():
		return j.ctx.Err()
	}
}

func (d *Dispatcher) work(shard int, q <-chan job) {
	defer d.wg.Done()
	for j := range q {
		d.process(shard, j)
	}
}

func (d *Dispatcher) process(shard int, j job) {
	if j.done != nil {
		res, err := d.handler.Dispatch(j.ctx, j.ev)
		j.done <- outcome{result: res, err: err}
		return
	}

	to := j.ev.Address()
	if err := d.svc.NotifyProcessing(j.ctx, to); err != nil {
		slog.Debug("Dispatcher NotifyProcessing failed", "error", err, "to", to)
	}

	res, err := d.handler.Dispatch(j.ctx, j.ev)
	if err != nil {
		slog.Error("Dispatcher failed to process event", "error", err, "userID", j.ev.UserID, "shard", shard)
		if sendErr := d.svc.SendReply(j.ctx, to, models.Reply{Text: d.texts.Messages.InternalError}); sendErr != nil {
			slog.Error("Dispatcher failed to send error message", "error", sendErr, "to", to)
		}
		return
	}

	failed := 0
	for i, reply := range res.Replies {
		if err := d.svc.SendReply(j.ctx, to, reply); err != nil {
			slog.Error("Dispatcher failed to send reply", "error", err, "to", to, "handler", res.Handler, "reply", i)
			failed++
			continue
		}
	}
	slog.Debug("Dispatcher processed event", "userID", j.ev.UserID, "handler", res.Handler, "replies", len(res.Replies), "failed", failed, "shard", shard)
}

// shardFor maps a user to a shard with FNV-1a.
func shardFor(userID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}
