package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Defaults applied by NewEngine to zero-valued Options.
const (
	DefaultQueueSize       = 16
	DefaultStorageTimeout  = 5 * time.Second
	DefaultDispatchTimeout = 10 * time.Second
)

// Collaborators are the stores and channels shared by every rack worker.
// Rules, Cooldowns and Dispatcher are required; Events and Failures may be nil.
type Collaborators struct {
	Rules      RuleStore
	Cooldowns  CooldownTracker
	Dispatcher Dispatcher
	Events     EventSink
	Failures   FailureSink
}

// Options tunes the engine.
type Options struct {
	Policy DispatchPolicy

	// QueueSize bounds each rack's pending readings. A reading that does not
	// fit is rejected with ErrQueueFull.
	QueueSize int

	// IdleTimeout retires a rack worker after this long without readings.
	// Zero keeps workers for the engine's lifetime.
	IdleTimeout time.Duration

	StorageTimeout  time.Duration
	DispatchTimeout time.Duration

	Clock   Clock
	Metrics *Metrics
	Logger  Logger

	// OnCycle, when set, is called from the worker goroutine after every
	// completed cycle.
	OnCycle func(CycleResult)
}

func (o Options) withDefaults() Options {
	if o.Policy == "" {
		o.Policy = DispatchFireAndForget
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.StorageTimeout <= 0 {
		o.StorageTimeout = DefaultStorageTimeout
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = DefaultDispatchTimeout
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}

// Engine routes sensor readings to one worker per rack.
//
// Readings for the same rack are processed one at a time in arrival order.
// Different racks run concurrently. A worker is created on the rack's first
// reading and lives until StopRack, Close, or its idle timeout.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	collab Collaborators
	opts   Options
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*rackWorker
	closed  bool
	wg      sync.WaitGroup
}

// NewEngine creates an engine. No workers run until the first Submit.
func NewEngine(collab Collaborators, opts Options) (*Engine, error) {
	switch {
	case collab.Rules == nil:
		return nil, fmt.Errorf("automation: rule store is required")
	case collab.Cooldowns == nil:
		return nil, fmt.Errorf("automation: cooldown tracker is required")
	case collab.Dispatcher == nil:
		return nil, fmt.Errorf("automation: dispatcher is required")
	}
	switch opts.Policy {
	case "", DispatchFireAndForget, DispatchAwaitAck:
	default:
		return nil, fmt.Errorf("automation: unknown dispatch policy %q", opts.Policy)
	}

	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		collab:  collab,
		opts:    opts,
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*rackWorker),
	}, nil
}

// Submit queues a reading for its rack's worker and returns immediately.
//
// Returns:
//   - ErrInvalidReading if the reading fails validation
//   - ErrEngineClosed after Close
//   - ErrRackStopping while StopRack waits for the rack's running cycle
//   - ErrQueueFull if the rack's queue is full; the reading is dropped
func (e *Engine) Submit(reading SensorReading) error {
	if err := ValidateReading(reading); err != nil {
		e.opts.Metrics.reading(OutcomeInvalid)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	w, ok := e.workers[reading.RackID]
	if !ok {
		w = e.startWorkerLocked(reading.RackID)
	}
	if w.stopping {
		e.opts.Metrics.reading(OutcomeDropped)
		return fmt.Errorf("%w: rack %s", ErrRackStopping, reading.RackID)
	}

	select {
	case w.inbox <- reading:
		return nil
	default:
		e.opts.Metrics.reading(OutcomeQueueFull)
		e.logger.Warn("rack queue full, reading dropped", "rack_id", reading.RackID, "queue_size", e.opts.QueueSize)
		return fmt.Errorf("%w: rack %s", ErrQueueFull, reading.RackID)
	}
}

func (e *Engine) startWorkerLocked(rackID string) *rackWorker {
	w := newRackWorker(rackID, e.collab, e.opts)
	e.workers[rackID] = w

	e.wg.Add(1)
	e.opts.Metrics.workerStarted()
	go func() {
		defer e.wg.Done()
		defer e.opts.Metrics.workerStopped()
		w.run(e.ctx, e.retire)
	}()

	e.logger.Debug("rack worker started", "rack_id", rackID)
	return w
}

// retire removes an idle worker. It refuses while readings are queued so
// nothing accepted by Submit is lost.
func (e *Engine) retire(w *rackWorker) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cur, ok := e.workers[w.rackID]; !ok || cur != w {
		return true
	}
	if len(w.inbox) > 0 {
		return false
	}
	delete(e.workers, w.rackID)
	e.logger.Debug("rack worker retired", "rack_id", w.rackID)
	return true
}

// StopRack tears down a rack's worker. A cycle already running completes;
// readings still queued are dropped. It blocks until the worker exits and
// reports whether a worker was running.
//
// The worker stays registered until it has exited, so readings submitted
// meanwhile are rejected with ErrRackStopping instead of starting a second
// worker for the rack.
func (e *Engine) StopRack(rackID string) bool {
	e.mu.Lock()
	w, ok := e.workers[rackID]
	first := ok && !w.stopping
	if first {
		w.stopping = true
	}
	e.mu.Unlock()

	if !ok {
		return false
	}
	if !first {
		<-w.done
		return false
	}

	e.stopWorker(w)

	e.mu.Lock()
	if cur, ok := e.workers[rackID]; ok && cur == w {
		delete(e.workers, rackID)
	}
	e.mu.Unlock()

	e.logger.Info("rack worker stopped", "rack_id", rackID)
	return true
}

func (e *Engine) stopWorker(w *rackWorker) {
	w.signalStop()
	<-w.done
	if dropped := len(w.inbox); dropped > 0 {
		for range dropped {
			e.opts.Metrics.reading(OutcomeDropped)
		}
		e.logger.Debug("pending readings dropped", "rack_id", w.rackID, "count", dropped)
	}
}

// Close stops every worker and rejects further readings. It waits for
// in-flight cycles to finish. Calling Close more than once is safe.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	workers := make([]*rackWorker, 0, len(e.workers))
	for _, w := range e.workers {
		// StopRack owns workers it is already stopping; wg.Wait covers them.
		if !w.stopping {
			workers = append(workers, w)
		}
	}
	e.workers = make(map[string]*rackWorker)
	e.mu.Unlock()

	for _, w := range workers {
		w.signalStop()
	}
	for _, w := range workers {
		e.stopWorker(w)
	}
	e.wg.Wait()
	e.cancel()
	e.logger.Info("automation engine stopped", "workers", len(workers))
}

// ActiveRacks returns the racks with a running worker, sorted. Racks being
// stopped are left out.
func (e *Engine) ActiveRacks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	racks := make([]string, 0, len(e.workers))
	for id, w := range e.workers {
		if !w.stopping {
			racks = append(racks, id)
		}
	}
	sort.Strings(racks)
	return racks
}

// RackState reports the state of a rack's worker. ok is false when the rack
// has no worker.
func (e *Engine) RackState(rackID string) (state WorkerState, ok bool) {
	e.mu.Lock()
	w, ok := e.workers[rackID]
	e.mu.Unlock()
	if !ok {
		return StateIdle, false
	}
	return w.State(), true
}

// Policy returns the configured dispatch policy.
func (e *Engine) Policy() DispatchPolicy {
	return e.opts.Policy
}
