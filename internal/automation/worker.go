package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// RuleStore is the rule storage collaborator seen by the workers.
// ListRulesForRack must return rules in a stable order (created_at, id).
type RuleStore interface {
	ListRulesForRack(ctx context.Context, rackID string) ([]AutomationRule, error)
	UpdateLastTriggered(ctx context.Context, ruleID string, ts time.Time) error
}

// Dispatcher delivers one command to a rack's actuators. A nil error means
// the command was accepted.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd ActuatorCommand) error
}

// EventSink receives automation events. Append-only.
type EventSink interface {
	Emit(ctx context.Context, event AutomatedEvent) error
}

// FailureSink receives dispatch failures.
type FailureSink interface {
	RecordFailure(ctx context.Context, failure DispatchFailure) error
}

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

// DispatchPolicy controls whether a failed dispatch still counts as executed.
type DispatchPolicy string

const (
	// DispatchFireAndForget records failures but still reports the command
	// as executed; the gateway owns delivery from there.
	DispatchFireAndForget DispatchPolicy = "fire_and_forget"

	// DispatchAwaitAck only reports commands the gateway accepted.
	DispatchAwaitAck DispatchPolicy = "await_ack"
)

// WorkerState is a rack worker's position in its cycle.
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateEvaluating
	StateDispatching
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEvaluating:
		return "evaluating"
	case StateDispatching:
		return "dispatching"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

// CycleResult describes what one reading cycle did.
type CycleResult struct {
	RackID   string
	Matched  []string // rules whose conditions held
	Reserved []string // matched rules that won their cooldown reservation
	Commands []ActuatorCommand
	Executed []ActuatorCommand
	Event    *AutomatedEvent
	Err      error // storage failure; the reading was dropped or partly persisted
}

// rackWorker processes one rack's readings strictly in sequence.
type rackWorker struct {
	rackID string
	collab Collaborators
	opts   Options
	logger Logger

	inbox chan SensorReading
	stop  chan struct{}
	done  chan struct{}

	state    atomic.Int32
	stopOnce sync.Once

	stopping bool // guarded by Engine.mu
}

func newRackWorker(rackID string, collab Collaborators, opts Options) *rackWorker {
	return &rackWorker{
		rackID: rackID,
		collab: collab,
		opts:   opts,
		logger: opts.Logger,
		inbox:  make(chan SensorReading, opts.QueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// State returns the worker's current state.
func (w *rackWorker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *rackWorker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

// signalStop asks the worker to exit after its current cycle. Readings
// still queued are abandoned.
func (w *rackWorker) signalStop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// run is the worker loop. retire is consulted when the worker has been idle
// for opts.IdleTimeout; it returns true when the worker may exit.
func (w *rackWorker) run(ctx context.Context, retire func(*rackWorker) bool) {
	defer close(w.done)

	var idleC <-chan time.Time
	var idle *time.Timer
	if w.opts.IdleTimeout > 0 {
		idle = time.NewTimer(w.opts.IdleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case reading := <-w.inbox:
			// Teardown wins over queued work.
			select {
			case <-w.stop:
				return
			default:
			}
			res := w.process(ctx, reading)
			if w.opts.OnCycle != nil {
				w.opts.OnCycle(res)
			}
			if idle != nil {
				idle.Reset(w.opts.IdleTimeout)
			}
		case <-idleC:
			if retire(w) {
				return
			}
			idle.Reset(w.opts.IdleTimeout)
		}
	}
}

// process runs one full cycle for reading. It ignores cancellation of
// parent: a cycle, once started, always completes.
func (w *rackWorker) process(parent context.Context, reading SensorReading) CycleResult {
	ctx := context.WithoutCancel(parent)
	start := time.Now()
	defer func() { w.opts.Metrics.cycle(time.Since(start)) }()

	w.setState(StateEvaluating)
	defer w.setState(StateIdle)

	res := CycleResult{RackID: w.rackID}

	loadCtx, cancel := w.storageCtx(ctx)
	rules, err := w.collab.Rules.ListRulesForRack(loadCtx, w.rackID)
	cancel()
	if err != nil {
		return w.abort(res, "loading rules", err)
	}

	now := w.opts.Clock()
	reserved, err := w.reserve(ctx, reading, rules, now, &res)
	if err != nil {
		return w.abort(res, "reserving cooldown", err)
	}
	if len(reserved) == 0 {
		w.opts.Metrics.reading(OutcomeProcessed)
		return res
	}

	commands, err := Resolve(w.rackID, reserved)
	if err != nil {
		// Rules passed CheckIntegrity above, so this only fires if the two
		// checks drift apart.
		w.logger.Error("resolving commands", "rack_id", w.rackID, "error", err)
		w.opts.Metrics.integrityError()
	}
	res.Commands = commands

	w.setState(StateDispatching)
	res.Executed = w.dispatchAll(ctx, commands, now)
	if len(res.Executed) > 0 {
		res.Event = w.emit(ctx, res.Executed, now)
	}

	if err := w.persist(ctx, reserved, now); err != nil {
		res.Err = err
		w.opts.Metrics.reading(OutcomeStorage)
		return res
	}

	w.opts.Metrics.reading(OutcomeProcessed)
	return res
}

// reserve evaluates every enabled, intact rule and claims cooldown for the
// ones that match. Reserved rules keep evaluation order.
func (w *rackWorker) reserve(ctx context.Context, reading SensorReading, rules []AutomationRule, now time.Time, res *CycleResult) ([]*AutomationRule, error) {
	var reserved []*AutomationRule
	for i := range rules {
		rule := &rules[i]
		if !rule.IsEnabled {
			continue
		}
		if err := CheckIntegrity(rule); err != nil {
			w.logger.Warn("skipping rule", "rack_id", w.rackID, "rule_id", rule.ID, "error", err)
			w.opts.Metrics.integrityError()
			continue
		}
		if !Evaluate(reading, rule.Conditions) {
			continue
		}
		res.Matched = append(res.Matched, rule.ID)

		ok, err := w.tryReserve(ctx, rule, now)
		if err != nil {
			return nil, err
		}
		w.opts.Metrics.ruleMatched(ok)
		if !ok {
			w.logger.Debug("rule in cooldown", "rack_id", w.rackID, "rule_id", rule.ID)
			continue
		}
		res.Reserved = append(res.Reserved, rule.ID)
		reserved = append(reserved, rule)
	}
	return reserved, nil
}

func (w *rackWorker) tryReserve(ctx context.Context, rule *AutomationRule, now time.Time) (bool, error) {
	sctx, cancel := w.storageCtx(ctx)
	defer cancel()

	if rule.LastTriggeredAt != nil {
		if err := w.collab.Cooldowns.Observe(sctx, rule.ID, *rule.LastTriggeredAt); err != nil {
			return false, err
		}
	}
	return w.collab.Cooldowns.TryReserve(sctx, rule.ID, now, rule.CooldownMinutes)
}

// dispatchAll sends every command and returns the ones that count as
// executed under the configured policy.
func (w *rackWorker) dispatchAll(ctx context.Context, commands []ActuatorCommand, now time.Time) []ActuatorCommand {
	executed := make([]ActuatorCommand, 0, len(commands))
	for _, cmd := range commands {
		dctx, cancel := context.WithTimeout(ctx, w.opts.DispatchTimeout)
		err := w.collab.Dispatcher.Dispatch(dctx, cmd)
		cancel()

		if err == nil {
			w.opts.Metrics.command(cmd.Channel(), "accepted")
			executed = append(executed, cmd)
			continue
		}

		w.recordFailure(ctx, cmd, err, now)
		if w.opts.Policy == DispatchFireAndForget {
			w.opts.Metrics.command(cmd.Channel(), "unconfirmed")
			executed = append(executed, cmd)
		} else {
			w.opts.Metrics.command(cmd.Channel(), "failed")
		}
	}
	return executed
}

func (w *rackWorker) recordFailure(ctx context.Context, cmd ActuatorCommand, cause error, now time.Time) {
	w.logger.Warn("dispatch failed",
		"rack_id", w.rackID,
		"rule_id", cmd.RuleID,
		"command", cmd.Command.Describe(),
		"timeout", errors.Is(cause, ErrDispatchTimeout) || errors.Is(cause, context.DeadlineExceeded),
		"error", cause,
	)
	if w.collab.Failures == nil {
		return
	}

	failure := DispatchFailure{
		ID:         GenerateID(),
		RackID:     w.rackID,
		RuleID:     cmd.RuleID,
		Channel:    cmd.Channel(),
		Command:    cmd.Command.Describe(),
		Reason:     cause.Error(),
		OccurredAt: now,
	}
	sctx, cancel := w.storageCtx(ctx)
	defer cancel()
	if err := w.collab.Failures.RecordFailure(sctx, failure); err != nil {
		w.logger.Error("recording dispatch failure", "rack_id", w.rackID, "error", err)
	}
}

// emit builds the cycle's single event. The rule that won the last
// executed command names the event.
func (w *rackWorker) emit(ctx context.Context, executed []ActuatorCommand, now time.Time) *AutomatedEvent {
	last := executed[len(executed)-1]
	actions := make([]string, len(executed))
	for i, cmd := range executed {
		actions[i] = cmd.Command.Describe()
	}

	event := AutomatedEvent{
		ID:              GenerateID(),
		RackID:          w.rackID,
		RuleID:          last.RuleID,
		RuleName:        last.RuleName,
		ExecutedActions: actions,
		Timestamp:       now,
	}

	if w.collab.Events != nil {
		sctx, cancel := w.storageCtx(ctx)
		err := w.collab.Events.Emit(sctx, event)
		cancel()
		if err != nil {
			w.logger.Error("emitting automation event", "rack_id", w.rackID, "event_id", event.ID, "error", err)
			w.opts.Metrics.event(false)
			return &event
		}
	}
	w.opts.Metrics.event(true)
	w.logger.Info("automation executed", "rack_id", w.rackID, "rule", event.RuleName, "actions", actions)
	return &event
}

// persist writes now as last_triggered_at for every reserved rule,
// including rules whose actions lost a conflict. All writes are attempted;
// the first failure is returned.
func (w *rackWorker) persist(ctx context.Context, reserved []*AutomationRule, now time.Time) error {
	var first error
	for _, rule := range reserved {
		sctx, cancel := w.storageCtx(ctx)
		err := w.collab.Rules.UpdateLastTriggered(sctx, rule.ID, now)
		cancel()
		if err != nil {
			w.opts.Metrics.cooldownWrite(false)
			w.logger.Warn("persisting last_triggered_at", "rack_id", w.rackID, "rule_id", rule.ID, "error", err)
			if first == nil {
				first = fmt.Errorf("%w: persisting last_triggered_at for %s: %w", ErrStorage, rule.ID, err)
			}
			continue
		}
		w.opts.Metrics.cooldownWrite(true)
	}
	return first
}

// abort drops the reading after a storage failure.
func (w *rackWorker) abort(res CycleResult, step string, err error) CycleResult {
	if !errors.Is(err, ErrStorage) {
		err = fmt.Errorf("%w: %s: %w", ErrStorage, step, err)
	}
	w.logger.Warn("transient storage fault, reading dropped", "rack_id", w.rackID, "step", step, "error", err)
	w.opts.Metrics.reading(OutcomeStorage)
	res.Err = err
	return res
}

func (w *rackWorker) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.opts.StorageTimeout > 0 {
		return context.WithTimeout(ctx, w.opts.StorageTimeout)
	}
	return context.WithCancel(ctx)
}
