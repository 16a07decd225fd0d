package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zhy0216/toolbox/pkg/config"
	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/tools"
	"github.com/zhy0216/toolbox/pkg/types"
)

// Config controls which tools a turn sees and how it is scheduled.
type Config struct {
	Capabilities config.Capabilities
	Family       schema.Family
	// TurnTimeout bounds a whole turn; zero means no limit beyond ctx.
	TurnTimeout time.Duration
	// GracePeriod is how long cooperative tools get to finish once the
	// turn is cancelled. Zero means types.DefaultGracePeriod.
	GracePeriod time.Duration
	// MaxParallel caps concurrent invocations; zero or less is unbounded.
	MaxParallel int
}

// Option customizes a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Router) { r.log = l }
}

// WithEmitter publishes turn and tool events to e.
func WithEmitter(e *types.EventEmitter) Option {
	return func(r *Router) { r.events = e }
}

// WithFactories overrides the per-capability factories. Nil fields keep
// the current value.
func WithFactories(f Factories) Option {
	return func(r *Router) { r.factories = r.factories.merge(f) }
}

// WithTools registers extra tools after the capability-gated ones.
func WithTools(extra ...types.Tool) Option {
	return func(r *Router) { r.extra = append(r.extra, extra...) }
}

// WithIDGenerator replaces the turn ID source.
func WithIDGenerator(fn func() string) Option {
	return func(r *Router) { r.newID = fn }
}

// Router turns a batch of call requests into an ordered outcome. It keeps
// no state across turns.
type Router struct {
	cfg       Config
	factories Factories
	extra     []types.Tool
	log       logrus.FieldLogger
	events    *types.EventEmitter
	newID     func() string
}

// New creates a Router with the built-in tool factories for an empty
// Environment; pass WithFactories to supply real ones.
func New(cfg Config, opts ...Option) *Router {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = types.DefaultGracePeriod
	}
	if cfg.Family == "" {
		cfg.Family = schema.Generic
	}
	r := &Router{
		cfg:       cfg,
		factories: DefaultFactories(Environment{}),
		log:       logrus.StandardLogger(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Family returns the configured schema family.
func (r *Router) Family() schema.Family {
	return r.cfg.Family
}

// BuildRegistry evaluates the capability flags in their fixed order and
// registers one tool per enabled flag, followed by any extra tools.
func (r *Router) BuildRegistry() (*tools.Registry, error) {
	reg := tools.NewRegistry()
	for _, s := range slots(r.cfg.Capabilities, r.factories) {
		if !s.enabled {
			continue
		}
		if s.factory == nil {
			return nil, &types.ConfigurationError{Tool: s.name, Reason: "capability enabled but no tool is available"}
		}
		tool, err := s.factory()
		if err != nil {
			return nil, fmt.Errorf("building %s tool: %w", s.name, err)
		}
		if err := reg.Register(tool); err != nil {
			return nil, err
		}
	}
	for _, tool := range r.extra {
		if err := reg.Register(tool); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Descriptors exports the active tools in the configured family.
func (r *Router) Descriptors() ([]schema.Descriptor, error) {
	reg, err := r.BuildRegistry()
	if err != nil {
		return nil, err
	}
	return reg.ExportAll(r.cfg.Family), nil
}

// RunTurn resolves, validates and dispatches calls concurrently, returning
// one result per request in request order. Per-call failures are results;
// the error is reserved for a bad tool configuration.
func (r *Router) RunTurn(ctx context.Context, calls []types.CallRequest) (types.TurnOutcome, error) {
	reg, err := r.BuildRegistry()
	if err != nil {
		return types.TurnOutcome{}, err
	}

	turnID := r.newID()
	start := time.Now()
	logger := r.log.WithField("turn_id", turnID)
	r.events.Emit(types.Event{Type: types.EventTurnStart, TurnID: turnID, Calls: len(calls)})

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.cfg.TurnTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.TurnTimeout)
	}
	defer cancel()

	b := newBoard(turnID, calls, r.events)
	type job struct {
		index int
		tool  types.Tool
	}
	var jobs []job
	for i, call := range calls {
		tool, err := reg.Resolve(call.Name)
		if err != nil {
			b.settle(i, types.ErrorResult(err.Error()))
			continue
		}
		if err := schema.Validate(tool.Schema(), call.Arguments); err != nil {
			b.settle(i, types.ErrorResult((&types.InvalidArgumentsError{Tool: call.Name, Err: err}).Error()))
			continue
		}
		jobs = append(jobs, job{index: i, tool: tool})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		if r.cfg.MaxParallel > 0 {
			g.SetLimit(r.cfg.MaxParallel)
		}
		for _, j := range jobs {
			g.Go(func() error {
				// Queued behind the limit past cancellation: never started.
				if runCtx.Err() != nil {
					return nil
				}
				call := calls[j.index]
				r.events.Emit(types.Event{Type: types.EventToolStart, TurnID: turnID, CallID: call.ID, ToolName: call.Name})
				res := r.invoke(runCtx, logger, j.tool, call)
				if !b.settle(j.index, res) {
					logger.WithFields(logrus.Fields{"call_id": call.ID, "tool": call.Name}).Debug("discarding late result")
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		grace := time.NewTimer(r.cfg.GracePeriod)
		select {
		case <-done:
		case <-grace.C:
		}
		grace.Stop()
	}

	var pending *types.ToolResult
	if err := runCtx.Err(); err != nil {
		pending = types.ErrorResult(r.interruptMessage(err))
	}
	results, filled := b.close(pending)
	if filled > 0 && pending != nil {
		logger.WithFields(logrus.Fields{"pending": filled, "reason": pending.Error}).Warn("turn interrupted")
	}

	outcome := types.TurnOutcome{TurnID: turnID, Results: results}
	logger.WithFields(logrus.Fields{"calls": len(calls), "duration": time.Since(start)}).Info("turn complete")
	r.events.Emit(types.Event{Type: types.EventTurnEnd, TurnID: turnID, Calls: len(calls)})
	return outcome, nil
}

// invoke runs one tool with a private copy of its arguments. A panic or a
// nil result becomes an execution error.
func (r *Router) invoke(ctx context.Context, logger logrus.FieldLogger, tool types.Tool, call types.CallRequest) (res *types.ToolResult) {
	fields := logrus.Fields{"call_id": call.ID, "tool": call.Name}
	defer func() {
		if p := recover(); p != nil {
			logger.WithFields(fields).WithField("panic", p).Error("tool panicked")
			res = types.ExecutionErrorResult(call.Name, fmt.Errorf("panic: %v", p))
		}
		logger.WithFields(fields).WithField("is_error", res.IsError()).Debug("tool finished")
	}()

	res = tool.Execute(ctx, types.CloneArguments(call.Arguments))
	if res == nil {
		res = types.ExecutionErrorResult(call.Name, errors.New("tool returned no result"))
	}
	return res
}

func (r *Router) interruptMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		if r.cfg.TurnTimeout > 0 {
			return fmt.Sprintf("Tool call timed out after %s", r.cfg.TurnTimeout)
		}
		return "Tool call timed out: deadline exceeded"
	}
	return "Tool call cancelled: " + err.Error()
}

// board holds the result slots of one turn. Each slot is claimed once;
// after close every settle is rejected.
type board struct {
	turnID string
	calls  []types.CallRequest
	events *types.EventEmitter

	mu      sync.Mutex
	results []*types.ToolResult
	closed  bool
}

func newBoard(turnID string, calls []types.CallRequest, events *types.EventEmitter) *board {
	return &board{
		turnID:  turnID,
		calls:   calls,
		events:  events,
		results: make([]*types.ToolResult, len(calls)),
	}
}

// settle stores res in slot i unless the slot is taken or the board is
// closed. It reports whether res was kept.
func (b *board) settle(i int, res *types.ToolResult) bool {
	b.mu.Lock()
	if b.closed || b.results[i] != nil {
		b.mu.Unlock()
		return false
	}
	b.results[i] = res
	b.mu.Unlock()

	b.events.Emit(types.Event{Type: types.EventToolEnd, TurnID: b.turnID, CallID: b.calls[i].ID, ToolName: b.calls[i].Name, Result: res})
	return true
}

// close fills every empty slot with pending and assembles the outcome in
// request order. It returns the number of slots it filled.
func (b *board) close(pending *types.ToolResult) ([]types.CallOutcome, int) {
	b.mu.Lock()
	b.closed = true
	var filled []int
	out := make([]types.CallOutcome, len(b.calls))
	for i, call := range b.calls {
		res := b.results[i]
		if res == nil {
			res = pending
			if res == nil {
				// Only reachable if a dispatch goroutine skipped a slot
				// without cancellation.
				res = types.ExecutionErrorResult(call.Name, errors.New("call was not dispatched"))
			}
			b.results[i] = res
			filled = append(filled, i)
		}
		out[i] = types.CallOutcome{ID: call.ID, Name: call.Name, Result: res}
	}
	b.mu.Unlock()

	for _, i := range filled {
		b.events.Emit(types.Event{Type: types.EventToolEnd, TurnID: b.turnID, CallID: b.calls[i].ID, ToolName: b.calls[i].Name, Result: b.results[i]})
	}
	return out, len(filled)
}
