// internal/circulation/engine.go
package circulation

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine owns the transition graph and is the sole entry point for
// advancing a loan. The graph is built once from configuration; Trigger
// walks the candidates declared for the loan's current state in
// declaration order, skipping soft rejections and aborting on anything
// else.
type Engine struct {
	d           *deps
	states      map[string]struct{}
	transitions map[string][]*Transition
	tracer      trace.Tracer
}

// NewEngine builds the transition graph from cfg. It fails eagerly on a
// missing policy hook, an undeclared state referenced by the graph, or an
// unknown transition kind.
func NewEngine(cfg Config, store RecordStore, index SearchIndex, events EventBus, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Policies.Validate(); err != nil {
		return nil, err
	}

	states := make(map[string]struct{}, len(cfg.States))
	for _, s := range cfg.States {
		states[s] = struct{}{}
	}
	if _, ok := states[cfg.InitialState]; !ok {
		return nil, invalidLoanState(cfg.InitialState)
	}
	for _, s := range cfg.ActiveStates {
		if _, ok := states[s]; !ok {
			return nil, invalidLoanState(s)
		}
	}
	for _, s := range cfg.RequestStates {
		if _, ok := states[s]; !ok {
			return nil, invalidLoanState(s)
		}
	}

	d := &deps{cfg: &cfg, store: store, index: index, events: events, log: log}
	transitions := make(map[string][]*Transition, len(cfg.Transitions))
	for src, specs := range cfg.Transitions {
		list := make([]*Transition, 0, len(specs))
		for _, spec := range specs {
			t, err := newTransition(d, src, spec, states)
			if err != nil {
				return nil, err
			}
			list = append(list, t)
		}
		transitions[src] = list
	}

	return &Engine{
		d:           d,
		states:      states,
		transitions: transitions,
		tracer:      otel.Tracer("loanflow/circulation"),
	}, nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *Config { return e.d.cfg }

// Trigger attempts to advance the loan with the given parameters and
// returns the mutated, already persisted loan.
//
// Candidates declared for the loan's current state are tried in
// declaration order. A soft rejection (wrong trigger name or a failed
// transition-local condition) moves on to the next candidate, recording
// the skip reason; any other error aborts immediately. When every
// candidate was skipped the call fails with NoValidTransitionAvailable
// carrying the collected skip reasons.
func (e *Engine) Trigger(ctx context.Context, loan *Loan, params Params) (*Loan, error) {
	ctx, span := e.tracer.Start(ctx, "circulation.trigger",
		trace.WithAttributes(
			attribute.String("loan.pid", loan.PID),
			attribute.String("loan.state", loan.State),
			attribute.String("trigger", params.Trigger),
		),
	)
	defer span.End()

	state := loan.State
	if _, ok := e.states[state]; state == "" || !ok {
		return nil, invalidLoanState(state)
	}

	var skipped []string
	for _, t := range e.transitions[state] {
		next, err := t.Execute(ctx, loan, params)
		if err == nil {
			span.SetAttributes(attribute.String("loan.new_state", next.State))
			return next, nil
		}
		if isSoft(err) {
			reason := fmt.Sprintf("%s -> %s: %v", t.src, t.dest, err)
			skipped = append(skipped, reason)
			e.d.log.DebugContext(ctx, "transition skipped",
				"loan", loan.PID, "src", t.src, "dest", t.dest, "reason", err.Error())
			continue
		}
		return nil, err
	}
	return nil, noValidTransition(loan.PID, state, skipped)
}

// ReplaceItem swaps the item attached to an active loan. Loans outside the
// configured active-state subset reject the swap with InvalidLoanState.
func (e *Engine) ReplaceItem(ctx context.Context, loan *Loan, itemPID PID) (*Loan, error) {
	ctx, span := e.tracer.Start(ctx, "circulation.replace_item",
		trace.WithAttributes(
			attribute.String("loan.pid", loan.PID),
			attribute.String("item.pid", itemPID.String()),
		),
	)
	defer span.End()

	if !e.isActiveState(loan.State) {
		return nil, newError(CodeInvalidLoanState,
			"cannot replace item in a loan that is not in an active state, current state '%s'",
			loan.State)
	}
	if itemPID.IsZero() {
		return nil, newError(CodePropertyRequired, "property 'item_pid' is required")
	}
	exists, err := e.d.policies().ItemExists(ctx, itemPID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, newError(CodeItemNotAvailable, "item '%s' not found in the system", itemPID)
	}

	oldItem := loan.ItemPID
	next := loan.Clone()
	next.ItemPID = &itemPID
	e.d.policies().buildRefs(next)
	if err := e.d.store.Commit(ctx, next); err != nil {
		return nil, err
	}
	if err := e.d.index.Index(ctx, next); err != nil {
		return nil, err
	}
	if oldItem != nil {
		event := ReplaceItemEvent{LoanPID: next.PID, OldItemPID: oldItem, NewItemPID: itemPID}
		if err := e.d.events.Emit(ctx, EventLoanReplaceItem, event); err != nil {
			e.d.log.WarnContext(ctx, "emit replace-item event failed",
				"loan", next.PID, "error", err)
		}
	}
	return next, nil
}

// LoanForItem returns the active loan on the item, if any.
func (e *Engine) LoanForItem(ctx context.Context, itemPID PID) (*Loan, error) {
	return e.d.loanForItem(ctx, itemPID)
}

func (e *Engine) isActiveState(state string) bool {
	for _, s := range e.d.cfg.ActiveStates {
		if s == state {
			return true
		}
	}
	return false
}
