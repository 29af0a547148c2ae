// internal/circulation/transition.go
package circulation

import (
	"context"
	"log/slog"
)

// deps bundles the collaborators and configuration shared by every
// transition.
type deps struct {
	cfg    *Config
	store  RecordStore
	index  SearchIndex
	events EventBus
	log    *slog.Logger
}

func (d *deps) policies() *Policies { return &d.cfg.Policies }

type beforeHook func(ctx context.Context, t *Transition, loan *Loan, params *Params) error
type afterHook func(ctx context.Context, t *Transition, loan *Loan)

// Transition is one guarded edge of the circulation graph. Executing it
// runs the shared guard pipeline, the kind-specific before hook, the state
// write and the after phase (persist, index, emit). Kind-specific behavior
// is injected through the hook fields by the registry.
type Transition struct {
	src     string
	dest    string
	trigger string
	kind    string

	// assignItem lets a document-only request pick an available item.
	assignItem bool

	d      *deps
	before beforeHook
	after  afterHook
}

func newTransition(d *deps, src string, spec TransitionSpec, declared map[string]struct{}) (*Transition, error) {
	if _, ok := declared[src]; !ok {
		return nil, invalidLoanState(src)
	}
	if _, ok := declared[spec.Dest]; !ok {
		return nil, invalidLoanState(spec.Dest)
	}
	kind := spec.Kind
	if kind == "" {
		kind = KindBase
	}
	hooks, ok := transitionKinds[kind]
	if !ok {
		return nil, notImplemented("transition kind '" + kind + "'")
	}
	trigger := spec.Trigger
	if trigger == "" {
		trigger = DefaultTrigger
	}
	return &Transition{
		src:        src,
		dest:       spec.Dest,
		trigger:    trigger,
		kind:       kind,
		assignItem: spec.AssignItem,
		d:          d,
		before:     hooks.before,
		after:      hooks.after,
	}, nil
}

// Source returns the state this transition departs from.
func (t *Transition) Source() string { return t.src }

// Destination returns the state this transition arrives at.
func (t *Transition) Destination() string { return t.dest }

// Trigger returns the trigger name this transition answers to.
func (t *Transition) Trigger() string { return t.trigger }

// Execute attempts the transition on a copy of the loan and returns the
// mutated, already persisted result. A soft failure (conditions failed)
// tells the engine to try the next candidate; any other error aborts the
// whole trigger call.
func (t *Transition) Execute(ctx context.Context, loan *Loan, params Params) (*Loan, error) {
	if err := t.checkTrigger(&params); err != nil {
		return nil, err
	}
	if err := t.d.policies().checkPermission(ctx, loan, t.trigger); err != nil {
		return nil, err
	}
	if err := t.checkRequiredParams(ctx, &params); err != nil {
		return nil, err
	}
	if err := t.checkDocumentAndPatron(ctx, loan, &params); err != nil {
		return nil, err
	}
	if err := t.checkItem(ctx, loan, &params); err != nil {
		return nil, err
	}

	prev := loan.Clone()
	next := loan.Clone()
	t.applyParams(next, &params)
	if t.before != nil {
		if err := t.before(ctx, t, next, &params); err != nil {
			return nil, err
		}
	}
	next.State = t.dest

	if err := t.persist(ctx, prev, next); err != nil {
		return nil, err
	}
	if t.after != nil {
		t.after(ctx, t, next)
	}
	return next, nil
}

// checkTrigger soft-fails when the caller asked for a different trigger,
// letting the engine fall through to the next declared candidate.
func (t *Transition) checkTrigger(params *Params) error {
	trigger := params.Trigger
	if trigger == "" {
		trigger = DefaultTrigger
	}
	if trigger != t.trigger {
		return conditionsFailed("no trigger '%s' on transition to '%s'", trigger, t.dest)
	}
	return nil
}

func (t *Transition) checkRequiredParams(ctx context.Context, params *Params) error {
	var missing []string
	if params.TransactionUserPID == "" {
		missing = append(missing, "transaction_user_pid")
	}
	if params.PatronPID == "" {
		missing = append(missing, "patron_pid")
	}
	if params.TransactionLocationPID == "" {
		missing = append(missing, "transaction_location_pid")
	}
	if len(missing) > 0 {
		return newError(CodeMissingParameter,
			"required input parameters are missing %v", missing)
	}
	if params.ItemPID == nil && params.DocumentPID == "" {
		return newError(CodeMissingParameter,
			"one of the parameters 'item_pid' or 'document_pid' must be passed")
	}

	p := t.d.policies()
	ok, err := p.TransactionLocationValid(ctx, params.TransactionLocationPID)
	if err != nil {
		return err
	}
	if !ok {
		return constraintsViolation(
			"transaction location '%s' is not valid", params.TransactionLocationPID)
	}
	ok, err = p.TransactionUserValid(ctx, params.TransactionUserPID)
	if err != nil {
		return err
	}
	if !ok {
		return constraintsViolation(
			"transaction user '%s' is not valid", params.TransactionUserPID)
	}
	return nil
}

// checkDocumentAndPatron enforces existence and referential stability:
// document and patron references, once set on a loan, never change.
func (t *Transition) checkDocumentAndPatron(ctx context.Context, loan *Loan, params *Params) error {
	p := t.d.policies()

	if params.DocumentPID != "" {
		exists, err := p.DocumentExists(ctx, params.DocumentPID)
		if err != nil {
			return err
		}
		if !exists {
			return newError(CodeDocumentNotAvailable,
				"document '%s' not found in the system", params.DocumentPID)
		}
		if loan.DocumentPID != "" && loan.DocumentPID != params.DocumentPID {
			return newError(CodeDocumentDoNotMatch,
				"loan document is '%s' but transition is trying to set it to '%s'",
				loan.DocumentPID, params.DocumentPID)
		}
	}

	exists, err := p.PatronExists(ctx, params.PatronPID)
	if err != nil {
		return err
	}
	if !exists {
		return constraintsViolation(
			"patron '%s' not found in the system", params.PatronPID)
	}
	if loan.PatronPID != "" && loan.PatronPID != params.PatronPID {
		return constraintsViolation(
			"loan patron is '%s' but transition is trying to set it to '%s'",
			loan.PatronPID, params.PatronPID)
	}
	return nil
}

// checkItem enforces item existence and referential stability whenever the
// caller supplies an item reference, regardless of the transition kind.
func (t *Transition) checkItem(ctx context.Context, loan *Loan, params *Params) error {
	if params.ItemPID == nil {
		return nil
	}
	exists, err := t.d.policies().ItemExists(ctx, *params.ItemPID)
	if err != nil {
		return err
	}
	if !exists {
		return newError(CodeItemNotAvailable,
			"item '%s' not found in the system", *params.ItemPID)
	}
	if loan.ItemPID != nil && *loan.ItemPID != *params.ItemPID {
		return newError(CodeItemDoNotMatch,
			"loan item is '%s' but transition is trying to set it to '%s'",
			*loan.ItemPID, *params.ItemPID)
	}
	return nil
}

// applyParams merges the supplied parameters into the loan and defaults the
// transaction date to now, normalized to UTC.
func (t *Transition) applyParams(loan *Loan, params *Params) {
	if params.TransactionDate == nil {
		now := t.d.policies().now()
		params.TransactionDate = &now
	} else {
		utc := params.TransactionDate.UTC()
		params.TransactionDate = &utc
	}
	loan.TransactionDate = params.TransactionDate

	if params.PatronPID != "" {
		loan.PatronPID = params.PatronPID
	}
	if params.ItemPID != nil {
		pid := *params.ItemPID
		loan.ItemPID = &pid
	}
	if params.DocumentPID != "" {
		loan.DocumentPID = params.DocumentPID
	}
	if params.PickupLocationPID != "" {
		loan.PickupLocationPID = params.PickupLocationPID
	}
	loan.TransactionLocationPID = params.TransactionLocationPID
	loan.TransactionUserPID = params.TransactionUserPID
	if params.StartDate != nil {
		loan.StartDate = cloneDate(params.StartDate)
	}
	if params.EndDate != nil {
		loan.EndDate = cloneDate(params.EndDate)
	}
	if params.RequestStartDate != nil {
		loan.RequestStartDate = cloneDate(params.RequestStartDate)
	}
	if params.RequestExpireDate != nil {
		loan.RequestExpireDate = cloneDate(params.RequestExpireDate)
	}
	if params.CancelReason != "" {
		loan.CancelReason = params.CancelReason
	}
}

// persist commits the loan, re-indexes it and emits the state-changed
// event. Commit and index failures abort the transition; a failed emit is
// only logged, the bus is fire-and-forget.
func (t *Transition) persist(ctx context.Context, prev, next *Loan) error {
	t.d.policies().buildRefs(next)
	if err := t.d.store.Commit(ctx, next); err != nil {
		return err
	}
	if err := t.d.index.Index(ctx, next); err != nil {
		return err
	}
	event := StateChangedEvent{PrevLoan: prev, Loan: next, Trigger: t.trigger}
	if err := t.d.events.Emit(ctx, EventLoanStateChanged, event); err != nil {
		t.d.log.WarnContext(ctx, "emit state-changed event failed",
			"loan", next.PID, "trigger", t.trigger, "error", err)
	}
	return nil
}

// ensureItemAttached soft-fails when a document-level request has no item
// assigned yet.
func ensureItemAttached(loan *Loan) error {
	if loan.ItemPID == nil {
		return conditionsFailed("no item attached in loan '%s'", loan.PID)
	}
	return nil
}
