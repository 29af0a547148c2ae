// internal/circulation/policy.go
package circulation

import (
	"context"
	"errors"
	"time"
)

// Policies bundles the business-rule callbacks the engine is configured
// with. The engine makes no domain decision itself: existence checks,
// durations, availability and permissions are all delegated here.
//
// Every func field without a stated default is required; Validate reports
// the missing ones eagerly so a half-configured engine never starts.
type Policies struct {
	PatronExists     func(ctx context.Context, patronPID string) (bool, error)
	ItemExists       func(ctx context.Context, itemPID PID) (bool, error)
	DocumentExists   func(ctx context.Context, documentPID string) (bool, error)
	ItemCanCirculate func(ctx context.Context, itemPID PID) (bool, error)
	CanBeRequested   func(ctx context.Context, loan *Loan) (bool, error)

	// ItemLocation returns the location PID an item belongs to.
	ItemLocation func(ctx context.Context, itemPID PID) (string, error)
	// ItemsByDocument lists the item PIDs attached to a document.
	ItemsByDocument func(ctx context.Context, documentPID string) ([]PID, error)
	// DocumentByItem resolves the document PID an item belongs to.
	DocumentByItem func(ctx context.Context, itemPID PID) (string, error)

	// LoanDuration returns the default checkout duration for the loan.
	LoanDuration func(ctx context.Context, loan *Loan) (time.Duration, error)
	// LoanDurationValid validates the start/end dates of a checkout.
	LoanDurationValid func(ctx context.Context, loan *Loan) (bool, error)

	ExtensionDuration func(ctx context.Context, loan *Loan) (time.Duration, error)
	ExtensionMaxCount func(ctx context.Context, loan *Loan) (int, error)
	// ExtensionFromEndDate selects the base of an extended end date: the
	// current end date when true, the transaction date when false.
	ExtensionFromEndDate bool

	TransactionLocationValid func(ctx context.Context, locationPID string) (bool, error)
	TransactionUserValid     func(ctx context.Context, userPID string) (bool, error)

	// Ref builders are optional; when nil the resolver fields stay empty.
	ItemRefBuilder     func(loan *Loan) *Ref
	PatronRefBuilder   func(loan *Loan) *Ref
	DocumentRefBuilder func(loan *Loan) *Ref

	// Permission authorizes a trigger on a loan. Optional; nil allows all.
	Permission func(ctx context.Context, loan *Loan, trigger string) error

	// Now is the clock used for defaulted transaction dates. Optional;
	// defaults to time.Now. Injectable so tests stay deterministic.
	Now func() time.Time
}

// Validate reports every required hook that was never supplied, joined
// into a single configuration error.
func (p *Policies) Validate() error {
	var errs []error
	missing := func(name string) { errs = append(errs, notImplemented(name)) }

	if p.PatronExists == nil {
		missing("patron_exists")
	}
	if p.ItemExists == nil {
		missing("item_exists")
	}
	if p.DocumentExists == nil {
		missing("document_exists")
	}
	if p.ItemCanCirculate == nil {
		missing("item_can_circulate")
	}
	if p.CanBeRequested == nil {
		missing("can_be_requested")
	}
	if p.ItemLocation == nil {
		missing("item_location_retriever")
	}
	if p.ItemsByDocument == nil {
		missing("items_retriever_from_document")
	}
	if p.DocumentByItem == nil {
		missing("document_retriever_from_item")
	}
	if p.LoanDuration == nil {
		missing("loan_duration_default")
	}
	if p.LoanDurationValid == nil {
		missing("loan_duration_validate")
	}
	if p.ExtensionDuration == nil {
		missing("extension_duration_default")
	}
	if p.ExtensionMaxCount == nil {
		missing("extension_max_count")
	}
	if p.TransactionLocationValid == nil {
		missing("transaction_location_validator")
	}
	if p.TransactionUserValid == nil {
		missing("transaction_user_validator")
	}
	return errors.Join(errs...)
}

func (p *Policies) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Policies) checkPermission(ctx context.Context, loan *Loan, trigger string) error {
	if p.Permission == nil {
		return nil
	}
	return p.Permission(ctx, loan, trigger)
}

// buildRefs refreshes the resolver reference fields on the loan.
func (p *Policies) buildRefs(loan *Loan) {
	if p.ItemRefBuilder != nil {
		loan.Item = p.ItemRefBuilder(loan)
	}
	if p.PatronRefBuilder != nil {
		loan.Patron = p.PatronRefBuilder(loan)
	}
	if p.DocumentRefBuilder != nil {
		loan.Document = p.DocumentRefBuilder(loan)
	}
}
