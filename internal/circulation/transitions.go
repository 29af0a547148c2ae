// internal/circulation/transitions.go
package circulation

import (
	"context"
)

type transitionHooks struct {
	before beforeHook
	after  afterHook
}

// transitionKinds maps configuration-declared kind names to the concrete
// transition variants. Each variant shares the base guard pipeline and
// adds its own rules on top.
var transitionKinds = map[string]transitionHooks{
	KindBase:                         {},
	KindCreatedToPending:             {before: requestBefore},
	KindToItemOnLoan:                 {before: checkoutBefore},
	KindItemAtDeskToItemOnLoan:       {before: checkoutFromDeskBefore},
	KindPendingToItemAtDesk:          {before: pendingToDeskBefore},
	KindPendingToItemInTransitPickup: {before: pendingToTransitBefore},
	KindExtend:                       {before: extendBefore},
	KindCheckinToTransitHouse:        {before: checkinAwayBefore},
	KindCheckinToReturned:            {before: checkinHomeBefore, after: cascadeAfter},
	KindTransitHouseToReturned:       {before: transitHouseReturnBefore, after: cascadeAfter},
	KindToCancelled:                  {},
}

// requestBefore validates a request and, for a document-only request,
// optionally assigns an available item and defaults the pickup location to
// the item's own location.
func requestBefore(ctx context.Context, t *Transition, loan *Loan, params *Params) error {
	p := t.d.policies()

	ok, err := p.CanBeRequested(ctx, loan)
	if err != nil {
		return err
	}
	if !ok {
		return newError(CodeCannotBeRequested,
			"transition to '%s' failed, record for document '%s' can not be requested",
			t.dest, loan.DocumentPID)
	}

	if loan.ItemPID == nil && loan.DocumentPID != "" && t.assignItem {
		available, err := t.d.availableItemByDocument(ctx, loan.DocumentPID)
		if err != nil {
			return err
		}
		if available != nil {
			loan.ItemPID = available
		}
	}

	if loan.ItemPID != nil && loan.PickupLocationPID == "" {
		location, err := p.ItemLocation(ctx, *loan.ItemPID)
		if err != nil {
			return err
		}
		loan.PickupLocationPID = location
	}
	return nil
}

// checkoutBefore validates a direct checkout: the item must exist, carry no
// other active loan, and the loan duration must satisfy policy.
func checkoutBefore(ctx context.Context, t *Transition, loan *Loan, params *Params) error {
	if err := t.ensureItemAvailable(ctx, loan); err != nil {
		return err
	}
	if loan.PickupLocationPID == "" && loan.ItemPID != nil {
		location, err := t.d.policies().ItemLocation(ctx, *loan.ItemPID)
		if err != nil {
			return err
		}
		loan.PickupLocationPID = location
	}
	return ensureValidLoanDuration(ctx, t, loan)
}

// checkoutFromDeskBefore performs a checkout of an item already waiting at
// the pickup desk; the availability re-check is skipped since this very
// loan holds the item.
func checkoutFromDeskBefore(ctx context.Context, t *Transition, loan *Loan, params *Params) error {
	return ensureValidLoanDuration(ctx, t, loan)
}

func pendingToDeskBefore(ctx context.Context, t *Transition, loan *Loan, params *Params) error {
	if err := ensureItemAttached(loan); err != nil {
		return err
	}
	same, err := t.isSameLocation(ctx, *loan.ItemPID, loan.PickupLocationPID)
	if err != nil {
		return err
	}
	if !same {
		return conditionsFailed(
			"pickup is not at the item's library, transition to '%s' has failed", t.dest)
	}
	return nil
}

func pendingToTransitBefore(ctx context.Context, t *Transition, loan *Loan, params *Params) error {
	if err := ensureItemAttached(loan); err != nil {
		return err
	}
	same, err := t.isSameLocation(ctx, *loan.ItemPID, loan.PickupLocationPID)
	if err != nil {
		return err
	}
	if same {
		return conditionsFailed(
			"pickup is at the item's library, transition to '%s' has failed", t.dest)
	}
	return nil
}

// extendBefore bumps the extension count against the policy ceiling and
// pushes the end date forward by the policy-provided extension duration.
func extendBefore(ctx context.Context, t *Transition, loan *Loan, params *Params) error {
	p := t.d.policies()

	max, err := p.ExtensionMaxCount(ctx, loan)
	if err != nil {
		return err
	}
	count := loan.ExtensionCount + 1
	if count > max {
		return newError(CodeMaxExtension,
			"reached the maximum amount of extensions '%d' for loan '%s'", max, loan.PID)
	}
	loan.ExtensionCount = count

	duration, err := p.ExtensionDuration(ctx, loan)
	if err != nil {
		return err
	}
	base := *loan.TransactionDate
	if p.ExtensionFromEndDate {
		if loan.EndDate == nil {
			return constraintsViolation("loan '%s' has no end date to extend", loan.PID)
		}
		base = loan.EndDate.Time
	}
	end := NewDate(base.Add(duration))
	loan.EndDate = &end
	return nil
}

// checkinAwayBefore handles a check-in at a location other than the item's
// home library: the item goes in transit back to the house.
func checkinAwayBefore(ctx context.Context, t *Transition, loan *Loan, params *Params) error {
	if err := ensureItemAttached(loan); err != nil {
		return err
	}
	same, err := t.isSameLocation(ctx, *loan.ItemPID, loan.TransactionLocationPID)
	if err != nil {
		return err
	}
	if same {
		return conditionsFailed(
			"item is already in house, transition to '%s' has failed", t.dest)
	}
	endLoan(loan)
	return nil
}

// checkinHomeBefore handles a check-in at the item's home library: the loan
// completes right away.
func checkinHomeBefore(ctx context.Context, t *Transition, loan *Loan, params *Params) error {
	if err := ensureItemAttached(loan); err != nil {
		return err
	}
	same, err := t.isSameLocation(ctx, *loan.ItemPID, loan.TransactionLocationPID)
	if err != nil {
		return err
	}
	if !same {
		return conditionsFailed(
			"item should be in transit to house, transition to '%s' has failed", t.dest)
	}
	endLoan(loan)
	return nil
}

func transitHouseReturnBefore(ctx context.Context, t *Transition, loan *Loan, params *Params) error {
	if err := ensureItemAttached(loan); err != nil {
		return err
	}
	same, err := t.isSameLocation(ctx, *loan.ItemPID, loan.TransactionLocationPID)
	if err != nil {
		return err
	}
	if !same {
		return conditionsFailed(
			"item has not reached its home library yet, transition to '%s' has failed", t.dest)
	}
	return nil
}

// cascadeAfter re-attaches the freshly returned item to pending requests on
// the same document. Best effort: the primary transition is already
// committed, so failures are logged and never propagated.
func cascadeAfter(ctx context.Context, t *Transition, loan *Loan) {
	if loan.ItemPID == nil {
		return
	}
	t.d.resolvePendingRequests(ctx, *loan.ItemPID)
}

// endLoan closes the loan at the transaction date.
func endLoan(loan *Loan) {
	end := NewDate(*loan.TransactionDate)
	loan.EndDate = &end
}

// ensureValidLoanDuration defaults start and end dates for a checkout and
// validates the resulting duration against policy.
func ensureValidLoanDuration(ctx context.Context, t *Transition, loan *Loan) error {
	p := t.d.policies()

	if loan.StartDate == nil {
		start := NewDate(*loan.TransactionDate)
		loan.StartDate = &start
	}
	if loan.EndDate == nil {
		duration, err := p.LoanDuration(ctx, loan)
		if err != nil {
			return err
		}
		end := NewDate(loan.StartDate.Add(duration))
		loan.EndDate = &end
	}

	valid, err := p.LoanDurationValid(ctx, loan)
	if err != nil {
		return err
	}
	if !valid {
		return constraintsViolation(
			"the loan duration from '%s' to '%s' is not valid", loan.StartDate, loan.EndDate)
	}
	return nil
}

// ensureItemAvailable validates that the loan's item exists and carries no
// other active loan.
func (t *Transition) ensureItemAvailable(ctx context.Context, loan *Loan) error {
	if loan.ItemPID == nil {
		return constraintsViolation("item not set for loan '%s'", loan.PID)
	}
	available, err := t.d.itemAvailableForCheckout(ctx, *loan.ItemPID)
	if err != nil {
		return err
	}
	if !available {
		return itemNotAvailable(*loan.ItemPID, t.dest)
	}
	return nil
}

// isSameLocation reports whether the item's home location matches the
// given location.
func (t *Transition) isSameLocation(ctx context.Context, itemPID PID, locationPID string) (bool, error) {
	itemLocation, err := t.d.policies().ItemLocation(ctx, itemPID)
	if err != nil {
		return false, err
	}
	return itemLocation == locationPID, nil
}
