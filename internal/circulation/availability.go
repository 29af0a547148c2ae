// internal/circulation/availability.go
package circulation

import (
	"context"
)

// itemAvailableForCheckout reports whether the item can circulate and has
// no active loan attached. The count is a read-then-act check; two
// concurrent triggers racing for the same item must be fenced by the
// storage collaborator if exactly-one-active-loan is a hard guarantee.
func (d *deps) itemAvailableForCheckout(ctx context.Context, itemPID PID) (bool, error) {
	circulates, err := d.policies().ItemCanCirculate(ctx, itemPID)
	if err != nil {
		return false, err
	}
	if !circulates {
		return false, nil
	}
	active, err := d.index.Count(ctx, Filters{
		ItemPID:  &itemPID,
		StatesIn: d.cfg.ActiveStates,
	})
	if err != nil {
		return false, err
	}
	return active == 0, nil
}

// availableItemByDocument returns the first item of the document that is
// available for checkout, or nil when none is.
func (d *deps) availableItemByDocument(ctx context.Context, documentPID string) (*PID, error) {
	items, err := d.policies().ItemsByDocument(ctx, documentPID)
	if err != nil {
		return nil, err
	}
	for _, itemPID := range items {
		available, err := d.itemAvailableForCheckout(ctx, itemPID)
		if err != nil {
			return nil, err
		}
		if available {
			pid := itemPID
			return &pid, nil
		}
	}
	return nil, nil
}

// pendingLoansByDocument loads the full loans awaiting an item on the
// given document.
func (d *deps) pendingLoansByDocument(ctx context.Context, documentPID string) ([]*Loan, error) {
	summaries, err := d.index.Search(ctx, Filters{
		DocumentPID: documentPID,
		StatesIn:    d.cfg.RequestStates,
	})
	if err != nil {
		return nil, err
	}
	loans := make([]*Loan, 0, len(summaries))
	for _, s := range summaries {
		loan, err := d.store.Get(ctx, s.PID)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, nil
}

// loanForItem returns the active loan attached to the item, nil when the
// item is free, or MultipleLoansOnItem when the supposedly unique active
// loan is not unique.
func (d *deps) loanForItem(ctx context.Context, itemPID PID) (*Loan, error) {
	summaries, err := d.index.Search(ctx, Filters{
		ItemPID:  &itemPID,
		StatesIn: d.cfg.ActiveStates,
	})
	if err != nil {
		return nil, err
	}
	switch len(summaries) {
	case 0:
		return nil, nil
	case 1:
		return d.store.Get(ctx, summaries[0].PID)
	default:
		return nil, newError(CodeMultipleLoansOnItem,
			"multiple active loans on item '%s'", itemPID)
	}
}
