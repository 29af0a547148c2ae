// internal/circulation/cascade.go
package circulation

import (
	"context"
)

// resolvePendingRequests attaches a freshly returned item to the pending
// document-level requests that are still waiting for one.
//
// Each pending loan is committed and re-indexed on its own; there is no
// cross-entity transaction, so a crash mid-cascade leaves the remaining
// loans correctly pending for a later check-in or a manual pass to pick
// up. Failures are logged and never fail the completed check-in.
func (d *deps) resolvePendingRequests(ctx context.Context, itemPID PID) {
	documentPID, err := d.policies().DocumentByItem(ctx, itemPID)
	if err != nil {
		d.log.WarnContext(ctx, "cascade: resolve document for item failed",
			"item", itemPID.String(), "error", err)
		return
	}
	if documentPID == "" {
		return
	}

	pending, err := d.pendingLoansByDocument(ctx, documentPID)
	if err != nil {
		d.log.WarnContext(ctx, "cascade: pending loans lookup failed",
			"document", documentPID, "error", err)
		return
	}

	for _, loan := range pending {
		if loan.ItemPID != nil {
			continue
		}
		pid := itemPID
		loan.ItemPID = &pid
		d.policies().buildRefs(loan)
		if err := d.store.Commit(ctx, loan); err != nil {
			d.log.WarnContext(ctx, "cascade: commit pending loan failed",
				"loan", loan.PID, "error", err)
			continue
		}
		if err := d.index.Index(ctx, loan); err != nil {
			d.log.WarnContext(ctx, "cascade: re-index pending loan failed",
				"loan", loan.PID, "error", err)
		}
	}
}
