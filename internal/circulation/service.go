// internal/circulation/service.go
package circulation

import (
	"context"
)

// RecordStore is the durable storage collaborator. Commit is a single
// atomic write of one loan; cross-entity atomicity is out of scope here.
type RecordStore interface {
	Get(ctx context.Context, pid string) (*Loan, error)
	Create(ctx context.Context, loan *Loan) (*Loan, error)
	Commit(ctx context.Context, loan *Loan) error
}

// SearchIndex is the full-text index collaborator. It answers the
// availability and pending-request queries the transitions depend on.
type SearchIndex interface {
	Index(ctx context.Context, loan *Loan) error
	Search(ctx context.Context, f Filters) ([]LoanSummary, error)
	Count(ctx context.Context, f Filters) (int, error)
}

// EventBus publishes circulation events. Fire and forget: having no
// subscriber is not an error, and emit failures never roll back a
// committed transition.
type EventBus interface {
	Emit(ctx context.Context, name string, payload any) error
}

// Service defines the interface for the circulation service.
type Service interface {
	CreateLoan(ctx context.Context, draft *Loan) (*Loan, error)
	GetLoan(ctx context.Context, pid string) (*Loan, error)
	Trigger(ctx context.Context, pid string, params Params) (*Loan, error)
	ReplaceItem(ctx context.Context, pid string, itemPID PID) (*Loan, error)
	LoanForItem(ctx context.Context, itemPID PID) (*Loan, error)
	Triggers() []string
}
