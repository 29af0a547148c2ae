// internal/circulation/implementation.go
package circulation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// service implements the Service interface on top of the engine.
type service struct {
	engine *Engine
}

// NewService creates a new circulation service instance.
func NewService(engine *Engine) Service {
	return &service{engine: engine}
}

// CreateLoan stores a new loan in the configured initial state. When the
// draft references an item, the owning document is resolved and attached
// as well.
func (s *service) CreateLoan(ctx context.Context, draft *Loan) (*Loan, error) {
	d := s.engine.d
	loan := draft.Clone()
	if loan.PID == "" {
		loan.PID = uuid.NewString()
	}
	loan.State = d.cfg.InitialState

	if loan.ItemPID != nil && loan.DocumentPID == "" {
		documentPID, err := d.policies().DocumentByItem(ctx, *loan.ItemPID)
		if err != nil {
			return nil, fmt.Errorf("resolve document for item '%s': %w", loan.ItemPID, err)
		}
		loan.DocumentPID = documentPID
	}
	d.policies().buildRefs(loan)

	created, err := d.store.Create(ctx, loan)
	if err != nil {
		return nil, err
	}
	if err := d.index.Index(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) GetLoan(ctx context.Context, pid string) (*Loan, error) {
	return s.engine.d.store.Get(ctx, pid)
}

// Trigger loads the loan and advances it through the engine.
func (s *service) Trigger(ctx context.Context, pid string, params Params) (*Loan, error) {
	loan, err := s.engine.d.store.Get(ctx, pid)
	if err != nil {
		return nil, err
	}
	return s.engine.Trigger(ctx, loan, params)
}

func (s *service) ReplaceItem(ctx context.Context, pid string, itemPID PID) (*Loan, error) {
	loan, err := s.engine.d.store.Get(ctx, pid)
	if err != nil {
		return nil, err
	}
	return s.engine.ReplaceItem(ctx, loan, itemPID)
}

func (s *service) LoanForItem(ctx context.Context, itemPID PID) (*Loan, error) {
	return s.engine.LoanForItem(ctx, itemPID)
}

// Triggers returns the distinct trigger names declared in the graph.
func (s *service) Triggers() []string {
	return s.engine.d.cfg.Triggers()
}
