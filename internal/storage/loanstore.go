// internal/storage/loanstore.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loanflow/internal/circulation"
)

var (
	// ErrVersionConflict signals a lost optimistic-concurrency race: the
	// loan was committed by someone else since it was read.
	ErrVersionConflict = errors.New("version conflict: loan was modified concurrently")
)

const schema = `
CREATE TABLE IF NOT EXISTS loans (
	pid        TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// LoanStore is the Postgres-backed record store for loans. Each commit is
// a single atomic write guarded by an optimistic version check.
type LoanStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// NewLoanStore creates a loan store on the given connection pool.
func NewLoanStore(db *sqlx.DB) *LoanStore {
	return &LoanStore{
		db:     db,
		tracer: otel.Tracer("loanflow/storage"),
	}
}

// EnsureSchema creates the loans table when it does not exist yet.
func (s *LoanStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure loans schema: %w", err)
	}
	return nil
}

type loanRow struct {
	PID       string          `db:"pid"`
	Data      json.RawMessage `db:"data"`
	Version   int             `db:"version"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Get loads a loan by pid.
func (s *LoanStore) Get(ctx context.Context, pid string) (*circulation.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "loanstore.get",
		trace.WithAttributes(attribute.String("loan.pid", pid)))
	defer span.End()

	var row loanRow
	err := s.db.GetContext(ctx, &row,
		`SELECT pid, data, version, created_at, updated_at FROM loans WHERE pid = $1`, pid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &circulation.Error{
			Code:        circulation.CodeLoanNotFound,
			Description: fmt.Sprintf("loan '%s' not found", pid),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("get loan '%s': %w", pid, err)
	}
	return rowToLoan(&row)
}

// Create inserts a new loan with version 1.
func (s *LoanStore) Create(ctx context.Context, loan *circulation.Loan) (*circulation.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "loanstore.create",
		trace.WithAttributes(attribute.String("loan.pid", loan.PID)))
	defer span.End()

	data, err := json.Marshal(loan)
	if err != nil {
		return nil, fmt.Errorf("marshal loan '%s': %w", loan.PID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO loans (pid, data, version) VALUES ($1, $2, 1)`, loan.PID, data)
	if err != nil {
		return nil, fmt.Errorf("insert loan '%s': %w", loan.PID, err)
	}
	created := loan.Clone()
	created.Version = 1
	return created, nil
}

// Commit writes the loan back, bumping its version. The update only lands
// when nobody else committed in between; otherwise ErrVersionConflict.
func (s *LoanStore) Commit(ctx context.Context, loan *circulation.Loan) error {
	ctx, span := s.tracer.Start(ctx, "loanstore.commit",
		trace.WithAttributes(
			attribute.String("loan.pid", loan.PID),
			attribute.Int("loan.version", loan.Version),
		),
	)
	defer span.End()

	data, err := json.Marshal(loan)
	if err != nil {
		return fmt.Errorf("marshal loan '%s': %w", loan.PID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE loans
		SET data = $1, version = version + 1, updated_at = NOW()
		WHERE pid = $2 AND version = $3`,
		data, loan.PID, loan.Version)
	if err != nil {
		return fmt.Errorf("commit loan '%s': %w", loan.PID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit loan '%s': %w", loan.PID, err)
	}
	if affected == 0 {
		return fmt.Errorf("commit loan '%s' at version %d: %w", loan.PID, loan.Version, ErrVersionConflict)
	}
	loan.Version++
	return nil
}

func rowToLoan(row *loanRow) (*circulation.Loan, error) {
	var loan circulation.Loan
	if err := json.Unmarshal(row.Data, &loan); err != nil {
		return nil, fmt.Errorf("unmarshal loan '%s': %w", row.PID, err)
	}
	loan.Version = row.Version
	return &loan, nil
}
