// internal/clients/policies.go
package clients

import (
	"context"
	"fmt"
	"time"

	"loanflow/internal/circulation"
)

// PolicyConfig carries the duration and extension rules that are plain
// configuration rather than catalog lookups.
type PolicyConfig struct {
	LoanDuration         time.Duration `env:"CIRCULATION_LOAN_DURATION" envDefault:"720h"`
	MaxLoanDuration      time.Duration `env:"CIRCULATION_MAX_LOAN_DURATION" envDefault:"1440h"`
	ExtensionDuration    time.Duration `env:"CIRCULATION_EXTENSION_DURATION" envDefault:"720h"`
	ExtensionMaxCount    int           `env:"CIRCULATION_EXTENSION_MAX_COUNT" envDefault:"2"`
	ExtensionFromEndDate bool          `env:"CIRCULATION_EXTENSION_FROM_END_DATE" envDefault:"true"`
}

// NewPolicies builds the circulation policy bundle on top of the catalog
// and membership clients.
func NewPolicies(catalog *CatalogClient, membership *MembershipClient, cfg PolicyConfig) circulation.Policies {
	return circulation.Policies{
		PatronExists: func(ctx context.Context, patronPID string) (bool, error) {
			return membership.MemberActive(ctx, patronPID)
		},
		ItemExists: func(ctx context.Context, itemPID circulation.PID) (bool, error) {
			_, found, err := catalog.GetItem(ctx, itemPID)
			return found, err
		},
		DocumentExists: func(ctx context.Context, documentPID string) (bool, error) {
			_, found, err := catalog.GetDocument(ctx, documentPID)
			return found, err
		},
		ItemCanCirculate: func(ctx context.Context, itemPID circulation.PID) (bool, error) {
			item, found, err := catalog.GetItem(ctx, itemPID)
			if err != nil || !found {
				return false, err
			}
			return item.Circulates, nil
		},
		CanBeRequested: func(ctx context.Context, loan *circulation.Loan) (bool, error) {
			if loan.DocumentPID == "" {
				return true, nil
			}
			doc, found, err := catalog.GetDocument(ctx, loan.DocumentPID)
			if err != nil || !found {
				return false, err
			}
			return doc.Requestable, nil
		},
		ItemLocation: func(ctx context.Context, itemPID circulation.PID) (string, error) {
			item, found, err := catalog.GetItem(ctx, itemPID)
			if err != nil {
				return "", err
			}
			if !found {
				return "", fmt.Errorf("item '%s' not found in catalog", itemPID)
			}
			return item.LocationPID, nil
		},
		ItemsByDocument: catalog.ItemsByDocument,
		DocumentByItem: func(ctx context.Context, itemPID circulation.PID) (string, error) {
			item, found, err := catalog.GetItem(ctx, itemPID)
			if err != nil || !found {
				return "", err
			}
			return item.DocumentPID, nil
		},
		LoanDuration: func(ctx context.Context, loan *circulation.Loan) (time.Duration, error) {
			return cfg.LoanDuration, nil
		},
		LoanDurationValid: func(ctx context.Context, loan *circulation.Loan) (bool, error) {
			if loan.StartDate == nil || loan.EndDate == nil {
				return false, nil
			}
			span := loan.EndDate.Sub(loan.StartDate.Time)
			return span >= 0 && span <= cfg.MaxLoanDuration, nil
		},
		ExtensionDuration: func(ctx context.Context, loan *circulation.Loan) (time.Duration, error) {
			return cfg.ExtensionDuration, nil
		},
		ExtensionMaxCount: func(ctx context.Context, loan *circulation.Loan) (int, error) {
			return cfg.ExtensionMaxCount, nil
		},
		ExtensionFromEndDate: cfg.ExtensionFromEndDate,
		TransactionLocationValid: func(ctx context.Context, locationPID string) (bool, error) {
			return catalog.LocationExists(ctx, locationPID)
		},
		TransactionUserValid: func(ctx context.Context, userPID string) (bool, error) {
			_, found, err := membership.GetMember(ctx, userPID)
			return found, err
		},
		ItemRefBuilder: func(loan *circulation.Loan) *circulation.Ref {
			if loan.ItemPID == nil {
				return nil
			}
			return &circulation.Ref{Ref: fmt.Sprintf("%s/api/v1/catalog/items/%s/%s",
				catalog.BaseURL(), loan.ItemPID.Type, loan.ItemPID.Value)}
		},
		PatronRefBuilder: func(loan *circulation.Loan) *circulation.Ref {
			if loan.PatronPID == "" {
				return nil
			}
			return &circulation.Ref{Ref: fmt.Sprintf("%s/api/v1/members/%s",
				membership.BaseURL(), loan.PatronPID)}
		},
		DocumentRefBuilder: func(loan *circulation.Loan) *circulation.Ref {
			if loan.DocumentPID == "" {
				return nil
			}
			return &circulation.Ref{Ref: fmt.Sprintf("%s/api/v1/catalog/documents/%s",
				catalog.BaseURL(), loan.DocumentPID)}
		},
	}
}
