// internal/circulation/domain.go
package circulation

import (
	"encoding/json"
	"fmt"
	"time"
)

// PID is an opaque, typed identifier referencing a record held by an
// external system (an item, document, patron or location).
type PID struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (p PID) String() string {
	if p.Type == "" {
		return p.Value
	}
	return p.Type + ":" + p.Value
}

// IsZero reports whether the PID carries no value.
func (p PID) IsZero() bool { return p.Value == "" }

// Ref is a resolver reference to an external record, built by the
// configured ref builders.
type Ref struct {
	Ref string `json:"ref"`
}

// Date is a calendar date. It serializes as an ISO-8601 date (YYYY-MM-DD)
// and always normalizes to midnight UTC in memory.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate truncates t to its calendar date in UTC.
func NewDate(t time.Time) Date {
	t = t.UTC()
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO-8601 date string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t.UTC()}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date { return NewDate(d.AddDate(0, 0, n)) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Loan tracks the custody of a physical item as it moves between a patron
// request, a pickup desk, transit and the patron's hands. It is only ever
// mutated through Engine.Trigger.
type Loan struct {
	PID                    string     `json:"pid"`
	State                  string     `json:"state"`
	ItemPID                *PID       `json:"item_pid,omitempty"`
	DocumentPID            string     `json:"document_pid,omitempty"`
	PatronPID              string     `json:"patron_pid,omitempty"`
	PickupLocationPID      string     `json:"pickup_location_pid,omitempty"`
	TransactionLocationPID string     `json:"transaction_location_pid,omitempty"`
	TransactionUserPID     string     `json:"transaction_user_pid,omitempty"`
	StartDate              *Date      `json:"start_date,omitempty"`
	EndDate                *Date      `json:"end_date,omitempty"`
	RequestStartDate       *Date      `json:"request_start_date,omitempty"`
	RequestExpireDate      *Date      `json:"request_expire_date,omitempty"`
	TransactionDate        *time.Time `json:"transaction_date,omitempty"`
	ExtensionCount         int        `json:"extension_count,omitempty"`
	CancelReason           string     `json:"cancel_reason,omitempty"`
	Item                   *Ref       `json:"item,omitempty"`
	Patron                 *Ref       `json:"patron,omitempty"`
	Document               *Ref       `json:"document,omitempty"`
	Version                int        `json:"-"`
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	c := *l
	if l.ItemPID != nil {
		pid := *l.ItemPID
		c.ItemPID = &pid
	}
	c.StartDate = cloneDate(l.StartDate)
	c.EndDate = cloneDate(l.EndDate)
	c.RequestStartDate = cloneDate(l.RequestStartDate)
	c.RequestExpireDate = cloneDate(l.RequestExpireDate)
	if l.TransactionDate != nil {
		t := *l.TransactionDate
		c.TransactionDate = &t
	}
	c.Item = cloneRef(l.Item)
	c.Patron = cloneRef(l.Patron)
	c.Document = cloneRef(l.Document)
	return &c
}

func cloneDate(d *Date) *Date {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneRef(r *Ref) *Ref {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

// LoanSummary is the subset of loan fields returned by search queries.
type LoanSummary struct {
	PID         string `json:"pid"`
	State       string `json:"state"`
	ItemPID     *PID   `json:"item_pid,omitempty"`
	DocumentPID string `json:"document_pid,omitempty"`
	PatronPID   string `json:"patron_pid,omitempty"`
}

// Filters narrows a search over indexed loans. Zero-valued fields are
// ignored. One of ItemPID, DocumentPID or PatronPID must be set.
type Filters struct {
	ItemPID     *PID
	DocumentPID string
	PatronPID   string
	StatesIn    []string
	StatesNotIn []string
}

// Params carries the caller-supplied inputs of a trigger call. The trigger
// name selects which declared transition may accept the call; the remaining
// fields are merged into the loan once the guards pass.
type Params struct {
	Trigger                string     `json:"trigger,omitempty"`
	PatronPID              string     `json:"patron_pid,omitempty"`
	ItemPID                *PID       `json:"item_pid,omitempty"`
	DocumentPID            string     `json:"document_pid,omitempty"`
	PickupLocationPID      string     `json:"pickup_location_pid,omitempty"`
	TransactionLocationPID string     `json:"transaction_location_pid,omitempty"`
	TransactionUserPID     string     `json:"transaction_user_pid,omitempty"`
	TransactionDate        *time.Time `json:"transaction_date,omitempty"`
	StartDate              *Date      `json:"start_date,omitempty"`
	EndDate                *Date      `json:"end_date,omitempty"`
	RequestStartDate       *Date      `json:"request_start_date,omitempty"`
	RequestExpireDate      *Date      `json:"request_expire_date,omitempty"`
	CancelReason           string     `json:"cancel_reason,omitempty"`
}

// Event names emitted on the event bus.
const (
	EventLoanStateChanged = "loan.state_changed"
	EventLoanReplaceItem  = "loan.replace_item"
)

// StateChangedEvent is published after every successful transition.
type StateChangedEvent struct {
	PrevLoan *Loan  `json:"prev_loan"`
	Loan     *Loan  `json:"loan"`
	Trigger  string `json:"trigger"`
}

// StreamID groups the event under the loan it belongs to.
func (e StateChangedEvent) StreamID() string { return e.Loan.PID }

// ReplaceItemEvent is published when the item attached to an active loan
// is swapped for another one.
type ReplaceItemEvent struct {
	LoanPID    string `json:"loan_pid"`
	OldItemPID *PID   `json:"old_item_pid,omitempty"`
	NewItemPID PID    `json:"new_item_pid"`
}

// StreamID groups the event under the loan it belongs to.
func (e ReplaceItemEvent) StreamID() string { return e.LoanPID }
