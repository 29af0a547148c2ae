// internal/circulation/fakes_test.go
package circulation

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fixedNow is the clock every test engine runs on.
var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

// memStore is an in-memory RecordStore.
type memStore struct {
	mu      sync.Mutex
	loans   map[string]*Loan
	commits int
	failErr error
}

func newMemStore() *memStore {
	return &memStore{loans: map[string]*Loan{}}
}

func (s *memStore) Get(ctx context.Context, pid string) (*Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loan, ok := s.loans[pid]
	if !ok {
		return nil, newError(CodeLoanNotFound, "loan '%s' not found", pid)
	}
	return loan.Clone(), nil
}

func (s *memStore) Create(ctx context.Context, loan *Loan) (*Loan, error) {
	if s.failErr != nil {
		return nil, s.failErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := loan.Clone()
	stored.Version = 1
	s.loans[loan.PID] = stored
	return stored.Clone(), nil
}

func (s *memStore) Commit(ctx context.Context, loan *Loan) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[loan.PID] = loan.Clone()
	s.commits++
	return nil
}

// memIndex is an in-memory SearchIndex over loan summaries.
type memIndex struct {
	mu   sync.Mutex
	docs map[string]LoanSummary
}

func newMemIndex() *memIndex {
	return &memIndex{docs: map[string]LoanSummary{}}
}

func (i *memIndex) Index(ctx context.Context, loan *Loan) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.docs[loan.PID] = LoanSummary{
		PID:         loan.PID,
		State:       loan.State,
		ItemPID:     loan.ItemPID,
		DocumentPID: loan.DocumentPID,
		PatronPID:   loan.PatronPID,
	}
	return nil
}

func (i *memIndex) Search(ctx context.Context, f Filters) ([]LoanSummary, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []LoanSummary
	for _, doc := range i.docs {
		if matches(doc, f) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (i *memIndex) Count(ctx context.Context, f Filters) (int, error) {
	found, err := i.Search(ctx, f)
	return len(found), err
}

func matches(doc LoanSummary, f Filters) bool {
	if f.ItemPID != nil && (doc.ItemPID == nil || *doc.ItemPID != *f.ItemPID) {
		return false
	}
	if f.DocumentPID != "" && doc.DocumentPID != f.DocumentPID {
		return false
	}
	if f.PatronPID != "" && doc.PatronPID != f.PatronPID {
		return false
	}
	if len(f.StatesIn) > 0 && !containsState(f.StatesIn, doc.State) {
		return false
	}
	if containsState(f.StatesNotIn, doc.State) {
		return false
	}
	return true
}

func containsState(states []string, state string) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

type emitted struct {
	name    string
	payload any
}

// memBus records emitted events.
type memBus struct {
	mu      sync.Mutex
	events  []emitted
	failErr error
}

func (b *memBus) Emit(ctx context.Context, name string, payload any) error {
	if b.failErr != nil {
		return b.failErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, emitted{name: name, payload: payload})
	return nil
}

func (b *memBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.name
	}
	return out
}

// catalogItem is the fixture world's view of one item.
type catalogItem struct {
	location   string
	document   string
	circulates bool
}

// world is the fixture backing the policy hooks: two items on the same
// document at different libraries, one active patron and one staff user.
type world struct {
	items     map[PID]catalogItem
	docItems  map[string][]PID
	documents map[string]bool
	patrons   map[string]bool
	locations map[string]bool
	users     map[string]bool

	requestable  bool
	maxExtension int
	fromEndDate  bool
	permission   func(ctx context.Context, loan *Loan, trigger string) error
}

var (
	itemHome = PID{Type: "item", Value: "item1"}
	itemAway = PID{Type: "item", Value: "item2"}
)

const (
	docPID    = "doc1"
	patronPID = "patron1"
	homeLoc   = "loc1"
	awayLoc   = "loc2"
	staffPID  = "user1"

	loanDays = 30
)

func newWorld() *world {
	return &world{
		items: map[PID]catalogItem{
			itemHome: {location: homeLoc, document: docPID, circulates: true},
			itemAway: {location: awayLoc, document: docPID, circulates: true},
		},
		docItems:     map[string][]PID{docPID: {itemHome, itemAway}},
		documents:    map[string]bool{docPID: true},
		patrons:      map[string]bool{patronPID: true, "patron2": true},
		locations:    map[string]bool{homeLoc: true, awayLoc: true},
		users:        map[string]bool{staffPID: true},
		requestable:  true,
		maxExtension: 2,
		fromEndDate:  true,
	}
}

func (w *world) policies() Policies {
	day := 24 * time.Hour
	return Policies{
		PatronExists: func(ctx context.Context, pid string) (bool, error) {
			return w.patrons[pid], nil
		},
		ItemExists: func(ctx context.Context, pid PID) (bool, error) {
			_, ok := w.items[pid]
			return ok, nil
		},
		DocumentExists: func(ctx context.Context, pid string) (bool, error) {
			return w.documents[pid], nil
		},
		ItemCanCirculate: func(ctx context.Context, pid PID) (bool, error) {
			return w.items[pid].circulates, nil
		},
		CanBeRequested: func(ctx context.Context, loan *Loan) (bool, error) {
			return w.requestable, nil
		},
		ItemLocation: func(ctx context.Context, pid PID) (string, error) {
			return w.items[pid].location, nil
		},
		ItemsByDocument: func(ctx context.Context, documentPID string) ([]PID, error) {
			return w.docItems[documentPID], nil
		},
		DocumentByItem: func(ctx context.Context, pid PID) (string, error) {
			return w.items[pid].document, nil
		},
		LoanDuration: func(ctx context.Context, loan *Loan) (time.Duration, error) {
			return loanDays * day, nil
		},
		LoanDurationValid: func(ctx context.Context, loan *Loan) (bool, error) {
			if loan.StartDate == nil || loan.EndDate == nil {
				return false, nil
			}
			span := loan.EndDate.Sub(loan.StartDate.Time)
			return span >= 0 && span <= 60*day, nil
		},
		ExtensionDuration: func(ctx context.Context, loan *Loan) (time.Duration, error) {
			return loanDays * day, nil
		},
		ExtensionMaxCount: func(ctx context.Context, loan *Loan) (int, error) {
			return w.maxExtension, nil
		},
		ExtensionFromEndDate: w.fromEndDate,
		TransactionLocationValid: func(ctx context.Context, pid string) (bool, error) {
			return w.locations[pid], nil
		},
		TransactionUserValid: func(ctx context.Context, pid string) (bool, error) {
			return w.users[pid], nil
		},
		Permission: w.callPermission,
		Now:        func() time.Time { return fixedNow },
	}
}

func (w *world) callPermission(ctx context.Context, loan *Loan, trigger string) error {
	if w.permission == nil {
		return nil
	}
	return w.permission(ctx, loan, trigger)
}

// env bundles a fully wired engine with its fakes.
type env struct {
	world  *world
	store  *memStore
	index  *memIndex
	bus    *memBus
	engine *Engine
}

func newEnv(w *world) (*env, error) {
	store := newMemStore()
	index := newMemIndex()
	bus := &memBus{}
	engine, err := NewEngine(DefaultConfig(w.policies()), store, index, bus, nil)
	if err != nil {
		return nil, err
	}
	return &env{world: w, store: store, index: index, bus: bus, engine: engine}, nil
}

func newTestEnv(t *testing.T, w *world) *env {
	t.Helper()
	e, err := newEnv(w)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	return e
}

// seed stores and indexes a loan directly, bypassing the engine.
func (e *env) seed(t *testing.T, loan *Loan) *Loan {
	t.Helper()
	created, err := e.store.Create(context.Background(), loan)
	if err != nil {
		t.Fatalf("seed loan %s: %v", loan.PID, err)
	}
	if err := e.index.Index(context.Background(), created); err != nil {
		t.Fatalf("index loan %s: %v", loan.PID, err)
	}
	return created
}

// baseParams returns valid trigger parameters for the fixture world.
func baseParams(trigger string) Params {
	return Params{
		Trigger:                trigger,
		PatronPID:              patronPID,
		TransactionLocationPID: homeLoc,
		TransactionUserPID:     staffPID,
	}
}

func pidPtr(p PID) *PID { return &p }
