// internal/circulation/config.go
package circulation

// Default loan states. The engine treats state names as configuration; any
// statically declared set works as long as the transition graph references
// only declared states.
const (
	StateCreated                = "CREATED"
	StatePending                = "PENDING"
	StateItemAtDesk             = "ITEM_AT_DESK"
	StateItemInTransitForPickup = "ITEM_IN_TRANSIT_FOR_PICKUP"
	StateItemOnLoan             = "ITEM_ON_LOAN"
	StateItemInTransitToHouse   = "ITEM_IN_TRANSIT_TO_HOUSE"
	StateItemReturned           = "ITEM_RETURNED"
	StateCancelled              = "CANCELLED"
)

// Transition kinds understood by the registry.
const (
	KindBase                         = "base"
	KindCreatedToPending             = "created_to_pending"
	KindToItemOnLoan                 = "to_item_on_loan"
	KindItemAtDeskToItemOnLoan       = "item_at_desk_to_item_on_loan"
	KindPendingToItemAtDesk          = "pending_to_item_at_desk"
	KindPendingToItemInTransitPickup = "pending_to_item_in_transit_pickup"
	KindExtend                       = "item_on_loan_to_item_on_loan"
	KindCheckinToTransitHouse        = "item_on_loan_to_item_in_transit_house"
	KindCheckinToReturned            = "item_on_loan_to_item_returned"
	KindTransitHouseToReturned       = "item_in_transit_house_to_item_returned"
	KindToCancelled                  = "to_cancelled"
)

// DefaultTrigger is assumed when a transition spec declares none.
const DefaultTrigger = "next"

// TransitionSpec declares one edge of the transition graph.
type TransitionSpec struct {
	Dest    string
	Trigger string
	Kind    string
	// AssignItem lets a document-only request transition pick an available
	// item from the document's item list.
	AssignItem bool
}

// Config is the full engine configuration: the declared state set, its
// active/request subsets, the transition graph and the policy bundle. It
// is built once at process start; the engine never mutates it.
type Config struct {
	States        []string
	InitialState  string
	ActiveStates  []string
	RequestStates []string
	Transitions   map[string][]TransitionSpec
	Policies      Policies
}

// DefaultConfig returns the stock circulation graph wired to the given
// policies.
func DefaultConfig(p Policies) Config {
	return Config{
		States: []string{
			StateCreated,
			StatePending,
			StateItemAtDesk,
			StateItemInTransitForPickup,
			StateItemOnLoan,
			StateItemInTransitToHouse,
			StateItemReturned,
			StateCancelled,
		},
		InitialState: StateCreated,
		ActiveStates: []string{
			StateItemAtDesk,
			StateItemInTransitForPickup,
			StateItemOnLoan,
			StateItemInTransitToHouse,
		},
		RequestStates: []string{StatePending},
		Transitions:   DefaultTransitions(),
		Policies:      p,
	}
}

// DefaultTransitions returns the stock transition graph. Declaration order
// matters: from a shared source state earlier entries are tried first.
func DefaultTransitions() map[string][]TransitionSpec {
	return map[string][]TransitionSpec{
		StateCreated: {
			{Dest: StatePending, Trigger: "request", Kind: KindCreatedToPending, AssignItem: true},
			{Dest: StateItemOnLoan, Trigger: "checkout", Kind: KindToItemOnLoan},
		},
		StatePending: {
			{Dest: StateItemAtDesk, Kind: KindPendingToItemAtDesk},
			{Dest: StateItemInTransitForPickup, Kind: KindPendingToItemInTransitPickup},
			{Dest: StateCancelled, Trigger: "cancel", Kind: KindToCancelled},
		},
		StateItemAtDesk: {
			{Dest: StateItemOnLoan, Trigger: "checkout", Kind: KindItemAtDeskToItemOnLoan},
			{Dest: StateCancelled, Trigger: "cancel", Kind: KindToCancelled},
		},
		StateItemInTransitForPickup: {
			{Dest: StateItemAtDesk, Kind: KindBase},
			{Dest: StateCancelled, Trigger: "cancel", Kind: KindToCancelled},
		},
		StateItemOnLoan: {
			{Dest: StateItemReturned, Trigger: "checkin", Kind: KindCheckinToReturned},
			{Dest: StateItemInTransitToHouse, Trigger: "checkin", Kind: KindCheckinToTransitHouse},
			{Dest: StateItemOnLoan, Trigger: "extend", Kind: KindExtend},
			{Dest: StateCancelled, Trigger: "cancel", Kind: KindToCancelled},
		},
		StateItemInTransitToHouse: {
			{Dest: StateItemReturned, Kind: KindTransitHouseToReturned},
			{Dest: StateCancelled, Trigger: "cancel", Kind: KindToCancelled},
		},
		StateItemReturned: {},
		StateCancelled:    {},
	}
}

// Triggers returns the distinct trigger names declared in the graph.
// The REST surface uses it to constrain the action route.
func (c *Config) Triggers() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, specs := range c.Transitions {
		for _, s := range specs {
			trigger := s.Trigger
			if trigger == "" {
				trigger = DefaultTrigger
			}
			if _, ok := seen[trigger]; !ok {
				seen[trigger] = struct{}{}
				out = append(out, trigger)
			}
		}
	}
	return out
}
