// internal/circulation/prop_test.go
package circulation

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

// The engine accepts exactly the configured number of extensions, no
// matter how often a renewal is attempted.
func TestPropExtensionCeiling(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := newWorld()
		w.maxExtension = rapid.IntRange(0, 5).Draw(t, "max")
		attempts := rapid.IntRange(0, 8).Draw(t, "attempts")

		e, err := newEnv(w)
		if err != nil {
			t.Fatalf("build engine: %v", err)
		}
		end, _ := ParseDate("2024-04-14")
		loan := &Loan{
			PID: "loan1", State: StateItemOnLoan,
			DocumentPID: docPID, PatronPID: patronPID,
			ItemPID: pidPtr(itemHome), EndDate: &end,
		}
		if _, err := e.store.Create(context.Background(), loan); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if err := e.index.Index(context.Background(), loan); err != nil {
			t.Fatalf("index: %v", err)
		}

		params := baseParams("extend")
		params.ItemPID = pidPtr(itemHome)

		granted := 0
		current := loan
		for i := 0; i < attempts; i++ {
			next, err := e.engine.Trigger(context.Background(), current, params)
			if err != nil {
				if !errors.Is(err, ErrMaxExtension) {
					t.Fatalf("unexpected error: %v", err)
				}
				continue
			}
			if !next.EndDate.After(current.EndDate.Time) {
				t.Fatalf("end date did not advance: %s -> %s", current.EndDate, next.EndDate)
			}
			granted++
			current = next
		}

		want := attempts
		if w.maxExtension < attempts {
			want = w.maxExtension
		}
		if granted != want {
			t.Fatalf("granted %d extensions, want %d", granted, want)
		}
		if current.ExtensionCount != granted {
			t.Fatalf("extension count %d, want %d", current.ExtensionCount, granted)
		}
	})
}

// A loan driven by arbitrary trigger sequences only ever lands in declared
// states, and the engine never panics or invents a transition.
func TestPropStateSetClosedUnderTriggers(t *testing.T) {
	triggers := []string{"request", "checkout", "checkin", "extend", "cancel", "next"}

	rapid.Check(t, func(t *rapid.T) {
		w := newWorld()
		e, err := newEnv(w)
		if err != nil {
			t.Fatalf("build engine: %v", err)
		}
		cfg := e.engine.Config()

		declared := map[string]struct{}{}
		for _, s := range cfg.States {
			declared[s] = struct{}{}
		}
		terminal := map[string]bool{StateItemReturned: true, StateCancelled: true}

		loan := &Loan{
			PID: "loan1", State: StateCreated,
			DocumentPID: docPID, PatronPID: patronPID,
		}
		if _, err := e.store.Create(context.Background(), loan); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if err := e.index.Index(context.Background(), loan); err != nil {
			t.Fatalf("index: %v", err)
		}

		steps := rapid.IntRange(1, 12).Draw(t, "steps")
		current := loan
		for i := 0; i < steps; i++ {
			trigger := rapid.SampledFrom(triggers).Draw(t, "trigger")
			params := baseParams(trigger)
			params.DocumentPID = docPID
			if current.ItemPID != nil {
				params.ItemPID = current.ItemPID
			}

			next, err := e.engine.Trigger(context.Background(), current, params)
			if err != nil {
				var ce *Error
				if !errors.As(err, &ce) {
					t.Fatalf("non-circulation error from trigger %q: %v", trigger, err)
				}
				if terminal[current.State] && ce.Code != CodeNoValidTransition {
					t.Fatalf("terminal state %s rejected with %s, want %s",
						current.State, ce.Code, CodeNoValidTransition)
				}
				continue
			}
			if _, ok := declared[next.State]; !ok {
				t.Fatalf("undeclared state %q reached via %q", next.State, trigger)
			}
			current = next
		}
	})
}
