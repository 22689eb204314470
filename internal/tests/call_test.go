package tests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taxi/internal/domain"
	"taxi/internal/ingest"
	"taxi/internal/registry"
	"taxi/internal/store"
)

func openTestCall(id, customer string, price float64) domain.Call {
	return domain.Call{
		CallID:         id,
		InitiatorID:    customer,
		PickupLat:      41.2995,
		PickupLng:      69.2401,
		DestLat:        41.3275,
		DestLng:        69.2817,
		PassengerCount: 2,
		OfferPrice:     price,
	}
}

func TestOpenCall_Validation(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewCallRegistry(NewMemoryStore(), nil, nil)

	tests := []struct {
		name    string
		mutate  func(*domain.Call)
		wantErr error
	}{
		{"missing call id", func(c *domain.Call) { c.CallID = "" }, registry.ErrInvalidCallID},
		{"missing initiator", func(c *domain.Call) { c.InitiatorID = "" }, registry.ErrInvalidActorID},
		{"zero price", func(c *domain.Call) { c.OfferPrice = 0 }, registry.ErrInvalidPrice},
		{"zero passengers", func(c *domain.Call) { c.PassengerCount = 0 }, registry.ErrInvalidPassengerCount},
		{"bad pickup", func(c *domain.Call) { c.PickupLng = 181 }, registry.ErrInvalidLocation},
		{"pre-accepted status", func(c *domain.Call) { c.Status = domain.CallStatusAccepted }, registry.ErrCallNotOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := openTestCall("call-1", "customer-1", 50)
			tt.mutate(&call)
			if err := reg.OpenCall(ctx, call); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestOpenCall_DefaultsAndEvent(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	events := NewCapturePublisher()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.NewCallRegistry(st, nil, events).WithClock(fixedClock(now))

	if err := reg.OpenCall(ctx, openTestCall("call-1", "customer-1", 50)); err != nil {
		t.Fatalf("open call failed: %v", err)
	}

	stored, err := reg.GetCall(ctx, "call-1")
	if err != nil || stored == nil {
		t.Fatalf("expected stored call, got call=%v err=%v", stored, err)
	}
	if stored.Status != domain.CallStatusOpen {
		t.Errorf("expected status Open, got %s", stored.Status)
	}
	if stored.InitiatorRole != domain.RoleCustomer {
		t.Errorf("expected initiator role Customer, got %s", stored.InitiatorRole)
	}
	if !stored.CreatedAt.Equal(now) {
		t.Errorf("expected created_at %v, got %v", now, stored.CreatedAt)
	}

	types := events.EventTypes()
	if len(types) != 1 || types[0] != ingest.EventCallOpened {
		t.Errorf("expected [%s], got %v", ingest.EventCallOpened, types)
	}
}

func TestOpenCallsSnapshot_ExcludesStaleAndNonOpen(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.NewCallRegistry(st, nil, nil).WithClock(fixedClock(now))

	fresh := openTestCall("call-fresh", "c1", 50)
	fresh.Status = domain.CallStatusOpen
	fresh.CreatedAt = now.Add(-time.Hour)
	st.Seed(store.NodeCalls, fresh.CallID, fresh)

	stale := openTestCall("call-stale", "c2", 40)
	stale.Status = domain.CallStatusOpen
	stale.CreatedAt = now.Add(-13 * time.Hour)
	st.Seed(store.NodeCalls, stale.CallID, stale)

	accepted := openTestCall("call-accepted", "c3", 45)
	accepted.Status = domain.CallStatusAccepted
	accepted.CreatedAt = now.Add(-time.Hour)
	st.Seed(store.NodeCalls, accepted.CallID, accepted)

	calls, err := reg.OpenCallsSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].CallID != "call-fresh" {
		t.Errorf("expected call-fresh, got %s", calls[0].CallID)
	}
}

func TestClaimCall_FirstClaimWinsSecondLoses(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	reg := registry.NewCallRegistry(st, nil, nil)

	if err := reg.OpenCall(ctx, openTestCall("call-1", "customer-1", 50)); err != nil {
		t.Fatalf("open call failed: %v", err)
	}

	won, err := reg.ClaimCall(ctx, "call-1", "driver-1", "tx-1")
	if err != nil || !won {
		t.Fatalf("expected first claim to win, won=%v err=%v", won, err)
	}
	won, err = reg.ClaimCall(ctx, "call-1", "driver-2", "tx-2")
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if won {
		t.Fatal("expected second claim to lose")
	}

	call, err := reg.GetCall(ctx, "call-1")
	if err != nil || call == nil {
		t.Fatalf("expected call, got %v err=%v", call, err)
	}
	if call.AcceptedBy != "driver-1" || call.TransactionID != "tx-1" {
		t.Errorf("expected driver-1/tx-1, got %s/%s", call.AcceptedBy, call.TransactionID)
	}
}

func TestClaimCall_ConcurrentClaimsStayConsistent(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	reg := registry.NewCallRegistry(st, nil, nil)

	if err := reg.OpenCall(ctx, openTestCall("call-1", "customer-1", 50)); err != nil {
		t.Fatalf("open call failed: %v", err)
	}

	// The claim is read-then-write, so more than one claimant may report
	// a win, but the stored record must end Accepted with a matched
	// acceptor/transaction pair, and at least one claimant must win.
	const claimants = 16
	var wg sync.WaitGroup
	wins := make([]bool, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			won, err := reg.ClaimCall(ctx, "call-1", driverID(n), txID(n))
			if err != nil {
				t.Errorf("claim %d errored: %v", n, err)
				return
			}
			wins[n] = won
		}(i)
	}
	wg.Wait()

	anyWon := false
	for _, w := range wins {
		anyWon = anyWon || w
	}
	if !anyWon {
		t.Fatal("expected at least one claim to win")
	}

	call, err := reg.GetCall(ctx, "call-1")
	if err != nil || call == nil {
		t.Fatalf("expected call, got %v err=%v", call, err)
	}
	if call.Status != domain.CallStatusAccepted {
		t.Fatalf("expected status Accepted, got %s", call.Status)
	}
	// Acceptor and transaction are written together: they must name the
	// same claimant.
	matched := false
	for i := 0; i < claimants; i++ {
		if call.AcceptedBy == driverID(i) && call.TransactionID == txID(i) {
			matched = true
		}
	}
	if !matched {
		t.Errorf("acceptor %s and transaction %s do not belong to one claimant", call.AcceptedBy, call.TransactionID)
	}
}

func driverID(n int) string { return "driver-" + string(rune('a'+n)) }
func txID(n int) string     { return "tx-" + string(rune('a'+n)) }

func TestCancelCall_Idempotent(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewCallRegistry(NewMemoryStore(), nil, nil)

	if err := reg.OpenCall(ctx, openTestCall("call-1", "customer-1", 50)); err != nil {
		t.Fatalf("open call failed: %v", err)
	}

	if err := reg.CancelCall(ctx, "call-1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	// Second cancel and cancel of an unknown call are both no-ops.
	if err := reg.CancelCall(ctx, "call-1"); err != nil {
		t.Fatalf("repeat cancel failed: %v", err)
	}
	if err := reg.CancelCall(ctx, "no-such-call"); err != nil {
		t.Fatalf("cancel of absent call failed: %v", err)
	}

	call, _ := reg.GetCall(ctx, "call-1")
	if call.Status != domain.CallStatusCancelled {
		t.Errorf("expected status Cancelled, got %s", call.Status)
	}

	// A cancelled call can no longer be claimed.
	won, err := reg.ClaimCall(ctx, "call-1", "driver-1", "tx-1")
	if err != nil || won {
		t.Errorf("expected claim of cancelled call to lose, won=%v err=%v", won, err)
	}
}

func TestObserveCall_SeesClaim(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	reg := registry.NewCallRegistry(st, nil, nil)

	if err := reg.OpenCall(ctx, openTestCall("call-1", "customer-1", 50)); err != nil {
		t.Fatalf("open call failed: %v", err)
	}

	watch, err := reg.ObserveCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("observe failed: %v", err)
	}
	defer watch.Close()

	if _, err := reg.ClaimCall(ctx, "call-1", "driver-1", "tx-1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case call := <-watch.Updates():
			if call != nil && call.Status == domain.CallStatusAccepted {
				if call.TransactionID != "tx-1" {
					t.Fatalf("expected tx-1, got %s", call.TransactionID)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for claim to surface")
		}
	}
}

func TestFindActiveCall_ResumesByRole(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	reg := registry.NewCallRegistry(st, nil, nil)

	if err := reg.OpenCall(ctx, openTestCall("call-1", "customer-1", 50)); err != nil {
		t.Fatalf("open call failed: %v", err)
	}
	if _, err := reg.ClaimCall(ctx, "call-1", "driver-1", "tx-1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	asCustomer, err := reg.FindActiveCall(ctx, "customer-1", domain.RoleCustomer)
	if err != nil || asCustomer == nil || asCustomer.CallID != "call-1" {
		t.Errorf("customer resume: got %v err=%v", asCustomer, err)
	}
	asDriver, err := reg.FindActiveCall(ctx, "driver-1", domain.RoleDriver)
	if err != nil || asDriver == nil || asDriver.CallID != "call-1" {
		t.Errorf("driver resume: got %v err=%v", asDriver, err)
	}

	// A stranger has nothing to resume.
	none, err := reg.FindActiveCall(ctx, "driver-2", domain.RoleDriver)
	if err != nil || none != nil {
		t.Errorf("expected no call for stranger, got %v err=%v", none, err)
	}

	// After cancellation the call is no longer resumable.
	if err := reg.CancelCall(ctx, "call-1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	none, err = reg.FindActiveCall(ctx, "customer-1", domain.RoleCustomer)
	if err != nil || none != nil {
		t.Errorf("expected no call after cancel, got %v err=%v", none, err)
	}
}

func TestCallRegistry_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	st.GetError = store.ErrUnavailable
	reg := registry.NewCallRegistry(st, nil, nil)

	if _, err := reg.ClaimCall(ctx, "call-1", "driver-1", "tx-1"); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if _, err := reg.GetCall(ctx, "call-1"); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
