package tests

import (
	"context"
	"errors"
	"testing"

	"taxi/internal/admin"
	"taxi/internal/domain"
	"taxi/internal/store"
)

func TestAdminReset_ClearsCallsAndTransactionsOnly(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	st.Seed(store.NodeCalls, "call-1", domain.Call{CallID: "call-1", Status: domain.CallStatusOpen})
	st.Seed(store.NodeTransactions, "tx-1", domain.Transaction{TransactionID: "tx-1"})
	st.Seed(store.NodeLocations, "driver-1", domain.PresenceRecord{ActorID: "driver-1", Role: domain.RoleDriver})
	st.Seed(store.NodeUsers, "driver-1/rating", domain.RatingAggregate{Average: 4.5, Count: 3})

	if err := admin.NewService(st, nil).Reset(ctx); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	for _, node := range []string{store.NodeCalls, store.NodeTransactions} {
		snap, err := st.GetNode(ctx, node)
		if err != nil {
			t.Fatalf("get node %s failed: %v", node, err)
		}
		if len(snap) != 0 {
			t.Errorf("expected %s to be empty, got %d docs", node, len(snap))
		}
	}
	for _, node := range []string{store.NodeLocations, store.NodeUsers} {
		snap, err := st.GetNode(ctx, node)
		if err != nil {
			t.Fatalf("get node %s failed: %v", node, err)
		}
		if len(snap) != 1 {
			t.Errorf("expected %s to survive the reset, got %d docs", node, len(snap))
		}
	}
}

func TestAdminReset_PropagatesStoreError(t *testing.T) {
	st := NewMemoryStore()
	st.DeleteError = store.ErrUnavailable

	err := admin.NewService(st, nil).Reset(context.Background())
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
